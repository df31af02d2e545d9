package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CheckResultCategory is the outcome category of a single check.
type CheckResultCategory string

// Categories emitted by the check engine.
const (
	ResultPass  CheckResultCategory = "PASS"
	ResultFail  CheckResultCategory = "FAIL"
	ResultWarn  CheckResultCategory = "WARN"
	ResultError CheckResultCategory = "ERROR"
	ResultSkip  CheckResultCategory = "SKIP"
	ResultInfo  CheckResultCategory = "INFO"
	ResultDebug CheckResultCategory = "DEBUG"
)

// StatusLogEntry is one structured log line emitted while a check ran.
type StatusLogEntry struct {
	Severity  CheckResultCategory `json:"status"`
	Message   string              `json:"message,omitempty"`
	Code      string              `json:"code,omitempty"`
	Traceback string              `json:"traceback,omitempty"`
}

// CheckResult is the outcome of one check instance.
type CheckResult struct {
	Identity  CheckIdentity       `json:"-"`
	Result    CheckResultCategory `json:"result"`
	StatusLog []StatusLogEntry    `json:"statuses"`
}

// TestEntry is the stored form of a CheckResult inside a document's tests map.
type TestEntry struct {
	Index    int                 `json:"index"`
	Result   CheckResultCategory `json:"result"`
	Statuses []StatusLogEntry    `json:"statuses"`
}

// SubJobMeta tracks the lifecycle of one partition inside the parent document.
type SubJobMeta struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Exception   string     `json:"exception,omitempty"`
	ArtifactIDs []string   `json:"artifacts,omitempty"`
}

// Finished reports whether the sub-job reached its terminal state.
func (m SubJobMeta) Finished() bool { return m.FinishedAt != nil }

// DocumentKind distinguishes family check runs from diff runs sharing the document table.
type DocumentKind string

const (
	// DocumentKindFamilyTest is a FontBakery family test.
	DocumentKindFamilyTest DocumentKind = "family_test"
	// DocumentKindDiff is a diff-tool run.
	DocumentKindDiff DocumentKind = "diff"
)

// FamilyTestDocument is the shared, progressively updated record of one run.
type FamilyTestDocument struct {
	ID              string                      `json:"id"`
	Kind            DocumentKind                `json:"kind"`
	CacheKey        string                      `json:"cache_key"`
	Jobs            map[string]SubJobMeta       `json:"jobs"`
	CheckIndex      map[string]int              `json:"check_index"`
	Descriptions    map[string]string           `json:"descriptions"`
	Tests           map[string]TestEntry        `json:"tests"`
	Results         map[CheckResultCategory]int `json:"results"`
	PreparationLogs []string                    `json:"preparation_logs"`
	Exception       *string                     `json:"exception,omitempty"`
	IsFinished      bool                        `json:"is_finished"`
	CreatedAt       time.Time                   `json:"created_at"`
	StartedAt       *time.Time                  `json:"started_at,omitempty"`
	FinishedAt      *time.Time                  `json:"finished_at,omitempty"`
	UpdatedAt       time.Time                   `json:"updated_at"`
	Metadata        json.RawMessage             `json:"metadata,omitempty"`
}

// AllJobsFinished reports whether every sub-job entry has a finished_at marker.
// A document without any sub-job entries is not considered finished.
func (d *FamilyTestDocument) AllJobsFinished() bool {
	if d == nil || len(d.Jobs) == 0 {
		return false
	}
	for _, j := range d.Jobs {
		if !j.Finished() {
			return false
		}
	}
	return true
}

// FailureText joins the document exception and every sub-job exception, sub-jobs in numeric id order.
// It returns "" for a document that ran cleanly.
func (d *FamilyTestDocument) FailureText() string {
	if d == nil {
		return ""
	}
	var parts []string
	if d.Exception != nil && *d.Exception != "" {
		parts = append(parts, *d.Exception)
	}
	for _, id := range d.FailedSubJobs() {
		parts = append(parts, fmt.Sprintf("sub-job %s: %s", id, d.Jobs[id].Exception))
	}
	return strings.Join(parts, "\n\n")
}

// FailedSubJobs lists the ids of sub-jobs that recorded an exception, in numeric id order.
func (d *FamilyTestDocument) FailedSubJobs() []string {
	if d == nil {
		return nil
	}
	var ids []string
	for id, job := range d.Jobs {
		if job.Exception != "" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}

// ResultTotal returns the sum of the results rollup.
func (d *FamilyTestDocument) ResultTotal() int {
	total := 0
	for _, n := range d.Results {
		total += n
	}
	return total
}

// CreateDocumentRequest describes a new document created at submission time.
type CreateDocumentRequest struct {
	ID       string
	Kind     DocumentKind
	CacheKey string
	Metadata json.RawMessage
}

// DocumentSkeleton is written by the distributor in one atomic update before any sub-job is published.
type DocumentSkeleton struct {
	DocID        string
	CheckIndex   map[string]int
	Descriptions map[string]string
	JobIDs       []string
	Logs         []string
	StartedAt    time.Time
}

// SubJobFinish describes the terminal update of one sub-job.
type SubJobFinish struct {
	DocID       string
	SubJobID    string
	FinishedAt  time.Time
	Exception   string
	ArtifactIDs []string
}

// DocumentFailure records a document-level exception and optionally closes the document.
type DocumentFailure struct {
	DocID     string
	Exception string
	At        time.Time
	Close     bool
}

// StaleDocument is a document force-closed by the reconciliation sweep.
type StaleDocument struct {
	ID          string
	CacheKey    string
	OpenSubJobs []string
	CreatedAt   time.Time
	ForceClosed bool
}
