package model

import (
	"strings"
	"time"
)

// WorkerRole names the role a worker process plays in the pipeline.
type WorkerRole string

// Roles with their own input subject.
const (
	RoleDistributor WorkerRole = "distributor"
	RoleChecker     WorkerRole = "checker"
	RoleDiffer      WorkerRole = "differ"
)

// Valid reports whether r is a known worker role.
func (r WorkerRole) Valid() bool {
	return r == RoleDistributor || r == RoleChecker || r == RoleDiffer
}

// RunSummary is the result summary carried by a successful completion message.
type RunSummary struct {
	Checks    int
	Results   map[CheckResultCategory]int
	Artifacts []string
	SubJobs   int
}

// CompletionMessage is emitted by every worker at finalize time, success or failure.
// Exactly one of Summary and Failure is set.
type CompletionMessage struct {
	Role     WorkerRole
	DocID    string
	SubJobID string
	Summary  *RunSummary
	Failure  string
}

// Failed reports whether the message carries a failure detail.
func (m CompletionMessage) Failed() bool {
	return strings.TrimSpace(m.Failure) != ""
}

// NamedBlob is one named file inside a bundle.
type NamedBlob struct {
	Name string
	Data []byte
}

// Bundle is an ordered set of named blobs stored under one content-addressed key.
type Bundle []NamedBlob

// Size returns the total payload size in bytes.
func (b Bundle) Size() int {
	n := 0
	for _, f := range b {
		n += len(f.Data)
	}
	return n
}

// CheckPlan is the full ordered check list produced by the check engine for a font family.
type CheckPlan struct {
	Order []CheckIdentity
	// Descriptions maps check ids to human readable descriptions.
	Descriptions map[string]string
}

// CheckRun is one invocation of the check engine over a prepared directory.
type CheckRun struct {
	Dir   string
	Fonts []string
	Order []CheckIdentity
}

// DocumentFailureEvent describes a document that closed with an exception.
type DocumentFailureEvent struct {
	DocID         string
	Kind          DocumentKind
	Reason        string
	Source        string
	OpenSubJobs   []string
	FailedSubJobs []string
	SubJobCount   int
	Results       map[CheckResultCategory]int
	OccurredAt    time.Time
	CreatedAt     time.Time
}
