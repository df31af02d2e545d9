package model

import (
	"fmt"
	"time"
)

// DocumentStatus filters documents by lifecycle state.
type DocumentStatus string

const (
	// DocumentStatusAny matches every document.
	DocumentStatusAny DocumentStatus = ""
	// DocumentStatusOpen matches documents without a finished_at marker.
	DocumentStatusOpen DocumentStatus = "open"
	// DocumentStatusFinished matches closed documents that ran cleanly.
	DocumentStatusFinished DocumentStatus = "finished"
	// DocumentStatusFailed matches closed documents with a document or sub-job exception.
	DocumentStatusFailed DocumentStatus = "failed"
)

// Paging bounds for document listings.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// DocumentListOptions selects a page of documents, newest first.
type DocumentListOptions struct {
	Kind   DocumentKind
	Status DocumentStatus
	Limit  int
	Offset int
}

// Normalize applies paging defaults and validates the filters.
func (o *DocumentListOptions) Normalize() error {
	switch o.Kind {
	case "", DocumentKindFamilyTest, DocumentKindDiff:
	default:
		return fmt.Errorf("unknown document kind %q", o.Kind)
	}
	switch o.Status {
	case DocumentStatusAny, DocumentStatusOpen, DocumentStatusFinished, DocumentStatusFailed:
	default:
		return fmt.Errorf("unknown document status %q", o.Status)
	}
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return nil
}

// DocumentSummary is the listing form of a document, without its results.
type DocumentSummary struct {
	ID           string         `json:"id"`
	Kind         DocumentKind   `json:"kind"`
	Status       DocumentStatus `json:"status"`
	SubJobs      int            `json:"sub_jobs"`
	OpenSubJobs  int            `json:"open_sub_jobs"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	HasException bool           `json:"has_exception"`
}

// DocumentPage is one page of a listing plus the number of matching documents.
type DocumentPage struct {
	Items  []DocumentSummary `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}
