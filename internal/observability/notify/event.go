package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// DocumentFailurePayload captures the canonical data we emit when a document closes with an exception.
type DocumentFailurePayload struct {
	DocID      string
	Kind       string
	Source     string
	Reason     string
	OpenJobs   []string
	FailedJobs []string
	// SubJobCount is the number of partitions the document was split into.
	SubJobCount int
	// Results is the check rollup at close time, keyed by result category.
	Results    map[string]int
	Severity   string
	OccurredAt time.Time
	// Elapsed is the time from document creation to close; zero when unknown.
	Elapsed  time.Duration
	Metadata map[string]string
}

// Sink describes a destination capable of consuming document failure notifications.
type Sink interface {
	SendDocumentFailure(ctx context.Context, payload DocumentFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload DocumentFailurePayload) error

// SendDocumentFailure implements the Sink interface.
func (f SinkFunc) SendDocumentFailure(ctx context.Context, payload DocumentFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
