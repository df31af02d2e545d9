// Package metrics emits the standard worker and coordinator metrics.
package metrics

import (
	"time"

	obserrors "github.com/target/fbdispatch/internal/observability/errors"
	"github.com/target/fbdispatch/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures one finished job execution.
type JobMetric struct {
	Role     string
	Kind     string
	Result   string
	Duration time.Duration
	Err      error
	// Unrecorded is set when the outcome could not be written to the document store.
	Unrecorded bool
}

// EmitJobLifecycle emits standardised job execution metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"role":   in.Role,
		"kind":   in.Kind,
		"result": in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.executed", 1, tags)
	if in.Unrecorded {
		sink.Count("job.unrecorded", 1, CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// DocumentMetric captures a document reaching its terminal state.
type DocumentMetric struct {
	Kind string
	// Source names who closed the document: completion, sweep or force_close.
	Source string
	Failed bool
	Age    time.Duration
}

// EmitDocumentFinished emits the document completion metrics.
func EmitDocumentFinished(sink statsd.Sink, in DocumentMetric) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	if in.Failed {
		result = ResultError
	}
	tags := map[string]string{
		"kind":   in.Kind,
		"source": in.Source,
		"result": result,
	}
	sink.Count("document.finished", 1, tags)
	if in.Age > 0 {
		sink.Timing("document.age", in.Age, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
