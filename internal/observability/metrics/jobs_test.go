package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMetric struct {
	kind  string
	name  string
	value any
	tags  map[string]string
}

type recordingSink struct {
	metrics []recordedMetric
}

func (r *recordingSink) Count(name string, value int64, tags map[string]string) {
	r.metrics = append(r.metrics, recordedMetric{kind: "count", name: name, value: value, tags: tags})
}

func (r *recordingSink) Gauge(name string, value float64, tags map[string]string) {
	r.metrics = append(r.metrics, recordedMetric{kind: "gauge", name: name, value: value, tags: tags})
}

func (r *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	r.metrics = append(r.metrics, recordedMetric{kind: "timing", name: name, value: value, tags: tags})
}

func TestEmitJobLifecycle_Success(t *testing.T) {
	sink := &recordingSink{}
	EmitJobLifecycle(sink, JobMetric{Role: "checker", Kind: "family_test", Result: ResultSuccess, Duration: time.Second})

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, "job.executed", sink.metrics[0].name)
	assert.Equal(t, map[string]string{"role": "checker", "kind": "family_test", "result": ResultSuccess}, sink.metrics[0].tags)
	assert.Equal(t, "job.duration", sink.metrics[1].name)
	assert.Equal(t, time.Second, sink.metrics[1].value)
}

func TestEmitJobLifecycle_ErrorClassAndUnrecorded(t *testing.T) {
	sink := &recordingSink{}
	err := fmt.Errorf("store: %w", context.DeadlineExceeded)
	EmitJobLifecycle(sink, JobMetric{Role: "distributor", Kind: "diff", Result: ResultError, Err: err, Unrecorded: true})

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, "timeout", sink.metrics[0].tags["error_class"])
	assert.Equal(t, "job.unrecorded", sink.metrics[1].name)

	sink.metrics[1].tags["role"] = "mutated"
	assert.Equal(t, "distributor", sink.metrics[0].tags["role"], "tag maps must not be shared")
}

func TestEmitDocumentFinished(t *testing.T) {
	sink := &recordingSink{}
	EmitDocumentFinished(sink, DocumentMetric{Kind: "family_test", Source: "sweep", Failed: true, Age: time.Minute})

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, "document.finished", sink.metrics[0].name)
	assert.Equal(t, ResultError, sink.metrics[0].tags["result"])
	assert.Equal(t, "sweep", sink.metrics[0].tags["source"])
	assert.Equal(t, "document.age", sink.metrics[1].name)
}

func TestEmit_NilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		EmitJobLifecycle(nil, JobMetric{Role: "checker"})
		EmitDocumentFinished(nil, DocumentMetric{Kind: "diff"})
	})
}

func TestCloneTags(t *testing.T) {
	assert.Nil(t, CloneTags(nil))
	src := map[string]string{"a": "1"}
	out := CloneTags(src)
	out["a"] = "2"
	assert.Equal(t, "1", src["a"])
}
