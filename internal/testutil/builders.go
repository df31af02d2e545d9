// Package testutil provides testing utilities and helpers for the fbdispatch workers.
package testutil

import (
	"fmt"

	"github.com/target/fbdispatch/internal/domain/model"
)

// EnvelopeBuilder provides a fluent interface for building JobEnvelope values for testing.
type EnvelopeBuilder struct {
	env model.JobEnvelope
}

// NewOriginEnvelope creates a builder for an unpartitioned family test with sensible defaults.
func NewOriginEnvelope() *EnvelopeBuilder {
	return &EnvelopeBuilder{env: model.JobEnvelope{
		Kind:     model.JobKindOrigin,
		DocID:    "doc-1",
		CacheKey: "sha256:abc",
	}}
}

// NewDistributedEnvelope creates a builder for partition subJobID of doc-1.
func NewDistributedEnvelope(subJobID string) *EnvelopeBuilder {
	b := NewOriginEnvelope()
	b.env.Kind = model.JobKindDistributed
	b.env.SubJobID = subJobID
	return b
}

// WithDocID sets the document id.
func (b *EnvelopeBuilder) WithDocID(id string) *EnvelopeBuilder {
	b.env.DocID = id
	return b
}

// WithCacheKey sets the bundle cache key.
func (b *EnvelopeBuilder) WithCacheKey(key string) *EnvelopeBuilder {
	b.env.CacheKey = key
	return b
}

// WithOrder sets the check order.
func (b *EnvelopeBuilder) WithOrder(order ...model.CheckIdentity) *EnvelopeBuilder {
	b.env.Order = order
	return b
}

// WithAttempt sets the redelivery counter.
func (b *EnvelopeBuilder) WithAttempt(n int) *EnvelopeBuilder {
	b.env.Attempt = n
	return b
}

// Build returns the envelope.
func (b *EnvelopeBuilder) Build() model.JobEnvelope {
	return b.env
}

// CheckOrder returns n check identities spread over fonts, in the shape the check engine plans:
// one family-level check followed by per-font checks.
func CheckOrder(n int, fonts ...string) []model.CheckIdentity {
	out := make([]model.CheckIdentity, 0, n)
	for i := 0; i < n; i++ {
		id := model.CheckIdentity{Section: "universal", CheckID: fmt.Sprintf("check/%03d", i)}
		if len(fonts) > 0 && i > 0 {
			id.IterArgs = []model.IterArg{{Name: "font", Index: (i - 1) % len(fonts)}}
		}
		out = append(out, id)
	}
	return out
}

// FontBundle returns a bundle holding one small font blob per name.
func FontBundle(names ...string) model.Bundle {
	b := make(model.Bundle, 0, len(names))
	for _, n := range names {
		b = append(b, model.NamedBlob{Name: n, Data: []byte("font:" + n)})
	}
	return b
}

// PassResult returns a PASS result for id with a single status line.
func PassResult(id model.CheckIdentity) model.CheckResult {
	return model.CheckResult{
		Identity:  id,
		Result:    model.ResultPass,
		StatusLog: []model.StatusLogEntry{{Severity: model.ResultPass, Message: "ok"}},
	}
}

// StringPtr returns a pointer to the string value.
func StringPtr(s string) *string {
	return &s
}
