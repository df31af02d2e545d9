// Package model defines the core data types shared by the fbdispatch workers, queue adapter and
// document store.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JobKind discriminates the closed set of envelope variants a worker can receive.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind int

const (
	// JobKindOrigin is an unpartitioned family test waiting for the distributor.
	JobKindOrigin JobKind = iota + 1
	// JobKindDistributed is one partition of a family test, ready to run checks.
	JobKindDistributed
	// JobKindDiff is a diff-tool run over a before/after bundle.
	JobKindDiff
)

// String returns the wire name of the kind.
func (k JobKind) String() string {
	switch k {
	case JobKindOrigin:
		return "origin"
	case JobKindDistributed:
		return "distributed"
	case JobKindDiff:
		return "diff"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k JobKind) Valid() bool {
	return k == JobKindOrigin || k == JobKindDistributed || k == JobKindDiff
}

// UnmarshalText implements encoding.TextUnmarshaler so kinds can be parsed from config and query strings.
func (k *JobKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "origin":
		*k = JobKindOrigin
	case "distributed":
		*k = JobKindDistributed
	case "diff":
		*k = JobKindDiff
	default:
		return fmt.Errorf("invalid JobKind: %q", string(text))
	}
	return nil
}

// IterArg is one iteration argument of a check instance, e.g. ("font", 2).
type IterArg struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// CheckIdentity uniquely identifies one check instance within a family test.
type CheckIdentity struct {
	Section  string    `json:"section"`
	CheckID  string    `json:"check_id"`
	IterArgs []IterArg `json:"iterargs,omitempty"`
}

// Key returns the stable serialized form of the identity used as the key in a document's tests map.
// The shape is a JSON array: ["section","check",[["font",0]]].
func (c CheckIdentity) Key() string {
	args := make([][2]any, 0, len(c.IterArgs))
	for _, a := range c.IterArgs {
		args = append(args, [2]any{a.Name, a.Index})
	}
	b, err := json.Marshal([]any{c.Section, c.CheckID, args})
	if err != nil {
		// Strings and ints always marshal.
		panic(err)
	}
	return string(b)
}

// ParseCheckKey is the inverse of CheckIdentity.Key.
func ParseCheckKey(key string) (CheckIdentity, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(key), &raw); err != nil {
		return CheckIdentity{}, fmt.Errorf("parse check key: %w", err)
	}
	if len(raw) != 3 {
		return CheckIdentity{}, fmt.Errorf("parse check key: want 3 elements, got %d", len(raw))
	}
	var id CheckIdentity
	if err := json.Unmarshal(raw[0], &id.Section); err != nil {
		return CheckIdentity{}, fmt.Errorf("parse check key section: %w", err)
	}
	if err := json.Unmarshal(raw[1], &id.CheckID); err != nil {
		return CheckIdentity{}, fmt.Errorf("parse check key id: %w", err)
	}
	var args [][]json.RawMessage
	if err := json.Unmarshal(raw[2], &args); err != nil {
		return CheckIdentity{}, fmt.Errorf("parse check key iterargs: %w", err)
	}
	for _, pair := range args {
		if len(pair) != 2 {
			return CheckIdentity{}, errors.New("parse check key iterargs: want name/index pairs")
		}
		var a IterArg
		if err := json.Unmarshal(pair[0], &a.Name); err != nil {
			return CheckIdentity{}, fmt.Errorf("parse check key iterarg name: %w", err)
		}
		if err := json.Unmarshal(pair[1], &a.Index); err != nil {
			return CheckIdentity{}, fmt.Errorf("parse check key iterarg index: %w", err)
		}
		id.IterArgs = append(id.IterArgs, a)
	}
	return id, nil
}

// JobEnvelope is the queue representation of one unit of work. Envelopes are never mutated
// after they are published; retries publish a copy with Attempt incremented.
type JobEnvelope struct {
	Kind     JobKind
	DocID    string
	SubJobID string
	CacheKey string
	Order    []CheckIdentity
	// Attempt counts redeliveries requested by the queue adapter, starting at 0.
	Attempt int
}

// Validate checks the fields every handler relies on.
func (e *JobEnvelope) Validate() error {
	if e == nil {
		return errors.New("envelope is nil")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid job kind %s", e.Kind)
	}
	if strings.TrimSpace(e.DocID) == "" {
		return errors.New("doc_id is required")
	}
	if strings.TrimSpace(e.CacheKey) == "" {
		return errors.New("cache_key is required")
	}
	if e.Kind == JobKindDistributed && e.SubJobID == "" {
		return errors.New("sub_job_id is required for distributed jobs")
	}
	if e.Attempt < 0 {
		return errors.New("attempt must be non-negative")
	}
	return nil
}

// WithAttempt returns a copy of the envelope carrying the given attempt counter.
func (e JobEnvelope) WithAttempt(attempt int) JobEnvelope {
	cp := e
	cp.Order = append([]CheckIdentity(nil), e.Order...)
	cp.Attempt = attempt
	return cp
}
