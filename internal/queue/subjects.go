// Package queue adapts NATS JetStream to the job and completion ports: it routes envelopes to
// per-role input subjects, runs prefetch-1 consumer loops with heartbeats, and enforces the
// bounded redelivery budget with a dead-letter subject.
package queue

import (
	"fmt"

	"github.com/target/fbdispatch/internal/domain/model"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "fbdispatch"

// Subjects derives every subject of the pipeline from one prefix.
type Subjects struct {
	Prefix string
}

// NewSubjects returns the subjects for prefix, falling back to DefaultPrefix.
func NewSubjects(prefix string) Subjects {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Subjects{Prefix: prefix}
}

// Input returns the input subject read by role.
func (s Subjects) Input(role model.WorkerRole) (string, error) {
	switch role {
	case model.RoleDistributor:
		return s.Prefix + ".distributor-in", nil
	case model.RoleChecker:
		return s.Prefix + ".checker-in", nil
	case model.RoleDiffer:
		return s.Prefix + ".diff-in", nil
	}
	return "", fmt.Errorf("no input subject for role %q", role)
}

// ForKind returns the input subject of the role that handles kind.
func (s Subjects) ForKind(kind model.JobKind) (string, error) {
	role, err := RoleFor(kind)
	if err != nil {
		return "", err
	}
	return s.Input(role)
}

// Cleanup is the subject completion messages are published on.
func (s Subjects) Cleanup() string { return s.Prefix + ".cleanup-out" }

// DeadLetter receives envelopes that exhausted their attempts or could not be decoded.
func (s Subjects) DeadLetter() string { return s.Prefix + ".dead-letter" }

// Wildcard matches every subject of the pipeline.
func (s Subjects) Wildcard() string { return s.Prefix + ".>" }

// RoleFor returns the worker role that handles kind.
func RoleFor(kind model.JobKind) (model.WorkerRole, error) {
	switch kind {
	case model.JobKindOrigin:
		return model.RoleDistributor, nil
	case model.JobKindDistributed:
		return model.RoleChecker, nil
	case model.JobKindDiff:
		return model.RoleDiffer, nil
	}
	return "", fmt.Errorf("invalid job kind %s", kind)
}
