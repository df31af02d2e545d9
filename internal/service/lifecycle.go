package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

// ErrUnrecorded marks a job whose outcome could not be written to the document store. The
// queue adapter redelivers such jobs instead of dropping them.
var ErrUnrecorded = errors.New("job outcome not recorded")

// ExceptionSeparator joins a secondary failure onto the primary one.
const ExceptionSeparator = "\n\n AND "

// State is a step of the worker lifecycle.
type State int

// Lifecycle states. Failed is entered from Preparing or Running and always continues
// to Finalizing.
const (
	StateCreated State = iota
	StatePreparing
	StateRunning
	StateFailed
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StatePreparing:
		return "PREPARING"
	case StateRunning:
		return "RUNNING"
	case StateFailed:
		return "FAILED"
	case StateFinalizing:
		return "FINALIZING"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is what Finalize learns about the run.
type Outcome struct {
	Summary model.RunSummary
	// Err is the primary failure from Prepare or Run.
	Err error
}

// Failed reports whether the run failed.
func (o Outcome) Failed() bool { return o.Err != nil }

// Job is one unit of worker execution.
type Job interface {
	Prepare(ctx context.Context) error
	Run(ctx context.Context) (model.RunSummary, error)
	// Finalize is called exactly once, whatever happened in Prepare and Run.
	Finalize(ctx context.Context, outcome Outcome) error
}

// Execute drives job through CREATED, PREPARING, RUNNING, FINALIZING and DONE. A failure or
// panic in Prepare or Run moves the job to FAILED and then to FINALIZING with the error
// attached. observe, when non-nil, sees every state entered in order. The returned error is
// Finalize's; the primary failure is in the returned Outcome.
func Execute(ctx context.Context, job Job, observe func(State)) (Outcome, error) {
	enter := func(s State) {
		if observe != nil {
			observe(s)
		}
	}
	enter(StateCreated)

	var outcome Outcome
	enter(StatePreparing)
	if err := guard(func() error { return job.Prepare(ctx) }); err != nil {
		outcome.Err = err
	} else {
		enter(StateRunning)
		outcome.Err = guard(func() error {
			summary, err := job.Run(ctx)
			outcome.Summary = summary
			return err
		})
	}
	if outcome.Err != nil {
		enter(StateFailed)
	}

	enter(StateFinalizing)
	err := guard(func() error { return job.Finalize(ctx, outcome) })
	enter(StateDone)
	return outcome, err
}

// PanicError is a recovered panic with the stack of the panicking goroutine.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// ExceptionText formats a primary failure followed by any secondary failures, skipping nils.
// It returns "" when every error is nil.
func ExceptionText(primary error, secondary ...error) string {
	var parts []string
	for _, err := range append([]error{primary}, secondary...) {
		if err == nil {
			continue
		}
		parts = append(parts, describe(err))
	}
	return strings.Join(parts, ExceptionSeparator)
}

func describe(err error) string {
	code := apperrors.GetCode(err)
	if code == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %s", code, err.Error())
}
