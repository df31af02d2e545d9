package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/target/fbdispatch/internal/core"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/observability/metrics"
	"github.com/target/fbdispatch/internal/observability/statsd"
)

// WorkerServiceOptions groups dependencies for WorkerService.
type WorkerServiceOptions struct {
	Docs        core.DocumentRepository // Required
	Blobs       core.BlobStore          // Required
	Completions core.CompletionPublisher // Required
	Jobs        core.JobPublisher       // Required for origin jobs
	Engine      core.CheckEngine        // Required for origin and distributed jobs
	Differ      core.DiffTool           // Required for diff jobs
	Logger      *slog.Logger
	Metrics     statsd.Sink

	// WorkDir is the parent of every job workspace; defaults to os.TempDir().
	WorkDir      string
	TicksToFlush int
	MaxFonts     int
	MaxDiffFonts int
}

// WorkerService executes job envelopes through the worker lifecycle.
type WorkerService struct {
	opts   WorkerServiceOptions
	logger *slog.Logger
	now    func() time.Time
}

// NewWorkerService constructs a WorkerService.
func NewWorkerService(opts WorkerServiceOptions) (*WorkerService, error) {
	if opts.Docs == nil {
		return nil, errors.New("DocumentRepository is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("BlobStore is required")
	}
	if opts.Completions == nil {
		return nil, errors.New("CompletionPublisher is required")
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.TicksToFlush < 1 {
		opts.TicksToFlush = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerService{
		opts:   opts,
		logger: logger.With("component", "worker_service"),
		now:    time.Now,
	}, nil
}

// Handle runs env to completion. It returns an error wrapping ErrUnrecorded when the outcome
// could not be stored, and nil once the outcome is durably recorded, including failures.
func (s *WorkerService) Handle(ctx context.Context, env model.JobEnvelope) error {
	job, role, err := s.newJob(env)
	if err != nil {
		return err
	}
	logger := s.logger.With("role", role, "doc_id", env.DocID, "sub_job_id", env.SubJobID, "attempt", env.Attempt)

	start := s.now()
	outcome, finalizeErr := Execute(ctx, job, func(st State) {
		logger.DebugContext(ctx, "job state", "state", st.String())
	})

	result := metrics.ResultSuccess
	if outcome.Failed() {
		result = metrics.ResultError
		logger.ErrorContext(ctx, "job failed", "error", outcome.Err)
	} else {
		logger.InfoContext(ctx, "job done", "checks", outcome.Summary.Checks, "sub_jobs", outcome.Summary.SubJobs)
	}
	metrics.EmitJobLifecycle(s.opts.Metrics, metrics.JobMetric{
		Role:       string(role),
		Kind:       env.Kind.String(),
		Result:     result,
		Duration:   s.now().Sub(start),
		Err:        outcome.Err,
		Unrecorded: errors.Is(finalizeErr, ErrUnrecorded),
	})

	if finalizeErr != nil {
		logger.ErrorContext(ctx, "finalize failed", "error", finalizeErr)
		return finalizeErr
	}
	return nil
}

func (s *WorkerService) newJob(env model.JobEnvelope) (Job, model.WorkerRole, error) {
	base := jobBase{svc: s, env: env}
	switch env.Kind {
	case model.JobKindOrigin:
		return &distributorJob{jobBase: base}, model.RoleDistributor, nil
	case model.JobKindDistributed:
		return &checkerJob{jobBase: base, agg: NewAggregator(s.opts.Docs, env.DocID, s.opts.TicksToFlush)},
			model.RoleChecker, nil
	case model.JobKindDiff:
		return &diffJob{jobBase: base}, model.RoleDiffer, nil
	}
	return nil, "", fmt.Errorf("unsupported job kind %s", env.Kind)
}

// jobBase carries what every job kind shares.
type jobBase struct {
	svc *WorkerService
	env model.JobEnvelope
	ws  *Workspace
}

func (b *jobBase) cleanup(ctx context.Context) {
	if err := b.ws.Cleanup(); err != nil {
		b.svc.logger.WarnContext(ctx, "workspace cleanup failed", "dir", b.ws.Dir, "error", err)
	}
}

// subJobReport is the terminal state of one partition or diff run.
type subJobReport struct {
	role      model.WorkerRole
	primary   error
	secondary []error
	summary   model.RunSummary
	artifacts []string
}

// finishSubJob records the sub-job's finished_at and exception and emits its completion
// message. The completion message is emitted even when recording fails.
func (b *jobBase) finishSubJob(ctx context.Context, r subJobReport) error {
	docs := b.svc.opts.Docs
	exception := ExceptionText(r.primary, r.secondary...)

	recordErr := docs.FinishSubJob(ctx, model.SubJobFinish{
		DocID:       b.env.DocID,
		SubJobID:    b.env.SubJobID,
		FinishedAt:  b.svc.now(),
		Exception:   exception,
		ArtifactIDs: r.artifacts,
	})

	msg := model.CompletionMessage{Role: r.role, DocID: b.env.DocID, SubJobID: b.env.SubJobID}
	if exception != "" {
		msg.Failure = exception
	} else {
		summary := r.summary
		msg.Summary = &summary
	}
	b.emit(ctx, msg)

	if recordErr != nil {
		return fmt.Errorf("%w: finish sub-job %s/%s: %w", ErrUnrecorded, b.env.DocID, b.env.SubJobID, recordErr)
	}
	return nil
}

func (b *jobBase) emit(ctx context.Context, msg model.CompletionMessage) {
	if err := b.svc.opts.Completions.PublishCompletion(ctx, msg); err != nil {
		b.svc.logger.ErrorContext(ctx, "completion message lost, sweep will reconcile",
			"doc_id", msg.DocID,
			"sub_job_id", msg.SubJobID,
			"error", err,
		)
	}
}
