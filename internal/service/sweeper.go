package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/fbdispatch/config"
	"github.com/target/fbdispatch/internal/core"
	"github.com/target/fbdispatch/internal/domain/model"
	obserrors "github.com/target/fbdispatch/internal/observability/errors"
	"github.com/target/fbdispatch/internal/observability/metrics"
	"github.com/target/fbdispatch/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Repo        core.SweepRepository // Required: reconciliation queries
	Coordinator *Coordinator         // Required: closes swept documents
	Config      config.SweeperConfig // Required: sweep configuration
	Logger      *slog.Logger         // Optional: structured logger
	Metrics     statsd.Sink          // Optional: metrics sink (StatsD-compatible)
}

// SweeperService is the time-based fallback for lost completion messages.
//
// Each pass:
// - Finishes open documents whose sub-jobs have all finished.
// - Force-closes documents older than MaxAge whose sub-jobs never reported.
type SweeperService struct {
	repo    core.SweepRepository
	coord   *Coordinator
	config  config.SweeperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SweepRepository is required")
	}
	if opts.Coordinator == nil {
		return nil, errors.New("Coordinator is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sweeper_service")
	logger.Debug("SweeperService initialized",
		"interval", opts.Config.Interval,
		"max_age", opts.Config.MaxAge,
		"batch_size", opts.Config.BatchSize,
	)

	return &SweeperService{
		repo:    opts.Repo,
		coord:   opts.Coordinator,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)

	// Jitter keeps replicas started together from sweeping in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.Sweep(ctx); err != nil {
		s.logSweepError(ctx, err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logSweepError(ctx, err, "sweep")
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// SweepReport counts the documents closed by one sweep pass.
type SweepReport struct {
	Finished    int
	ForceClosed int
	Elapsed     time.Duration
}

type sweepStep struct {
	label     string
	operation string
	source    string
	fn        func(context.Context) ([]model.StaleDocument, error)
	count     *int
}

// Sweep runs one reconciliation pass.
func (s *SweeperService) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	var (
		report             SweepReport
		errs               []error
		allContextCanceled = true
	)

	steps := []sweepStep{
		{
			label:     "finish completed documents",
			operation: "finish_completed",
			source:    SourceSweep,
			fn: func(ctx context.Context) ([]model.StaleDocument, error) {
				return s.repo.FinishCompletedDocuments(ctx, s.config.BatchSize)
			},
			count: &report.Finished,
		},
		{
			label:     "force close stale documents",
			operation: "force_close",
			source:    SourceForceClose,
			fn: func(ctx context.Context) ([]model.StaleDocument, error) {
				return s.repo.ForceCloseStaleDocuments(ctx, s.config.MaxAge, s.config.BatchSize)
			},
			count: &report.ForceClosed,
		},
	}

	for _, step := range steps {
		n, err := s.runStep(ctx, step)
		*step.count = n
		s.emitOperationMetric(step.operation, n, suppressContextCancellation(err))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allContextCanceled = allContextCanceled && isContextCancellation(err)
		}
	}

	report.Elapsed = time.Since(start)
	joined := errors.Join(errs...)
	s.emitSweepMetrics(report, suppressContextCancellation(joined))

	if joined != nil {
		if allContextCanceled {
			return report, context.Canceled
		}
		return report, fmt.Errorf("sweep failed: %w", joined)
	}
	return report, nil
}

// runStep processes batches until the repository returns none.
func (s *SweeperService) runStep(ctx context.Context, step sweepStep) (int, error) {
	total := 0
	for {
		docs, err := step.fn(ctx)
		if err != nil {
			return total, err
		}
		for _, doc := range docs {
			s.closeSwept(ctx, doc, step.source)
		}
		total += len(docs)
		if len(docs) == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 {
		s.logger.InfoContext(ctx, step.label, "count", total, "max_age", s.config.MaxAge)
	}
	return total, nil
}

func (s *SweeperService) closeSwept(ctx context.Context, stale model.StaleDocument, source string) {
	d := closedDocument{
		id:        stale.ID,
		cacheKey:  stale.CacheKey,
		createdAt: stale.CreatedAt,
		source:    source,
	}
	doc, err := s.coord.docs.GetByID(ctx, stale.ID)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "load swept document failed", "doc_id", stale.ID, "error", err)
		if stale.ForceClosed {
			d.reason = fmt.Sprintf("abandoned: sub-jobs %v never reported", stale.OpenSubJobs)
		}
	default:
		d = closedFrom(doc, source)
		d.cacheKey = stale.CacheKey
		d.createdAt = stale.CreatedAt
	}
	d.openSubJobs = stale.OpenSubJobs
	s.coord.closed(ctx, d)
}

func (s *SweeperService) emitSweepMetrics(r SweepReport, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if r.Finished+r.ForceClosed == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.sweep", 1, tags)
	if r.Elapsed > 0 {
		s.metrics.Timing("sweeper.sweep_duration", r.Elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *SweeperService) emitOperationMetric(operation string, count int, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("sweeper.documents_closed", int64(count), metrics.CloneTags(tags))
	}
}

func (s *SweeperService) logSweepError(ctx context.Context, err error, label string) {
	if err == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
