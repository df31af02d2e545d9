// Package sweeper provides adapters for running the reconciliation sweeper.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/fbdispatch/config"
	"github.com/target/fbdispatch/internal/core"
	"github.com/target/fbdispatch/internal/data"
	"github.com/target/fbdispatch/internal/observability/statsd"
	"github.com/target/fbdispatch/internal/service"
)

// Runner provides a simple adapter to run the sweeper loop.
// It constructs the sweeper and coordinator services and runs the reconciliation loop.
type Runner struct {
	sweeper *service.SweeperService
	logger  *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB       *sql.DB
	Blobs    core.BlobStore
	Notifier core.FailureNotifier
	Config   config.SweeperConfig
	Logger   *slog.Logger

	// Optional dependency injection for testing/decoupling
	Repo    core.SweepRepository
	Docs    core.DocumentRepository
	Metrics statsd.Sink
}

// NewRunner creates a new sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	sweeper, err := wireSweeperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire sweeper service: %w", err)
	}

	return &Runner{sweeper: sweeper, logger: opts.Logger}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.Repo == nil || opts.Docs == nil) {
		return errors.New("database connection is required")
	}
	if opts.Blobs == nil {
		return errors.New("blob store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireSweeperService wires up all dependencies for the sweeper service.
func wireSweeperService(opts RunnerOptions) (*service.SweeperService, error) {
	repo, docs := opts.Repo, opts.Docs
	if repo == nil || docs == nil {
		store := data.NewFamilyTestRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
		if repo == nil {
			repo = store
		}
		if docs == nil {
			docs = store
		}
	}

	coord, err := service.NewCoordinator(service.CoordinatorOptions{
		Docs:     docs,
		Blobs:    opts.Blobs,
		Notifier: opts.Notifier,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return service.NewSweeperService(service.SweeperServiceOptions{
		Repo:        repo,
		Coordinator: coord,
		Config:      opts.Config,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})
}

// Run starts the sweeper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sweeper runner")
	return r.sweeper.Run(ctx)
}

// SweepOnce runs a single reconciliation pass.
func (r *Runner) SweepOnce(ctx context.Context) (service.SweepReport, error) {
	return r.sweeper.Sweep(ctx)
}
