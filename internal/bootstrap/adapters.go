package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/target/fbdispatch/config"
	"github.com/target/fbdispatch/internal/adapters/sweeper"
	"github.com/target/fbdispatch/internal/adapters/workerrunner"
	"github.com/target/fbdispatch/internal/core"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/observability/statsd"
	"github.com/target/fbdispatch/internal/queue"
	"github.com/target/fbdispatch/internal/service"
)

// WorkerRoleConfig contains configuration for one worker role.
type WorkerRoleConfig struct {
	JS          jetstream.JetStream
	Queue       queue.Config
	Publisher   *queue.Publisher
	Role        model.WorkerRole
	Handler     queue.JobHandler
	Concurrency int
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// RunWorkerRole consumes the input subject of cfg.Role until ctx is cancelled.
func RunWorkerRole(ctx context.Context, cfg WorkerRoleConfig) error {
	runner, err := workerrunner.NewJobRunner(ctx, workerrunner.JobRunnerOptions{
		JS:          cfg.JS,
		Queue:       cfg.Queue,
		Publisher:   cfg.Publisher,
		Role:        cfg.Role,
		Handler:     cfg.Handler,
		Concurrency: cfg.Concurrency,
		Logger:      roleLogger(cfg.Logger, string(cfg.Role)),
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create %s runner: %w", cfg.Role, err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run %s runner: %w", cfg.Role, runErr)
	}
	return nil
}

// CoordinatorRunConfig contains configuration for the completion coordinator.
type CoordinatorRunConfig struct {
	JS          jetstream.JetStream
	Queue       queue.Config
	Publisher   *queue.Publisher
	Coordinator *service.Coordinator
	Concurrency int
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// RunCoordinator consumes completion messages until ctx is cancelled.
func RunCoordinator(ctx context.Context, cfg CoordinatorRunConfig) error {
	if cfg.Coordinator == nil {
		return errors.New("coordinator is required")
	}
	runner, err := workerrunner.NewCompletionRunner(ctx, workerrunner.CompletionRunnerOptions{
		JS:          cfg.JS,
		Queue:       cfg.Queue,
		Publisher:   cfg.Publisher,
		Handler:     cfg.Coordinator.HandleCompletion,
		Concurrency: cfg.Concurrency,
		Logger:      roleLogger(cfg.Logger, "coordinator"),
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create coordinator runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run coordinator runner: %w", runErr)
	}
	return nil
}

// SweeperRunConfig contains configuration for the reconciliation sweeper.
type SweeperRunConfig struct {
	DB       *sql.DB
	Blobs    core.BlobStore
	Notifier core.FailureNotifier
	Config   config.SweeperConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// NewSweeperRunner builds the sweeper runner shared by the service and the admin CLI.
func NewSweeperRunner(cfg SweeperRunConfig) (*sweeper.Runner, error) {
	runner, err := sweeper.NewRunner(sweeper.RunnerOptions{
		DB:       cfg.DB,
		Blobs:    cfg.Blobs,
		Notifier: cfg.Notifier,
		Config:   cfg.Config,
		Logger:   roleLogger(cfg.Logger, "sweeper"),
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create sweeper runner: %w", err)
	}
	return runner, nil
}

// RunSweeper starts the sweeper service.
func RunSweeper(ctx context.Context, cfg SweeperRunConfig) error {
	runner, err := NewSweeperRunner(cfg)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

func roleLogger(logger *slog.Logger, role string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("role", role)
}
