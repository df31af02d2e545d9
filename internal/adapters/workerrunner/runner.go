// Package workerrunner runs pools of queue consumer loops for the worker and coordinator roles.
package workerrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/observability/statsd"
	"github.com/target/fbdispatch/internal/queue"
	"golang.org/x/sync/errgroup"
)

// Runner runs Concurrency copies of one consumer loop. Each loop holds at most one message.
type Runner struct {
	name    string
	workers int
	loop    func(ctx context.Context) error
	logger  *slog.Logger
}

// JobRunnerOptions configures a runner for one worker role.
type JobRunnerOptions struct {
	JS          jetstream.JetStream
	Queue       queue.Config
	Publisher   *queue.Publisher
	Role        model.WorkerRole
	Handler     queue.JobHandler
	Concurrency int // defaults to 1
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// CompletionRunnerOptions configures the coordinator runner.
type CompletionRunnerOptions struct {
	JS          jetstream.JetStream
	Queue       queue.Config
	Publisher   *queue.Publisher
	Handler     queue.CompletionHandler
	Concurrency int // defaults to 1
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// NewJobRunner binds the durable consumer for opts.Role and returns a runner feeding it to
// opts.Handler.
func NewJobRunner(ctx context.Context, opts JobRunnerOptions) (*Runner, error) {
	if opts.JS == nil {
		return nil, errors.New("jetstream context is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("job handler is required")
	}
	cons, err := queue.NewJobConsumer(ctx, opts.JS, opts.Role, queue.ConsumerOptions{
		Config:    opts.Queue,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("bind %s consumer: %w", opts.Role, err)
	}
	return newRunner(string(opts.Role), opts.Concurrency, opts.Logger, func(ctx context.Context) error {
		return cons.RunJobs(ctx, opts.Handler)
	}), nil
}

// NewCompletionRunner binds the cleanup consumer and returns a runner feeding it to opts.Handler.
func NewCompletionRunner(ctx context.Context, opts CompletionRunnerOptions) (*Runner, error) {
	if opts.JS == nil {
		return nil, errors.New("jetstream context is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("completion handler is required")
	}
	cons, err := queue.NewCompletionConsumer(ctx, opts.JS, queue.ConsumerOptions{
		Config:    opts.Queue,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("bind completion consumer: %w", err)
	}
	return newRunner("coordinator", opts.Concurrency, opts.Logger, func(ctx context.Context) error {
		return cons.RunCompletions(ctx, opts.Handler)
	}), nil
}

func newRunner(name string, workers int, logger *slog.Logger, loop func(context.Context) error) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		name:    name,
		workers: workers,
		loop:    loop,
		logger:  logger.With("component", "worker_runner", "role", name),
	}
}

// Run starts the consumer loops and blocks until ctx is canceled or one loop fails.
// The first failure stops every loop and is returned.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker runner", "workers", r.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		g.Go(func() error {
			if err := r.loop(gctx); err != nil {
				return fmt.Errorf("%s worker %d: %w", r.name, i, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		r.logger.ErrorContext(ctx, "worker runner stopped", "error", err)
		return err
	}
	r.logger.InfoContext(ctx, "worker runner stopped")
	return nil
}
