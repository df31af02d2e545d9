package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/observability/statsd"
	"github.com/target/fbdispatch/internal/wire"
)

// ErrMalformedPayload is returned by the consumer loops after an undecodable message was
// dead-lettered. It is fatal for the process.
var ErrMalformedPayload = errors.New("malformed queue payload")

// JobHandler runs one envelope to completion. A non-nil error means the outcome could not be
// recorded and the envelope should be attempted again.
type JobHandler func(ctx context.Context, env model.JobEnvelope) error

// CompletionHandler processes one completion message. A non-nil error requests redelivery.
type CompletionHandler func(ctx context.Context, msg model.CompletionMessage) error

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Config    Config
	Publisher *Publisher // Required: republish and dead-letter target
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// Consumer pulls from one shared durable consumer, one message at a time.
type Consumer struct {
	cons    jetstream.Consumer
	name    string
	cfg     Config
	pub     *Publisher
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewJobConsumer binds to the input subject of role.
func NewJobConsumer(
	ctx context.Context,
	js jetstream.JetStream,
	role model.WorkerRole,
	opts ConsumerOptions,
) (*Consumer, error) {
	cfg := opts.Config.withDefaults()
	subject, err := cfg.Subjects.Input(role)
	if err != nil {
		return nil, err
	}
	return newConsumer(ctx, js, cfg.Subjects.Prefix+"-"+string(role), subject, opts)
}

// NewCompletionConsumer binds to the cleanup subject.
func NewCompletionConsumer(ctx context.Context, js jetstream.JetStream, opts ConsumerOptions) (*Consumer, error) {
	cfg := opts.Config.withDefaults()
	return newConsumer(ctx, js, cfg.Subjects.Prefix+"-coordinator", cfg.Subjects.Cleanup(), opts)
}

func newConsumer(ctx context.Context, js jetstream.JetStream, name, subject string, opts ConsumerOptions) (*Consumer, error) {
	if opts.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	cfg := opts.Config.withDefaults()
	cons, err := EnsureConsumer(ctx, js, cfg, name, subject)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cons:    cons,
		name:    name,
		cfg:     cfg,
		pub:     opts.Publisher,
		logger:  logger.With("component", "queue_consumer", "consumer", name),
		metrics: opts.Metrics,
	}, nil
}

// RunJobs pulls envelopes and passes them to handler until ctx is done. Every message is
// acknowledged once handler returned. Failed attempts are republished with Attempt+1 until
// MaxAttempts is reached, after which the envelope goes to the dead-letter subject.
func (c *Consumer) RunJobs(ctx context.Context, handler JobHandler) error {
	return c.loop(ctx, func(msg jetstream.Msg) error {
		return c.handleJob(ctx, msg, handler)
	})
}

// RunCompletions pulls completion messages and passes them to handler until ctx is done.
// Failed messages are redelivered with a delay until MaxAttempts, then dead-lettered.
func (c *Consumer) RunCompletions(ctx context.Context, handler CompletionHandler) error {
	return c.loop(ctx, func(msg jetstream.Msg) error {
		return c.handleCompletion(ctx, msg, handler)
	})
}

func (c *Consumer) loop(ctx context.Context, handle func(jetstream.Msg) error) error {
	c.logger.InfoContext(ctx, "consumer loop started")
	for {
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "consumer loop stopping", "reason", ctx.Err())
			return nil
		}
		msg, err := c.cons.Next(jetstream.FetchMaxWait(c.cfg.FetchWait))
		switch {
		case err == nil:
		case errors.Is(err, nats.ErrTimeout):
			continue
		case errors.Is(err, jetstream.ErrConsumerDeleted), errors.Is(err, nats.ErrConnectionClosed):
			return fmt.Errorf("consumer %s: %w", c.name, err)
		default:
			c.logger.WarnContext(ctx, "fetch failed, retrying", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.FetchWait):
			}
			continue
		}
		if err := handle(msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) handleJob(ctx context.Context, msg jetstream.Msg, handler JobHandler) error {
	env, err := wire.UnmarshalEnvelope(msg.Data())
	if err != nil {
		return c.rejectMalformed(ctx, msg, err)
	}
	attempt := env.Attempt + delivered(msg) - 1
	logger := c.logger.With("doc_id", env.DocID, "sub_job_id", env.SubJobID, "attempt", attempt)

	if attempt >= c.cfg.MaxAttempts {
		return c.deadLetter(ctx, msg, attempt, "attempts exhausted before delivery")
	}

	stop := c.heartbeat(ctx, msg)
	handleErr := handler(ctx, env.WithAttempt(attempt))
	stop()

	if handleErr == nil {
		return c.ack(ctx, msg)
	}
	logger.WarnContext(ctx, "job outcome not recorded", "error", handleErr)
	if attempt+1 >= c.cfg.MaxAttempts {
		return c.deadLetter(ctx, msg, attempt, handleErr.Error())
	}
	if err := c.pub.PublishJob(ctx, env.WithAttempt(attempt+1)); err != nil {
		logger.ErrorContext(ctx, "republish failed, leaving redelivery to the broker", "error", err)
		c.nak(ctx, msg, 0)
		return nil
	}
	c.count("queue.republished")
	return c.ack(ctx, msg)
}

func (c *Consumer) handleCompletion(ctx context.Context, msg jetstream.Msg, handler CompletionHandler) error {
	cm, err := wire.UnmarshalCompletion(msg.Data())
	if err != nil {
		return c.rejectMalformed(ctx, msg, err)
	}
	n := delivered(msg)
	if err := handler(ctx, cm); err != nil {
		c.logger.WarnContext(ctx, "completion not processed",
			"doc_id", cm.DocID,
			"sub_job_id", cm.SubJobID,
			"delivered", n,
			"error", err,
		)
		if n >= c.cfg.MaxAttempts {
			return c.deadLetter(ctx, msg, n, err.Error())
		}
		c.nak(ctx, msg, time.Duration(n)*time.Second)
		return nil
	}
	return c.ack(ctx, msg)
}

// rejectMalformed dead-letters and terminates msg, then reports a fatal error.
func (c *Consumer) rejectMalformed(ctx context.Context, msg jetstream.Msg, decodeErr error) error {
	c.count("queue.malformed")
	dlErr := c.pub.PublishDeadLetter(ctx, msg.Data(), msg.Subject(), delivered(msg), "malformed: "+decodeErr.Error())
	termErr := msg.Term()
	return fmt.Errorf("%w on %s: %w", ErrMalformedPayload, msg.Subject(), errors.Join(decodeErr, dlErr, termErr))
}

// deadLetter moves msg to the dead-letter subject. When that fails the message is left to
// broker redelivery instead of being lost.
func (c *Consumer) deadLetter(ctx context.Context, msg jetstream.Msg, attempt int, reason string) error {
	if err := c.pub.PublishDeadLetter(ctx, msg.Data(), msg.Subject(), attempt, reason); err != nil {
		c.logger.ErrorContext(ctx, "dead-letter publish failed", "error", err)
		c.nak(ctx, msg, 0)
		return nil
	}
	c.count("queue.dead_lettered")
	return c.ack(ctx, msg)
}

// heartbeat signals progress every AckWait/2 until the returned stop function is called.
func (c *Consumer) heartbeat(ctx context.Context, msg jetstream.Msg) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.cfg.AckWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					c.logger.WarnContext(hbCtx, "in-progress signal failed", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (c *Consumer) ack(ctx context.Context, msg jetstream.Msg) error {
	if err := msg.DoubleAck(ctx); err != nil {
		// The broker redelivers; the next attempt finds the recorded outcome.
		c.logger.WarnContext(ctx, "ack failed", "error", err)
	}
	return nil
}

func (c *Consumer) nak(ctx context.Context, msg jetstream.Msg, delay time.Duration) {
	var err error
	if delay > 0 {
		err = msg.NakWithDelay(delay)
	} else {
		err = msg.Nak()
	}
	if err != nil {
		c.logger.WarnContext(ctx, "nak failed", "error", err)
	}
}

func (c *Consumer) count(name string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Count(name, 1, map[string]string{"consumer": c.name})
}

// delivered returns how many times the broker delivered msg, at least 1.
func delivered(msg jetstream.Msg) int {
	meta, err := msg.Metadata()
	if err != nil || meta.NumDelivered == 0 {
		return 1
	}
	return int(meta.NumDelivered) // #nosec G115 - bounded by broker redelivery
}
