package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/target/fbdispatch/config"
	"github.com/target/fbdispatch/internal/queue"
)

// QueueConfig converts broker settings into the queue package configuration.
func QueueConfig(cfg config.NATSConfig) queue.Config {
	return queue.Config{
		Stream:        cfg.Stream,
		Subjects:      queue.NewSubjects(cfg.SubjectPrefix),
		AckWait:       cfg.AckWait,
		MaxAttempts:   cfg.MaxAttempts,
		MaxAckPending: cfg.MaxAckPending,
		FetchWait:     cfg.FetchWait,
		Replicas:      cfg.Replicas,
	}
}

// ConnectNATS connects to the broker, ensures the pipeline stream exists and returns the
// JetStream handle. The connection reconnects forever; callers own Close/Drain.
func ConnectNATS(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(false),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("broker disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("broker reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := queue.EnsureStream(ensureCtx, js, QueueConfig(cfg)); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream: %w", err)
	}

	logger.InfoContext(ctx, "broker connected",
		"url", nc.ConnectedUrlRedacted(),
		"stream", cfg.Stream,
		"subject_prefix", cfg.SubjectPrefix,
	)
	return nc, js, nil
}
