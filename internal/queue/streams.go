package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultStream        = "FBDISPATCH"
	DefaultAckWait       = 20 * time.Minute
	DefaultMaxAttempts   = 5
	DefaultMaxAckPending = 1000
	DefaultFetchWait     = 5 * time.Second
	DefaultDuplicates    = 2 * time.Minute
)

// Config configures the stream and its consumers.
type Config struct {
	Stream   string
	Subjects Subjects
	// AckWait is how long the broker waits before redelivering an unacknowledged message.
	// Running jobs signal progress every AckWait/2.
	AckWait time.Duration
	// MaxAttempts bounds deliveries per envelope, broker redeliveries included.
	MaxAttempts int
	// MaxAckPending bounds in-flight messages per consumer across the fleet.
	MaxAckPending int
	// FetchWait is how long one pull waits for a message before polling again.
	FetchWait time.Duration
	Replicas  int
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Subjects.Prefix == "" {
		c.Subjects = NewSubjects("")
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = DefaultMaxAckPending
	}
	if c.FetchWait <= 0 {
		c.FetchWait = DefaultFetchWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// EnsureStream creates or updates the file-backed stream holding every pipeline subject.
// Messages survive broker restarts and are removed once acknowledged.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg Config) (jetstream.Stream, error) {
	cfg = cfg.withDefaults()
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "fbdispatch jobs, completions and dead letters",
		Subjects:    []string{cfg.Subjects.Wildcard()},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		Duplicates:  DefaultDuplicates,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	return stream, nil
}

// EnsureConsumer creates or updates the shared durable pull consumer name filtered on subject.
// Redelivery is unbounded on the broker; the consumer loop enforces MaxAttempts itself.
func EnsureConsumer(
	ctx context.Context,
	js jetstream.JetStream,
	cfg Config,
	name, subject string,
) (jetstream.Consumer, error) {
	cfg = cfg.withDefaults()
	name = sanitizeConsumerName(name)
	cons, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    -1,
		MaxAckPending: cfg.MaxAckPending,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if errors.Is(err, jetstream.ErrConsumerNameAlreadyInUse) {
		// Another replica created it first.
		cons, err = js.Consumer(ctx, cfg.Stream, name)
	}
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", name, err)
	}
	return cons, nil
}

// sanitizeConsumerName replaces characters NATS rejects in consumer names.
func sanitizeConsumerName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>' || r == '/' || r == '\\':
			return '_'
		case r <= ' ' || r == 127:
			return '_'
		}
		return r
	}, name)
}
