package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
	"github.com/target/fbdispatch/internal/retry"
	"github.com/target/fbdispatch/internal/wire"
	"google.golang.org/grpc/codes"
)

// Dead-letter headers.
const (
	HeaderReason  = "Fbdispatch-Reason"
	HeaderSubject = "Fbdispatch-Subject"
	HeaderAttempt = "Fbdispatch-Attempt"
)

// Publisher publishes envelopes and completion messages and waits for the stream ack.
type Publisher struct {
	js       jetstream.JetStream
	subjects Subjects
	policy   retry.Policy
	logger   *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(js jetstream.JetStream, subjects Subjects, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	policy := retry.DefaultPolicy()
	policy.Logger = logger
	return &Publisher{
		js:       js,
		subjects: subjects,
		policy:   policy,
		logger:   logger.With("component", "queue_publisher"),
	}
}

// MsgID is the deduplication id of an envelope. Republishing the same attempt inside the
// stream's duplicate window is a no-op.
func MsgID(env model.JobEnvelope) string {
	return env.DocID + "/" + env.SubJobID + "/" + strconv.Itoa(env.Attempt)
}

// PublishJob routes env to the input subject of the role that handles its kind.
func (p *Publisher) PublishJob(ctx context.Context, env model.JobEnvelope) error {
	if err := env.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid envelope")
	}
	subject, err := p.subjects.ForKind(env.Kind)
	if err != nil {
		return err
	}
	data, err := wire.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.publish(ctx, "queue.publish_job", &nats.Msg{Subject: subject, Data: data}, jetstream.WithMsgID(MsgID(env)))
}

// PublishCompletion emits msg on the cleanup subject.
func (p *Publisher) PublishCompletion(ctx context.Context, msg model.CompletionMessage) error {
	data, err := wire.MarshalCompletion(msg)
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}
	return p.publish(ctx, "queue.publish_completion", &nats.Msg{Subject: p.subjects.Cleanup(), Data: data})
}

// PublishDeadLetter stores a raw payload on the dead-letter subject with the reason it was
// rejected and the subject it was read from.
func (p *Publisher) PublishDeadLetter(ctx context.Context, data []byte, source string, attempt int, reason string) error {
	msg := nats.NewMsg(p.subjects.DeadLetter())
	msg.Data = data
	msg.Header.Set(HeaderReason, reason)
	msg.Header.Set(HeaderSubject, source)
	msg.Header.Set(HeaderAttempt, strconv.Itoa(attempt))
	p.logger.WarnContext(ctx, "dead-lettering message", "source", source, "attempt", attempt, "reason", reason)
	return p.publish(ctx, "queue.publish_dead_letter", msg)
}

func (p *Publisher) publish(ctx context.Context, op string, msg *nats.Msg, opts ...jetstream.PublishOpt) error {
	err := retry.Do(ctx, p.policy, op, func(ctx context.Context) error {
		_, err := p.js.PublishMsg(ctx, msg, opts...)
		return toStatus(err)
	})
	if err != nil && !apperrors.IsTransport(err) {
		return apperrors.Wrapf(err, apperrors.ErrCodeTransport, "publish to %s", msg.Subject)
	}
	return err
}

// toStatus maps NATS failures onto the status codes the retry policy understands.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, jetstream.ErrNoStreamResponse), errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrNoServers):
		return retry.Errorf(codes.Unavailable, "nats: %v", err)
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, jetstream.ErrStreamNotFound):
		return retry.Errorf(codes.FailedPrecondition, "nats: %v", err)
	}
	return err
}
