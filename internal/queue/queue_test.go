package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/testutil"
	"github.com/target/fbdispatch/internal/wire"
)

func TestSubjects(t *testing.T) {
	s := NewSubjects("")
	assert.Equal(t, "fbdispatch.>", s.Wildcard())
	assert.Equal(t, "fbdispatch.cleanup-out", s.Cleanup())
	assert.Equal(t, "fbdispatch.dead-letter", s.DeadLetter())

	tests := []struct {
		kind model.JobKind
		want string
	}{
		{model.JobKindOrigin, "fbdispatch.distributor-in"},
		{model.JobKindDistributed, "fbdispatch.checker-in"},
		{model.JobKindDiff, "fbdispatch.diff-in"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got, err := s.ForKind(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := s.ForKind(model.JobKind(42))
	require.Error(t, err)
	_, err = s.Input(model.WorkerRole("janitor"))
	require.Error(t, err)
}

func TestSanitizeConsumerName(t *testing.T) {
	assert.Equal(t, "fb_dispatch_checker_x", sanitizeConsumerName("fb.dispatch>checker x"))
}

type queueFixture struct {
	js     jetstream.JetStream
	cfg    Config
	pub    *Publisher
	stream jetstream.Stream
}

func newQueueFixture(t *testing.T, maxAttempts int) *queueFixture {
	t.Helper()
	_, js := testutil.ConnectJetStream(t)
	cfg := Config{
		Subjects:    NewSubjects("fbtest"),
		AckWait:     30 * time.Second,
		MaxAttempts: maxAttempts,
		FetchWait:   200 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := EnsureStream(ctx, js, cfg)
	require.NoError(t, err)
	return &queueFixture{
		js:     js,
		cfg:    cfg,
		pub:    NewPublisher(js, cfg.Subjects, nil),
		stream: stream,
	}
}

func (f *queueFixture) jobConsumer(t *testing.T, role model.WorkerRole) *Consumer {
	t.Helper()
	c, err := NewJobConsumer(context.Background(), f.js, role, ConsumerOptions{Config: f.cfg, Publisher: f.pub})
	require.NoError(t, err)
	return c
}

// deadLetters drains up to n messages from the dead-letter subject.
func (f *queueFixture) deadLetters(t *testing.T, n int) []jetstream.Msg {
	t.Helper()
	cons, err := EnsureConsumer(context.Background(), f.js, f.cfg, "dlq-reader", f.cfg.Subjects.DeadLetter())
	require.NoError(t, err)
	batch, err := cons.Fetch(n, jetstream.FetchMaxWait(2*time.Second))
	require.NoError(t, err)
	var out []jetstream.Msg
	for msg := range batch.Messages() {
		out = append(out, msg)
		require.NoError(t, msg.Ack())
	}
	return out
}

func (f *queueFixture) pending(t *testing.T) uint64 {
	t.Helper()
	info, err := f.stream.Info(context.Background())
	require.NoError(t, err)
	return info.State.Msgs
}

func distributedEnvelope(sub string) model.JobEnvelope {
	return model.JobEnvelope{
		Kind:     model.JobKindDistributed,
		DocID:    "doc-1",
		SubJobID: sub,
		CacheKey: "sha256:abc",
		Order:    []model.CheckIdentity{{Section: "s", CheckID: "c1"}},
	}
}

func runJobs(t *testing.T, c *Consumer, handler JobHandler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunJobs(ctx, handler) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestPublishJob_DeduplicatesSameAttempt(t *testing.T) {
	f := newQueueFixture(t, 3)
	ctx := context.Background()
	env := distributedEnvelope("0")

	require.NoError(t, f.pub.PublishJob(ctx, env))
	require.NoError(t, f.pub.PublishJob(ctx, env))
	assert.Equal(t, uint64(1), f.pending(t))

	require.NoError(t, f.pub.PublishJob(ctx, env.WithAttempt(1)))
	assert.Equal(t, uint64(2), f.pending(t))
}

func TestPublishJob_RejectsInvalidEnvelope(t *testing.T) {
	f := newQueueFixture(t, 3)
	err := f.pub.PublishJob(context.Background(), model.JobEnvelope{Kind: model.JobKindOrigin})
	require.Error(t, err)
	assert.Equal(t, uint64(0), f.pending(t))
}

func TestRunJobs_DeliversAndAcks(t *testing.T) {
	f := newQueueFixture(t, 3)
	require.NoError(t, f.pub.PublishJob(context.Background(), distributedEnvelope("1")))

	got := make(chan model.JobEnvelope, 1)
	cancel, done := runJobs(t, f.jobConsumer(t, model.RoleChecker), func(_ context.Context, env model.JobEnvelope) error {
		got <- env
		return nil
	})

	select {
	case env := <-got:
		assert.Equal(t, "1", env.SubJobID)
		assert.Equal(t, 0, env.Attempt)
		assert.Equal(t, "c1", env.Order[0].CheckID)
	case <-time.After(5 * time.Second):
		t.Fatal("envelope not delivered")
	}

	require.Eventually(t, func() bool { return f.pending(t) == 0 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunJobs_RepublishesUntilDeadLetter(t *testing.T) {
	f := newQueueFixture(t, 3)
	require.NoError(t, f.pub.PublishJob(context.Background(), distributedEnvelope("2")))

	var (
		mu       sync.Mutex
		attempts []int
	)
	cancel, done := runJobs(t, f.jobConsumer(t, model.RoleChecker), func(_ context.Context, env model.JobEnvelope) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, env.Attempt)
		return errors.New("document store unavailable")
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == 3
	}, 10*time.Second, 50*time.Millisecond)

	dead := f.deadLetters(t, 1)
	require.Len(t, dead, 1)
	assert.Equal(t, "2", dead[0].Headers().Get(HeaderAttempt))
	assert.Equal(t, "fbtest.checker-in", dead[0].Headers().Get(HeaderSubject))
	assert.Contains(t, dead[0].Headers().Get(HeaderReason), "document store unavailable")

	env, err := wire.UnmarshalEnvelope(dead[0].Data())
	require.NoError(t, err)
	assert.Equal(t, 2, env.Attempt)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestRunJobs_MalformedPayloadIsFatal(t *testing.T) {
	f := newQueueFixture(t, 3)
	_, err := f.js.Publish(context.Background(), "fbtest.checker-in", []byte("not an envelope"))
	require.NoError(t, err)

	_, done := runJobs(t, f.jobConsumer(t, model.RoleChecker), func(context.Context, model.JobEnvelope) error {
		t.Error("handler must not run for malformed payloads")
		return nil
	})

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrMalformedPayload)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	dead := f.deadLetters(t, 1)
	require.Len(t, dead, 1)
	assert.True(t, strings.HasPrefix(dead[0].Headers().Get(HeaderReason), "malformed"))
	assert.Equal(t, "not an envelope", string(dead[0].Data()))
}

func TestRunCompletions_RedeliversFailedHandler(t *testing.T) {
	f := newQueueFixture(t, 3)
	msg := model.CompletionMessage{Role: model.RoleChecker, DocID: "doc-1", SubJobID: "0", Failure: "boom"}
	require.NoError(t, f.pub.PublishCompletion(context.Background(), msg))

	c, err := NewCompletionConsumer(context.Background(), f.js, ConsumerOptions{Config: f.cfg, Publisher: f.pub})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		calls int
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.RunCompletions(ctx, func(_ context.Context, got model.CompletionMessage) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			assert.Equal(t, "boom", got.Failure)
			if calls == 1 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 10*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return f.pending(t) == 0 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewConsumer_RequiresPublisher(t *testing.T) {
	f := newQueueFixture(t, 3)
	_, err := NewJobConsumer(context.Background(), f.js, model.RoleChecker, ConsumerOptions{Config: f.cfg})
	require.Error(t, err)
}
