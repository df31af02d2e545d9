package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/target/fbdispatch/internal/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestDo_RetriesUntilLimitPerCode(t *testing.T) {
	tests := []struct {
		name      string
		code      codes.Code
		wantTries int
	}{
		{"unknown", codes.Unknown, 6},
		{"internal", codes.Internal, 1},
		{"unavailable", codes.Unavailable, 5},
		{"deadline exceeded", codes.DeadlineExceeded, 5},
		{"not found is not retried", codes.NotFound, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl := &recordingSleeper{}
			p := DefaultPolicy()
			p.Sleep = sl.sleep

			tries := 0
			err := Do(context.Background(), p, "blob.get", func(context.Context) error {
				tries++
				return status.Error(tt.code, "nope")
			})

			require.Error(t, err)
			assert.Equal(t, tt.wantTries, tries)
			assert.Len(t, sl.waits, tt.wantTries-1)
			if _, retryable := DefaultMaxTries()[tt.code]; retryable {
				assert.True(t, apperrors.IsTransport(err), "exhausted retries must surface as transport errors")
			} else {
				assert.Equal(t, tt.code, status.Code(err))
			}
		})
	}
}

func TestDo_DoublingDelay(t *testing.T) {
	sl := &recordingSleeper{}
	p := DefaultPolicy()
	p.Sleep = sl.sleep

	_ = Do(context.Background(), p, "op", func(context.Context) error {
		return status.Error(codes.Unavailable, "down")
	})

	want := []time.Duration{
		62500 * time.Microsecond,
		125 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
	}
	assert.Equal(t, want, sl.waits)
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	sl := &recordingSleeper{}
	p := DefaultPolicy()
	p.Sleep = sl.sleep

	tries := 0
	err := Do(context.Background(), p, "op", func(context.Context) error {
		tries++
		if tries < 3 {
			return status.Error(codes.Unavailable, "down")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, tries)
}

func TestDo_RealBackoffHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Policy{BaseDelay: time.Millisecond}, "op", func(context.Context) error {
		return status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"nil", nil, codes.OK},
		{"status", status.Error(codes.Internal, "x"), codes.Internal},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"canceled", context.Canceled, codes.Canceled},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, codes.Unavailable},
		{"status unknown", status.Error(codes.Unknown, "x"), codes.Unknown},
		{"connection reset", syscall.ECONNRESET, codes.Unavailable},
		{"application error", errors.New("nats: maximum payload exceeded"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestDo_ApplicationErrorTriedOnce(t *testing.T) {
	sl := &recordingSleeper{}
	p := DefaultPolicy()
	p.Sleep = sl.sleep

	wrongType := errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	tries := 0
	err := Do(context.Background(), p, "blob.get", func(context.Context) error {
		tries++
		return wrongType
	})

	require.Error(t, err)
	assert.Equal(t, 1, tries)
	assert.Empty(t, sl.waits)
	assert.ErrorIs(t, err, wrongType)
}
