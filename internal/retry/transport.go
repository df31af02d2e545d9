// Package retry implements the bounded exponential backoff applied to transport failures
// reported with gRPC-style status codes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	apperrors "github.com/target/fbdispatch/internal/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultBaseDelay is the delay before the second try; it doubles on every further try.
const DefaultBaseDelay = 62500 * time.Microsecond

// DefaultMaxTries is the number of tries allowed per status code. Codes not listed are not retried.
func DefaultMaxTries() map[codes.Code]int {
	return map[codes.Code]int{
		codes.Unknown:          6,
		codes.Internal:         1,
		codes.Unavailable:      5,
		codes.DeadlineExceeded: 5,
	}
}

// Policy configures Do.
type Policy struct {
	BaseDelay time.Duration
	MaxTries  map[codes.Code]int
	Logger    *slog.Logger
	// Sleep overrides time-based waiting in tests.
	Sleep func(context.Context, time.Duration) error
}

// DefaultPolicy returns the policy used by the blob store client.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxTries: DefaultMaxTries()}
}

// Do runs op until it succeeds, fails with a non-retryable code, or exhausts the tries allowed
// for the code of its latest failure. Exhausted failures are returned as TransportErrors.
func Do(ctx context.Context, p Policy, name string, op func(context.Context) error) error {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxTries == nil {
		p.MaxTries = DefaultMaxTries()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tries := 0
	var lastCode codes.Code
	operation := func() error {
		tries++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastCode = Code(err)
		limit, retryable := p.MaxTries[lastCode]
		if !retryable {
			return backoff.Permanent(err)
		}
		if tries >= limit {
			return backoff.Permanent(apperrors.Wrapf(err, apperrors.ErrCodeTransport,
				"%s failed after %d tries (%s)", name, tries, lastCode))
		}
		return err
	}

	bo := &doubling{base: p.BaseDelay}
	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "transport call failed, retrying",
			"operation", name, "code", lastCode.String(), "try", tries, "wait", wait, "error", err)
	}

	if p.Sleep == nil {
		return backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
	}

	// Deterministic path for tests.
	for {
		err := operation()
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		wait := bo.NextBackOff()
		notify(err, wait)
		if sleepErr := p.Sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}
}

// doubling is a backoff.BackOff yielding base, 2*base, 4*base, ... without jitter.
type doubling struct {
	base time.Duration
	n    int
}

func (d *doubling) NextBackOff() time.Duration {
	wait := d.base << d.n
	d.n++
	return wait
}

func (d *doubling) Reset() { d.n = 0 }

// Code extracts a gRPC status code from err. Errors that already carry a status keep it;
// network failures map to Unavailable and timeouts to DeadlineExceeded. Anything else is an
// application error such as an oversized payload or a wrong Redis type, and maps to Internal.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return codes.DeadlineExceeded
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return codes.Unavailable
	}
	return codes.Internal
}

// Errorf builds a status error, for adapters reporting transport failures.
func Errorf(c codes.Code, format string, args ...any) error {
	return status.Error(c, fmt.Sprintf(format, args...))
}
