// Package retry runs oracle calls under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when every attempt failed with a transient error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds the number and spacing of attempts.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter is the randomization factor in [0, 1).
	Jitter float64
}

// DefaultPolicy returns 3 attempts starting at 1s with a x3 multiplier.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   3,
		MaxDelay:     30 * time.Second,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.RandomizationFactor = p.Jitter
	return b
}

type options struct {
	classify       func(error) bool
	notify         func(attempt int, err error, wait time.Duration)
	attemptTimeout time.Duration
}

// Option customizes a Do call.
type Option func(*options)

// WithClassifier replaces IsTransient as the retry decision.
func WithClassifier(fn func(error) bool) Option {
	return func(o *options) { o.classify = fn }
}

// WithNotify is called before each wait with the failed attempt number.
func WithNotify(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(o *options) { o.notify = fn }
}

// WithAttemptTimeout bounds each attempt. An attempt that hits this deadline
// is retried.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *options) { o.attemptTimeout = d }
}

// Do runs op until it succeeds, fails with a non-transient error, the policy
// is exhausted, or ctx is done. Cancellation of ctx returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{classify: IsTransient}
	for _, opt := range opts {
		opt(&o)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var zero T
	attempt := 0
	permanent := false

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if o.attemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, o.attemptTimeout)
		}
		v, err := op(actx)
		attemptExpired := actx.Err() != nil
		cancel()

		switch {
		case err == nil:
			return v, nil
		case ctx.Err() != nil:
			permanent = true
			return v, backoff.Permanent(ctx.Err())
		case attemptExpired && errors.Is(err, context.DeadlineExceeded):
			return v, err
		case !o.classify(err):
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if o.notify != nil {
				o.notify(attempt, err, wait)
			}
		}),
	)
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if permanent {
		return zero, err
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// StatusError attaches an HTTP status to an error.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatus implements StatusCoder.
func (e *StatusError) HTTPStatus() int { return e.Code }

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsTransient classifies an error as retryable: throttling and server
// statuses, network timeouts, truncated responses and deadline expiry.
// Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return TransientStatus(sc.HTTPStatus())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}
