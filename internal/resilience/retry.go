// Package resilience provides a retry wrapper usable by any fallible call.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrAttemptTimeout marks an attempt that ran past its own deadline while the
// caller's context was still live.
var ErrAttemptTimeout = errors.New("attempt timed out")

// RetryPolicy configures attempts, backoff and per-attempt timeout.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration
	// Multiplier grows the wait after each failed attempt.
	Multiplier float64
	// Jitter randomizes each wait by +/- this fraction (0.0 to 1.0).
	Jitter float64
	// AttemptTimeout bounds a single attempt. Zero means no bound.
	AttemptTimeout time.Duration
	// RetryIf decides whether a failed attempt is worth repeating.
	RetryIf func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryPolicy returns exponential backoff with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		AttemptTimeout: 60 * time.Second,
		RetryIf:        DefaultRetryIf,
	}
}

// DefaultRetryIf retries everything except caller cancellation.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.RetryIf == nil {
		p.RetryIf = DefaultRetryIf
	}
	return p
}

// Do runs fn until it succeeds, fails with an error RetryIf rejects, or the
// attempts run out. It returns the number of attempts made. Cancelling ctx
// aborts the in-flight attempt and skips any remaining ones.
func Do[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	p := policy.withDefaults()

	schedule := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxBackoff,
	}
	schedule.Reset()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		result, err := runAttempt(ctx, p.AttemptTimeout, attempt, fn)
		if err == nil {
			return result, attempt, nil
		}
		if ctx.Err() != nil {
			return zero, attempt, err
		}
		if attempt >= p.MaxAttempts || !p.RetryIf(err) {
			return zero, attempt, err
		}

		wait := schedule.NextBackOff()
		if wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, attempt int, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(attemptCtx, attempt)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, timeout, err)
	}
	return result, err
}
