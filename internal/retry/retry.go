// Package retry re-runs failing operations a bounded number of times with a fixed delay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default policy values.
const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Policy bounds a retried operation.
type Policy struct {
	Attempts int
	Delay    time.Duration

	// wait suspends between attempts; nil uses a context-aware timer.
	wait func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns three attempts one second apart.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// WithWait returns a copy of p that suspends with fn. Used by tests to avoid real sleeps.
func (p Policy) WithWait(fn func(ctx context.Context, d time.Duration) error) Policy {
	p.wait = fn
	return p
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds or the policy is exhausted, and returns the last failure.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.wait
	if wait == nil {
		wait = sleep
	}

	var zero T
	var lastErr error
	for i := 1; i <= attempts; i++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if i == attempts {
			break
		}
		slog.Debug("retry.Do: attempt failed", "attempt", i, "max_attempts", attempts, "error", err)
		if werr := wait(ctx, p.Delay); werr != nil {
			return zero, errors.Join(werr, lastErr)
		}
	}
	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
