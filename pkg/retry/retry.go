// Package retry implements the exponential-backoff envelope wrapped
// around transient-failure-prone persistence calls: up to MaxTries
// attempts, doubling the delay each time between a base and a cap.
package retry

import (
	"context"
	"time"
)

// Policy is a retry envelope's tunables.
type Policy struct {
	MaxTries  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Retryable is implemented by errors that should be retried. Anything
// else propagates immediately and fails the round.
type Retryable interface {
	Retryable() bool
}

// Do calls fn up to p.MaxTries times. It stops retrying as soon as fn
// returns a nil error, or an error that does not implement Retryable, or
// one whose Retryable() is false. Between attempts it sleeps for a delay
// that doubles from BaseDelay up to MaxDelay. onRetry, if non-nil, is
// invoked before each sleep with the attempt number (1-based) and the
// error that triggered it.
func Do(ctx context.Context, p Policy, onRetry func(attempt int, err error), fn func() error) error {
	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxTries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		r, ok := lastErr.(Retryable)
		if !ok || !r.Retryable() {
			return lastErr
		}

		if attempt == p.MaxTries {
			break
		}

		if onRetry != nil {
			onRetry(attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}
