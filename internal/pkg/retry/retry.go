// Package retry implements a small declarative bounded-retry policy.
package retry

import (
	"context"
	"time"
)

// Policy describes how often and under which conditions an operation is
// re-attempted. The zero value runs the operation exactly once.
type Policy struct {
	// Attempts is the total attempt budget, including the first try.
	Attempts int
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
	// Retryable decides whether an error is worth another attempt.
	// nil means every error is retryable.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, the attempt budget is spent, a non-retryable
// error occurs, or ctx is done. Cancellation during a backoff wait returns
// ctx.Err() immediately.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Backoff > 0 {
			t := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		if last = fn(ctx); last == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(last) {
			return last
		}
	}
	return last
}
