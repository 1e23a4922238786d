package exchange

import (
	"context"
	"time"
)

// Backoff is the retry schedule for transient exchange/bus failures:
// 15s per-call timeout, up to 3 retries with 1s/2s/4s exponential
// backoff, per spec.md §5.
var Backoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

const CallTimeout = 15 * time.Second

// WithRetry runs fn up to len(Backoff)+1 times, applying CallTimeout to
// each attempt via the returned context and sleeping the backoff
// schedule between attempts. It returns the last error if every attempt
// fails.
func WithRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= len(Backoff); attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == len(Backoff) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff[attempt]):
		}
	}
	return lastErr
}
