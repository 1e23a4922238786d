// Package ratelimit paces outbound exchange requests with a per-second
// floor and a per-minute sliding counter, as required by a venue's REST
// rate limits.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/autovant/perp-paper-core/internal/alert"
)

// Limiter gates callers until both the per-second and per-minute
// constraints are satisfied. It is safe for concurrent use.
type Limiter struct {
	perSecond *rate.Limiter

	mu           sync.Mutex
	perMinuteCap int
	window       []time.Time

	sink alert.Sink
	now  func() time.Time
}

// New builds a Limiter enforcing requestsPerSecond (minimum spacing
// 1/rps between consecutive calls) and requestsPerMinute (a rolling
// 60s window count). A requestsPerSecond or requestsPerMinute of 0
// disables that constraint.
func New(requestsPerSecond, requestsPerMinute int, sink alert.Sink) *Limiter {
	var perSecond *rate.Limiter
	if requestsPerSecond > 0 {
		perSecond = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	if sink == nil {
		sink = alert.LogSink{}
	}
	return &Limiter{
		perSecond:    perSecond,
		perMinuteCap: requestsPerMinute,
		sink:         sink,
		now:          time.Now,
	}
}

// Acquire blocks the caller until both constraints are satisfied. Every
// sleep it imposes is reported via the alert sink as SAFETY_RATE_LIMIT.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := l.now()
	waited := false

	if l.perSecond != nil && !l.perSecond.Allow() {
		waited = true
		if err := l.perSecond.Wait(ctx); err != nil {
			return err
		}
	}

	if l.perMinuteCap > 0 {
		waitedMinute, err := l.waitForMinuteSlot(ctx)
		if err != nil {
			return err
		}
		waited = waited || waitedMinute
	}

	if waited {
		slept := l.now().Sub(start)
		l.sink.Emit(alert.CategoryRateLimit, "rate limiter slept before request", map[string]any{
			"slept_ms": slept.Milliseconds(),
		})
	}
	return nil
}

func (l *Limiter) waitForMinuteSlot(ctx context.Context) (bool, error) {
	waited := false
	for {
		l.mu.Lock()
		now := l.now()
		cutoff := now.Add(-time.Minute)
		kept := l.window[:0]
		for _, t := range l.window {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		l.window = kept

		if len(l.window) < l.perMinuteCap {
			l.window = append(l.window, now)
			l.mu.Unlock()
			return waited, nil
		}

		oldest := l.window[0]
		wait := oldest.Add(time.Minute).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		waited = true
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
		}
	}
}
