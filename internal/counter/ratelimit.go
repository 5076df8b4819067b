package counter

import (
	"context"
	"sync"
	"time"
)

// limiter is a sliding-window rate limiter shared by all remote calls in
// the process. The window budget is a global per-app allowance shared
// with the desktop script, so saturated callers wait rather than error:
// this intentionally serializes API traffic under load.
type limiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	stamps []time.Time
	now    func() time.Time
}

func newLimiter(window time.Duration, max int, now func() time.Time) *limiter {
	return &limiter{window: window, max: max, now: now}
}

// wait blocks until a request slot is available or ctx is done. The
// mutex is released while sleeping.
func (l *limiter) wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()

		// Drop timestamps that have left the window.
		cut := 0
		for cut < len(l.stamps) && now.Sub(l.stamps[cut]) >= l.window {
			cut++
		}
		l.stamps = l.stamps[cut:]

		if len(l.stamps) < l.max {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		sleep := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
