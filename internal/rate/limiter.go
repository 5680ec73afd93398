package rate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bisheshkhanal/ragebaiter/internal/metrics"
)

const window = time.Second

// Limiter caps requests to max per trailing one-second window. It keeps the
// timestamps of admitted requests younger than the window; a caller that
// would exceed the cap sleeps until the oldest timestamp ages out and then
// checks again. One Limiter is meant to be shared by every outbound caller.
type Limiter struct {
	mu      sync.Mutex
	max     int
	stamps  []time.Time
	clock   clockwork.Clock
	metrics *metrics.Metrics
}

// NewLimiter returns a limiter admitting max requests per second. max <= 0
// disables limiting. A nil clock means the real clock.
func NewLimiter(max int, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{max: max, clock: clock}
}

func (l *Limiter) WithMetrics(m *metrics.Metrics) *Limiter {
	l.metrics = m
	return l
}

// Acquire blocks until one more request fits in the window, then records it.
// If ctx ends first nothing is recorded and ctx.Err() is returned.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.max <= 0 {
		return nil
	}

	start := l.clock.Now()
	for {
		wait, ok := l.tryAcquire()
		if ok {
			l.metrics.RateLimited(l.clock.Since(start))
			l.metrics.SetRateWindow(l.Pending())
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)

	if len(l.stamps) < l.max {
		l.stamps = append(l.stamps, now)
		return 0, true
	}

	return l.stamps[0].Add(window).Sub(now), false
}

func (l *Limiter) prune(now time.Time) {
	keep := 0
	for keep < len(l.stamps) && now.Sub(l.stamps[keep]) >= window {
		keep++
	}
	if keep > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[keep:]...)
	}
}

// Pending reports how many admitted requests are still inside the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	return len(l.stamps)
}
