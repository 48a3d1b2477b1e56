package limits

import (
	"context"
	"fmt"
	"time"
)

// Counter is the subset of the Cache contract (spec.md §6) the window
// limiter needs: an atomic increment with first-write-sets-ttl semantics.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// WindowCounterLimiter is the per-user minute-window limiter backed by the
// Cache, per spec.md §4.3. It fails open on Cache unavailability — a cache
// outage must not amplify into a total edit outage.
type WindowCounterLimiter struct {
	counter Counter
	max     int64
	window  time.Duration
}

// NewWindowCounterLimiter builds the minute-window limiter.
func NewWindowCounterLimiter(counter Counter, max int64, window time.Duration) *WindowCounterLimiter {
	return &WindowCounterLimiter{counter: counter, max: max, window: window}
}

// Check increments the counter for (user, current window) and admits iff
// the post-increment value is within max. A nil counter (no Cache
// configured) or an Incr error both fail open.
func (l *WindowCounterLimiter) Check(ctx context.Context, user string) bool {
	if l.counter == nil {
		return true
	}
	key := windowKey(user, time.Now(), l.window)
	n, err := l.counter.Incr(ctx, key, l.window)
	if err != nil {
		return true
	}
	return n <= l.max
}

func windowKey(user string, now time.Time, window time.Duration) string {
	bucket := now.Unix() / int64(window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%d", user, bucket)
}
