package limits

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionRateLimiter guards WebSocket upgrade admission per source IP,
// grounded on the teacher's internal/shared/limits/connection_rate_limiter.go.
// This is not named in spec.md's C1-C10 but is ambient ingress hygiene the
// teacher always carries; SPEC_FULL.md §11 adopts it explicitly.
type ConnectionRateLimiter struct {
	burst int
	rate  rate.Limit
	ttl   time.Duration

	mu       sync.Mutex
	limiters map[string]*ipEntry
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionRateLimiter builds a per-IP token-bucket connection limiter.
func NewConnectionRateLimiter(burst int, perSecond float64, ttl time.Duration) *ConnectionRateLimiter {
	return &ConnectionRateLimiter{
		burst:    burst,
		rate:     rate.Limit(perSecond),
		ttl:      ttl,
		limiters: make(map[string]*ipEntry),
	}
}

// Allow reports whether ip may open a new connection now.
func (c *ConnectionRateLimiter) Allow(ip string) bool {
	now := time.Now()
	c.mu.Lock()
	entry, ok := c.limiters[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(c.rate, c.burst)}
		c.limiters[ip] = entry
	}
	entry.lastSeen = now
	c.mu.Unlock()

	return entry.limiter.Allow()
}

// Sweep drops per-IP limiter state untouched for longer than ttl, bounding
// memory growth from a long-lived process seeing many transient clients.
func (c *ConnectionRateLimiter) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for ip, entry := range c.limiters {
		if now.Sub(entry.lastSeen) > c.ttl {
			delete(c.limiters, ip)
			removed++
		}
	}
	return removed
}
