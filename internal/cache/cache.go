// Package cache implements the Cache contract of spec.md §6: a hot copy of
// canvas state and the lock list, plus windowed-limiter counters. The
// concrete backend is Redis (github.com/redis/go-redis/v9), grounded on the
// INCR+EXPIRE pattern used elsewhere in the retrieved pack.
package cache

import (
	"context"
	"time"

	"github.com/madkind/pixelboard/internal/locks"
	"github.com/madkind/pixelboard/internal/storage"
)

// Cache is the full contract consumed by the core: canvas get/set,
// lock-list get/set/invalidate, and the counter increment the window
// limiter uses.
type Cache interface {
	GetCanvas(ctx context.Context) (*storage.CanvasRecord, bool)
	SetCanvas(ctx context.Context, rec *storage.CanvasRecord, ttl time.Duration)

	locks.ListCache

	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// NopCache is a Cache that always misses and fails the counter open. It is
// the wiring used when PX_REDIS_ADDR is unset, matching spec.md §4.3's
// "Cache unavailable -> fail open" contract without a live Redis.
type NopCache struct{}

func (NopCache) GetCanvas(ctx context.Context) (*storage.CanvasRecord, bool) { return nil, false }
func (NopCache) SetCanvas(ctx context.Context, rec *storage.CanvasRecord, ttl time.Duration) {}
func (NopCache) GetLocks(ctx context.Context) ([]locks.Lock, bool)           { return nil, false }
func (NopCache) SetLocks(ctx context.Context, l []locks.Lock, ttl time.Duration) {}
func (NopCache) InvalidateLocks(ctx context.Context)                          {}
func (NopCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errCacheDisabled
}

var errCacheDisabled = cacheDisabledError{}

type cacheDisabledError struct{}

func (cacheDisabledError) Error() string { return "cache disabled" }
