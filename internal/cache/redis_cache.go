package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/madkind/pixelboard/internal/locks"
	"github.com/madkind/pixelboard/internal/storage"
)

const (
	keyCanvas = "pixelboard:canvas"
	keyLocks  = "pixelboard:locks"
)

// RedisCache is the Redis-backed Cache implementation.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr/db with an optional password.
func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Ping verifies connectivity at startup.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

type canvasEnvelope struct {
	Bitmap      []byte    `json:"bitmap"`
	Hash        string    `json:"hash"`
	LastUpdated time.Time `json:"last_updated"`
}

// GetCanvas reads the cached canvas snapshot, if present and unexpired.
func (c *RedisCache) GetCanvas(ctx context.Context) (*storage.CanvasRecord, bool) {
	raw, err := c.client.Get(ctx, keyCanvas).Bytes()
	if err != nil {
		return nil, false
	}
	var env canvasEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	return &storage.CanvasRecord{Bitmap: env.Bitmap, Hash: env.Hash, LastUpdated: env.LastUpdated}, true
}

// SetCanvas writes the canvas snapshot with the given freshness TTL.
func (c *RedisCache) SetCanvas(ctx context.Context, rec *storage.CanvasRecord, ttl time.Duration) {
	env := canvasEnvelope{Bitmap: rec.Bitmap, Hash: rec.Hash, LastUpdated: rec.LastUpdated}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.client.Set(ctx, keyCanvas, raw, ttl)
}

// GetLocks reads the cached lock list, if present and unexpired.
func (c *RedisCache) GetLocks(ctx context.Context) ([]locks.Lock, bool) {
	raw, err := c.client.Get(ctx, keyLocks).Bytes()
	if err != nil {
		return nil, false
	}
	var list []locks.Lock
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	return list, true
}

// SetLocks writes the lock list with the given freshness TTL.
func (c *RedisCache) SetLocks(ctx context.Context, list []locks.Lock, ttl time.Duration) {
	raw, err := json.Marshal(list)
	if err != nil {
		return
	}
	c.client.Set(ctx, keyLocks, raw, ttl)
}

// InvalidateLocks drops the cached lock list so the next read falls
// through to Persistence.
func (c *RedisCache) InvalidateLocks(ctx context.Context) {
	c.client.Del(ctx, keyLocks)
}

// Incr implements first-write-sets-ttl windowed counting: INCR the key,
// and on the first write (result == 1) set its expiry.
func (c *RedisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		c.client.Expire(ctx, key, ttl)
	}
	return n, nil
}
