// Package locks implements the region-lock moderation feature: axis-aligned
// rectangles within which edits are refused, backed by the Cache with
// Persistence fallback per spec.md §4.4.
package locks

import (
	"context"
	"fmt"
	"time"
)

// Lock is an axis-aligned rectangle ban; identity is the (X1,Y1,X2,Y2)
// tuple per spec.md §3 RegionLock.
type Lock struct {
	X1, Y1, X2, Y2 int
	LockedBy       string
	Reason         string
	CreatedAt      time.Time
}

// Key returns the identity tuple as a comparable string, used for
// create/remove and de-duplication.
func (l Lock) Key() string {
	return fmt.Sprintf("%d,%d,%d,%d", l.X1, l.Y1, l.X2, l.Y2)
}

// Validate checks that the rectangle is well-formed.
func (l Lock) Validate() error {
	if l.X1 > l.X2 || l.Y1 > l.Y2 {
		return fmt.Errorf("invalid lock rectangle (%d,%d)-(%d,%d): x1<=x2 and y1<=y2 required", l.X1, l.Y1, l.X2, l.Y2)
	}
	return nil
}

// Contains reports whether (x,y) falls inside the rectangle, inclusive.
func (l Lock) Contains(x, y int) bool {
	return x >= l.X1 && x <= l.X2 && y >= l.Y1 && y <= l.Y2
}

// ListCache is the subset of the Cache contract (spec.md §6) the Index
// needs: a get/set of the whole lock list with a freshness TTL.
type ListCache interface {
	GetLocks(ctx context.Context) ([]Lock, bool)
	SetLocks(ctx context.Context, locks []Lock, ttl time.Duration)
	InvalidateLocks(ctx context.Context)
}

// Store is the subset of Persistence (spec.md §6) the Index falls back to
// on a cache miss and writes through to on mutation.
type Store interface {
	ListLocks(ctx context.Context) ([]Lock, error)
	PutLock(ctx context.Context, l Lock) error
	DeleteLock(ctx context.Context, x1, y1, x2, y2 int) error
}

// Index answers "is (x,y) inside any active lock?" by linear scan over a
// cached list, per spec.md §4.4 — the active-lock count is expected to stay
// small (<10^3), so a point-in-rectangle index is unnecessary.
type Index struct {
	cache ListCache
	store Store
	ttl   time.Duration
}

// New builds a LockIndex over the given cache and durable store.
func New(cache ListCache, store Store, ttl time.Duration) *Index {
	return &Index{cache: cache, store: store, ttl: ttl}
}

// list returns the current lock set, consulting the cache first and
// falling back to Persistence on miss, repopulating the cache afterward.
func (idx *Index) list(ctx context.Context) ([]Lock, error) {
	if locks, ok := idx.cache.GetLocks(ctx); ok {
		return locks, nil
	}
	locks, err := idx.store.ListLocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locks from persistence: %w", err)
	}
	idx.cache.SetLocks(ctx, locks, idx.ttl)
	return locks, nil
}

// Check reports whether (x,y) is covered by an active lock. On a
// Persistence failure it returns the error and leaves the disposition to
// the caller; both callers (the ingress check and the Applier's re-check
// at apply time) treat an error as unlocked.
func (idx *Index) Check(ctx context.Context, x, y int) (bool, error) {
	locks, err := idx.list(ctx)
	if err != nil {
		return false, err
	}
	for _, l := range locks {
		if l.Contains(x, y) {
			return true, nil
		}
	}
	return false, nil
}

// Put adds or replaces a lock and invalidates the cached list.
func (idx *Index) Put(ctx context.Context, l Lock) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if err := idx.store.PutLock(ctx, l); err != nil {
		return fmt.Errorf("put lock: %w", err)
	}
	idx.cache.InvalidateLocks(ctx)
	return nil
}

// Delete removes a lock by identity and invalidates the cached list.
func (idx *Index) Delete(ctx context.Context, x1, y1, x2, y2 int) error {
	if err := idx.store.DeleteLock(ctx, x1, y1, x2, y2); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	idx.cache.InvalidateLocks(ctx)
	return nil
}

// List returns the current active locks, for the HTTP CRUD surface.
func (idx *Index) List(ctx context.Context) ([]Lock, error) {
	return idx.list(ctx)
}
