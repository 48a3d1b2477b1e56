package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/madkind/pixelboard/internal/audit"
	"github.com/madkind/pixelboard/internal/locks"
)

var (
	bucketCanvas = []byte("canvas")
	bucketAudit  = []byte("audit")
	bucketLocks  = []byte("locks")
)

const (
	keyBitmap      = "bitmap"
	keyHash        = "hash"
	keyLastUpdated = "last_updated"
)

// BoltStore is the bbolt-backed Persistence implementation.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) the bbolt database at path and
// ensures its top-level buckets exist.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt database at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCanvas, bucketAudit, bucketLocks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// LoadCanvas returns the persisted canvas triple, or (nil, nil) if none has
// ever been saved — spec.md §4.6 treats that as "miss, construct zero-init".
func (s *BoltStore) LoadCanvas(ctx context.Context) (*CanvasRecord, error) {
	var rec *CanvasRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCanvas)
		bitmap := b.Get([]byte(keyBitmap))
		if bitmap == nil {
			return nil
		}
		hash := string(b.Get([]byte(keyHash)))
		var lastUpdated time.Time
		if raw := b.Get([]byte(keyLastUpdated)); raw != nil {
			_ = lastUpdated.UnmarshalBinary(raw)
		}
		cp := make([]byte, len(bitmap))
		copy(cp, bitmap)
		rec = &CanvasRecord{Bitmap: cp, Hash: hash, LastUpdated: lastUpdated}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load canvas: %w", err)
	}
	return rec, nil
}

// SaveCanvas persists the (bitmap, hash, now) triple, overwriting any
// previous value. bbolt's single-writer transaction gives us an
// at-least-once durable write, per the Persistence contract.
func (s *BoltStore) SaveCanvas(ctx context.Context, bitmap []byte, hash string, now time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCanvas)
		if err := b.Put([]byte(keyBitmap), bitmap); err != nil {
			return err
		}
		if err := b.Put([]byte(keyHash), []byte(hash)); err != nil {
			return err
		}
		stamp, err := now.UTC().MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put([]byte(keyLastUpdated), stamp)
	})
	if err != nil {
		return fmt.Errorf("save canvas: %w", err)
	}
	return nil
}

// AppendAudit writes one audit entry per batch member under a
// lexicographically increasing key (timestamp nanos + id), so a bucket
// scan naturally yields chronological order.
func (s *BoltStore) AppendAudit(ctx context.Context, entries ...audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		for _, e := range entries {
			key := fmt.Sprintf("%020d-%s", e.Timestamp.UnixNano(), e.ID)
			val, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal audit entry: %w", err)
			}
			if err := b.Put([]byte(key), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns up to limit audit entries in reverse-chronological
// order by walking the audit bucket's cursor backwards from its tail,
// since AppendAudit's key format sorts lexically in timestamp order.
func (s *BoltStore) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []audit.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e audit.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal audit entry %s: %w", k, err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return out, nil
}

// ListLocks returns every stored region lock.
func (s *BoltStore) ListLocks(ctx context.Context) ([]locks.Lock, error) {
	var out []locks.Lock
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		return b.ForEach(func(k, v []byte) error {
			var l locks.Lock
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("unmarshal lock %s: %w", k, err)
			}
			out = append(out, l)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	return out, nil
}

// PutLock creates or replaces a lock keyed by its rectangle identity.
func (s *BoltStore) PutLock(ctx context.Context, l locks.Lock) error {
	val, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).Put([]byte(l.Key()), val)
	})
	if err != nil {
		return fmt.Errorf("put lock: %w", err)
	}
	return nil
}

// DeleteLock removes a lock by its rectangle identity. Deleting an absent
// key is a no-op, matching bbolt semantics.
func (s *BoltStore) DeleteLock(ctx context.Context, x1, y1, x2, y2 int) error {
	key := locks.Lock{X1: x1, Y1: y1, X2: x2, Y2: y2}.Key()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
