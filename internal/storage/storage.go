// Package storage implements the Persistence contract of spec.md §6: a
// durable key-value store for the canvas blob, the audit journal, and
// region locks. The concrete backend is an embedded go.etcd.io/bbolt
// database, grounded on the dependency usage found elsewhere in the
// retrieved pack (see DESIGN.md).
package storage

import (
	"context"
	"time"

	"github.com/madkind/pixelboard/internal/audit"
	"github.com/madkind/pixelboard/internal/locks"
)

// CanvasRecord is the persisted (bitmap, hash, instant) triple spec.md
// §6's load_canvas/save_canvas contract operates on.
type CanvasRecord struct {
	Bitmap      []byte
	Hash        string
	LastUpdated time.Time
}

// Store is the full Persistence contract consumed by the core: canvas
// load/save, audit append, and lock CRUD.
type Store interface {
	LoadCanvas(ctx context.Context) (*CanvasRecord, error)
	SaveCanvas(ctx context.Context, bitmap []byte, hash string, now time.Time) error
	AppendAudit(ctx context.Context, entries ...audit.Entry) error
	// ListAudit returns up to limit audit entries, most recent first,
	// backing GET /audit (SPEC_FULL.md §12).
	ListAudit(ctx context.Context, limit int) ([]audit.Entry, error)

	locks.Store

	// Close releases the underlying database handle.
	Close() error
}
