// Package apply implements the Applier, spec.md §4.6: the sole mutator of
// the Canvas, running single-threaded with respect to it so the large byte
// buffer never needs a lock of its own.
package apply

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/madkind/pixelboard/internal/audit"
	"github.com/madkind/pixelboard/internal/cache"
	"github.com/madkind/pixelboard/internal/canvas"
	"github.com/madkind/pixelboard/internal/locks"
	"github.com/madkind/pixelboard/internal/metrics"
	"github.com/madkind/pixelboard/internal/monitoring"
	"github.com/madkind/pixelboard/internal/storage"
	"github.com/madkind/pixelboard/internal/wire"
)

// maxPersistRetries bounds the requeue-on-persist-failure loop of
// spec.md §4.6 ("retry up to a small count (e.g., 3)").
const maxPersistRetries = 3

// Requeuer accepts edits back onto the head of the pending buffer, used to
// retry a batch whose Persistence write failed.
type Requeuer interface {
	Requeue(edits []canvas.PixelEdit)
}

// Publisher is the minimal broadcast surface the Applier needs: a shared
// fan-out and a single-subscriber reject route.
type Publisher interface {
	Publish(data []byte)
	PublishTo(id uint64, data []byte)
}

// Relay optionally republishes an applied batch to sibling server
// processes (SPEC_FULL.md §11.1's ClusterRelay). A nil Relay is a no-op.
type Relay interface {
	PublishApplied(hash string, pixels []wire.BulkPixel)
}

// Applier owns the in-memory Canvas and is the only component that may
// mutate it, per spec.md §5.
type Applier struct {
	log zerolog.Logger

	width, height int
	emptyFill     canvas.EmptyColor
	canvasTTL     time.Duration

	cache   cache.Cache
	store   storage.Store
	locks   *locks.Index
	pub     Publisher
	relay   Relay
	alerter monitoring.Alerter
	metrics *metrics.Metrics

	// canvasMu protects reads of the live Canvas from outside the flush
	// loop (HTTP snapshot handlers); the flush loop itself is already
	// serialized by virtue of being the sole caller of Apply.
	canvasMu sync.RWMutex
	live     *canvas.Canvas
	loaded   bool
}

// New builds an Applier. The canvas is lazily loaded on the first Apply
// or Snapshot call, per spec.md §4.6 step 1.
func New(log zerolog.Logger, width, height int, emptyFill canvas.EmptyColor, canvasTTL time.Duration, c cache.Cache, store storage.Store, idx *locks.Index, pub Publisher, relay Relay, alerter monitoring.Alerter, m *metrics.Metrics) *Applier {
	return &Applier{
		log:       log,
		width:     width,
		height:    height,
		emptyFill: emptyFill,
		canvasTTL: canvasTTL,
		cache:     c,
		store:     store,
		locks:     idx,
		pub:       pub,
		relay:     relay,
		alerter:   alerter,
		metrics:   m,
	}
}

// ensureLoaded implements spec.md §4.6 step 1: Cache, then Persistence,
// then a fresh canvas filled with the configured empty color, in that order.
func (a *Applier) ensureLoaded(ctx context.Context) {
	if a.loaded {
		return
	}
	if rec, ok := a.cache.GetCanvas(ctx); ok {
		if cv, err := canvas.FromBytes(a.width, a.height, rec.Bitmap, rec.Hash, rec.LastUpdated); err == nil {
			a.live = cv
			a.loaded = true
			return
		}
		a.log.Warn().Msg("cached canvas failed hash verification, falling back to persistence")
	}

	rec, err := a.store.LoadCanvas(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("persistence read failure loading canvas, treating as empty")
	} else if rec != nil {
		if cv, err := canvas.FromBytes(a.width, a.height, rec.Bitmap, rec.Hash, rec.LastUpdated); err == nil {
			a.live = cv
			a.loaded = true
			return
		}
		a.log.Error().Msg("persisted canvas failed hash verification, treating as empty")
	}

	a.live = canvas.New(a.width, a.height, a.emptyFill)
	a.loaded = true
}

// Apply implements spec.md §4.6 in full: load, filter & apply, hash,
// persist, broadcast, with rollback-and-retry on persistence failure. It
// takes a Requeuer in addition to batch.FlushFunc's arguments, so Lifecycle
// wraps it in a FlushFunc closure that passes the Batcher as requeue.
func (a *Applier) Apply(ctx context.Context, requeue Requeuer, edits []canvas.PixelEdit) {
	a.canvasMu.Lock()
	defer a.canvasMu.Unlock()

	a.ensureLoaded(ctx)

	preSnapshot := append([]byte{}, a.live.Bitmap...)

	applied := make([]canvas.PixelEdit, 0, len(edits))
	appliedColors := make([]canvas.RGB, 0, len(edits))
	var auditEntries []audit.Entry

	for _, e := range edits {
		if locked, err := a.locks.Check(ctx, e.X, e.Y); err != nil {
			a.log.Error().Err(err).Msg("lock check failed during apply, treating as unlocked")
			if a.metrics != nil {
				a.metrics.LockChecks.WithLabelValues("error").Inc()
			}
		} else if locked {
			if a.metrics != nil {
				a.metrics.LockChecks.WithLabelValues("locked").Inc()
			}
			a.rejectEdit(e, "Position locked")
			continue
		} else if a.metrics != nil {
			a.metrics.LockChecks.WithLabelValues("unlocked").Inc()
		}

		rgb, err := canvas.ParseHexColor(e.Color)
		if err != nil {
			// Structural validation already happened at ingress; a
			// failure here means corrupted in-memory state, not user
			// error. Drop defensively rather than panic the flush loop.
			a.log.Error().Err(err).Int("x", e.X).Int("y", e.Y).Msg("unexpected invalid color at apply time")
			continue
		}
		if e.Tool == canvas.ToolEraser {
			rgb = canvas.EraserRGB
		}
		a.live.Set(e.X, e.Y, rgb)

		applied = append(applied, e)
		appliedColors = append(appliedColors, rgb)
		auditEntries = append(auditEntries, audit.NewPixelApplied(time.Now().UTC(), e.UserID, e.IP, e.X, e.Y, rgb.String(), string(e.Tool)))
	}

	if len(applied) == 0 {
		return
	}

	a.live.Rehash()
	now := time.Now().UTC()
	a.live.LastUpdated = now

	if err := a.store.SaveCanvas(ctx, a.live.Bitmap, a.live.Hash, now); err != nil {
		a.log.Error().Err(err).Msg("persistence write failure, rolling back batch")
		a.live.Bitmap = preSnapshot
		a.live.Rehash()
		a.retryOrDrop(applied, requeue)
		return
	}

	if err := a.store.AppendAudit(ctx, auditEntries...); err != nil {
		a.log.Error().Err(err).Msg("audit append failure (canvas write already committed)")
	}

	a.cache.SetCanvas(ctx, &storage.CanvasRecord{Bitmap: a.live.Bitmap, Hash: a.live.Hash, LastUpdated: now}, a.canvasTTL)

	pixels := make([]wire.BulkPixel, len(applied))
	for i, e := range applied {
		pixels[i] = wire.BulkPixel{X: e.X, Y: e.Y, Color: appliedColors[i].String()}
	}
	frame := wire.NewPixelBulkUpdate(pixels, a.live.Hash, now)
	data, err := wire.MarshalFrame(frame)
	if err != nil {
		a.log.Error().Err(err).Msg("failed to marshal bulk update frame")
		return
	}
	a.pub.Publish(data)

	if a.relay != nil {
		a.relay.PublishApplied(a.live.Hash, pixels)
	}
}

// retryOrDrop requeues each edit up to maxPersistRetries times; beyond
// that it is rejected to its originating subscriber, per spec.md §4.6.
func (a *Applier) retryOrDrop(edits []canvas.PixelEdit, requeue Requeuer) {
	var retryable []canvas.PixelEdit
	for _, e := range edits {
		if e.Retries >= maxPersistRetries {
			a.rejectEdit(e, "persist_failed")
			if a.alerter != nil {
				a.alerter.Alert(monitoring.Event{
					Level:  monitoring.Error,
					Reason: "persistence retries exhausted for edit",
					X:      e.X,
					Y:      e.Y,
					HasXY:  true,
					UserID: e.UserID,
				})
			}
			continue
		}
		e.Retries++
		retryable = append(retryable, e)
	}
	if len(retryable) > 0 {
		requeue.Requeue(retryable)
	}
}

// rejectEdit routes a pixel:reject to the originating subscriber, if one
// is tracked; otherwise it is silently dropped per spec.md §4.6.
func (a *Applier) rejectEdit(e canvas.PixelEdit, reason string) {
	x, y := e.X, e.Y
	frame := wire.NewPixelReject(reason, time.Now().UTC(), &x, &y)
	data, err := wire.MarshalFrame(frame)
	if err != nil {
		return
	}
	a.pub.PublishTo(e.SubscriberID, data)
}

// Snapshot returns a safe copy of the live canvas for HTTP readers,
// loading it first if no flush has happened yet in this process.
func (a *Applier) Snapshot(ctx context.Context) *canvas.Canvas {
	a.canvasMu.Lock()
	a.ensureLoaded(ctx)
	snap := a.live.Snapshot()
	a.canvasMu.Unlock()
	return snap
}
