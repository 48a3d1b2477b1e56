package apply

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madkind/pixelboard/internal/audit"
	"github.com/madkind/pixelboard/internal/canvas"
	"github.com/madkind/pixelboard/internal/locks"
	"github.com/madkind/pixelboard/internal/metrics"
	"github.com/madkind/pixelboard/internal/storage"
)

// fakeStore is an in-memory stand-in for storage.Store.
type fakeStore struct {
	mu          sync.Mutex
	canvas      *storage.CanvasRecord
	audits      []audit.Entry
	locks       map[string]locks.Lock
	failNextSave bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{locks: make(map[string]locks.Lock)}
}

func (s *fakeStore) LoadCanvas(ctx context.Context) (*storage.CanvasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvas, nil
}

func (s *fakeStore) SaveCanvas(ctx context.Context, bitmap []byte, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNextSave {
		s.failNextSave = false
		return assertErr{}
	}
	cp := append([]byte{}, bitmap...)
	s.canvas = &storage.CanvasRecord{Bitmap: cp, Hash: hash, LastUpdated: now}
	return nil
}

func (s *fakeStore) AppendAudit(ctx context.Context, entries ...audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, entries...)
	return nil
}

func (s *fakeStore) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.audits) {
		limit = len(s.audits)
	}
	out := make([]audit.Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.audits[len(s.audits)-1-i]
	}
	return out, nil
}

func (s *fakeStore) ListLocks(ctx context.Context) ([]locks.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]locks.Lock, 0, len(s.locks))
	for _, l := range s.locks {
		out = append(out, l)
	}
	return out, nil
}

func (s *fakeStore) PutLock(ctx context.Context, l locks.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[l.Key()] = l
	return nil
}

func (s *fakeStore) DeleteLock(ctx context.Context, x1, y1, x2, y2 int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, locks.Lock{X1: x1, Y1: y1, X2: x2, Y2: y2}.Key())
	return nil
}

func (s *fakeStore) Close() error { return nil }

type assertErr struct{}

func (assertErr) Error() string { return "simulated persistence failure" }

// fakeCache always misses; the Applier falls through to fakeStore.
type fakeCache struct{}

func (fakeCache) GetCanvas(ctx context.Context) (*storage.CanvasRecord, bool) { return nil, false }
func (fakeCache) SetCanvas(ctx context.Context, rec *storage.CanvasRecord, ttl time.Duration)  {}
func (fakeCache) GetLocks(ctx context.Context) ([]locks.Lock, bool)           { return nil, false }
func (fakeCache) SetLocks(ctx context.Context, l []locks.Lock, ttl time.Duration) {}
func (fakeCache) InvalidateLocks(ctx context.Context)                         {}
func (fakeCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 1, nil
}

// fakePublisher captures every broadcast and targeted send.
type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	targeted  map[uint64][][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{targeted: make(map[uint64][][]byte)}
}

func (p *fakePublisher) Publish(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, data)
}

func (p *fakePublisher) PublishTo(id uint64, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targeted[id] = append(p.targeted[id], data)
}

type fakeRequeuer struct {
	mu       sync.Mutex
	requeued []canvas.PixelEdit
}

func (r *fakeRequeuer) Requeue(edits []canvas.PixelEdit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requeued = append(r.requeued, edits...)
}

func newTestApplier(t *testing.T, store *fakeStore) (*Applier, *fakePublisher) {
	t.Helper()
	idx := locks.New(fakeCache{}, store, time.Minute)
	pub := newFakePublisher()
	a := New(zerolog.Nop(), 4, 4, canvas.EmptyBlack, time.Hour, fakeCache{}, store, idx, pub, nil, nil, nil)
	return a, pub
}

func TestApplySingleEditBroadcastsBulkUpdate(t *testing.T) {
	store := newFakeStore()
	a, pub := newTestApplier(t, store)
	requeue := &fakeRequeuer{}

	a.Apply(context.Background(), requeue, []canvas.PixelEdit{
		{X: 1, Y: 1, Color: "#FF0000", Tool: canvas.ToolBrush, SubscriberID: 7},
	})

	require.Len(t, pub.published, 1)
	assert.Contains(t, string(pub.published[0]), `"x":1`)
	assert.Contains(t, string(pub.published[0]), `"color":"#FF0000"`)

	snap := a.Snapshot(context.Background())
	assert.Equal(t, canvas.RGB{255, 0, 0}, snap.At(1, 1))

	require.Len(t, store.audits, 1)
	assert.Equal(t, audit.ActionPixelApplied, store.audits[0].Action)
}

func TestApplyEraserWritesWhite(t *testing.T) {
	store := newFakeStore()
	a, _ := newTestApplier(t, store)
	requeue := &fakeRequeuer{}

	a.Apply(context.Background(), requeue, []canvas.PixelEdit{
		{X: 0, Y: 0, Color: "#123456", Tool: canvas.ToolBrush},
	})
	a.Apply(context.Background(), requeue, []canvas.PixelEdit{
		{X: 0, Y: 0, Color: "#000000", Tool: canvas.ToolEraser},
	})

	snap := a.Snapshot(context.Background())
	assert.Equal(t, canvas.RGB{255, 255, 255}, snap.At(0, 0))
}

func TestApplyRejectsLockedEditAtApplyTime(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.PutLock(context.Background(), locks.Lock{X1: 0, Y1: 0, X2: 2, Y2: 2}))
	a, pub := newTestApplier(t, store)
	requeue := &fakeRequeuer{}

	a.Apply(context.Background(), requeue, []canvas.PixelEdit{
		{X: 1, Y: 1, Color: "#00FF00", Tool: canvas.ToolBrush, SubscriberID: 3},
	})

	assert.Empty(t, pub.published, "an all-locked batch should not broadcast a bulk update")
	require.Len(t, pub.targeted[3], 1)
	assert.Contains(t, string(pub.targeted[3][0]), "Position locked")

	snap := a.Snapshot(context.Background())
	assert.Equal(t, canvas.RGB{0, 0, 0}, snap.At(1, 1), "locked pixel must remain unchanged")
}

func TestApplyRecordsLockChecksByOutcome(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.PutLock(context.Background(), locks.Lock{X1: 0, Y1: 0, X2: 2, Y2: 2}))

	idx := locks.New(fakeCache{}, store, time.Minute)
	pub := newFakePublisher()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	a := New(zerolog.Nop(), 4, 4, canvas.EmptyBlack, time.Hour, fakeCache{}, store, idx, pub, nil, nil, m)
	requeue := &fakeRequeuer{}

	a.Apply(context.Background(), requeue, []canvas.PixelEdit{
		{X: 1, Y: 1, Color: "#00FF00", Tool: canvas.ToolBrush, SubscriberID: 1},
		{X: 3, Y: 3, Color: "#0000FF", Tool: canvas.ToolBrush, SubscriberID: 2},
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LockChecks.WithLabelValues("locked")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LockChecks.WithLabelValues("unlocked")))
}

func TestApplyRollsBackAndRequeuesOnPersistenceFailure(t *testing.T) {
	store := newFakeStore()
	a, pub := newTestApplier(t, store)
	store.failNextSave = true
	requeue := &fakeRequeuer{}

	edit := canvas.PixelEdit{X: 2, Y: 2, Color: "#FF00FF", Tool: canvas.ToolBrush}
	a.Apply(context.Background(), requeue, []canvas.PixelEdit{edit})

	assert.Empty(t, pub.published, "a failed persist must not broadcast")
	require.Len(t, requeue.requeued, 1)
	assert.Equal(t, 1, requeue.requeued[0].Retries)

	snap := a.Snapshot(context.Background())
	assert.Equal(t, canvas.RGB{0, 0, 0}, snap.At(2, 2), "in-memory canvas must roll back on persist failure")
}

func TestApplyExhaustsRetriesAndRejects(t *testing.T) {
	store := newFakeStore()
	a, pub := newTestApplier(t, store)
	requeue := &fakeRequeuer{}

	edit := canvas.PixelEdit{X: 3, Y: 3, Color: "#FF00FF", Tool: canvas.ToolBrush, SubscriberID: 9, Retries: maxPersistRetries}
	store.failNextSave = true
	a.Apply(context.Background(), requeue, []canvas.PixelEdit{edit})

	assert.Empty(t, requeue.requeued, "an edit at the retry ceiling must not be requeued again")
	require.Len(t, pub.targeted[9], 1)
	assert.Contains(t, string(pub.targeted[9][0]), "persist_failed")
}
