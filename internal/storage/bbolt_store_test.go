package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madkind/pixelboard/internal/audit"
	"github.com/madkind/pixelboard/internal/locks"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pixelboard.db")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadCanvasMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.LoadCanvas(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveThenLoadCanvasRoundTrips(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	bitmap := []byte{1, 2, 3, 4}

	require.NoError(t, s.SaveCanvas(context.Background(), bitmap, "deadbeef", now))

	rec, err := s.LoadCanvas(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, bitmap, rec.Bitmap)
	assert.Equal(t, "deadbeef", rec.Hash)
	assert.True(t, now.Equal(rec.LastUpdated))
}

func TestAppendAuditAcceptsABatchOfEntries(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()

	e1 := audit.NewPixelApplied(base, "u1", "1.1.1.1", 0, 0, "#000000", "brush")
	e2 := audit.NewPixelApplied(base.Add(time.Second), "u2", "2.2.2.2", 1, 1, "#FFFFFF", "eraser")

	require.NoError(t, s.AppendAudit(context.Background(), e1, e2))
	require.NoError(t, s.AppendAudit(context.Background()), "an empty batch is a no-op, not an error")
}

func TestListAuditReturnsMostRecentFirstUpToLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()

	e1 := audit.NewPixelApplied(base, "u1", "", 0, 0, "#000000", "brush")
	e2 := audit.NewPixelApplied(base.Add(time.Second), "u2", "", 1, 1, "#FFFFFF", "brush")
	e3 := audit.NewPixelApplied(base.Add(2*time.Second), "u3", "", 2, 2, "#FF0000", "brush")
	require.NoError(t, s.AppendAudit(context.Background(), e1, e2, e3))

	list, err := s.ListAudit(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u3", list[0].UserID)
	assert.Equal(t, "u2", list[1].UserID)
}

func TestListAuditOnEmptyBucketReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	list, err := s.ListAudit(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPutListAndDeleteLockRoundTrip(t *testing.T) {
	s := openTestStore(t)
	l := locks.Lock{X1: 0, Y1: 0, X2: 5, Y2: 5, LockedBy: "mod1", Reason: "spam", CreatedAt: time.Now().UTC()}

	require.NoError(t, s.PutLock(context.Background(), l))

	list, err := s.ListLocks(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mod1", list[0].LockedBy)

	require.NoError(t, s.DeleteLock(context.Background(), 0, 0, 5, 5))

	list, err = s.ListLocks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
