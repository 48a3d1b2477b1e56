package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madkind/pixelboard/internal/canvas"
)

func TestBatcherFlushesOnTick(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]canvas.PixelEdit

	b := New(zerolog.Nop(), 20*time.Millisecond, 0, func(ctx context.Context, batch []canvas.PixelEdit) {
		mu.Lock()
		flushed = append(flushed, batch)
		mu.Unlock()
	}, nil)

	b.Submit(canvas.PixelEdit{X: 1, Y: 1, Color: "#FFFFFF"})
	b.Submit(canvas.PixelEdit{X: 2, Y: 2, Color: "#000000"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed[0], 2)
	assert.Equal(t, 1, flushed[0][0].X, "arrival order must be preserved")
	assert.Equal(t, 2, flushed[0][1].X)
}

func TestBatcherSkipsEmptyTick(t *testing.T) {
	flushes := 0
	var mu sync.Mutex

	b := New(zerolog.Nop(), 10*time.Millisecond, 0, func(ctx context.Context, batch []canvas.PixelEdit) {
		mu.Lock()
		flushes++
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	time.Sleep(35 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, flushes, "no edits were submitted, so no tick should flush")
}

func TestBatcherGlobalCapRejectsOverflow(t *testing.T) {
	var rejectedReason string
	b := New(zerolog.Nop(), time.Hour, 1, func(ctx context.Context, batch []canvas.PixelEdit) {}, func(edit canvas.PixelEdit, reason string) {
		rejectedReason = reason
	})

	b.Submit(canvas.PixelEdit{X: 1, Y: 1})
	b.Submit(canvas.PixelEdit{X: 2, Y: 2})

	assert.Equal(t, "overloaded", rejectedReason)
	assert.Equal(t, 1, b.PendingLen())
}

func TestBatcherStopPerformsFinalFlush(t *testing.T) {
	var mu sync.Mutex
	flushed := false

	b := New(zerolog.Nop(), time.Hour, 0, func(ctx context.Context, batch []canvas.PixelEdit) {
		mu.Lock()
		flushed = true
		mu.Unlock()
	}, nil)

	b.Submit(canvas.PixelEdit{X: 1, Y: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, flushed)
}
