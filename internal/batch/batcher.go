// Package batch implements the coalescing buffer between IngressHandler and
// Applier, per spec.md §4.5: a bounded FIFO plus a fixed-interval ticker.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/madkind/pixelboard/internal/canvas"
)

// Rejecter is called for an edit dropped before it ever reaches a flush,
// e.g. the defensive global-cap ceiling.
type Rejecter func(edit canvas.PixelEdit, reason string)

// FlushFunc consumes one captured batch in arrival order. It is invoked
// from the Batcher's own ticking goroutine, so it must not block
// indefinitely (the Applier's own work is bounded by Persistence latency,
// per spec.md §4.6).
type FlushFunc func(ctx context.Context, batch []canvas.PixelEdit)

// Batcher is the bounded FIFO + ticker described in spec.md §4.5.
type Batcher struct {
	log        zerolog.Logger
	flushEvery time.Duration
	globalCap  int
	flush      FlushFunc
	onReject   Rejecter

	mu     sync.Mutex
	buffer []canvas.PixelEdit

	stop chan struct{}
	done chan struct{}
}

// New builds a Batcher. flush is invoked once per non-empty tick with the
// captured batch; onReject (may be nil) is called for edits dropped by the
// defensive global cap.
func New(log zerolog.Logger, flushEvery time.Duration, globalCap int, flush FlushFunc, onReject Rejecter) *Batcher {
	return &Batcher{
		log:        log,
		flushEvery: flushEvery,
		globalCap:  globalCap,
		flush:      flush,
		onReject:   onReject,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Submit appends a validated edit to the buffer in arrival order. If the
// buffer is at the defensive global cap, the edit is rejected with
// reason "overloaded" instead of queued, per spec.md §4.5.
func (b *Batcher) Submit(edit canvas.PixelEdit) {
	b.mu.Lock()
	if b.globalCap > 0 && len(b.buffer) >= b.globalCap {
		b.mu.Unlock()
		if b.onReject != nil {
			b.onReject(edit, "overloaded")
		}
		return
	}
	b.buffer = append(b.buffer, edit)
	b.mu.Unlock()
}

// Requeue puts edits back at the head of the buffer, used by the Applier
// to retry a batch whose Persistence write failed (spec.md §4.6). It
// bypasses the global cap since these edits were already admitted once.
func (b *Batcher) Requeue(edits []canvas.PixelEdit) {
	if len(edits) == 0 {
		return
	}
	b.mu.Lock()
	b.buffer = append(append([]canvas.PixelEdit{}, edits...), b.buffer...)
	b.mu.Unlock()
}

// swap atomically takes the current buffer and replaces it with an empty
// one, returning nil if nothing was pending (skip the flush, per spec).
func (b *Batcher) swap() []canvas.PixelEdit {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buffer) == 0 {
		return nil
	}
	captured := b.buffer
	b.buffer = nil
	return captured
}

// Start launches the flush-tick loop. It runs until ctx is cancelled or
// Stop is called, whichever comes first, per spec.md §4.8's "stop the
// flush ticker" shutdown step.
func (b *Batcher) Start(ctx context.Context) {
	go b.run(ctx)
}

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.finalFlush(ctx)
			return
		case <-b.stop:
			b.finalFlush(ctx)
			return
		case <-ticker.C:
			if batch := b.swap(); batch != nil {
				b.flush(ctx, batch)
			}
		}
	}
}

// finalFlush performs the one last flush spec.md §4.8 requires before the
// flush loop exits.
func (b *Batcher) finalFlush(ctx context.Context) {
	if batch := b.swap(); batch != nil {
		b.flush(ctx, batch)
	}
}

// Stop signals the flush loop to perform one final flush and exit, then
// blocks until it has done so.
func (b *Batcher) Stop() {
	close(b.stop)
	<-b.done
}

// PendingLen reports the current buffer depth, for health/metrics.
func (b *Batcher) PendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
