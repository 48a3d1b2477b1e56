// Package broadcast maintains the set of live subscribers and fans out
// applied-batch events to them without ever blocking on a slow one,
// grounded on the teacher's internal/shared/broadcast.go.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/madkind/pixelboard/internal/metrics"
)

// maxSendAttempts is the slow-subscriber strike count from spec.md §4.7 /
// the teacher's broadcast.go before eviction.
const maxSendAttempts = 3

// Subscriber is a handle to one live connection's bounded outbound queue,
// per spec.md §3. The IngressHandler owns registering/deregistering it;
// the Broadcaster owns publishing to it.
type Subscriber struct {
	ID uint64

	send chan []byte

	attempts  int32
	closeOnce sync.Once
	closed    chan struct{}
	onEvict   func(*Subscriber)
}

func newSubscriber(id uint64, queueCap int, onEvict func(*Subscriber)) *Subscriber {
	return &Subscriber{
		ID:      id,
		send:    make(chan []byte, queueCap),
		closed:  make(chan struct{}),
		onEvict: onEvict,
	}
}

// Outbound returns the channel a dedicated writer goroutine should drain in
// FIFO order onto the socket, per spec.md §4.7.
func (s *Subscriber) Outbound() <-chan []byte {
	return s.send
}

// Closed reports when the subscriber has been evicted or disconnected.
func (s *Subscriber) Closed() <-chan struct{} {
	return s.closed
}

// Close marks the subscriber as gone; idempotent.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// tryEnqueue attempts a non-blocking send; on a full queue it strikes the
// subscriber and evicts it after maxSendAttempts consecutive failures.
func (s *Subscriber) tryEnqueue(data []byte) bool {
	select {
	case s.send <- data:
		atomic.StoreInt32(&s.attempts, 0)
		return true
	default:
		n := atomic.AddInt32(&s.attempts, 1)
		if n >= maxSendAttempts {
			if s.onEvict != nil {
				s.onEvict(s)
			}
			s.Close()
		}
		return false
	}
}

// Broadcaster fans applied events out to every live Subscriber, per
// spec.md §4.7. publish() never blocks: each subscriber gets one
// non-blocking enqueue attempt.
type Broadcaster struct {
	log      zerolog.Logger
	queueCap int
	metrics  *metrics.Metrics

	mu          sync.RWMutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
}

// New builds a Broadcaster whose subscribers get outbound queues of
// queueCap capacity (spec.md default 64). m may be nil, in which case
// broadcast fan-out latency and eviction counts simply aren't recorded.
func New(log zerolog.Logger, queueCap int, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		log:         log,
		queueCap:    queueCap,
		metrics:     m,
		subscribers: make(map[uint64]*Subscriber),
	}
}

// Register creates and tracks a new Subscriber for one connection.
func (b *Broadcaster) Register() *Subscriber {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := newSubscriber(id, b.queueCap, b.evict)
	b.subscribers[id] = sub
	b.mu.Unlock()
	return sub
}

// Deregister removes a Subscriber, e.g. on normal disconnect.
func (b *Broadcaster) Deregister(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub.ID)
	b.mu.Unlock()
}

func (b *Broadcaster) evict(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub.ID)
	count := len(b.subscribers)
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.SubscribersEvicted.Inc()
	}
	b.log.Warn().Uint64("subscriber_id", sub.ID).Int("remaining_subscribers", count).Msg("evicting slow subscriber")
}

// Publish serializes once and attempts a non-blocking enqueue to every
// live subscriber, per spec.md §4.7. Iteration snapshots the subscriber
// set so a concurrent evict/register during publish is safe. The
// enqueue-to-every-subscriber wall time is observed as the broadcast
// fan-out latency spec.md §8's bounded-latency property is about.
func (b *Broadcaster) Publish(data []byte) {
	start := time.Now()

	b.mu.RLock()
	snapshot := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		sub.tryEnqueue(data)
	}

	if b.metrics != nil {
		b.metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
	}
}

// PublishTo sends data to a single subscriber by ID, used for routing a
// pixel:reject back to its originating connection. A missing or closed
// subscriber is a silent no-op, per spec.md §4.6 ("otherwise dropped").
func (b *Broadcaster) PublishTo(id uint64, data []byte) {
	b.mu.RLock()
	sub, ok := b.subscribers[id]
	b.mu.RUnlock()
	if !ok {
		return
	}
	sub.tryEnqueue(data)
}

// Count returns the current live subscriber count, for health/metrics.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// CloseAll closes every subscriber; each connection's writer loop then
// sends a close frame. Used during Lifecycle shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[uint64]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
