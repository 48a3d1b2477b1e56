// Package metrics defines the Prometheus instrumentation surfaced at
// /metrics, grounded on the teacher's metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge/histogram this server exports.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	MessagesReceived   prometheus.Counter
	EditsAdmitted      prometheus.Counter
	EditsRejected      *prometheus.CounterVec
	BatchesFlushed     prometheus.Counter
	BatchSize          prometheus.Histogram
	ApplyDuration      prometheus.Histogram
	BroadcastLatency   prometheus.Histogram
	SubscribersEvicted prometheus.Counter
	LockChecks         *prometheus.CounterVec
}

// New registers and returns the metrics set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelboard_connections_total",
			Help: "Total WebSocket connections accepted.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelboard_connections_active",
			Help: "Currently open WebSocket connections.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelboard_messages_received_total",
			Help: "Total inbound frames decoded, of any type.",
		}),
		EditsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelboard_edits_admitted_total",
			Help: "Pixel edits admitted into the Batcher.",
		}),
		EditsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelboard_edits_rejected_total",
			Help: "Pixel edits rejected, labeled by reason.",
		}, []string{"reason"}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelboard_batches_flushed_total",
			Help: "Batcher flushes handed to the Applier.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelboard_batch_size",
			Help:    "Number of edits per flushed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelboard_apply_duration_seconds",
			Help:    "Wall time of one Applier.Apply call.",
			Buckets: prometheus.DefBuckets,
		}),
		BroadcastLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelboard_broadcast_latency_seconds",
			Help:    "Wall time of one Publish call's enqueue to every subscriber.",
			Buckets: prometheus.DefBuckets,
		}),
		SubscribersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelboard_subscribers_evicted_total",
			Help: "Subscribers evicted for a full outbound queue.",
		}),
		LockChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelboard_lock_checks_total",
			Help: "LockIndex checks, labeled by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.ConnectionsTotal, m.ConnectionsActive, m.MessagesReceived,
		m.EditsAdmitted, m.EditsRejected, m.BatchesFlushed, m.BatchSize,
		m.ApplyDuration, m.BroadcastLatency, m.SubscribersEvicted, m.LockChecks,
	)
	return m
}
