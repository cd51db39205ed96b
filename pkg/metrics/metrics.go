// Package metrics exposes the prometheus gauges and counters the
// SPEC_FULL.md ambient stack calls for: buffer depth, transport lag,
// block rotation latency, atomic-operation outcomes and listener
// registry size.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BufferDepth is the number of writes currently sitting in a
	// family's Buffer, not yet transported into Database.
	BufferDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "concourse_buffer_depth",
			Help: "Writes currently buffered awaiting transport, by family",
		},
		[]string{"family"},
	)

	// TransportLagSeconds measures the delay between a write's buffer
	// insertion and its transport into the Database.
	TransportLagSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concourse_transport_lag_seconds",
			Help:    "Time between a write entering the buffer and its transport into storage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	// TransportBatchSize records how many writes a single transport
	// pass drained.
	TransportBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concourse_transport_batch_size",
			Help:    "Number of writes drained per transport pass",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"family"},
	)

	// BlockRotationSeconds times how long sealing a mutable block and
	// opening a fresh one took.
	BlockRotationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concourse_block_rotation_seconds",
			Help:    "Time taken to seal a mutable block and open its replacement",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	// DedupRemovedTotal counts revisions removed by Dedup reconciliation
	// between two blocks.
	DedupRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concourse_dedup_removed_total",
			Help: "Revisions removed by block deduplication, by family",
		},
		[]string{"family"},
	)

	// AtomicOperationsTotal counts AtomicOperation outcomes by result:
	// committed, preempted, canceled.
	AtomicOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concourse_atomic_operations_total",
			Help: "AtomicOperation outcomes by result",
		},
		[]string{"result"},
	)

	// AtomicOperationDuration times an AtomicOperation from open to its
	// terminal state.
	AtomicOperationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concourse_atomic_operation_duration_seconds",
			Help:    "AtomicOperation lifetime from open to commit/preempt/cancel",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TransactionsTotal counts Transaction outcomes by result: committed,
	// aborted.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concourse_transactions_total",
			Help: "Transaction outcomes by result",
		},
		[]string{"result"},
	)

	// ListenersRegistered is the current size of the listener registry.
	ListenersRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concourse_listeners_registered",
			Help: "Number of currently-registered version-change listeners",
		},
	)

	// HungDetectionsTotal counts watchdog-detected transport stalls.
	HungDetectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concourse_hung_detections_total",
			Help: "Number of times the transport watchdog detected a stalled transporter",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BufferDepth,
		TransportLagSeconds,
		TransportBatchSize,
		BlockRotationSeconds,
		DedupRemovedTotal,
		AtomicOperationsTotal,
		AtomicOperationDuration,
		TransactionsTotal,
		ListenersRegistered,
		HungDetectionsTotal,
	)
}

// Handler returns the prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
