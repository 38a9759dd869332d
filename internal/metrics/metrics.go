// Package metrics exposes Prometheus instrumentation for the queue engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// enqueueOutcomes counts per-recipient enqueue outcomes.
	// Labels:
	// - instance
	// - approval_type: "payment", "tracker_entry"
	// - status: "queued", "already_queued", "failed"
	enqueueOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approvalq",
			Subsystem: "enqueue",
			Name:      "outcomes_total",
			Help:      "Enqueue outcomes per recipient.",
		},
		[]string{"instance", "approval_type", "status"},
	)

	// digestsTotal counts digest dispatch attempts.
	// Labels:
	// - instance
	// - result: "sent", "failed", "skipped"
	digestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approvalq",
			Subsystem: "sweep",
			Name:      "digests_total",
			Help:      "Digest dispatch attempts by result.",
		},
		[]string{"instance", "result"},
	)

	// rowsMarkedSent counts queue rows flipped to sent.
	rowsMarkedSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approvalq",
			Subsystem: "sweep",
			Name:      "rows_sent_total",
			Help:      "Queue rows marked sent.",
		},
		[]string{"instance"},
	)

	// batchSize observes how many rows one digest carries.
	batchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "approvalq",
			Subsystem: "sweep",
			Name:      "digest_rows",
			Help:      "Rows collated into one digest.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"instance"},
	)

	// sweepDuration observes one instance pass.
	// Labels:
	// - instance
	// - status: "ok", "error", "skipped"
	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "approvalq",
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of one instance sweep pass.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"instance", "status"},
	)

	// pendingRows reports unsent rows observed by the last pass.
	pendingRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "approvalq",
			Subsystem: "queue",
			Name:      "pending_rows",
			Help:      "Unsent queue rows seen by the most recent sweep.",
		},
		[]string{"instance"},
	)

	// ingestMessages counts consumed broker messages.
	// Labels:
	// - result: "enqueued", "invalid", "failed"
	ingestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "approvalq",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Approval events consumed from the broker.",
		},
		[]string{"result"},
	)
)

// RecordEnqueueOutcome records one recipient outcome.
func RecordEnqueueOutcome(instance, approvalType, status string) {
	enqueueOutcomes.WithLabelValues(instance, approvalType, status).Inc()
}

// RecordDigest records a digest dispatch result and its size.
func RecordDigest(instance, result string, rows int) {
	digestsTotal.WithLabelValues(instance, result).Inc()
	if result == "sent" {
		rowsMarkedSent.WithLabelValues(instance).Add(float64(rows))
		batchSize.WithLabelValues(instance).Observe(float64(rows))
	}
}

// RecordSweep records one instance pass.
func RecordSweep(instance, status string, started time.Time) {
	sweepDuration.WithLabelValues(instance, status).Observe(time.Since(started).Seconds())
}

// SetPending sets the pending row gauge.
func SetPending(instance string, n int) {
	pendingRows.WithLabelValues(instance).Set(float64(n))
}

// RecordIngest records a consumed broker message.
func RecordIngest(result string) {
	ingestMessages.WithLabelValues(result).Inc()
}
