// Package metrics provides Prometheus instrumentation for Accretion.
//
// # Overview
//
// The metrics package provides:
//   - Prometheus-compatible metrics collection
//   - Pre-defined metric families for attempts, batches, checkpoints, and leases
//   - Throughput and timing utilities
//   - Thread-safe metric recording with automatic registration
//
// # Basic Usage
//
//	// Count a finished attempt
//	metrics.AttemptsTotal.WithLabelValues("confluence-eng", "succeeded").Inc()
//
//	// Time a batch commit
//	timer := metrics.NewTimer("batch_commit")
//	commitBatch(batch)
//	metrics.BatchCommitDuration.WithLabelValues("confluence-eng").
//	    Observe(timer.Stop().Seconds())
//
//	// Track ingestion throughput
//	tracker := metrics.NewThroughputTracker("confluence-eng")
//	tracker.Increment(int64(len(batch.Documents)))
//	docsPerSec := tracker.GetAndReset()
//
// All families are exported under the accretion_ prefix and served by the
// operator HTTP endpoint's /metrics handler.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts indexing attempts by terminal status.
	// Labels: connector_id, status (succeeded/failed/canceled)
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accretion_attempts_total",
			Help: "Total number of indexing attempts by terminal status",
		},
		[]string{"connector_id", "status"},
	)

	// DocumentsProcessed counts documents durably upserted into the sink.
	// Incremented only after the batch's checkpoint commits, so the series
	// never runs ahead of resumable progress.
	DocumentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accretion_documents_processed_total",
			Help: "Total number of documents upserted and checkpointed",
		},
		[]string{"connector_id"},
	)

	// BatchesCommitted counts fetch/upsert/checkpoint cycles that completed.
	BatchesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accretion_batches_committed_total",
			Help: "Total number of batches committed (upserted and checkpointed)",
		},
		[]string{"connector_id"},
	)

	// CheckpointSaves counts checkpoint store writes by result.
	// Labels: connector_id, result (ok/error/stale)
	CheckpointSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accretion_checkpoint_saves_total",
			Help: "Total number of checkpoint save operations by result",
		},
		[]string{"connector_id", "result"},
	)

	// CredentialFailures counts attempts aborted by credential errors.
	// Watched separately from generic failures: a spike here means rotation
	// or provisioning broke, not that a source is flaky.
	CredentialFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accretion_credential_failures_total",
			Help: "Total number of credential resolution or rejection failures",
		},
		[]string{"connector_id"},
	)

	// LeaseConflicts counts lease acquisitions lost to another worker.
	// Expected under normal contention; alert only on sustained growth.
	LeaseConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accretion_lease_conflicts_total",
			Help: "Total number of lease acquisitions that lost to a live holder",
		},
		[]string{"connector_id"},
	)

	// FullResyncs counts operator-requested checkpoint clears.
	FullResyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accretion_full_resyncs_total",
			Help: "Total number of operator-requested full resyncs",
		},
		[]string{"connector_id"},
	)

	// AttemptDuration tracks wall-clock attempt duration by terminal status.
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accretion_attempt_duration_seconds",
			Help:    "Indexing attempt duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400, 43200},
		},
		[]string{"connector_id", "status"},
	)

	// BatchCommitDuration tracks one fetch/upsert/checkpoint cycle.
	BatchCommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accretion_batch_commit_duration_seconds",
			Help:    "Duration of a single batch fetch/upsert/checkpoint cycle",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"connector_id"},
	)

	// ActiveAttempts gauges attempts currently running in this worker.
	ActiveAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accretion_active_attempts",
			Help: "Number of indexing attempts currently running in this worker",
		},
	)

	// QueueDepth gauges pending tasks by queue backend.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accretion_queue_depth",
			Help: "Current task queue depth",
		},
		[]string{"queue"},
	)

	// SchedulerSkips counts connectors the scheduler saw but did not enqueue.
	// Labels: reason (not_due/leased/paused/deduped)
	SchedulerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accretion_scheduler_skips_total",
			Help: "Connectors skipped during scheduling by reason",
		},
		[]string{"reason"},
	)

	// TasksEnqueued counts index tasks placed on the queue.
	// Labels: reason (scheduled/manual)
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accretion_tasks_enqueued_total",
			Help: "Total number of index tasks enqueued by reason",
		},
		[]string{"reason"},
	)

	// GovernorDeferrals counts task admissions deferred because system
	// memory was above the configured watermark.
	GovernorDeferrals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accretion_governor_deferrals_total",
			Help: "Total number of task admissions deferred by the memory governor",
		},
	)

	// Throughput gauges documents per second per connector.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accretion_throughput_documents_per_second",
			Help: "Current ingestion throughput in documents per second",
		},
		[]string{"connector_id"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
//
// Example:
//
//	timer := metrics.NewTimer("checkpoint_save")
//	store.Save(ctx, cp)
//	duration := timer.Stop()
//	logger.Debug("checkpoint saved", zap.Duration("duration", duration))
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop stops the timer and returns the elapsed duration since creation.
// The timer can be stopped multiple times, each returning the total
// elapsed time since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks documents per second for one connector over
// reporting windows. Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu          sync.Mutex
	count       int64     // Documents processed since last reset
	lastReset   time.Time // Time of last reset
	connectorID string
}

// NewThroughputTracker creates a throughput tracker for a connector.
//
// Example:
//
//	tracker := metrics.NewThroughputTracker("drive-legal")
//	for batch := range batches {
//	    upsert(batch)
//	    tracker.Increment(int64(len(batch.Documents)))
//	}
//	docsPerSec := tracker.GetAndReset()
func NewThroughputTracker(connectorID string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset:   time.Now(),
		connectorID: connectorID,
	}
}

// Increment adds n to the document count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (documents/second),
// updates the Prometheus gauge, resets the counter, and returns the
// calculated throughput. Safe for concurrent use.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	// Reset for next period
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.connectorID).Set(throughput)

	return throughput
}
