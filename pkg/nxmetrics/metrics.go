// Package nxmetrics exposes Prometheus collectors for every storage and
// replication subsystem, following the teacher's pattern of package-level
// collector vars registered once in init() and a Timer helper for
// histogram observation.
package nxmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Page cache metrics
	PageCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_page_cache_hits_total",
		Help: "Total page cache hits.",
	})
	PageCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_page_cache_misses_total",
		Help: "Total page cache misses.",
	})
	PageCacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_page_cache_evictions_total",
		Help: "Total pages evicted by the clock algorithm.",
	})
	PageCacheResidentPages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_page_cache_resident_pages",
		Help: "Pages currently resident in the page cache.",
	})

	// Multi-layer cache metrics, one set per layer via a label.
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_cache_hits_total",
		Help: "Cache hits by layer (object, query, index).",
	}, []string{"layer"})
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_cache_misses_total",
		Help: "Cache misses by layer.",
	}, []string{"layer"})
	CacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexus_cache_evictions_total",
		Help: "Cache evictions by layer.",
	}, []string{"layer"})
	CacheMemoryUsage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nexus_cache_memory_bytes",
		Help: "Estimated memory usage by cache layer.",
	}, []string{"layer"})

	// WAL metrics
	WalEntriesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_wal_entries_submitted_total",
		Help: "WAL entries submitted to the async writer.",
	})
	WalEntriesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_wal_entries_written_total",
		Help: "WAL entries actually written to disk.",
	})
	WalBatchesFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_wal_batches_flushed_total",
		Help: "WAL batches fsynced by the async writer.",
	})
	WalErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_wal_errors_total",
		Help: "WAL I/O errors, including those recovered via emergency spill.",
	})
	WalQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_wal_queue_depth",
		Help: "Current depth of the async WAL writer's command queue.",
	})
	WalFlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexus_wal_flush_duration_seconds",
		Help:    "Time spent fsyncing a WAL batch.",
		Buckets: prometheus.DefBuckets,
	})

	// Transaction manager metrics
	TxCommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_tx_commits_total",
		Help: "Total committed write transactions.",
	})
	TxAbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_tx_aborts_total",
		Help: "Total aborted write transactions.",
	})
	CurrentEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_current_epoch",
		Help: "Current monotonic commit epoch.",
	})
	ActiveReadTx = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_active_read_transactions",
		Help: "Number of currently open read transactions.",
	})

	// Lock manager metrics
	LockGrantsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_lock_grants_total",
		Help: "Total locks granted.",
	})
	LockTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_lock_timeouts_total",
		Help: "Total lock requests that timed out.",
	})
	LockDeadlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_lock_deadlocks_total",
		Help: "Total deadlocks detected.",
	})
	LockWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexus_lock_wait_duration_seconds",
		Help:    "Time spent waiting for a lock grant.",
		Buckets: prometheus.DefBuckets,
	})
	LockWaitersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_lock_waiters",
		Help: "Number of lock requests currently parked in the wait-for graph.",
	})

	// Replication metrics
	ReplicationOffset = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_replication_current_offset",
		Help: "Current primary replication log offset.",
	})
	ConnectedReplicas = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_replication_connected_replicas",
		Help: "Number of currently connected replicas.",
	})
	HealthyReplicas = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nexus_replication_healthy_replicas",
		Help: "Number of replicas currently considered healthy.",
	})
	ReplicationLagSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nexus_replication_lag_seconds",
		Help: "Replication lag per replica, in seconds since last ack.",
	}, []string{"replica_id"})
	SnapshotTransfersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_snapshot_transfers_total",
		Help: "Total full-state snapshot transfers performed.",
	})

	// GC metrics
	TombstonesReclaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexus_tombstones_reclaimed_total",
		Help: "Total tombstoned records reclaimed by the GC reconciler.",
	})
	GCCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexus_gc_cycle_duration_seconds",
		Help:    "Duration of one tombstone reconciliation cycle.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		PageCacheHits, PageCacheMisses, PageCacheEvictions, PageCacheResidentPages,
		CacheHits, CacheMisses, CacheEvictions, CacheMemoryUsage,
		WalEntriesSubmitted, WalEntriesWritten, WalBatchesFlushed, WalErrors, WalQueueDepth, WalFlushDuration,
		TxCommitsTotal, TxAbortsTotal, CurrentEpoch, ActiveReadTx,
		LockGrantsTotal, LockTimeoutsTotal, LockDeadlocksTotal, LockWaitDuration, LockWaitersGauge,
		ReplicationOffset, ConnectedReplicas, HealthyReplicas, ReplicationLagSeconds, SnapshotTransfersTotal,
		TombstonesReclaimedTotal, GCCycleDuration,
	)
}

// Handler returns the Prometheus HTTP handler for an operator-facing /metrics endpoint.
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

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
