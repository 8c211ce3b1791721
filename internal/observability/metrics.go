package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOpLatency records document store operation latency by operation
	// and collection.
	StoreOpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kindred_store_op_latency_seconds",
		Help:    "Document store operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "collection"})

	// TxRetries counts optimistic transaction retries by collection.
	TxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kindred_tx_retries_total",
		Help: "Total number of optimistic transaction retries",
	}, []string{"collection"})

	// TxConflicts counts transactions that exhausted their retry budget.
	TxConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kindred_tx_conflicts_total",
		Help: "Total number of transactions surfaced as conflicts",
	}, []string{"collection"})

	// ReplicaReconciliations counts deltas applied to replica views by kind.
	ReplicaReconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kindred_replica_reconciliations_total",
		Help: "Total number of deltas applied to replica views",
	}, []string{"kind"})

	// ClampedCounters counts would-be-negative counter decrements. Any
	// increment here indicates a consistency bug somewhere upstream.
	ClampedCounters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kindred_clamped_counters_total",
		Help: "Total number of counter decrements clamped at zero",
	})

	// StaleFetchesDiscarded counts page fetches discarded because a newer
	// query superseded them before the response arrived.
	StaleFetchesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kindred_stale_fetches_discarded_total",
		Help: "Total number of late page fetches discarded before reconciliation",
	})

	// FanoutNotifications counts notification records written by kind.
	FanoutNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kindred_fanout_notifications_total",
		Help: "Total number of notifications written by kind",
	}, []string{"kind"})

	// FanoutSuppressed counts fan-out calls that were silent no-ops.
	FanoutSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kindred_fanout_suppressed_total",
		Help: "Total number of suppressed notification fan-outs by reason",
	}, []string{"reason"})

	// RedisErrors counts Redis errors by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kindred_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})
)

// TrackStoreOp returns a function that records store operation latency when
// called (e.g. defer).
func TrackStoreOp(operation, collection string) func() {
	start := time.Now()
	return func() {
		StoreOpLatency.WithLabelValues(operation, collection).Observe(time.Since(start).Seconds())
	}
}
