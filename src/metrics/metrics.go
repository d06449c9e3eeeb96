// Package metrics registers the prometheus collectors for the cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "semcache"

// Label values.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultError   = "error"
	ResultInvalid = "invalid"
	ResultOK      = "ok"

	OutcomeIdle    = "idle"
	OutcomeEvicted = "evicted"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"

	OperationGet     = "get"
	OperationPut     = "put"
	OperationNearest = "nearest"
	OperationInsert  = "insert"
	OperationEvict   = "delete_oldest"
	OperationSize    = "size"
	OperationCompact = "checkpoint"
	OperationEmbed   = "embed"
)

var (
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result (hit, miss, error, invalid)",
		},
		[]string{"result"},
	)

	Puts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "puts_total",
			Help:      "Cache writes by result (ok, error, invalid)",
		},
		[]string{"result"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Store failures by operation",
		},
		[]string{"operation"},
	)

	StoreSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records",
			Help:      "Records held by the store at the last eviction pass",
		},
	)

	Similarity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "best_similarity",
			Help:      "Best cosine similarity seen per lookup",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	LookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operation_duration_seconds",
			Help:      "Cache operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"operation"},
	)

	EvictedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eviction",
			Name:      "records_total",
			Help:      "Records removed by the eviction scheduler",
		},
	)

	EvictionPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eviction",
			Name:      "passes_total",
			Help:      "Eviction passes by outcome (idle, evicted, failed, skipped)",
		},
		[]string{"outcome"},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Embedding provider calls by provider and result",
		},
		[]string{"provider", "result"},
	)
)

// ObserveDuration records time since start under operation.
func ObserveDuration(operation string, start time.Time) {
	LookupDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
