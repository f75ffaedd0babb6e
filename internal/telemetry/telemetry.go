// Package telemetry holds the process-wide prometheus registry and
// metric families, grounded on metrics/metric.go's Registry/GRPCMetrics
// pattern but renamed and extended for this domain's own concerns:
// cache coherence, lock contention, and merge conflicts.
package telemetry

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "CubeRepo"

var (
	Registry = prometheus.NewRegistry()

	// ClientGRPCMetrics instruments the broadcaster's outbound peer
	// notifications the way GRPCMetrics instruments the source's
	// inbound RPCs.
	ClientGRPCMetrics = grpcprometheus.NewClientMetrics(
		func(o *prometheus.CounterOpts) { o.Namespace = namespace },
	)

	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Cube reads served from the in-process cache without touching the persister.",
	}, []string{"app_id"})

	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Cube reads that required a persister hydration.",
	}, []string{"app_id"})

	LockWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lock_contention_seconds",
		Help:      "Time a caller spent blocked behind sys.lock's holder before acquiring or giving up.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"app_id", "outcome"})

	MergeConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merge_conflicts_total",
		Help:      "Cube conflicts surfaced by commit or update-from-head three-way merges.",
	}, []string{"app_id"})

	BroadcastFanoutSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "broadcast_fanout_seconds",
		Help:      "Time to notify every configured peer of a structural change.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		ClientGRPCMetrics,
		CacheHits,
		CacheMisses,
		LockWaitSeconds,
		MergeConflictsTotal,
		BroadcastFanoutSeconds,
	)
	ClientGRPCMetrics.EnableClientHandlingTimeHistogram(
		func(o *prometheus.HistogramOpts) { o.Namespace = namespace },
	)
}
