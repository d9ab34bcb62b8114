// Package metrics holds the prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreSkippedUnits counts records a scan skipped because they were unreadable or corrupt.
	StoreSkippedUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelf_store_skipped_units_total",
			Help: "Total number of unreadable or corrupt units skipped during scans",
		},
		[]string{"kind"},
	)

	// IndexDegradedReads counts index reads that found a corrupt unit and answered empty.
	IndexDegradedReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelf_index_degraded_reads_total",
			Help: "Total number of index reads that treated a corrupt unit as empty",
		},
		[]string{"index"},
	)

	// SecondaryEffectFailures counts best-effort side effects that failed and were swallowed.
	SecondaryEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelf_secondary_effect_failures_total",
			Help: "Total number of swallowed secondary effect failures",
		},
		[]string{"effect"},
	)

	TopRatedRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelf_top_rated_rebuild_duration_seconds",
			Help:    "Duration of full top-rated view rebuilds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecommendationCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelf_recommendation_cache_lookups_total",
			Help: "Recommendation cache lookups by result (hit, miss, expired, refresh)",
		},
		[]string{"result"},
	)

	RecommendationCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelf_recommendation_cache_evictions_total",
			Help: "Entries evicted from the recommendation cache by the capacity bound",
		},
	)

	RecommendationSource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelf_recommendation_computations_total",
			Help: "Recommendation computations by producing path (personalized, basic, fallback)",
		},
		[]string{"source"},
	)

	PersonalizerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelf_personalizer_requests_total",
			Help: "Personalizer calls by outcome (success, failure, rejected)",
		},
		[]string{"outcome"},
	)
)
