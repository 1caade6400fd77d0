package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleengine_tree_cache_hits_total",
			Help: "Total number of parsed tree cache hits",
		},
		[]string{"layer"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleengine_tree_cache_misses_total",
			Help: "Total number of parsed tree cache misses",
		},
		[]string{"layer"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleengine_cache_errors_total",
			Help: "Total number of cache errors",
		},
		[]string{"layer", "op"},
	)

	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleengine_storage_operations_total",
			Help: "Total number of rule storage operations",
		},
		[]string{"op", "result"},
	)

	RateLimitedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ruleengine_http_requests_rate_limited_total",
			Help: "Total number of HTTP requests rejected by the rate limiter",
		},
	)
)
