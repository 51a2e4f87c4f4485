package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benchboard_cache_hits_total",
		Help: "Total number of cache hits by domain",
	}, []string{"domain"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benchboard_cache_misses_total",
		Help: "Total number of cache misses (including forced refreshes) by domain",
	}, []string{"domain"})

	recomputeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benchboard_cache_recompute_errors_total",
		Help: "Total number of failed recomputations by domain",
	}, []string{"domain"})

	recomputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "benchboard_cache_recompute_duration_seconds",
		Help:    "Time spent recomputing missed entries by domain",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"domain"})
)
