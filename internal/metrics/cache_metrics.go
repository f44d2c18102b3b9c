package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Total number of cache backend requests",
		},
		[]string{"operation"}, // get, set, delete
	)

	cacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"operation"},
	)

	cacheRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_request_duration_seconds",
			Help:    "Cache backend request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	cacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_size_bytes",
			Help: "Approximate size of the Redis cache (if available)",
		},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Number of live entries in the in-memory cache backend",
		},
	)
)

func registerCacheMetrics() {
	prometheus.MustRegister(
		cacheRequestsTotal,
		cacheErrorsTotal,
		cacheRequestDuration,
		cacheSize,
		cacheEntries,
	)
}

func IncCacheRequest(op string) {
	cacheRequestsTotal.WithLabelValues(op).Inc()
}

func IncCacheError(op string) {
	cacheErrorsTotal.WithLabelValues(op).Inc()
}

func ObserveCacheDuration(op string, d time.Duration) {
	cacheRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

func SetCacheSizeBytes(n int64) {
	if n < 0 {
		n = 0
	}
	cacheSize.Set(float64(n))
}

func SetCacheEntries(n int64) {
	cacheEntries.Set(float64(n))
}
