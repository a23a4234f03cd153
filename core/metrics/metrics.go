// Package metrics exposes the server's Prometheus collectors. Collectors
// are package-level and registered once at init, so every layer can
// update them without plumbing a registry around.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts completed requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "server_requests_total",
		Help: "Completed HTTP requests.",
	}, []string{"method", "status"})

	// RequestDuration tracks request latency.
	RequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "server_request_duration_seconds",
		Help:    "Request latency from parse to response write.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2.5, 12),
	})

	// CacheHits counts responses served from the response cache.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "server_response_cache_hits_total",
		Help: "Responses served from the adaptive response cache.",
	})

	// CacheMisses counts lookups that fell through to the handler.
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "server_response_cache_misses_total",
		Help: "Response cache lookups that missed.",
	})

	// HotRoutes is the current hot set size.
	HotRoutes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "server_hot_routes",
		Help: "Routes currently holding a hot-set slot.",
	})

	// MemoizedRoutes is the number of routes currently auto-memoized.
	MemoizedRoutes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "server_memoized_routes",
		Help: "Routes whose responses may be served from cache.",
	})

	// OptimizeCycles counts completed optimization cycles.
	OptimizeCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "server_optimize_cycles_total",
		Help: "Completed adaptive optimization cycles.",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		CacheHits,
		CacheMisses,
		HotRoutes,
		MemoizedRoutes,
		OptimizeCycles,
	)
}

// StatusClass collapses a status code into its class label ("2xx").
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
