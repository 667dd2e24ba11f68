package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream fetches per source and outcome. Watch for: one source dominating errors.
	SourceFetchesTotal *prometheus.CounterVec

	// Upstream latency per source. Mirrors the statistics tracker in seconds.
	SourceFetchDuration *prometheus.HistogramVec

	// Upstream errors per source and category (see client.CategorizeError).
	SourceErrorsTotal *prometheus.CounterVec

	// Breaker state per source: 0 closed, 1 half_open, 2 open.
	SourceBreakerState *prometheus.GaugeVec

	// Aggregation calls by result (hit, fetched, failed, empty).
	AggregationsTotal *prometheus.CounterVec

	// End-to-end aggregation latency including cache lookup.
	AggregationDuration prometheus.Histogram

	// Cache hits and misses. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors, degraded to a miss or an unstored result.
	CacheErrorsTotal *prometheus.CounterVec

	// Entries removed by the janitor.
	CacheExpiredPurgedTotal prometheus.Counter

	// Concurrent misses for one key while a fetch was already running.
	CacheStampedeConcurrentMisses prometheus.Histogram

	// Requests that joined an in-flight aggregation instead of fanning out.
	CoalescedRequestsTotal prometheus.Counter

	// Cache warming runs, failures, and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	windowGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	SourceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourceFetchesTotal",
			Help: "Total number of upstream weather source fetches",
		},
		[]string{"source", "status"},
	)
	SourceFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sourceFetchDurationSeconds",
			Help:    "Upstream weather source latency in seconds (per fetch)",
			Buckets: []float64{.05, .1, .2, .5, 1, 2.5, 5, 10},
		},
		[]string{"source", "status"},
	)
	SourceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourceErrorsTotal",
			Help: "Upstream weather source errors by category",
		},
		[]string{"source", "category"},
	)
	SourceBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sourceBreakerState",
			Help: "Circuit breaker state per source (0 closed, 1 half_open, 2 open)",
		},
		[]string{"source"},
	)
	AggregationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregationsTotal",
			Help: "Total number of aggregation calls by result",
		},
		[]string{"result"},
	)
	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregationDurationSeconds",
			Help:    "Aggregation latency in seconds including cache lookup",
			Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of aggregation cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of aggregation cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"op"},
	)
	CacheExpiredPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheExpiredPurgedTotal",
			Help: "Expired cache entries removed by the janitor",
		},
	)
	CacheStampedeConcurrentMisses = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrentMisses",
			Help:    "Concurrent cache misses observed for one key",
			Buckets: []float64{1, 2, 5, 10, 25, 50},
		},
	)
	CoalescedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedRequestsTotal",
			Help: "Aggregation requests served by joining an in-flight fetch",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed location",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		SourceFetchesTotal, SourceFetchDuration, SourceErrorsTotal, SourceBreakerState,
		AggregationsTotal, AggregationDuration,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheExpiredPurgedTotal,
		CacheStampedeConcurrentMisses, CoalescedRequestsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		RateLimitDeniedTotal,
	)
}

// WindowCounter reports counts over a sliding window. Implemented by traffic.Tracker.
type WindowCounter interface {
	RequestCount() int
	DenialCount() int
	ErrorRate() (errors, total int)
}

// RegisterWindowGauges registers load, reject and error gauges backed by the tracker.
// Call from main after the tracker exists; later calls are no-ops.
func RegisterWindowGauges(w WindowCounter) {
	windowGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(w.RequestCount()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(w.DenialCount()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "aggregationErrorsInWindow",
					Help: "Failed aggregations in sliding window; drives degraded health",
				},
				func() float64 {
					errs, _ := w.ErrorRate()
					return float64(errs)
				},
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
