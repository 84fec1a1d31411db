package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases on chart routes.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo call rate by outcome. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Weather API failures by category (see client.CategorizeError).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Weather lookups that joined an in-progress identical lookup instead of calling upstream.
	WeatherLookupsCoalescedTotal prometheus.Counter

	// Cache hits and misses by cache type (weather, workspace). Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors by cache type and operation. Watch for: memcached connectivity.
	CacheErrorsTotal *prometheus.CounterVec

	// Weather observations served from stale cache after an upstream failure.
	StaleCacheServesTotal prometheus.Counter

	// Workspaces created. Watch for: traffic volume.
	WorkspacesCreatedTotal prometheus.Counter

	// Dataset uploads by kind and result (ok, invalid_csv, empty, too_large, error).
	DatasetUploadsTotal *prometheus.CounterVec

	// Rows per accepted upload. Watch for: unexpectedly small files (truncated exports).
	DatasetRowsParsed *prometheus.HistogramVec

	// Events detected by site and type.
	EventsDetectedTotal *prometheus.CounterVec

	// Cross-check verdicts. Watch for: rising unavailable share (upstream trouble).
	CrossCheckVerdictsTotal *prometheus.CounterVec

	// Chart render latency by chart name.
	ChartRenderDuration *prometheus.HistogramVec

	// Circuit breaker state (0 closed, 1 open, 2 half_open) and transitions.
	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// In-flight requests observed when shutdown started.
	ShutdownInFlightRequests prometheus.Gauge

	trafficGaugesOnce sync.Once
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
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Weather API failures by error category",
		},
		[]string{"category"},
	)
	WeatherLookupsCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherLookupsCoalescedTotal",
			Help: "Weather lookups that shared an in-progress upstream call",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by cache type and operation",
		},
		[]string{"cacheType", "operation"},
	)
	StaleCacheServesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "staleCacheServesTotal",
			Help: "Weather observations served from stale cache after upstream failure",
		},
	)
	WorkspacesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workspacesCreatedTotal",
			Help: "Total number of analysis workspaces created",
		},
	)
	DatasetUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasetUploadsTotal",
			Help: "Dataset uploads by kind and result",
		},
		[]string{"kind", "result"},
	)
	DatasetRowsParsed = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datasetRowsParsed",
			Help:    "Rows per accepted dataset upload",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
		[]string{"kind"},
	)
	EventsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsDetectedTotal",
			Help: "Events detected by site and type",
		},
		[]string{"site", "type"},
	)
	CrossCheckVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossCheckVerdictsTotal",
			Help: "Event cross-check verdicts",
		},
		[]string{"verdict"},
	)
	ChartRenderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chartRenderDurationSeconds",
			Help:    "Chart rendering latency in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"chart"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half_open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests when graceful shutdown began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		WeatherLookupsCoalescedTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, StaleCacheServesTotal,
		WorkspacesCreatedTotal, DatasetUploadsTotal, DatasetRowsParsed,
		EventsDetectedTotal, CrossCheckVerdictsTotal, ChartRenderDuration,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal, ShutdownInFlightRequests,
	)
}

// TrafficCounter reports sliding-window request and denial counts.
type TrafficCounter interface {
	RequestCount(window time.Duration) int
	DenialCount(window time.Duration) int
}

// RegisterTrafficGauges registers load and rejects gauges backed by counter.
// Call from main after config load with cfg.OverloadWindow. Only the first call registers.
func RegisterTrafficGauges(counter TrafficCounter, window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(counter.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(counter.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordShutdownInFlight records the in-flight count at shutdown start.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
