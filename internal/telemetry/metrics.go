// Package telemetry provides observability primitives for the kirogate
// gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway (spec §5
// "Metrics counters must be atomic"; exposed at GET /api/metrics).
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	ActiveRequests        prometheus.Gauge
	CacheHits             prometheus.Counter
	CacheMisses           prometheus.Counter
	RateLimitRejects      *prometheus.CounterVec
	TokensProcessed       *prometheus.CounterVec // labels: model, type (input/output)
	CircuitBreakerState   *prometheus.GaugeVec   // labels: credential (0=closed, 1=open, 2=half_open)
	CircuitBreakerRejects *prometheus.CounterVec // labels: credential
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kirogate",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "kirogate",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kirogate",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kirogate",
			Name:      "compressor_cache_hits_total",
			Help:      "Total context compressor cache hits (L1+L2+L3).",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kirogate",
			Name:      "compressor_cache_misses_total",
			Help:      "Total context compressor cache misses requiring recomputation.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kirogate",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"type"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kirogate",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed per model.",
		}, []string{"model", "type"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kirogate",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per credential (0=closed, 1=open, 2=half_open).",
		}, []string{"credential"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kirogate",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by an open circuit breaker.",
		}, []string{"credential"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
	)

	return m
}
