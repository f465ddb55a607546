package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus series blockrunproxy exports, scoped to
// its own prometheus.Registry so multiple instances (e.g. in tests) never
// collide on the global default registry.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	CostUSD        *prometheus.CounterVec
	SavingsRatio   prometheus.Histogram

	RateLimitedTotal prometheus.Counter

	DedupHitsTotal   prometheus.Counter
	DedupMissesTotal prometheus.Counter

	FallbackAttemptsTotal *prometheus.CounterVec
	TierDistributionTotal *prometheus.CounterVec

	// CircuitBreakerState is labeled by model (0=closed, 1=open, 2=half-open).
	CircuitBreakerState *prometheus.GaugeVec
}

// New builds a Registry with every series registered and ready to record.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrunproxy_requests_total",
			Help: "Total chat completion requests routed through the proxy",
		}, []string{"tier", "model", "provider", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blockrunproxy_request_latency_ms",
			Help:    "Upstream request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"tier", "model", "provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrunproxy_cost_usd_total",
			Help: "Estimated USD cost of dispatched requests",
		}, []string{"model", "provider"}),
		SavingsRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockrunproxy_compression_savings_ratio",
			Help:    "Fraction of request bytes removed by the compression pipeline",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockrunproxy_rate_limited_total",
			Help: "Total requests rejected by the per-IP rate limiter",
		}),
		DedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockrunproxy_dedup_hits_total",
			Help: "Total requests served from the dedup cache (completed or in-flight)",
		}),
		DedupMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockrunproxy_dedup_misses_total",
			Help: "Total requests that required a fresh upstream dispatch",
		}),
		FallbackAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrunproxy_fallback_attempts_total",
			Help: "Total upstream attempts made across the fallback chain, by tier",
		}, []string{"tier"}),
		TierDistributionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrunproxy_tier_distribution_total",
			Help: "Total requests classified into each complexity tier",
		}, []string{"tier"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blockrunproxy_circuit_breaker_state",
			Help: "Per-model circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"model"}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestLatency,
		m.CostUSD,
		m.SavingsRatio,
		m.RateLimitedTotal,
		m.DedupHitsTotal,
		m.DedupMissesTotal,
		m.FallbackAttemptsTotal,
		m.TierDistributionTotal,
		m.CircuitBreakerState,
	)
	return m
}

// Handler returns an http.Handler serving this Registry's metrics in the
// Prometheus text exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
