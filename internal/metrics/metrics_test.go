package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.reg == nil {
		t.Fatal("expected non-nil prometheus registry")
	}
	if r.RequestsTotal == nil {
		t.Fatal("expected non-nil RequestsTotal counter")
	}
	if r.RequestLatency == nil {
		t.Fatal("expected non-nil RequestLatency histogram")
	}
	if r.CostUSD == nil {
		t.Fatal("expected non-nil CostUSD counter")
	}
}

func TestHandlerNonNil(t *testing.T) {
	r := New()
	h := r.Handler()
	if h == nil {
		t.Fatal("expected non-nil http.Handler from Handler()")
	}
}

func TestMetricsCanBeCollected(t *testing.T) {
	r := New()

	r.RequestsTotal.WithLabelValues("simple", "gpt-4o-mini", "openai", "200").Inc()
	r.CostUSD.WithLabelValues("gpt-4o-mini", "openai").Add(0.01)
	r.RequestLatency.WithLabelValues("simple", "gpt-4o-mini", "openai").Observe(150.0)
	r.DedupHitsTotal.Inc()
	r.DedupMissesTotal.Inc()
	r.FallbackAttemptsTotal.WithLabelValues("complex").Inc()
	r.TierDistributionTotal.WithLabelValues("simple").Inc()
	r.CircuitBreakerState.WithLabelValues("openai/gpt-4o-mini").Set(0)
	r.SavingsRatio.Observe(0.35)

	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one metric family after recording values")
	}

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	want := []string{
		"blockrunproxy_requests_total",
		"blockrunproxy_request_latency_ms",
		"blockrunproxy_cost_usd_total",
		"blockrunproxy_dedup_hits_total",
		"blockrunproxy_dedup_misses_total",
		"blockrunproxy_fallback_attempts_total",
		"blockrunproxy_tier_distribution_total",
		"blockrunproxy_circuit_breaker_state",
		"blockrunproxy_compression_savings_ratio",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected metric %q in gathered metrics", name)
		}
	}
}

func TestMultipleRegistriesAreIndependent(t *testing.T) {
	r1 := New()
	r2 := New()

	r1.RequestsTotal.WithLabelValues("simple", "gpt-4o-mini", "openai", "200").Inc()

	mfs, err := r2.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil && m.GetCounter().GetValue() > 0 {
				t.Error("r2 should not have any non-zero counters")
			}
		}
	}
	_ = r1
}

func TestRegisteredMetricDescriptions(t *testing.T) {
	r := New()

	ch := make(chan *prometheus.Desc, 10)
	go func() {
		r.RequestsTotal.Describe(ch)
		r.RequestLatency.Describe(ch)
		r.CostUSD.Describe(ch)
		close(ch)
	}()

	count := 0
	for range ch {
		count++
	}
	if count != 3 {
		t.Errorf("expected 3 metric descriptors, got %d", count)
	}
}
