package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/artpar/bulwark/adapters/metrics"
)

func TestNewWithRegistry_RegistersEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RequestsTotal.WithLabelValues("GET", "/x", "2xx").Inc()
	m.RateLimitChecks.WithLabelValues("general", "allowed").Inc()
	m.BreakerChanged("billing", "closed", "open")
	m.ErrorsTotal.WithLabelValues("validation", "low").Inc()
	m.AuditRecords.WithLabelValues("user.delete", "success").Inc()
	m.UpstreamErrors.WithLabelValues("billing", "timeout").Inc()
	m.AuditStoreErrors.Inc()
	m.ConfigReloads.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"bulwark_requests_total",
		"bulwark_rate_limit_checks_total",
		"bulwark_circuit_breaker_state",
		"bulwark_circuit_breaker_transitions_total",
		"bulwark_errors_total",
		"bulwark_audit_records_total",
		"bulwark_upstream_errors_total",
		"bulwark_audit_store_errors_total",
		"bulwark_config_reloads_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	// Two collectors on separate registries must not collide.
	metrics.NewWithRegistry(prometheus.NewRegistry())
	metrics.NewWithRegistry(prometheus.NewRegistry())
}

func TestBreakerChanged(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.BreakerChanged("billing", "closed", "open")
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("billing")); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
	m.BreakerChanged("billing", "open", "half-open")
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("billing")); got != 1 {
		t.Errorf("state = %v, want 1", got)
	}
	m.BreakerChanged("billing", "half-open", "closed")
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("billing")); got != 0 {
		t.Errorf("state = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.BreakerTransitions.WithLabelValues("billing", "closed", "open")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/health", "/health"},
		{"/api/users/123", "/api/users/:id"},
		{"/api/users/123/orders/456", "/api/users/:id/orders/:id"},
		{"/api/items/0b5c1a2e-8f7d-4e1a-9c3b-2d4e6f8a0b1c", "/api/items/:id"},
		{"/api/cafe", "/api/cafe"},
		{"/admin/breakers/billing/reset", "/admin/breakers/billing/reset"},
	}
	for _, tt := range tests {
		if got := metrics.NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
