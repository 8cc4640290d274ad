package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAdmission(OutcomeAdmittedRemote)
	m.ObserveAdmission(OutcomeAdmittedRemote)
	m.ObserveAdmission(OutcomeMissingToken)
	m.ObserveCacheLookup(CacheMiss)
	m.ObserveRateLimit("chat", false)
	m.IncTelemetryEvents()
	m.IncAuditDropped()

	if got := testutil.ToFloat64(m.admissions.WithLabelValues(OutcomeAdmittedRemote)); got != 2 {
		t.Errorf("admitted_remote = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.admissions.WithLabelValues(OutcomeMissingToken)); got != 1 {
		t.Errorf("missing_token = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues(CacheMiss)); got != 1 {
		t.Errorf("cache miss = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rateLimitDecisions.WithLabelValues("chat", "false")); got != 1 {
		t.Errorf("rate limit rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.telemetryEvents); got != 1 {
		t.Errorf("telemetry events = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.ObserveValidation(20 * time.Millisecond)
	m.ObserveAdmission(OutcomeExempt)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"simgen_admission_decisions_total",
		"simgen_token_validation_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAdmission(OutcomeExempt)
	m.ObserveCacheLookup(CacheHitValid)
	m.ObserveValidation(time.Second)
	m.ObserveRateLimit("default", true)
	m.IncTelemetryEvents()
	m.IncAuditDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
