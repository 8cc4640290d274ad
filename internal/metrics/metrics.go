// Package metrics defines the gateway's Prometheus collectors. Collectors are
// registered on an injected registry so tests can create isolated instances.
//
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simgen"

// Admission outcomes.
const (
	OutcomeExempt         = "exempt"
	OutcomeAdmittedCache  = "admitted_cache"
	OutcomeAdmittedRemote = "admitted_remote"
	OutcomeMissingToken   = "missing_token"
	OutcomeInvalidFormat  = "invalid_format"
	OutcomeCachedInvalid  = "cached_invalid"
	OutcomeRejected       = "rejected"
	OutcomeUnavailable    = "unavailable"
)

// Token cache lookup results.
const (
	CacheHitValid   = "hit_valid"
	CacheHitInvalid = "hit_invalid"
	CacheMiss       = "miss"
)

// Metrics holds the gateway collectors.
type Metrics struct {
	registry *prometheus.Registry

	admissions         *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	validationDuration prometheus.Histogram
	rateLimitDecisions *prometheus.CounterVec
	telemetryEvents    prometheus.Counter
	auditDropped       prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg gets a
// fresh registry with the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: reg,
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Token admission decisions by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_cache_lookups_total",
			Help:      "Token cache lookups by result.",
		}, []string{"result"}),
		validationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_validation_duration_seconds",
			Help:      "Latency of remote token validation calls.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 11),
		}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limit decisions by tier and result.",
		}, []string{"tier", "allowed"}),
		telemetryEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_total",
			Help:      "Client telemetry events received.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the write buffer was full.",
		}),
	}

	reg.MustRegister(
		m.admissions,
		m.cacheLookups,
		m.validationDuration,
		m.rateLimitDecisions,
		m.telemetryEvents,
		m.auditDropped,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveValidation(d time.Duration) {
	if m == nil {
		return
	}
	m.validationDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRateLimit(tier string, allowed bool) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(tier, strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) IncTelemetryEvents() {
	if m == nil {
		return
	}
	m.telemetryEvents.Inc()
}

func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}
