package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the service emits. Callers pass strings rather
// than domain types so this package stays import-free of the engines.
type Registry struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RateLimitDecisions *prometheus.CounterVec
	DDoSDecisions      *prometheus.CounterVec
	ThreatAlerts       *prometheus.CounterVec
	ValidationVerdicts *prometheus.CounterVec
	KeyValidations     *prometheus.CounterVec
	ArchiveDrops       prometheus.Counter
	StoreErrors        *prometheus.CounterVec
}

// NewRegistry builds and registers the metric set. Production passes
// prometheus.DefaultRegisterer; tests pass a private registry so repeated
// construction cannot collide.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_requests_total",
				Help: "Requests through the security middleware",
			},
			[]string{"route", "status", "tier"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "firewall_request_duration_seconds",
				Help:    "Request duration through the security middleware",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"route"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_ratelimit_decisions_total",
				Help: "Token bucket decisions by action",
			},
			[]string{"action"},
		),
		DDoSDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_ddos_decisions_total",
				Help: "DDoS guard decisions by action",
			},
			[]string{"action"},
		),
		ThreatAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_threat_alerts_total",
				Help: "Threat detector alerts by kind",
			},
			[]string{"kind"},
		),
		ValidationVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_validation_verdicts_total",
				Help: "Transaction validator verdicts",
			},
			[]string{"verdict"},
		),
		KeyValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_key_validations_total",
				Help: "API key validation attempts by outcome",
			},
			[]string{"outcome"},
		),
		ArchiveDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "firewall_archive_drops_total",
				Help: "Archive records dropped because the writer queue was full",
			},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firewall_store_errors_total",
				Help: "KV store operation failures by operation",
			},
			[]string{"op"},
		),
	}

	reg.MustRegister(
		r.RequestsTotal,
		r.RequestDuration,
		r.RateLimitDecisions,
		r.DDoSDecisions,
		r.ThreatAlerts,
		r.ValidationVerdicts,
		r.KeyValidations,
		r.ArchiveDrops,
		r.StoreErrors,
	)
	return r
}

// The helpers below tolerate a nil receiver so callers without a registry
// (tests, mostly) skip instrumentation instead of guarding every call.

// ObserveRequest records one completed request.
func (r *Registry) ObserveRequest(route string, status int, tier string, duration time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), tier).Inc()
	r.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RateLimitDecision counts one bucket decision.
func (r *Registry) RateLimitDecision(action string) {
	if r == nil {
		return
	}
	r.RateLimitDecisions.WithLabelValues(action).Inc()
}

// DDoSDecision counts one guard decision.
func (r *Registry) DDoSDecision(action string) {
	if r == nil {
		return
	}
	r.DDoSDecisions.WithLabelValues(action).Inc()
}

// ThreatAlert counts one fired alert.
func (r *Registry) ThreatAlert(kind string) {
	if r == nil {
		return
	}
	r.ThreatAlerts.WithLabelValues(kind).Inc()
}

// ValidationVerdict counts one validator verdict.
func (r *Registry) ValidationVerdict(verdict string) {
	if r == nil {
		return
	}
	r.ValidationVerdicts.WithLabelValues(verdict).Inc()
}

// KeyValidation counts one key validation attempt ("ok", "invalid",
// "inactive", "ip_blocked", "error").
func (r *Registry) KeyValidation(outcome string) {
	if r == nil {
		return
	}
	r.KeyValidations.WithLabelValues(outcome).Inc()
}

// ArchiveDrop counts one dropped archive record.
func (r *Registry) ArchiveDrop() {
	if r == nil {
		return
	}
	r.ArchiveDrops.Inc()
}

// StoreError counts one failed store operation.
func (r *Registry) StoreError(op string) {
	if r == nil {
		return
	}
	r.StoreErrors.WithLabelValues(op).Inc()
}
