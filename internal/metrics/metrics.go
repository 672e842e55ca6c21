// Package metrics holds the Prometheus collectors for the server.
//
// Every collector is registered on a registry owned by Metrics, never on the
// global default one, so tests can build as many instances as they like.
// All recording methods are safe to call on a nil *Metrics (they do nothing),
// which keeps services usable without telemetry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reviewly"

type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Role management
	RoleChangesTotal         *prometheus.CounterVec
	PrincipalDeletionsTotal  *prometheus.CounterVec
	SessionsInvalidatedTotal prometheus.Counter
	InvalidationDegraded     prometheus.Counter

	// Contact form
	ContactSubmissionsTotal *prometheus.CounterVec
}

// New creates all collectors and registers them on a fresh registry along
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RoleChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_changes_total",
				Help:      "Role change attempts by outcome code (\"ok\" on success)",
			},
			[]string{"outcome"},
		),
		PrincipalDeletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "principal_deletions_total",
				Help:      "Principal deletion attempts by outcome code (\"ok\" on success)",
			},
			[]string{"outcome"},
		),
		SessionsInvalidatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_invalidated_total",
				Help:      "Session rows deleted after a role change or deletion",
			},
		),
		InvalidationDegraded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_invalidation_degraded_total",
				Help:      "Committed mutations whose session cleanup failed",
			},
		),
		ContactSubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contact_submissions_total",
				Help:      "Contact form submissions by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RoleChangesTotal,
		m.PrincipalDeletionsTotal,
		m.SessionsInvalidatedTotal,
		m.InvalidationDegraded,
		m.ContactSubmissionsTotal,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RoleChange(outcome string) {
	if m == nil {
		return
	}
	m.RoleChangesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PrincipalDeletion(outcome string) {
	if m == nil {
		return
	}
	m.PrincipalDeletionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionsInvalidated(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsInvalidatedTotal.Add(float64(n))
}

func (m *Metrics) SessionInvalidationDegraded() {
	if m == nil {
		return
	}
	m.InvalidationDegraded.Inc()
}

func (m *Metrics) ContactSubmission(result string) {
	if m == nil {
		return
	}
	m.ContactSubmissionsTotal.WithLabelValues(result).Inc()
}
