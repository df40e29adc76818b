// Package observability collects the Prometheus metrics the service
// exposes on /metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the Prometheus collectors for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	grantsTotal      *prometheus.CounterVec
	revokesTotal     *prometheus.CounterVec
	reconcileErrors  prometheus.Counter
	evictionFailures prometheus.Counter
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capsync_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capsync_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capsync_permission_grants_total",
		Help: "Permission grant calls sent to the authorization server.",
	}, []string{"principal_kind"})
	revokes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capsync_permission_revokes_total",
		Help: "Permission revoke calls sent to the authorization server.",
	}, []string{"principal_kind"})
	reconcileErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capsync_reconcile_errors_total",
		Help: "Reconciliation runs that finished with at least one failed principal.",
	})
	evictionFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capsync_cache_eviction_failures_total",
		Help: "Permission cache evictions that failed and were skipped.",
	})
	registry.MustRegister(requests, duration, grants, revokes, reconcileErrors, evictionFailures)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		grantsTotal:      grants,
		revokesTotal:     revokes,
		reconcileErrors:  reconcileErrors,
		evictionFailures: evictionFailures,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// GrantSent counts one grant call for the given principal kind.
func (m *Metrics) GrantSent(principalKind string) {
	if m == nil {
		return
	}
	m.grantsTotal.WithLabelValues(principalKind).Inc()
}

// RevokeSent counts one revoke call for the given principal kind.
func (m *Metrics) RevokeSent(principalKind string) {
	if m == nil {
		return
	}
	m.revokesTotal.WithLabelValues(principalKind).Inc()
}

// ReconcileError counts a reconciliation run with failed principals.
func (m *Metrics) ReconcileError() {
	if m == nil {
		return
	}
	m.reconcileErrors.Inc()
}

// EvictionFailure counts a skipped cache eviction.
func (m *Metrics) EvictionFailure() {
	if m == nil {
		return
	}
	m.evictionFailures.Inc()
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
