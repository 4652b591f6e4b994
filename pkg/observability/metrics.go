package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration prometheus.Histogram

	// Administrative metrics
	MutationsTotal *prometheus.CounterVec

	// Effective-permission cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Audit metrics
	AuditEventsTotal     *prometheus.CounterVec
	AuditSinkErrorsTotal *prometheus.CounterVec
	AuditDroppedTotal    prometheus.Counter
	AuditArchivedTotal   prometheus.Counter

	// Business metrics
	EntitiesTotal *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantrbac_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantrbac_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantrbac_decisions_total",
				Help: "Authorization decisions by effect and reason",
			},
			[]string{"effect", "reason"},
		),
		DecisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenantrbac_decision_duration_seconds",
				Help:    "Time spent evaluating a permission check",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantrbac_mutations_total",
				Help: "Administrative mutations by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantrbac_role_cache_hits_total",
				Help: "Effective-permission cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantrbac_role_cache_misses_total",
				Help: "Effective-permission cache misses",
			},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantrbac_audit_events_total",
				Help: "Audit events recorded by severity",
			},
			[]string{"severity"},
		),
		AuditSinkErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantrbac_audit_sink_errors_total",
				Help: "Audit sink write failures",
			},
			[]string{"sink"},
		),
		AuditDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantrbac_audit_sink_dropped_total",
				Help: "Audit events not mirrored because the sink queue was full",
			},
		),
		AuditArchivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantrbac_audit_archived_events_total",
				Help: "Audit events written to archive objects",
			},
		),
		EntitiesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tenantrbac_entities",
				Help: "Number of stored entities by kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.MutationsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.AuditEventsTotal,
		m.AuditSinkErrorsTotal,
		m.AuditDroppedTotal,
		m.AuditArchivedTotal,
		m.EntitiesTotal,
	)

	return m
}

// ObserveDecision counts one authorization decision.
func (m *Metrics) ObserveDecision(effect, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(effect, reason).Inc()
	m.DecisionDuration.Observe(d.Seconds())
}

// ObserveMutation counts one administrative mutation.
func (m *Metrics) ObserveMutation(action string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.MutationsTotal.WithLabelValues(action, outcome).Inc()
}

// CacheHit counts an effective-permission cache hit.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHitsTotal.Inc()
	}
}

// CacheMiss counts an effective-permission cache miss.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMissesTotal.Inc()
	}
}

// AuditRecorded counts a recorded audit event.
func (m *Metrics) AuditRecorded(severity string) {
	if m != nil {
		m.AuditEventsTotal.WithLabelValues(severity).Inc()
	}
}

// AuditSinkError counts a failed sink write.
func (m *Metrics) AuditSinkError(sink string) {
	if m != nil {
		m.AuditSinkErrorsTotal.WithLabelValues(sink).Inc()
	}
}

// AuditDropped counts an event that could not be queued for the sinks.
func (m *Metrics) AuditDropped() {
	if m != nil {
		m.AuditDroppedTotal.Inc()
	}
}

// AuditArchived counts events written by the archiver.
func (m *Metrics) AuditArchived(n int) {
	if m != nil {
		m.AuditArchivedTotal.Add(float64(n))
	}
}

// SetEntities sets the gauge for one entity kind.
func (m *Metrics) SetEntities(kind string, n int) {
	if m != nil {
		m.EntitiesTotal.WithLabelValues(kind).Set(float64(n))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by mux route template to bound cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
