package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics (ops server)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Policy metrics
	DecisionsTotal *prometheus.CounterVec

	// Mutation metrics
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec

	// Audit metrics
	AuditEntriesTotal       *prometheus.CounterVec
	AuditWriteFailures      prometheus.Counter
	AuditPublishTotal       *prometheus.CounterVec
	AuditArchiveRunsTotal   *prometheus.CounterVec
	AuditArchivedEntries    prometheus.Counter
	AuditArchiveLastSuccess prometheus.Gauge

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timeguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeguard_authz_decisions_total",
				Help: "Total number of policy decisions",
			},
			[]string{"resource", "action", "outcome", "reason"},
		),

		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeguard_mutations_total",
				Help: "Total number of mutation attempts",
			},
			[]string{"resource", "action", "outcome"},
		),
		MutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timeguard_mutation_duration_seconds",
				Help:    "Mutation duration including the audit write",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"resource", "action"},
		),

		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeguard_audit_entries_total",
				Help: "Total number of committed audit entries",
			},
			[]string{"table", "action"},
		),
		AuditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timeguard_audit_write_failures_total",
				Help: "Audit writes that failed and rolled back their mutation",
			},
		),
		AuditPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeguard_audit_publish_total",
				Help: "Post-commit audit publish attempts",
			},
			[]string{"status"},
		),
		AuditArchiveRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeguard_audit_archive_runs_total",
				Help: "Audit archive runs",
			},
			[]string{"status"},
		),
		AuditArchivedEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timeguard_audit_archived_entries_total",
				Help: "Audit entries written to the archive",
			},
		),
		AuditArchiveLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timeguard_audit_archive_last_success_timestamp_seconds",
				Help: "Unix time of the last successful archive run",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timeguard_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timeguard_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timeguard_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timeguard_db_connections_wait_duration_seconds",
				Help: "Total time blocked waiting for a new connection",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.MutationsTotal,
		m.MutationDuration,
		m.AuditEntriesTotal,
		m.AuditWriteFailures,
		m.AuditPublishTotal,
		m.AuditArchiveRunsTotal,
		m.AuditArchivedEntries,
		m.AuditArchiveLastSuccess,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
	)

	return m
}

// RecordDBStats copies connection pool stats into the DB gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The route template is used as the path label when the router matched one.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
