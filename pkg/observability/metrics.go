package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec

	// Token cache metrics
	TokenCacheHitsTotal   prometheus.Counter
	TokenCacheMissesTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	TxRetriesTotal      *prometheus.CounterVec

	// Business metrics
	OrganisationsTotal prometheus.Gauge
	MembershipsTotal   prometheus.Gauge
	ActiveTokensTotal  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_authz_decisions_total",
				Help: "Authorization resolver decisions by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		TokenCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roster_token_cache_hits_total",
				Help: "Bearer token cache hits",
			},
		),
		TokenCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roster_token_cache_misses_total",
				Help: "Bearer token cache misses",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roster_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roster_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		TxRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_tx_retries_total",
				Help: "Transaction retries on serialization conflicts",
			},
			[]string{"operation"},
		),
		OrganisationsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roster_organisations_total",
				Help: "Total number of organisations",
			},
		),
		MembershipsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roster_memberships_total",
				Help: "Total number of memberships",
			},
		),
		ActiveTokensTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "roster_api_tokens_active",
				Help: "Number of active API tokens",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthzDecisionsTotal,
		m.TokenCacheHitsTotal,
		m.TokenCacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.TxRetriesTotal,
		m.OrganisationsTotal,
		m.MembershipsTotal,
		m.ActiveTokensTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
