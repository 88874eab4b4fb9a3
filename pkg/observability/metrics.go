package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. The Record* helpers are safe to call
// on a nil *Metrics so components can run without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Logout metrics
	LogoutsTotal         *prometheus.CounterVec
	SessionsExpiredTotal prometheus.Counter
	SessionsFailedTotal  prometheus.Counter
	SessionsRegistered   prometheus.Counter
	CleanupRemovedTotal  *prometheus.CounterVec

	// Identity provider metrics
	TokenRevocationsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Push channel metrics
	LiveConnections    prometheus.Gauge
	NotificationsTotal *prometheus.CounterVec

	RateLimitRejectionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssosync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_logouts_total",
				Help: "Total number of logout requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		SessionsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssosync_sessions_expired_total",
				Help: "Peer sessions expired by single sign-out",
			},
		),
		SessionsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssosync_sessions_failed_total",
				Help: "Peer sessions that could not be expired",
			},
		),
		SessionsRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssosync_sessions_registered_total",
				Help: "Session registrations received from the login flow",
			},
		),
		CleanupRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_cleanup_removed_total",
				Help: "Entries removed by periodic cleanup",
			},
			[]string{"kind"},
		),

		TokenRevocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_token_revocations_total",
				Help: "Token revocation strategy attempts by outcome",
			},
			[]string{"strategy", "outcome"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssosync_provider_request_duration_seconds",
				Help:    "Identity provider request duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30},
			},
			[]string{"operation"},
		),

		LiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssosync_live_connections",
				Help: "Registered push connections",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_notifications_total",
				Help: "Push notifications by type and delivery status",
			},
			[]string{"type", "status"},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"limiter"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LogoutsTotal,
		m.SessionsExpiredTotal,
		m.SessionsFailedTotal,
		m.SessionsRegistered,
		m.CleanupRemovedTotal,
		m.TokenRevocationsTotal,
		m.ProviderRequestDuration,
		m.LiveConnections,
		m.NotificationsTotal,
		m.RateLimitRejectionsTotal,
	)

	return m
}

// RecordLogout records a finished logout request
func (m *Metrics) RecordLogout(mode string, success bool, expired, failed int) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "partial"
	}
	m.LogoutsTotal.WithLabelValues(mode, outcome).Inc()
	m.SessionsExpiredTotal.Add(float64(expired))
	m.SessionsFailedTotal.Add(float64(failed))
}

func (m *Metrics) RecordSessionRegistered() {
	if m == nil {
		return
	}
	m.SessionsRegistered.Inc()
}

func (m *Metrics) RecordCleanup(kind string, removed int) {
	if m == nil || removed == 0 {
		return
	}
	m.CleanupRemovedTotal.WithLabelValues(kind).Add(float64(removed))
}

func (m *Metrics) RecordRevocation(strategy, outcome string) {
	if m == nil {
		return
	}
	m.TokenRevocationsTotal.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) ObserveProviderRequest(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) SetLiveConnections(n int) {
	if m == nil {
		return
	}
	m.LiveConnections.Set(float64(n))
}

func (m *Metrics) RecordNotification(kind, status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordRateLimitRejection(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(limiter).Inc()
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel prefers the mux route template so path parameters do not
// explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
