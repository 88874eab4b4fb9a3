package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	assert.Panics(t, func() { NewMetrics(registry) }, "double registration must panic")
}

func TestMetrics_RecordHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLogout("complete", true, 2, 0)
	m.RecordLogout("global", false, 1, 1)
	m.RecordSessionRegistered()
	m.RecordCleanup("session", 3)
	m.RecordCleanup("connection", 0)
	m.RecordRevocation("grant_deletion", "revoked")
	m.ObserveProviderRequest("validate", 20*time.Millisecond)
	m.SetLiveConnections(4)
	m.RecordNotification("FORCE_LOGOUT", "sent")
	m.RecordRateLimitRejection("memory")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LogoutsTotal.WithLabelValues("complete", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LogoutsTotal.WithLabelValues("global", "partial")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsExpiredTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFailedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsRegistered))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CleanupRemovedTotal.WithLabelValues("session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRevocationsTotal.WithLabelValues("grant_deletion", "revoked")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("FORCE_LOGOUT", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitRejectionsTotal.WithLabelValues("memory")))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLogout("local", true, 0, 0)
		m.RecordSessionRegistered()
		m.RecordCleanup("session", 1)
		m.RecordRevocation("s", "o")
		m.ObserveProviderRequest("op", time.Second)
		m.SetLiveConnections(1)
		m.RecordNotification("t", "s")
		m.RecordRateLimitRejection("l")
	})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/items/{id}", "418")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordSessionRegistered()

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rec := httptest.NewRecorder()
	serveMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ssosync_sessions_registered_total 1"))
}
