package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetConnections(3)
	m.Frame("ok")
	m.Message("socket", "ok")
	m.Delivery("chat", true)
	m.PresenceBroadcast()

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	require.NotNil(t, m.InstrumentRoute("x", h))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.SetConnections(2)
	m.Frame("ok")
	m.Frame("ok")
	m.Message("socket", "ok")
	m.Delivery("chat", false)
	m.PresenceBroadcast()

	require.Equal(t, float64(2), testutil.ToFloat64(m.connections))
	require.Equal(t, float64(2), testutil.ToFloat64(m.frames.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.deliveries.WithLabelValues("chat", "skipped")))

	h := m.InstrumentRoute("users", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/users", nil))
	require.Equal(t, float64(1), testutil.ToFloat64(m.httpRequests.WithLabelValues("users", "201", "post")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "nexus_chat_realtime_connections 2"))
}
