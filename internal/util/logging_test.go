package util

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	require.Same(t, slog.Default(), LoggerFromContext(context.Background()))
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := ContextWithLogger(context.Background(), custom)
	require.Same(t, custom, LoggerFromContext(ctx))
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	var buf bytes.Buffer
	InitLoggerTo(&buf, "info")

	h := WithRequestID(WithRequestLog("chat", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("X-Request-Id", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	require.Equal(t, "http_request", entry["msg"])
	require.Equal(t, "chat", entry["service"])
	require.Equal(t, "req-1", entry["request_id"])
	require.Equal(t, float64(http.StatusTeapot), entry["status"])
	require.Equal(t, false, entry["upgraded"])
}

func TestStatusRecorderHijackUnsupported(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rec.Hijack()
	require.Error(t, err)
}
