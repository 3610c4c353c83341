package slogx

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

func TestNewWritesServiceAttributes(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := newWithWriter(Config{Service: "mcpbroker", Version: "v0", Env: "test", Level: "debug"}, &buf)
	logger.Debug("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "mcpbroker", line["service"])
	require.Equal(t, "v", line["k"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel("warning"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	require.Equal(t, slog.Default(), FromContext(context.Background()))

	l := Discard()
	require.Same(t, l, FromContext(WithContext(context.Background(), l)))
}

func TestHTTPMiddlewareSetsRequestID(t *testing.T) {
	var seen *slog.Logger
	h := HTTPMiddleware(Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	require.NotNil(t, seen)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestResponseWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	var _ http.Flusher = rw
	rw.Flush()
	require.True(t, rec.Flushed)
}
