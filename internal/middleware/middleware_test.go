package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/reviewly/internal/metrics"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func send(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =========================================================================
// RATE LIMITER
// =========================================================================

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimiter(ctx, RateLimitConfig{PerMinute: 60, Burst: 5})(ok)

	for range 5 {
		rec := send(h, "10.0.0.1:1000")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimiter(ctx, RateLimitConfig{PerMinute: 1, Burst: 2})(ok)

	for range 2 {
		require.Equal(t, http.StatusOK, send(h, "10.0.0.1:1000").Code)
	}

	rec := send(h, "10.0.0.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rate_limited", body["error"])
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimiter(ctx, RateLimitConfig{PerMinute: 1, Burst: 1})(ok)

	require.Equal(t, http.StatusOK, send(h, "10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "10.0.0.1:2000").Code, "same IP, other port")
	assert.Equal(t, http.StatusOK, send(h, "10.0.0.2:1000").Code, "other IP")
}

func TestRateLimiter_IgnoresForwardedFor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimiter(ctx, RateLimitConfig{PerMinute: 1, Burst: 1})(ok)

	require.Equal(t, http.StatusOK, send(h, "10.0.0.1:1000").Code)

	req := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
	req.RemoteAddr = "10.0.0.1:1000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// =========================================================================
// LOGGER + METRICS
// =========================================================================

func TestLogger_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request completed", entry["msg"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, len("short and stout"), entry["bytes"])
	assert.Equal(t, "/x", entry["path"])
}

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/api/admin/users/{ref}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, ref := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/admin/users/"+ref, nil))
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/admin/users/{ref}", "404"))
	assert.Equal(t, 3.0, got)
}
