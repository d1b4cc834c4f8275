package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hestia/backend/internal/auth"
	"github.com/hestia/backend/internal/config"
	"github.com/hestia/backend/internal/logging"
	"github.com/hestia/backend/internal/metrics"
)

func TestKeyedRateLimiterRefillsOverTime(t *testing.T) {
	limiter := NewKeyedRateLimiter(config.RateLimitConfig{Requests: 1, Window: time.Second, Burst: 1, TTL: time.Minute})
	now := time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)
	limiter.SetNow(func() time.Time { return now })

	require.True(t, limiter.Allow("1.2.3.4"))
	require.False(t, limiter.Allow("1.2.3.4"))
	require.True(t, limiter.Allow("5.6.7.8"), "keys must not share a bucket")

	now = now.Add(time.Second)
	require.True(t, limiter.Allow("1.2.3.4"))
}

func TestKeyedRateLimiterEvictsIdleKeys(t *testing.T) {
	limiter := NewKeyedRateLimiter(config.RateLimitConfig{Requests: 1, Window: time.Hour, Burst: 1, TTL: time.Minute})
	now := time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)
	limiter.SetNow(func() time.Time { return now })

	require.True(t, limiter.Allow("a"))
	now = now.Add(2 * time.Minute)
	require.True(t, limiter.Allow("b"))

	limiter.mu.Lock()
	_, ok := limiter.visitors["a"]
	limiter.mu.Unlock()
	require.False(t, ok)
}

func TestKeyedRateLimiterSweepsOncePerTTL(t *testing.T) {
	limiter := NewKeyedRateLimiter(config.RateLimitConfig{Requests: 1, Window: time.Hour, Burst: 1, TTL: time.Minute})
	start := time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)
	now := start
	limiter.SetNow(func() time.Time { return now })

	limiter.Allow("x")
	now = start.Add(50 * time.Second)
	limiter.Allow("a")
	now = start.Add(100 * time.Second)
	limiter.Allow("b")
	require.Equal(t, 2, limiter.Len(), "x idles past the ttl and is swept")

	now = start.Add(155 * time.Second)
	limiter.Allow("c")
	require.Equal(t, 3, limiter.Len(), "a is idle but the last sweep was under a ttl ago")

	now = start.Add(160 * time.Second)
	limiter.Allow("d")
	limiter.mu.Lock()
	_, ok := limiter.visitors["a"]
	limiter.mu.Unlock()
	require.False(t, ok)
	require.Equal(t, 3, limiter.Len())
}

type denyAll struct{ keys []string }

func (d *denyAll) Allow(key string) bool {
	d.keys = append(d.keys, key)
	return false
}

func TestRateLimitRejectsWith429(t *testing.T) {
	limiter := &denyAll{}
	handler := RateLimit(limiter, "login", true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, []string{"login:203.0.113.9"}, limiter.keys)
	require.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())
}

func TestRateLimitIgnoresForwardedForWithoutTrustedProxy(t *testing.T) {
	limiter := &denyAll{}
	handler := RateLimit(limiter, "login", false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	for _, forwarded := range []string{"203.0.113.9", "198.51.100.7"} {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "192.0.2.44:5000"
		req.Header.Set("X-Forwarded-For", forwarded)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Equal(t, []string{"login:192.0.2.44", "login:192.0.2.44"}, limiter.keys)
}

func TestRateLimitNilLimiterPassesThrough(t *testing.T) {
	handler := RateLimit(nil, "login", false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	assert.Equal(t, "192.0.2.1", clientIP(req, true))

	req.RemoteAddr = "not-an-address"
	assert.Equal(t, "not-an-address", clientIP(req, true))
}

func TestRequestLoggerAttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "request completed", line["msg"])
	require.Equal(t, seen, line["request_id"])
	require.EqualValues(t, http.StatusCreated, line["status"])
}

func TestRequestLoggerKeepsValidIncomingID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	const id = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "../../etc/passwd")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.NotEqual(t, "../../etc/passwd", rec.Header().Get(RequestIDHeader))
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type stubAuthenticator struct {
	tokens map[string]string
}

func (s stubAuthenticator) Authenticate(token string) (string, error) {
	if username, ok := s.tokens[token]; ok {
		return username, nil
	}
	return "", auth.ErrInvalidAccessToken
}

func TestAuthenticate(t *testing.T) {
	authenticator := stubAuthenticator{tokens: map[string]string{"good": "alice"}}
	handler := Authenticate(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(auth.UsernameFromContext(r.Context())))
	}))

	tests := []struct {
		name     string
		prepare  func(*http.Request)
		status   int
		username string
	}{
		{name: "missing token", prepare: func(*http.Request) {}, status: http.StatusUnauthorized},
		{name: "bearer header", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, status: http.StatusOK, username: "alice"},
		{name: "session cookie", prepare: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good"}) }, status: http.StatusOK, username: "alice"},
		{name: "wrong scheme", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Basic good") }, status: http.StatusUnauthorized},
		{name: "unknown token", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }, status: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/current-user", nil)
			tc.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				require.Equal(t, tc.username, rec.Body.String())
			}
		})
	}
}

func TestMetricsLabelsByPattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/profile-pic/{username}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := Metrics(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile-pic/alice", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range families {
		if family.GetName() != "hestia_http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["route"] == "GET /api/profile-pic/{username}" && labels["status"] == "404" {
				found = true
			}
		}
	}
	require.True(t, found, "expected a sample labelled with the route pattern")
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	recorder := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, err := recorder.Write([]byte("ok"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, recorder.Status())

	recorder.WriteHeader(http.StatusTeapot)
	require.Equal(t, http.StatusOK, recorder.Status(), "status is fixed once written")
}
