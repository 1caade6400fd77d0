package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ruleengine/config"
	"ruleengine/metrics"
	"ruleengine/service"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestRateLimiter_AllowPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 2, zap.NewNop().Sugar())
	defer rl.Close()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst exhausted")

	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, zap.NewNop().Sugar())
	defer rl.Close()

	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 0, rl.evictIdle(time.Now().Add(-time.Minute)))
	assert.Equal(t, 2, rl.evictIdle(time.Now().Add(time.Second)))

	// An evicted client starts with a full bucket
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, zap.NewNop().Sugar())
	rl.Close()
	assert.NotPanics(t, rl.Close)
}

func TestRateLimitMiddleware(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	svc := service.NewRuleService(nil, logger, service.Options{})
	cfg := testConfig(0.5, 1)
	// httptest requests arrive from 192.0.2.1
	cfg.API.TrustedProxies = []string{"192.0.2.1", "10.0.0.0/8"}
	a := NewAPI(svc, nil, cfg, logger)
	defer a.Stop(context.Background())

	before := testutil.ToFloat64(metrics.RateLimitedRequests)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/catalog", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.99")
		rr := httptest.NewRecorder()
		a.Handler().ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusOK, send("203.0.113.7").Code)

	rr := send("203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "rate_limited", decode[errorResponse](t, rr).Code)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitedRequests))

	assert.Equal(t, http.StatusOK, send("198.51.100.4").Code)
}

func TestRateLimitMiddleware_IgnoresSpoofedForwarding(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	svc := service.NewRuleService(nil, logger, service.Options{})
	a := NewAPI(svc, nil, testConfig(0.5, 1), logger)
	defer a.Stop(context.Background())

	send := func(forwarded string) int {
		req := httptest.NewRequest("GET", "/api/v1/catalog", nil)
		req.RemoteAddr = "198.51.100.20:4000"
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
		rr := httptest.NewRecorder()
		a.Handler().ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, send("203.0.113.1"))
	// A fresh header per request must not buy a fresh bucket
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.3"))
}

func TestGetClientIP(t *testing.T) {
	trusted, err := (&config.APIConfig{TrustedProxies: []string{"9.9.9.9", "10.0.0.0/8"}}).TrustedProxyNets()
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded through trusted hops", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.1.1.1"}, "9.9.9.9:1", "1.2.3.4"},
		{"rightmost untrusted hop wins", map[string]string{"X-Forwarded-For": "6.6.6.6, 1.2.3.4"}, "9.9.9.9:1", "1.2.3.4"},
		{"single forwarded", map[string]string{"X-Forwarded-For": " 1.2.3.4 "}, "9.9.9.9:1", "1.2.3.4"},
		{"real ip from proxy", map[string]string{"X-Real-IP": "4.3.2.1"}, "10.2.3.4:1", "4.3.2.1"},
		{"forwarded from untrusted peer", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "8.8.8.8:1", "8.8.8.8"},
		{"real ip from untrusted peer", map[string]string{"X-Real-IP": "4.3.2.1"}, "8.8.8.8:1", "8.8.8.8"},
		{"remote addr", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"remote without port", nil, "8.8.8.8", "8.8.8.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req, trusted))
		})
	}

	t.Run("no trusted proxies", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "9.9.9.9:1"
		req.Header.Set("X-Forwarded-For", "1.2.3.4")
		assert.Equal(t, "9.9.9.9", getClientIP(req, nil))
	})
}

func TestSanitizeErrorMessage(t *testing.T) {
	msg := sanitizeErrorMessage("open /var/lib/ruleengine/rules.db: permission denied", true)
	assert.NotContains(t, msg, "/var/lib")
	assert.Contains(t, msg, "[FILE_PATH]")

	msg = sanitizeErrorMessage("dial redis://user:pw@cache:6379 failed", true)
	assert.Contains(t, msg, "[DATABASE_CONNECTION]")

	// Client errors keep their text
	assert.Equal(t, "department = 'a/b/c'", sanitizeErrorMessage("department = 'a/b/c'", false))

	long := sanitizeErrorMessage(string(make([]byte, 1000)), false)
	assert.Len(t, long, maxErrorMessageLength)
}
