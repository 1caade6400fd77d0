package api

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"ruleengine/metrics"
	"ruleengine/util/goroutine"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTimeout = 10 * time.Minute
	limiterCleanupTick = time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client token bucket keyed by client IP
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	logger   *zap.SugaredLogger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRateLimiter creates a limiter allowing requestsPerSecond per client with
// the given burst, and starts the idle-entry cleanup goroutine.
func NewRateLimiter(requestsPerSecond float64, burst int, logger *zap.SugaredLogger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	goroutine.Go(&rl.wg, "rate-limiter-cleanup", logger, rl.cleanup)
	return rl
}

// Allow reports whether a request from key may proceed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// cleanup periodically drops limiters for clients that have gone quiet
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(limiterCleanupTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now().Add(-limiterIdleTimeout))
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			evicted++
		}
	}
	if evicted > 0 {
		rl.logger.Debugw("Evicted idle rate limiters", "count", evicted, "remaining", len(rl.limiters))
	}
	return evicted
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
	rl.wg.Wait()
}

// rateLimitMiddleware rejects clients that exceed their token bucket with 429
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r, a.proxies)
		if !a.rateLimiter.Allow(ip) {
			metrics.RateLimitedRequests.Inc()
			a.logger.Warnw("Rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
			a.writeRateLimitResponse(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeRateLimitResponse writes a 429 Too Many Requests response with rate limit headers
func (a *API) writeRateLimitResponse(w http.ResponseWriter) {
	retryAfter := 1
	if a.rateLimiter.limit > 0 {
		retryAfter = int(math.Ceil(1 / float64(a.rateLimiter.limit)))
	}
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", float64(a.rateLimiter.limit)))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	a.respondJSON(w, errorResponse{Error: "rate limit exceeded", Code: "rate_limited"}, http.StatusTooManyRequests)
}
