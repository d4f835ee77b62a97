package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"threatmesh/internal/config"
	"threatmesh/internal/infrastructure/cache"
)

// monitoring endpoints stay reachable even for a throttled caller
var rateLimitExempt = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// RateLimiter returns middleware enforcing a fixed-window request
// budget per caller, counted in Redis so the limit holds across
// replicas. Callers are keyed by their API key identity when present,
// falling back to the client address for unauthenticated traffic.
func RateLimiter(c *cache.RedisCache, cfg config.RateLimitConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil || r.Method == http.MethodOptions || rateLimitExempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetTime, err := c.CheckRateLimit(
				r.Context(),
				clientKey(r),
				int64(cfg.RequestsPerMinute),
				time.Minute,
			)
			if err != nil {
				// Redis being down must not take the API down with it
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(resetTime).Seconds()), 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller for rate accounting
func clientKey(r *http.Request) string {
	if actor := GetActorHash(r.Context()); actor != "" {
		return fmt.Sprintf("actor:%s", actor)
	}

	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return fmt.Sprintf("ip:%s", ip)
}
