package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pipestack/control-plane/internal/database"
	"github.com/pipestack/control-plane/internal/pkg/response"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting configuration.
// Deploys are heavyweight operations; the default limit is deliberately low.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
	}
}

// RateLimit returns a rate limiting middleware using Redis. On a Redis
// error the request is allowed through: availability wins over the limit.
func RateLimit(redis *database.Redis, cfg RateLimitConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:ip:%s", realIP(r))
			window := time.Minute

			count, err := redis.IncrWithExpire(r.Context(), key, window)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			limit := cfg.RequestsPerMinute
			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))

			if int(count) > limit+cfg.BurstSize {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				response.FailWithStatus(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// realIP extracts the client IP, considering proxies.
func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	return r.RemoteAddr
}
