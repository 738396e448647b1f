package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tracelink-lab/internal/config"
	"tracelink-lab/pkg/logger"
)

// RateLimitStore counts requests per client in fixed windows
type RateLimitStore interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error)
}

// RateLimiter returns middleware that implements rate limiting
func RateLimiter(store RateLimitStore, cfg config.RateLimitConfig, log *logger.Logger) func(next http.Handler) http.Handler {
	log = log.WithComponent("ratelimit")
	limit := cfg.RequestsPerMinute
	if limit <= 0 {
		limit = 60
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip rate limiting for OPTIONS
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			clientID := getClientID(r)

			allowed, remaining, resetTime, err := store.CheckRateLimit(r.Context(), clientID, int64(limit), time.Minute)
			if err != nil {
				// Fail open
				log.Warn().Err(err).Str("client", clientID).Msg("rate limit check failed")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				retry := int64(time.Until(resetTime).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientID returns a unique identifier for the client
func getClientID(r *http.Request) string {
	if apiKey := GetAPIKey(r.Context()); apiKey != "" {
		return fmt.Sprintf("key:%s", apiKey)
	}
	// RealIP has already rewritten RemoteAddr from forwarding headers
	return fmt.Sprintf("ip:%s", r.RemoteAddr)
}
