package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kosumphisai/koshare/backend/internal/counter"
)

// RateLimiter throttles requests per client address using a counter store
// window. Store failures let the request through.
type RateLimiter struct {
	store  counter.Store
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(store counter.Store, limit int, window time.Duration, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Handler returns middleware enforcing the limit
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + clientIP(r)
		n, err := rl.store.Increment(r.Context(), key, rl.window)
		if err != nil {
			rl.logger.Error("Rate limit counter failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.limit - int(n)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if int(n) > rl.limit {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			WriteError(w, r, http.StatusTooManyRequests, CodeRateLimited, "Too many requests, please try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr, which chi's RealIP middleware
// rewrites from proxy headers
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
