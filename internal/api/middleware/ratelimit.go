package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/riskforge/riskforge/internal/api/response"
	"github.com/riskforge/riskforge/internal/cache"
)

const (
	defaultReadsPerMinute  = 120
	defaultWritesPerMinute = 30

	rateLimitWindow = 60 * time.Second
)

// RateLimit enforces per-key fixed-window limits via Redis. Reads and writes
// draw from separate windows: a submission creates durable rows and queue
// work, so writes get a tighter budget than status polling.
type RateLimit struct {
	cache        cache.Cache
	readsPerMin  int
	writesPerMin int
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, readsPerMin, writesPerMin int) *RateLimit {
	if readsPerMin <= 0 {
		readsPerMin = defaultReadsPerMinute
	}
	if writesPerMin <= 0 {
		writesPerMin = defaultWritesPerMinute
	}
	return &RateLimit{cache: c, readsPerMin: readsPerMin, writesPerMin: writesPerMin}
}

// Limit applies rate limiting based on the key_prefix set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			// No key prefix means auth middleware didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		limit, class := rl.readsPerMin, "read"
		if isWrite(r.Method) {
			limit, class = rl.writesPerMin, "write"
		}

		key := cache.RateLimitKey(prefix, class)
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, rateLimitWindow)
		if err != nil {
			// On Redis error, allow the request (fail open)
			next.ServeHTTP(w, r)
			return
		}

		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		resetTime := time.Now().Add(rateLimitWindow).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))

		if count > int64(limit) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
