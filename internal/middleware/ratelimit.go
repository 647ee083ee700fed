package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a fixed-window request limit in Redis. Windows are
// aligned to wall-clock buckets so the key carries its own expiry horizon,
// and the Retry-After hint is the time left in the current bucket rather
// than a full window.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		limit:  int64(limit),
		window: window,
	}
}

func (rl *RateLimiter) bucketKey(r *http.Request) (string, time.Duration) {
	scope := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		scope = host
	}
	if userID, ok := r.Context().Value(ctxUserIDKey).(uuid.UUID); ok && userID != uuid.Nil {
		scope = userID.String()
	}

	now := time.Now()
	bucket := now.Truncate(rl.window)
	remaining := rl.window - now.Sub(bucket)
	return "ratelimit:" + scope + ":" + strconv.FormatInt(bucket.Unix(), 10), remaining
}

// Limit counts the request against the caller's current bucket. Redis
// being unreachable fails open: throttling is protection, not correctness.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, left := rl.bucketKey(r)

		pipe := rl.redis.Pipeline()
		count := pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, rl.window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			next.ServeHTTP(w, r)
			return
		}

		used := count.Val()
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
		if used > rl.limit {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(int(left.Seconds())+1))
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(rl.limit-used, 10))
		next.ServeHTTP(w, r)
	})
}
