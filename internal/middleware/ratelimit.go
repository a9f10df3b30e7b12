package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reportdesk/internal/logger"
)

const (
	rateLimitWindow  = time.Minute
	rateLimitMaxIP   = 200
	rateLimitMaxUser = 100
)

// Limiter answers whether one more request under the key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string, max int) bool
}

// RedisLimiter counts requests in fixed windows via INCR + EXPIRE; counters
// are shared across instances.
type RedisLimiter struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, window: rateLimitWindow}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, max int) bool {
	bucket := "rate:" + key + ":" + strconv.FormatInt(time.Now().Unix()/int64(l.window.Seconds()), 10)
	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: rate limiting is protection, not correctness.
		logger.Errorf("ratelimit redis: %v", err)
		return true
	}
	return incr.Val() <= int64(max)
}

// MemoryLimiter is the single-instance fallback (dev mode, tests).
type MemoryLimiter struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	window time.Duration
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{times: make(map[string][]time.Time), window: rateLimitWindow}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, max int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-l.window)
	slice := l.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= max {
		return false
	}
	l.times[key] = append(slice, now)
	return true
}

// RateLimitAPI limits /api/* per IP and, when authenticated, per user.
func RateLimitAPI(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if x := r.Header.Get("X-Real-Ip"); x != "" {
				ip = x
			} else if x := r.Header.Get("X-Forwarded-For"); x != "" {
				ip = x
			}
			if !limiter.Allow(r.Context(), "ip:"+ip, rateLimitMaxIP) {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			if userID := GetUserID(r.Context()); userID != "" {
				if !limiter.Allow(r.Context(), "user:"+userID, rateLimitMaxUser) {
					http.Error(w, "too many requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
