package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
)

// LoginLimiter throttles login attempts per client IP before they reach the
// credential verifier. This is request-level protection; the account-level
// lockout lives in the credential store.
type LoginLimiter interface {
	Allow(ctx context.Context, ip string, now time.Time) (bool, time.Duration, error)
}

// RateLimitMiddleware rejects over-budget login requests with 429. Limiter
// backend failures fail open: losing throttling is preferable to losing login.
func RateLimitMiddleware(limiter LoginLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter, err := limiter.Allow(r.Context(), clientIP(r), time.Now().UTC())
		if err != nil {
			sentry.CaptureException(err)
			allowed = true
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RedisLoginLimiter counts hits in fixed windows: INCR plus a TTL set on the
// first hit of each window.
type RedisLoginLimiter struct {
	client  redis.UniversalClient
	maxHits int
	window  time.Duration
}

func NewRedisLoginLimiter(client redis.UniversalClient, maxHits int, window time.Duration) *RedisLoginLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLoginLimiter{client: client, maxHits: maxHits, window: window}
}

func (l *RedisLoginLimiter) Allow(ctx context.Context, ip string, now time.Time) (bool, time.Duration, error) {
	key := "auth:login:ip:" + ip

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, 0, err
		}
	}

	if count <= int64(l.maxHits) {
		return true, 0, nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl < time.Second {
		ttl = time.Second
	}
	return false, ttl, nil
}

// MemoryLoginLimiter is the single-process fallback used when no Redis is
// configured. Sliding window over in-memory hit timestamps.
type MemoryLoginLimiter struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	hitByIP   map[string][]time.Time
	maxMemory int
}

func NewMemoryLoginLimiter(maxHits int, window time.Duration) *MemoryLoginLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLoginLimiter{
		maxHits:   maxHits,
		window:    window,
		hitByIP:   make(map[string][]time.Time),
		maxMemory: 5000,
	}
}

func (l *MemoryLoginLimiter) Allow(_ context.Context, ip string, now time.Time) (bool, time.Duration, error) {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitByIP[ip]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= l.maxHits {
		retryAfter := filtered[0].Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		l.hitByIP[ip] = filtered
		return false, retryAfter, nil
	}

	filtered = append(filtered, now)
	l.hitByIP[ip] = filtered

	if len(l.hitByIP) > l.maxMemory {
		for key, value := range l.hitByIP {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(l.hitByIP, key)
			}
		}
	}

	return true, 0, nil
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
