package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenantrbac/pkg/contextkeys"
	"github.com/platinummonkey/tenantrbac/pkg/httputil"
	"github.com/platinummonkey/tenantrbac/pkg/observability"
)

// WindowConfig defines a fixed-window request budget
type WindowConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultWindowConfig returns the anonymous budget
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
}

// PerActorWindowConfig returns the budget for identified actors
func PerActorWindowConfig() WindowConfig {
	return WindowConfig{RequestsPerWindow: 1000, WindowDuration: time.Minute}
}

// DistributedRateLimiter counts requests in Redis so every instance shares
// the same budget.
type DistributedRateLimiter struct {
	redis  redis.Cmdable
	config WindowConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(client redis.Cmdable, config WindowConfig, prefix string) *DistributedRateLimiter {
	if config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = DefaultWindowConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedRateLimiter{redis: client, config: config, prefix: prefix}
}

func (rl *DistributedRateLimiter) key(k string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, k)
}

// Allow counts one request for key and reports whether it is within budget
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	// the first request of a window starts its clock
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}
	return count <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}
	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the count for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// DistributedRateLimitMiddleware limits identified actors by actor id and
// everyone else by client address.
type DistributedRateLimitMiddleware struct {
	redis           redis.Cmdable
	actorLimiter    *DistributedRateLimiter
	anonLimiter     *DistributedRateLimiter
	trustProxy      bool
	fallbackEnabled bool
	logger          *observability.Logger
}

// NewDistributedRateLimitMiddleware creates a new Redis-backed rate limit middleware
func NewDistributedRateLimitMiddleware(client redis.Cmdable, actor, anonymous WindowConfig, trustProxy bool, logger *observability.Logger) *DistributedRateLimitMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &DistributedRateLimitMiddleware{
		redis:           client,
		actorLimiter:    NewDistributedRateLimiter(client, actor, "ratelimit:actor"),
		anonLimiter:     NewDistributedRateLimiter(client, anonymous, "ratelimit:anon"),
		trustProxy:      trustProxy,
		fallbackEnabled: true,
		logger:          logger.WithField("component", "rate_limit"),
	}
}

// Handler wraps an HTTP handler with distributed rate limiting
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limiter, key := m.anonLimiter, "ip:"+httputil.ClientIP(r, m.trustProxy)
		if actor := contextkeys.GetActorID(ctx); actor != "" {
			limiter, key = m.actorLimiter, "actor:"+actor
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			m.logger.WithContext(ctx).WithError(err).Warn("rate limit store unavailable")
			if m.fallbackEnabled {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteServiceUnavailable(w, "service temporarily unavailable")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerWindow))
		if !allowed {
			retryAfter := limiter.config.WindowDuration
			if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = ttl
			}
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}
		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		next.ServeHTTP(w, r)
	})
}

// SetFallbackEnabled controls whether to fail open (true) or closed (false) on Redis errors
func (m *DistributedRateLimitMiddleware) SetFallbackEnabled(enabled bool) {
	m.fallbackEnabled = enabled
}

// HealthCheck verifies Redis connectivity for rate limiting
func (m *DistributedRateLimitMiddleware) HealthCheck(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}
