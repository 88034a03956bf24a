package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-ledger/pkg/clock"
	"github.com/prohmpiriya/ticket-ledger/pkg/logger"
	"github.com/prohmpiriya/ticket-ledger/pkg/response"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per key
	RequestsPerSecond float64
	// Burst is the token bucket capacity
	Burst int
	// KeyPrefix namespaces Redis keys
	KeyPrefix string
	// CleanupInterval controls how often idle local buckets are evicted
	CleanupInterval time.Duration
	// EntryTTL is how long an idle local bucket is kept
	EntryTTL time.Duration
	// KeyFunc derives the limit key; defaults to the client IP
	KeyFunc func(c *gin.Context) string
	// Clock stamps Redis bucket refills; defaults to the wall clock
	Clock clock.Clock
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             40,
		KeyPrefix:         "ledger:ratelimit:",
		CleanupInterval:   time.Minute,
		EntryTTL:          5 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// LocalRateLimiter keeps one token bucket per key in memory
type LocalRateLimiter struct {
	config  RateLimitConfig
	entries sync.Map
	stop    chan struct{}
	once    sync.Once

	totalAllowed  atomic.Uint64
	totalRejected atomic.Uint64
}

// NewLocalRateLimiter creates a new local rate limiter
func NewLocalRateLimiter(config RateLimitConfig) *LocalRateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = 5 * time.Minute
	}
	rl := &LocalRateLimiter{
		config: config,
		stop:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow implements Limiter
func (rl *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	v, ok := rl.entries.Load(key)
	if !ok {
		v, _ = rl.entries.LoadOrStore(key, &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		})
	}
	e := v.(*limiterEntry)
	e.lastSeen.Store(now.UnixNano())

	if e.limiter.AllowN(now, 1) {
		rl.totalAllowed.Add(1)
		return true, nil
	}
	rl.totalRejected.Add(1)
	return false, nil
}

// GetStats returns rate limiter statistics
func (rl *LocalRateLimiter) GetStats() (allowed, rejected uint64) {
	return rl.totalAllowed.Load(), rl.totalRejected.Load()
}

func (rl *LocalRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now().Add(-rl.config.EntryTTL))
		case <-rl.stop:
			return
		}
	}
}

func (rl *LocalRateLimiter) evictIdle(cutoff time.Time) {
	rl.entries.Range(func(key, value interface{}) bool {
		if value.(*limiterEntry).lastSeen.Load() < cutoff.UnixNano() {
			rl.entries.Delete(key)
		}
		return true
	})
}

// Stop stops the cleanup goroutine
func (rl *LocalRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// tokenBucketScript refills and takes one token atomically; it returns {allowed, tokens}
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(data[1]) or burst
local last_update = tonumber(data[2]) or now

local elapsed = math.max(0, now - last_update)
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_update", now)
redis.call("EXPIRE", key, ttl)
return {allowed, math.floor(tokens)}
`)

// RedisRateLimiter shares token buckets across ledger-server replicas
type RedisRateLimiter struct {
	config RateLimitConfig
	client redis.Scripter
	ttl    int
}

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(client redis.Scripter, config RateLimitConfig) *RedisRateLimiter {
	// Keep a bucket long enough to refill completely
	ttl := 60
	if config.RequestsPerSecond > 0 {
		if full := int(math.Ceil(float64(config.Burst)/config.RequestsPerSecond)) + 1; full > ttl {
			ttl = full
		}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &RedisRateLimiter{config: config, client: client, ttl: ttl}
}

// Allow implements Limiter
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(rl.config.Clock.Now().UnixNano()) / 1e9

	values, err := tokenBucketScript.Run(ctx, rl.client,
		[]string{rl.config.KeyPrefix + key},
		rl.config.RequestsPerSecond,
		rl.config.Burst,
		now,
		rl.ttl,
	).Slice()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	if len(values) < 1 {
		return false, fmt.Errorf("unexpected rate limit result length %d", len(values))
	}

	allowed, _ := values[0].(int64)
	return allowed == 1, nil
}

// RateLimiter creates a rate limiting middleware on limiter.
// Limiter errors fail open.
func RateLimiter(limiter Limiter, config RateLimitConfig) gin.HandlerFunc {
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	limit := strconv.FormatFloat(config.RequestsPerSecond, 'f', -1, 64)

	return func(c *gin.Context) {
		key := keyFunc(c)

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.WarnCtx(c.Request.Context(), "rate limiter unavailable, allowing request",
				zap.String("key", key), zap.Error(err))
			allowed = true
		}

		c.Header("X-RateLimit-Limit", limit)

		if !allowed {
			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.TooManyRequests(""))
			return
		}

		c.Next()
	}
}
