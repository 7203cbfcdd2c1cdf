// Package ratelimit provides distributed sliding-window rate limiting using Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

var _ service.RateLimitService = (*RedisRateLimiter)(nil)

// slidingWindowScript trims entries older than the window, then admits the hit
// only when the remaining count is below the limit. Returns {allowed, remaining, retry_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return {1, limit - count - 1, 0}
end

local retry = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
end
if retry < 1 then
    retry = 1
end
return {0, 0, retry}
`)

// RedisRateLimiter implements the two issuance tiers on Redis sorted sets.
type RedisRateLimiter struct {
	client redis.UniversalClient
	logger logger.Logger
	local  *LocalLimiterPool
	now    func() time.Time

	mu  sync.RWMutex
	cfg config.RateLimitConfig
}

// NewRedisRateLimiter creates a limiter enforcing cfg.
func NewRedisRateLimiter(client redis.UniversalClient, cfg config.RateLimitConfig, log logger.Logger) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, errors.ErrInvalidRequest("redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rl := &RedisRateLimiter{
		client: client,
		logger: log.WithComponent("ratelimit"),
		local:  NewLocalLimiterPool(),
		now:    time.Now,
		cfg:    cfg,
	}
	rl.logger.Info(context.Background(), "Redis rate limiter initialized",
		logger.Bool("enabled", cfg.Enabled),
		logger.Int("ip_limit", cfg.IP.Limit),
		logger.Duration("ip_window", cfg.IP.Window),
		logger.Int("gym_purpose_ip_limit", cfg.GymPurposeIP.Limit),
		logger.Duration("gym_purpose_ip_window", cfg.GymPurposeIP.Window),
		logger.Bool("local_fallback", cfg.FallbackToLocal),
	)
	return rl, nil
}

// WithClock overrides the time source. Test only.
func (rl *RedisRateLimiter) WithClock(now func() time.Time) *RedisRateLimiter {
	rl.now = now
	rl.local.now = now
	return rl
}

// UpdateConfig swaps the thresholds in place. Invalid configs are rejected
// and the previous thresholds stay in effect.
func (rl *RedisRateLimiter) UpdateConfig(cfg config.RateLimitConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rl.mu.Lock()
	rl.cfg = cfg
	rl.mu.Unlock()
	rl.logger.Info(context.Background(), "Rate limit thresholds reloaded",
		logger.Int("ip_limit", cfg.IP.Limit),
		logger.Int("gym_purpose_ip_limit", cfg.GymPurposeIP.Limit),
	)
	return nil
}

func (rl *RedisRateLimiter) snapshot() config.RateLimitConfig {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.cfg
}

// Allow records one hit for identifier and reports whether it fits the window.
func (rl *RedisRateLimiter) Allow(ctx context.Context, dimension service.RateLimitDimension, identifier string) (service.RateLimitDecision, error) {
	cfg := rl.snapshot()
	policy, err := policyFor(cfg, dimension)
	if err != nil {
		return service.RateLimitDecision{}, err
	}
	if !cfg.Enabled {
		return service.RateLimitDecision{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit}, nil
	}

	key := rl.buildKey(cfg.KeyPrefix, dimension, identifier)
	now := rl.now()
	decision, err := rl.executeScript(ctx, key, policy, now)
	if err == nil {
		return decision, nil
	}

	if !cfg.FallbackToLocal {
		rl.logger.Error(ctx, "Rate limiter unavailable", err, logger.String("dimension", string(dimension)))
		return service.RateLimitDecision{}, errors.ErrServiceUnavailable("rate limiter unavailable").WithCause(err)
	}

	rl.logger.Warn(ctx, "Redis unavailable, using local rate limiter",
		logger.String("dimension", string(dimension)),
		logger.Err(err),
	)
	allowed, retry := rl.local.Allow(key, policy, cfg.LocalBurstFactor)
	return service.RateLimitDecision{Allowed: allowed, Limit: policy.Limit, RetryAfter: retry}, nil
}

// Reset drops the counters for identifier.
func (rl *RedisRateLimiter) Reset(ctx context.Context, dimension service.RateLimitDimension, identifier string) error {
	key := rl.buildKey(rl.snapshot().KeyPrefix, dimension, identifier)
	if err := rl.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return errors.ErrServiceUnavailable("rate limiter unavailable").WithCause(err)
	}
	return nil
}

// CleanupLocalBuckets performs cleanup of idle fallback buckets.
func (rl *RedisRateLimiter) CleanupLocalBuckets(maxIdle time.Duration) int {
	removed := rl.local.Cleanup(maxIdle)
	if removed > 0 {
		rl.logger.Debug(context.Background(), "Cleaned up idle buckets", logger.Int("count", removed))
	}
	return removed
}

func (rl *RedisRateLimiter) executeScript(ctx context.Context, key string, policy config.RateLimitPolicy, now time.Time) (service.RateLimitDecision, error) {
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, rl.client, []string{key},
		nowMs, policy.Window.Milliseconds(), policy.Limit, member).Int64Slice()
	if err != nil {
		return service.RateLimitDecision{}, err
	}
	if len(res) != 3 {
		return service.RateLimitDecision{}, fmt.Errorf("invalid rate limit script result: %v", res)
	}

	return service.RateLimitDecision{
		Allowed:    res[0] == 1,
		Limit:      policy.Limit,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

func (rl *RedisRateLimiter) buildKey(prefix string, dimension service.RateLimitDimension, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, dimension, identifier)
}

func policyFor(cfg config.RateLimitConfig, dimension service.RateLimitDimension) (config.RateLimitPolicy, error) {
	switch dimension {
	case service.RateLimitDimensionIP:
		return cfg.IP, nil
	case service.RateLimitDimensionGymPurposeIP:
		return cfg.GymPurposeIP, nil
	default:
		return config.RateLimitPolicy{}, errors.ErrInvalidRequest(fmt.Sprintf("unknown rate limit dimension %q", dimension))
	}
}
