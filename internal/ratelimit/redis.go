package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the fixed-window limiter.
type RedisConfig struct {
	// Limit is the number of requests allowed per Window.
	Limit  int
	Window time.Duration
	Prefix string
}

// Redis counts requests per key in fixed windows shared by every replica.
type Redis struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedis builds a Redis limiter on an existing client.
func NewRedis(client redis.Cmdable, cfg RedisConfig) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rate_limit"
	}
	return &Redis{client: client, limit: cfg.Limit, window: cfg.Window, prefix: cfg.Prefix, now: time.Now}, nil
}

// Allow increments the counter of the current window for key.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	windowSeconds := int64(r.window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	bucket := now.Unix() / windowSeconds
	redisKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, bucket)

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	count := int(incr.Val())
	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}
	if count > r.limit {
		windowEnd := time.Unix((bucket+1)*windowSeconds, 0)
		return Decision{Allowed: false, Remaining: 0, RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// Name labels the backend in metrics.
func (r *Redis) Name() string { return "redis" }
