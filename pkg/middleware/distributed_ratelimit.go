package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter counts requests in fixed windows stored in Redis so
// every server instance draws from the same budget. Window keys are aligned
// to WindowDuration and carry the window start, so a key never outlives its
// window by more than a second.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
	now    func() time.Time
}

func NewDistributedRateLimiter(client *redis.Client, config RateLimitConfig, prefix string) *DistributedRateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  client,
		config: config,
		prefix: prefix,
		now:    time.Now,
	}
}

func (rl *DistributedRateLimiter) windowKey(key string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", rl.prefix, key, start.Unix())
}

func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := rl.now()
	start := now.Truncate(rl.config.WindowDuration)
	left := start.Add(rl.config.WindowDuration).Sub(now)
	redisKey := rl.windowKey(key, start)

	var incr *redis.IntCmd
	_, err := rl.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.Expire(ctx, redisKey, left+time.Second)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	limit := rl.config.capacity()
	count := int(incr.Val())
	d := Decision{Limit: limit, Remaining: max(limit-count, 0)}
	if count > limit {
		d.RetryAfter = left
		return d, nil
	}
	d.Allowed = true
	return d, nil
}
