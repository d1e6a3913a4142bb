package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/monedita/pkg/billing"
)

// UsageCache is a read-through Redis cache in front of a billing.UsageStore.
// Counters are written to the backing store first; the cached value is then
// replaced with the count the store returned. Cache failures fall back to the store.
type UsageCache struct {
	store billing.UsageStore
	redis *redis.Client
	ttl   time.Duration
}

var _ billing.UsageStore = (*UsageCache)(nil)

// NewUsageCache wraps store with a Redis cache
func NewUsageCache(store billing.UsageStore, client *redis.Client, ttl time.Duration) *UsageCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &UsageCache{store: store, redis: client, ttl: ttl}
}

// usageKey keeps microseconds, the precision period starts are stored with,
// so two periods starting within the same second never share a key.
func usageKey(userID string, usageType billing.UsageType, periodStart time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%d", userID, usageType, periodStart.UnixMicro())
}

// GetUsage returns the cached counter or loads it from the store
func (c *UsageCache) GetUsage(ctx context.Context, userID string, usageType billing.UsageType, periodStart time.Time) (int, error) {
	key := usageKey(userID, usageType, periodStart)

	cached, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		if count, convErr := strconv.Atoi(cached); convErr == nil {
			return count, nil
		}
		c.redis.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		return c.store.GetUsage(ctx, userID, usageType, periodStart)
	}

	count, err := c.store.GetUsage(ctx, userID, usageType, periodStart)
	if err != nil {
		return 0, err
	}
	c.redis.Set(ctx, key, count, c.ttl)
	return count, nil
}

// IncrementUsage increments in the store and refreshes the cached value
func (c *UsageCache) IncrementUsage(ctx context.Context, userID string, usageType billing.UsageType, periodStart time.Time) (int, error) {
	count, err := c.store.IncrementUsage(ctx, userID, usageType, periodStart)
	if err != nil {
		return 0, err
	}
	key := usageKey(userID, usageType, periodStart)
	if err := c.redis.Set(ctx, key, count, c.ttl).Err(); err != nil {
		c.redis.Del(ctx, key)
	}
	return count, nil
}

// ListUsage reads through to the store
func (c *UsageCache) ListUsage(ctx context.Context, userID string, periodStart time.Time) (map[billing.UsageType]int, error) {
	return c.store.ListUsage(ctx, userID, periodStart)
}

// ResetUsage clears the store and drops every cached counter of the period
func (c *UsageCache) ResetUsage(ctx context.Context, userID string, periodStart time.Time) error {
	if err := c.store.ResetUsage(ctx, userID, periodStart); err != nil {
		return err
	}
	keys := make([]string, 0, len(billing.UsageTypes))
	for _, t := range billing.UsageTypes {
		keys = append(keys, usageKey(userID, t, periodStart))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate usage cache: %w", err)
	}
	return nil
}
