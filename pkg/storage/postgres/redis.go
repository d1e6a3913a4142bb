package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/monedita/pkg/storage"
)

// Redis sits on the webhook path (rate limits, usage cache), so its timeouts
// stay well under the WhatsApp delivery deadline.
const (
	redisDialTimeout = 2 * time.Second
	redisIOTimeout   = 500 * time.Millisecond
)

// RedisOptions turns the storage config into client options. Explicit
// settings override whatever the URL carries.
func RedisOptions(cfg storage.Config) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	opts.MaxRetries = positiveOr(cfg.RedisMaxRetries, opts.MaxRetries)
	opts.PoolSize = positiveOr(cfg.RedisPoolSize, opts.PoolSize)
	opts.DialTimeout = redisDialTimeout
	opts.ReadTimeout = redisIOTimeout
	opts.WriteTimeout = redisIOTimeout
	opts.PoolTimeout = redisIOTimeout + time.Second
	return opts, nil
}

// DialRedis connects and pings. The client is closed again if the ping fails.
func DialRedis(ctx context.Context, cfg storage.Config) (*redis.Client, error) {
	opts, err := RedisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
