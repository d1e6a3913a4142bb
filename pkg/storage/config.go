package storage

import (
	"time"
)

// Drivers accepted by Config.Driver
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config for storage backend
type Config struct {
	Driver string // "memory", "postgres"

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration
	AutoMigrate         bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Usage cache config
	CacheEnabled  bool
	UsageCacheTTL time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:              DriverMemory,
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		AutoMigrate:         true,
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		UsageCacheTTL:       10 * time.Minute,
	}
}
