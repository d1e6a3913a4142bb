package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/storage"
)

// TestGetEnvHelpers tests the getEnv* helper functions
func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "custom")
	t.Setenv("TEST_BOOL_TRUE", "TRUE")
	t.Setenv("TEST_BOOL_ONE", "1")
	t.Setenv("TEST_BOOL_NO", "no")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")
	t.Setenv("TEST_FLOAT", "1.5")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_DURATION_BAD", "soon")
	t.Setenv("TEST_BOOL_BAD", "maybe")
	t.Setenv("TEST_LIST", " a, ,b ")

	assert.Equal(t, "custom", getEnv("TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("TEST_STRING_UNSET", "default"))

	assert.True(t, getEnvBool("TEST_BOOL_TRUE", false))
	assert.True(t, getEnvBool("TEST_BOOL_ONE", false))
	assert.False(t, getEnvBool("TEST_BOOL_NO", true))
	assert.True(t, getEnvBool("TEST_BOOL_UNSET", true))
	assert.True(t, getEnvBool("TEST_BOOL_BAD", true))

	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_INT_BAD", 7))
	assert.Equal(t, 1.5, getEnvFloat("TEST_FLOAT", 2))

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DURATION_BAD", time.Second))

	assert.Equal(t, []string{"a", "b"}, getEnvList("TEST_LIST"))
	assert.Nil(t, getEnvList("TEST_LIST_UNSET"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("MONEDITA_WHATSAPP_VERIFY_TOKEN", "verify-me")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, storage.DriverMemory, cfg.Storage.Driver)
	assert.False(t, cfg.Storage.CacheEnabled)
	assert.Equal(t, 24*time.Hour, cfg.Payments.Retry.InitialDelay)
	assert.Equal(t, 72*time.Hour, cfg.Payments.Retry.MaxDelay)
	assert.Equal(t, 1, cfg.Scheduler.Workers)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 4000, cfg.LLM.MaxContextTokens)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.Empty(t, cfg.Admin.Token)

	loc, err := cfg.Scheduler.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Bogota", loc.String())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("MONEDITA_PORT", "9000")
	t.Setenv("MONEDITA_STORAGE_DRIVER", "Postgres")
	t.Setenv("MONEDITA_POSTGRES_URL", "postgres://localhost/monedita")
	t.Setenv("MONEDITA_POSTGRES_REPLICA_URLS", "postgres://r1/monedita, postgres://r2/monedita")
	t.Setenv("MONEDITA_CACHE_ENABLED", "true")
	t.Setenv("MONEDITA_REDIS_URL", "redis://localhost:6379")
	t.Setenv("MONEDITA_WHATSAPP_VERIFY_TOKEN", "verify-me")
	t.Setenv("MONEDITA_WHATSAPP_PHONE_NUMBER_ID", "12345")
	t.Setenv("MONEDITA_WHATSAPP_ACCESS_TOKEN", "token")
	t.Setenv("MONEDITA_SCHEDULER_WORKERS", "4")
	t.Setenv("MONEDITA_RETRY_INITIAL_DELAY", "12h")
	t.Setenv("MONEDITA_ADMIN_TOKEN", "secret")
	t.Setenv("MONEDITA_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, storage.DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, []string{"postgres://r1/monedita", "postgres://r2/monedita"}, cfg.Storage.PostgresReplicaURLs)
	assert.True(t, cfg.Storage.CacheEnabled)
	assert.Equal(t, "12345", cfg.WhatsApp.PhoneNumberID)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 12*time.Hour, cfg.Payments.Retry.InitialDelay)
	assert.Equal(t, "secret", cfg.Admin.Token)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func validConfig() *Config {
	return &Config{
		Server:    loadServerConfig(),
		Storage:   storage.DefaultConfig(),
		WhatsApp:  WhatsAppConfig{VerifyToken: "verify-me"},
		Payments:  loadPaymentsConfig(),
		Scheduler: SchedulerConfig{Workers: 1, Timezone: "UTC"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, wantErr: "invalid storage driver"},
		{name: "postgres without URL", mutate: func(c *Config) { c.Storage.Driver = storage.DriverPostgres }, wantErr: "postgres URL"},
		{name: "cache without redis", mutate: func(c *Config) { c.Storage.CacheEnabled = true }, wantErr: "redis URL"},
		{name: "missing verify token", mutate: func(c *Config) { c.WhatsApp.VerifyToken = "" }, wantErr: "verify token"},
		{name: "token without phone", mutate: func(c *Config) { c.WhatsApp.AccessToken = "t" }, wantErr: "set together"},
		{name: "zero workers", mutate: func(c *Config) { c.Scheduler.Workers = 0 }, wantErr: "workers"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "inverted delays", mutate: func(c *Config) { c.Payments.Retry.MaxDelay = time.Hour }, wantErr: "retry delays"},
		{name: "shrinking backoff", mutate: func(c *Config) { c.Payments.Retry.BackoffMultiplier = 0.5 }, wantErr: "multiplier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWorkerConfig(t *testing.T) {
	t.Setenv("MONEDITA_WHATSAPP_VERIFY_TOKEN", "")

	_, err := LoadConfig()
	require.Error(t, err)

	cfg, err := LoadWorkerConfig()
	require.NoError(t, err)
	assert.Equal(t, storage.DriverMemory, cfg.Storage.Driver)

	t.Setenv("MONEDITA_STORAGE_DRIVER", "postgres")
	_, err = LoadWorkerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres URL is required")
}
