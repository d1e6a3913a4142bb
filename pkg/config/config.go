package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // scheduler timezone without system zoneinfo

	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/payments"
	"github.com/platinummonkey/monedita/pkg/storage"
)

// Config is everything read from MONEDITA_* environment variables. Both
// binaries load the same struct; the billing worker validates a subset.
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	WhatsApp      WhatsAppConfig
	LLM           LLMConfig
	Payments      PaymentsConfig
	Scheduler     SchedulerConfig
	Admin         AdminConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Timeout for processing one inbound webhook event after the ack
	EventTimeout time.Duration

	// Requests per minute per client IP; 0 disables rate limiting
	RateLimitPerMinute int
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// WhatsAppConfig holds Graph API credentials
type WhatsAppConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	// Optional; when set POST /webhook requires a valid X-Hub-Signature-256
	AppSecret string
}

// LLMConfig holds responder configuration. An empty APIKey selects the
// static fallback responder.
type LLMConfig struct {
	APIKey           string
	Model            string
	BaseURL          string
	MaxTokens        int
	Timeout          time.Duration
	MaxContextTokens int
}

// PaymentsConfig holds the charge gateway and retry settings
type PaymentsConfig struct {
	// Empty selects the gateway that declines every charge
	StripeAPIKey string
	CatalogFile  string
	Retry        payments.RetryConfig
}

// SchedulerConfig holds the billing sweep settings
type SchedulerConfig struct {
	// Run the cron jobs inside the HTTP server process
	Enabled   bool
	Workers   int
	Pacing    time.Duration
	Timezone  string
	Reminders bool
}

// AdminConfig holds admin API settings
type AdminConfig struct {
	// Empty disables the admin routes
	Token string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	Version        string
}

// LoadConfig loads the server configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWorkerConfig loads configuration for the billing worker, which does
// not serve the webhook
func LoadWorkerConfig() (*Config, error) {
	cfg := load()
	if err := cfg.ValidateWorker(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func load() *Config {
	return &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		WhatsApp:      loadWhatsAppConfig(),
		LLM:           loadLLMConfig(),
		Payments:      loadPaymentsConfig(),
		Scheduler:     loadSchedulerConfig(),
		Admin:         AdminConfig{Token: getEnv("MONEDITA_ADMIN_TOKEN", "")},
		Observability: loadObservabilityConfig(),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MONEDITA_HOST", "0.0.0.0"),
		Port:            getEnv("MONEDITA_PORT", "8080"),
		ReadTimeout:     getEnvDuration("MONEDITA_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("MONEDITA_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("MONEDITA_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MONEDITA_SHUTDOWN_TIMEOUT", 30*time.Second),
		EventTimeout:    getEnvDuration("MONEDITA_EVENT_TIMEOUT", 60*time.Second),

		RateLimitPerMinute: getEnvInt("MONEDITA_RATE_LIMIT_PER_MINUTE", 600),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Driver = strings.ToLower(getEnv("MONEDITA_STORAGE_DRIVER", cfg.Driver))
	cfg.AutoMigrate = getEnvBool("MONEDITA_AUTO_MIGRATE", cfg.AutoMigrate)

	cfg.PostgresURL = getEnv("MONEDITA_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnvList("MONEDITA_POSTGRES_REPLICA_URLS")
	cfg.PostgresMaxConns = positive(getEnvInt("MONEDITA_POSTGRES_MAX_CONNS", 0), cfg.PostgresMaxConns)
	cfg.PostgresMinConns = positive(getEnvInt("MONEDITA_POSTGRES_MIN_CONNS", 0), cfg.PostgresMinConns)
	cfg.PostgresTimeout = positive(getEnvDuration("MONEDITA_POSTGRES_TIMEOUT", 0), cfg.PostgresTimeout)

	cfg.RedisURL = getEnv("MONEDITA_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("MONEDITA_REDIS_PASSWORD", cfg.RedisPassword)
	if db := getEnvInt("MONEDITA_REDIS_DB", -1); db >= 0 {
		cfg.RedisDB = db
	}
	cfg.RedisPoolSize = positive(getEnvInt("MONEDITA_REDIS_POOL_SIZE", 0), cfg.RedisPoolSize)

	cfg.CacheEnabled = getEnvBool("MONEDITA_CACHE_ENABLED", cfg.CacheEnabled)
	cfg.UsageCacheTTL = positive(getEnvDuration("MONEDITA_USAGE_CACHE_TTL", 0), cfg.UsageCacheTTL)

	return cfg
}

// positive returns v, or def when v is not above zero
func positive[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

func loadWhatsAppConfig() WhatsAppConfig {
	return WhatsAppConfig{
		BaseURL:       getEnv("MONEDITA_WHATSAPP_BASE_URL", "https://graph.facebook.com/v18.0"),
		PhoneNumberID: getEnv("MONEDITA_WHATSAPP_PHONE_NUMBER_ID", ""),
		AccessToken:   getEnv("MONEDITA_WHATSAPP_ACCESS_TOKEN", ""),
		VerifyToken:   getEnv("MONEDITA_WHATSAPP_VERIFY_TOKEN", ""),
		AppSecret:     getEnv("MONEDITA_WHATSAPP_APP_SECRET", ""),
	}
}

func loadLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:           getEnv("MONEDITA_ANTHROPIC_API_KEY", ""),
		Model:            getEnv("MONEDITA_LLM_MODEL", ""),
		BaseURL:          getEnv("MONEDITA_LLM_BASE_URL", ""),
		MaxTokens:        getEnvInt("MONEDITA_LLM_MAX_TOKENS", 0),
		Timeout:          getEnvDuration("MONEDITA_LLM_TIMEOUT", 60*time.Second),
		MaxContextTokens: getEnvInt("MONEDITA_MAX_CONTEXT_TOKENS", 4000),
	}
}

func loadPaymentsConfig() PaymentsConfig {
	retry := payments.DefaultRetryConfig()
	retry.InitialDelay = getEnvDuration("MONEDITA_RETRY_INITIAL_DELAY", retry.InitialDelay)
	retry.MaxDelay = getEnvDuration("MONEDITA_RETRY_MAX_DELAY", retry.MaxDelay)
	retry.BackoffMultiplier = getEnvFloat("MONEDITA_RETRY_MULTIPLIER", retry.BackoffMultiplier)

	return PaymentsConfig{
		StripeAPIKey: getEnv("MONEDITA_STRIPE_API_KEY", ""),
		CatalogFile:  getEnv("MONEDITA_CATALOG_FILE", ""),
		Retry:        retry,
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:   getEnvBool("MONEDITA_SCHEDULER_ENABLED", false),
		Workers:   getEnvInt("MONEDITA_SCHEDULER_WORKERS", 1),
		Pacing:    getEnvDuration("MONEDITA_SCHEDULER_PACING", 500*time.Millisecond),
		Timezone:  getEnv("MONEDITA_TIMEZONE", "America/Bogota"),
		Reminders: getEnvBool("MONEDITA_REMINDERS_ENABLED", true),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("MONEDITA_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("MONEDITA_METRICS_ENABLED", true),
		Version:        getEnv("MONEDITA_VERSION", "dev"),
	}
}

// Location resolves the scheduler timezone
func (s SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// Validate checks if the server configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.WhatsApp.VerifyToken == "" {
		return fmt.Errorf("whatsapp verify token is required")
	}
	return c.ValidateWorker()
}

// ValidateWorker checks the settings shared with the billing worker
func (c *Config) ValidateWorker() error {
	switch c.Storage.Driver {
	case storage.DriverMemory:
	case storage.DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s (must be memory or postgres)", c.Storage.Driver)
	}

	if c.Storage.CacheEnabled && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required when the usage cache is enabled")
	}

	if (c.WhatsApp.PhoneNumberID == "") != (c.WhatsApp.AccessToken == "") {
		return fmt.Errorf("whatsapp phone number ID and access token must be set together")
	}

	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler workers must be at least 1")
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Scheduler.Timezone, err)
	}

	if c.Payments.Retry.InitialDelay <= 0 || c.Payments.Retry.MaxDelay < c.Payments.Retry.InitialDelay {
		return fmt.Errorf("retry delays must be positive with max >= initial")
	}
	if c.Payments.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}

	return nil
}

// env reads key through parse. Unset, blank or unparsable values keep def.
func env[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, def string) string {
	return env(key, def, func(s string) (string, error) { return s, nil })
}

func getEnvBool(key string, def bool) bool {
	return env(key, def, parseBool)
}

func getEnvInt(key string, def int) int {
	return env(key, def, strconv.Atoi)
}

func getEnvFloat(key string, def float64) float64 {
	return env(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	return env(key, def, time.ParseDuration)
}

// getEnvList splits a comma-separated value, dropping empty items
func getEnvList(key string) []string {
	return env[[]string](key, nil, func(s string) ([]string, error) {
		var out []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	})
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "t", "true", "yes", "on":
		return true, nil
	case "0", "f", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
