// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	MONEDITA_HOST="0.0.0.0"
//	MONEDITA_PORT="8080"
//	MONEDITA_SHUTDOWN_TIMEOUT="30s"
//	MONEDITA_EVENT_TIMEOUT="60s"
//
// Storage settings:
//
//	MONEDITA_STORAGE_DRIVER="postgres"  # memory, postgres
//	MONEDITA_POSTGRES_URL="postgres://localhost/monedita?sslmode=disable"
//	MONEDITA_POSTGRES_REPLICA_URLS="postgres://replica1/monedita,postgres://replica2/monedita"
//	MONEDITA_CACHE_ENABLED="true"
//	MONEDITA_REDIS_URL="redis://localhost:6379"
//
// WhatsApp settings:
//
//	MONEDITA_WHATSAPP_PHONE_NUMBER_ID="1234567890"
//	MONEDITA_WHATSAPP_ACCESS_TOKEN="EAAG..."
//	MONEDITA_WHATSAPP_VERIFY_TOKEN="my-verify-token"
//	MONEDITA_WHATSAPP_APP_SECRET="..."  # optional, enables signature checks
//
// LLM settings:
//
//	MONEDITA_ANTHROPIC_API_KEY="sk-ant-..."  # empty uses a static reply
//	MONEDITA_LLM_MODEL="claude-sonnet-4-20250514"
//	MONEDITA_MAX_CONTEXT_TOKENS="4000"
//
// Payments and scheduler settings:
//
//	MONEDITA_STRIPE_API_KEY="sk_live_..."  # empty declines every charge
//	MONEDITA_CATALOG_FILE="/etc/monedita/plans.yaml"
//	MONEDITA_RETRY_INITIAL_DELAY="24h"
//	MONEDITA_RETRY_MAX_DELAY="72h"
//	MONEDITA_SCHEDULER_ENABLED="false"
//	MONEDITA_SCHEDULER_WORKERS="1"
//	MONEDITA_TIMEZONE="America/Bogota"
//
// Admin and observability settings:
//
//	MONEDITA_ADMIN_TOKEN="..."  # empty disables /admin routes
//	MONEDITA_LOG_LEVEL="info"   # debug, info, warn, error
//	MONEDITA_METRICS_ENABLED="true"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("listening on %s, storage %s\n", cfg.Server.Addr(), cfg.Storage.Driver)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
