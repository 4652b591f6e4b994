// Package config loads server configuration from the environment.
//
// An optional .env file is read first with godotenv; variables already set
// in the environment take precedence. Every setting has a default, and Load
// fails only when Validate rejects the combination.
//
// # Configuration Structure
//
// Server settings:
//
//	TENANTRBAC_HOST="0.0.0.0"
//	TENANTRBAC_PORT="8080"
//	TENANTRBAC_TRUST_PROXY="false"
//	TENANTRBAC_RATE_LIMIT_BACKEND="memory"  # memory, redis
//	TENANTRBAC_RATE_LIMIT_REDIS_URL="redis://localhost:6379/0"
//
// Logging:
//
//	TENANTRBAC_LOG_LEVEL="info"   # debug, info, warn, error
//	TENANTRBAC_LOG_FORMAT="json"  # json, text
//	TENANTRBAC_LOG_FILE="/var/log/tenantrbac/server.log"
//
// Authorization core:
//
//	TENANTRBAC_CACHE_SIZE="4096"
//	TENANTRBAC_CACHE_TTL="10m"
//	TENANTRBAC_SEED_FILE="/etc/tenantrbac/seed.yaml"
//	TENANTRBAC_SEED_DEMO="false"
//	TENANTRBAC_GATE_ENABLED="false"
//
// Audit:
//
//	TENANTRBAC_AUDIT_FILE="/var/log/tenantrbac/audit.ndjson"
//	TENANTRBAC_AUDIT_DSN="postgres://localhost/tenantrbac?sslmode=disable"
//	TENANTRBAC_AUDIT_REDIS_URL="redis://localhost:6379/1"
//	TENANTRBAC_AUDIT_ARCHIVE_TARGET="s3"  # dir, s3
//	TENANTRBAC_AUDIT_ARCHIVE_SCHEDULE="@every 1h"
//	TENANTRBAC_AUDIT_ARCHIVE_BUCKET="audit-archive"
//
// Identity and telemetry:
//
//	TENANTRBAC_JWT_SECRET="..."
//	TENANTRBAC_TRUSTED_ACTOR_HEADER="X-Actor-ID"
//	TENANTRBAC_TRACING_ENABLED="true"
//	TENANTRBAC_OTLP_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv := &http.Server{Addr: cfg.Server.Addr(), ReadTimeout: cfg.Server.ReadTimeout}
package config
