package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	RBAC      RBACConfig
	Audit     AuditConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	TrustProxy      bool
	CORSOrigins     []string

	RateLimit RateLimitConfig
}

// RateLimitConfig selects the in-process or Redis-backed limiter
type RateLimitConfig struct {
	Enabled bool
	Backend string // "memory" or "redis"

	// memory backend
	RequestsPerSecond float64
	Burst             int

	// redis backend, requests per minute
	RedisURL       string
	ActorPerMinute int
	AnonPerMinute  int
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string
	Format     string // json or text
	File       string // rotated file; empty logs to stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// RBACConfig holds authorization core settings
type RBACConfig struct {
	CacheSize      int
	CacheTTL       time.Duration
	SeedFile       string
	SeedDemo       bool
	PlatformTenant string
	GateEnabled    bool
}

// AuditConfig holds audit sink and archive settings
type AuditConfig struct {
	QueueSize int

	File string

	DBDriver string
	DSN      string

	RedisURL    string
	RedisStream string
	RedisMaxLen int64

	ArchiveTarget   string // "", "dir" or "s3"
	ArchiveSchedule string
	ArchiveDir      string
	ArchiveBucket   string
	ArchivePrefix   string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UsePathStyle  bool
}

// AuthConfig configures how the acting user is identified
type AuthConfig struct {
	JWTSecret     string
	JWTIssuer     string
	TrustedHeader string
	Required      bool
}

// TelemetryConfig holds metrics and tracing settings
type TelemetryConfig struct {
	MetricsEnabled bool
	TracingEnabled bool
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	SampleRatio    float64
}

// Addr returns host:port for the API listener
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Load reads optional dotenv files (".env" when none are named), then the
// environment, and validates the result. Variables already set in the
// environment win over dotenv values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server:    loadServerConfig(),
		Log:       loadLogConfig(),
		RBAC:      loadRBACConfig(),
		Audit:     loadAuditConfig(),
		Auth:      loadAuthConfig(),
		Telemetry: loadTelemetryConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTRBAC_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTRBAC_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTRBAC_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTRBAC_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTRBAC_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTRBAC_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("TENANTRBAC_MAX_BODY_BYTES", 1<<20)),
		TrustProxy:      getEnvBool("TENANTRBAC_TRUST_PROXY", false),
		CORSOrigins:     getEnvSlice("TENANTRBAC_CORS_ORIGINS", nil),
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("TENANTRBAC_RATE_LIMIT_ENABLED", true),
			Backend:           strings.ToLower(getEnv("TENANTRBAC_RATE_LIMIT_BACKEND", "memory")),
			RequestsPerSecond: getEnvFloat("TENANTRBAC_RATE_LIMIT_RPS", 50),
			Burst:             getEnvInt("TENANTRBAC_RATE_LIMIT_BURST", 100),
			RedisURL:          getEnv("TENANTRBAC_RATE_LIMIT_REDIS_URL", ""),
			ActorPerMinute:    getEnvInt("TENANTRBAC_RATE_LIMIT_ACTOR_PER_MINUTE", 1000),
			AnonPerMinute:     getEnvInt("TENANTRBAC_RATE_LIMIT_ANON_PER_MINUTE", 100),
		},
	}
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:      strings.ToLower(getEnv("TENANTRBAC_LOG_LEVEL", "info")),
		Format:     strings.ToLower(getEnv("TENANTRBAC_LOG_FORMAT", "json")),
		File:       getEnv("TENANTRBAC_LOG_FILE", ""),
		MaxSizeMB:  getEnvInt("TENANTRBAC_LOG_MAX_SIZE_MB", 100),
		MaxBackups: getEnvInt("TENANTRBAC_LOG_MAX_BACKUPS", 5),
		MaxAgeDays: getEnvInt("TENANTRBAC_LOG_MAX_AGE_DAYS", 30),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		CacheSize:      getEnvInt("TENANTRBAC_CACHE_SIZE", 4096),
		CacheTTL:       getEnvDuration("TENANTRBAC_CACHE_TTL", 10*time.Minute),
		SeedFile:       getEnv("TENANTRBAC_SEED_FILE", ""),
		SeedDemo:       getEnvBool("TENANTRBAC_SEED_DEMO", false),
		PlatformTenant: getEnv("TENANTRBAC_PLATFORM_TENANT", "platform"),
		GateEnabled:    getEnvBool("TENANTRBAC_GATE_ENABLED", false),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		QueueSize:       getEnvInt("TENANTRBAC_AUDIT_QUEUE_SIZE", 1024),
		File:            getEnv("TENANTRBAC_AUDIT_FILE", ""),
		DBDriver:        getEnv("TENANTRBAC_AUDIT_DB_DRIVER", "postgres"),
		DSN:             getEnv("TENANTRBAC_AUDIT_DSN", ""),
		RedisURL:        getEnv("TENANTRBAC_AUDIT_REDIS_URL", ""),
		RedisStream:     getEnv("TENANTRBAC_AUDIT_REDIS_STREAM", "tenantrbac:audit"),
		RedisMaxLen:     int64(getEnvInt("TENANTRBAC_AUDIT_REDIS_MAXLEN", 100000)),
		ArchiveTarget:   strings.ToLower(getEnv("TENANTRBAC_AUDIT_ARCHIVE_TARGET", "")),
		ArchiveSchedule: getEnv("TENANTRBAC_AUDIT_ARCHIVE_SCHEDULE", "@every 1h"),
		ArchiveDir:      getEnv("TENANTRBAC_AUDIT_ARCHIVE_DIR", ""),
		ArchiveBucket:   getEnv("TENANTRBAC_AUDIT_ARCHIVE_BUCKET", ""),
		ArchivePrefix:   getEnv("TENANTRBAC_AUDIT_ARCHIVE_PREFIX", "audit/"),
		S3Region:        getEnv("TENANTRBAC_S3_REGION", "us-east-1"),
		S3Endpoint:      getEnv("TENANTRBAC_S3_ENDPOINT", ""),
		S3AccessKey:     getEnv("TENANTRBAC_S3_ACCESS_KEY", ""),
		S3SecretKey:     getEnv("TENANTRBAC_S3_SECRET_KEY", ""),
		S3UsePathStyle:  getEnvBool("TENANTRBAC_S3_USE_PATH_STYLE", false),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:     getEnv("TENANTRBAC_JWT_SECRET", ""),
		JWTIssuer:     getEnv("TENANTRBAC_JWT_ISSUER", ""),
		TrustedHeader: getEnv("TENANTRBAC_TRUSTED_ACTOR_HEADER", ""),
		Required:      getEnvBool("TENANTRBAC_AUTH_REQUIRED", false),
	}
}

func loadTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		MetricsEnabled: getEnvBool("TENANTRBAC_METRICS_ENABLED", true),
		TracingEnabled: getEnvBool("TENANTRBAC_TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("TENANTRBAC_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:    getEnv("TENANTRBAC_SERVICE_NAME", "tenantrbac"),
		ServiceVersion: getEnv("TENANTRBAC_SERVICE_VERSION", "dev"),
		Insecure:       getEnvBool("TENANTRBAC_OTLP_INSECURE", true),
		SampleRatio:    getEnvFloat("TENANTRBAC_TRACE_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port %q", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q (must be json or text)", c.Log.Format)
	}

	if rl := c.Server.RateLimit; rl.Enabled {
		switch rl.Backend {
		case "memory":
			if rl.RequestsPerSecond <= 0 || rl.Burst <= 0 {
				return fmt.Errorf("rate limit rps and burst must be positive")
			}
		case "redis":
			if rl.RedisURL == "" {
				return fmt.Errorf("rate limit redis URL is required for the redis backend")
			}
			if rl.ActorPerMinute <= 0 || rl.AnonPerMinute <= 0 {
				return fmt.Errorf("rate limit per-minute budgets must be positive")
			}
		default:
			return fmt.Errorf("invalid rate limit backend %q (must be memory or redis)", rl.Backend)
		}
	}

	if c.RBAC.PlatformTenant == "" {
		return fmt.Errorf("platform tenant is required")
	}
	if c.RBAC.CacheSize < 0 || c.RBAC.CacheTTL < 0 {
		return fmt.Errorf("rbac cache size and TTL must not be negative")
	}

	if c.Audit.DSN != "" && c.Audit.DBDriver == "" {
		return fmt.Errorf("audit DB driver is required with a DSN")
	}
	switch c.Audit.ArchiveTarget {
	case "":
	case "dir":
		if c.Audit.ArchiveDir == "" {
			return fmt.Errorf("archive dir is required for dir archives")
		}
	case "s3":
		if c.Audit.ArchiveBucket == "" {
			return fmt.Errorf("archive bucket is required for s3 archives")
		}
	default:
		return fmt.Errorf("invalid archive target %q (must be dir or s3)", c.Audit.ArchiveTarget)
	}
	if c.Audit.ArchiveTarget != "" && c.Audit.ArchiveSchedule == "" {
		return fmt.Errorf("archive schedule is required when archiving is enabled")
	}

	if c.Auth.Required && c.Auth.JWTSecret == "" && c.Auth.TrustedHeader == "" {
		return fmt.Errorf("auth required but neither a JWT secret nor a trusted header is configured")
	}
	if c.RBAC.GateEnabled && c.Auth.JWTSecret == "" && c.Auth.TrustedHeader == "" {
		return fmt.Errorf("permission gate needs an actor source (JWT secret or trusted header)")
	}

	if c.Telemetry.TracingEnabled {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("OTLP endpoint is required when tracing is enabled")
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("trace sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvSlice splits a comma-separated variable, dropping blanks
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
