// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/security"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const envProduction = "production"

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	// Production refuses unverified bearer tokens.
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level: debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// SessionStore selects the backend: memory, postgres or redis.
	SessionStore string `mapstructure:"SESSION_STORE"`
	// DatabaseURL is the Postgres DSN; required when SessionStore is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is host:port of the Redis server used when SessionStore is redis.
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	// SessionStoreTimeout bounds every store call made by the registry.
	SessionStoreTimeout time.Duration `mapstructure:"SESSION_STORE_TIMEOUT"`
	// SessionTokenBytes is the entropy of minted session tokens (32–64).
	SessionTokenBytes int `mapstructure:"SESSION_TOKEN_BYTES"`
	// SessionDeviceLimit caps concurrently active devices per subject; 0 means unlimited.
	SessionDeviceLimit int `mapstructure:"SESSION_DEVICE_LIMIT"`

	// RetentionRevoked is how long REVOKED sessions are kept; 0 keeps them forever.
	RetentionRevoked time.Duration `mapstructure:"RETENTION_REVOKED"`
	// RetentionSchedule is the cron schedule of the retention worker (e.g. "@hourly").
	RetentionSchedule string `mapstructure:"RETENTION_SCHEDULE"`

	// JWTHS256Secret verifies HS256 bearer tokens. Takes precedence over JWTPublicKey.
	JWTHS256Secret string `mapstructure:"JWT_HS256_SECRET"`
	// JWTPublicKey is the PEM-encoded RSA/ECDSA public key or path to file for RS256/ES256 bearer tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer and JWTAudience are checked when set.
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	// PolicyFile optionally replaces the built-in revoke policy with a Rego module.
	PolicyFile string `mapstructure:"POLICY_FILE"`

	// OTelEndpoint is the OTLP collector (host:port or URL); empty uses no-op providers.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure forces a plaintext OTLP connection.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is reported as service.name.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// KafkaBrokers is a comma-separated list of brokers for session lifecycle events; empty disables Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SessionEventsTopic is the Kafka topic for session lifecycle events.
	SessionEventsTopic string `mapstructure:"SESSION_EVENTS_TOPIC"`

	// CORSAllowedOrigins is a comma-separated list of browser origins.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SESSION_STORE", StoreMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "devicelogin:")
	v.SetDefault("SESSION_STORE_TIMEOUT", "3s")
	v.SetDefault("SESSION_TOKEN_BYTES", security.MinSessionTokenBytes)
	v.SetDefault("SESSION_DEVICE_LIMIT", 0)
	v.SetDefault("RETENTION_REVOKED", "720h") // 30d
	v.SetDefault("RETENTION_SCHEDULE", "@hourly")
	v.SetDefault("JWT_HS256_SECRET", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "devicelogin")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SESSION_EVENTS_TOPIC", "devicelogin-session-events")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.SessionStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when SESSION_STORE=postgres")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("config: SESSION_STORE must be one of memory, postgres, redis (got %q)", c.SessionStore)
	}
	if c.SessionStoreTimeout <= 0 {
		return errors.New("config: SESSION_STORE_TIMEOUT must be positive")
	}
	if c.SessionTokenBytes < security.MinSessionTokenBytes || c.SessionTokenBytes > security.MaxSessionTokenBytes {
		return fmt.Errorf("config: SESSION_TOKEN_BYTES must be between %d and %d",
			security.MinSessionTokenBytes, security.MaxSessionTokenBytes)
	}
	if c.SessionDeviceLimit < 0 {
		return errors.New("config: SESSION_DEVICE_LIMIT must not be negative")
	}
	if c.RetentionRevoked < 0 {
		return errors.New("config: RETENTION_REVOKED must not be negative")
	}
	if c.IsProduction() && c.JWTHS256Secret == "" && c.JWTPublicKey == "" {
		return errors.New("config: JWT_HS256_SECRET or JWT_PUBLIC_KEY must be set when APP_ENV=production")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, envProduction)
}

// AllowUnverifiedJWT reports whether bearer tokens may be decoded without signature checks:
// only outside production and only when no verification key is configured.
func (c *Config) AllowUnverifiedJWT() bool {
	return !c.IsProduction() && c.JWTHS256Secret == "" && c.JWTPublicKey == ""
}

// VerifierConfig returns the bearer verification settings.
func (c *Config) VerifierConfig() security.VerifierConfig {
	return security.VerifierConfig{
		HS256Secret:     c.JWTHS256Secret,
		PublicKey:       c.JWTPublicKey,
		Issuer:          c.JWTIssuer,
		Audience:        c.JWTAudience,
		AllowUnverified: c.AllowUnverifiedJWT(),
	}
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka event producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOrigins returns the allowed browser origins.
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
