package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default Redis operation timeouts, used when a TimeoutConfig field is left zero.
const (
	DefaultRedisReadTimeout  = 3
	DefaultRedisWriteTimeout = 3
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Dispatch DispatchConfig
	Timeouts TimeoutConfig
	NATS     NATSConfig
	Stripe   StripeConfig
	Twilio   TwilioConfig
	Sentry   SentryConfig
	Secrets  SecretsConfig
}

// SecretsConfig selects the startup secret-provider backend (spec §6
// credential handling). Left at ProviderNone, the Stripe/Twilio/JWT
// fields above are read directly from their own environment variables;
// when a provider is configured, main wiring fetches those same values
// from it instead, overriding whatever plain env vars supplied.
type SecretsConfig struct {
	Provider      string // "vault", "aws", "gcp", "kubernetes", or "" to disable
	VaultAddress  string
	VaultToken    string
	VaultMount    string
	StripeRef     string // e.g. "secret/data/dispatch/stripe#api_key"
	TwilioRef     string // e.g. "secret/data/dispatch/twilio#auth_token"
	JWTSigningRef string // e.g. "secret/data/dispatch/jwt#signing_key"
	CacheTTLSec   int
}

// StripeConfig holds the Gateway provider's credentials (spec §6
// "createOrder/fetchPayment/verifyWebhookSignature/refund").
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// TwilioConfig holds the SMS notifier's credentials (spec §4.5 step 3,
// §4.1 step 4 rider-facing fallback channel).
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SentryConfig holds the error-reporting sink's DSN.
type SentryConfig struct {
	DSN string
}

// NATSConfig holds the cross-instance event bus connection (spec §4.8).
type NATSConfig struct {
	URL        string
	InstanceID string
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret     string
	Expiration int // in hours
}

// TimeoutConfig holds per-operation network timeouts; a zero field falls
// back to RedisOperationTimeout so a single knob can tighten everything.
type TimeoutConfig struct {
	RedisOperationTimeout int // seconds
	RedisReadTimeout      int // seconds, 0 = use RedisOperationTimeout
	RedisWriteTimeout     int // seconds, 0 = use RedisOperationTimeout
}

// DispatchConfig holds the dispatch-core specific knobs from spec §6.
type DispatchConfig struct {
	AutoCancelTimeoutMinutes       int
	AutoCancelCheckIntervalMinutes int
	RadiiKM                        []float64
	RetryRadiiKM                   []float64
	MaxCandidates                  int
	AcceptLockTTLSec               int
	WorkerLockTTLSec               int
	DriverPresenceTTLSec           int
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ridehailing"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			Expiration: getEnvAsInt("JWT_EXPIRATION", 24),
		},
		Dispatch: DispatchConfig{
			AutoCancelTimeoutMinutes:       getEnvAsInt("RIDE_AUTO_CANCEL_TIMEOUT_MINUTES", 5),
			AutoCancelCheckIntervalMinutes: getEnvAsInt("RIDE_AUTO_CANCEL_CHECK_INTERVAL_MINUTES", 2),
			RadiiKM:                        getEnvAsFloatSlice("DISPATCH_RADII_KM", []float64{3, 6, 9, 12, 15, 20}),
			RetryRadiiKM:                   getEnvAsFloatSlice("DISPATCH_RETRY_RADII_KM", []float64{15, 20, 25}),
			MaxCandidates:                  getEnvAsInt("DISPATCH_MAX_CANDIDATES", 20),
			AcceptLockTTLSec:               getEnvAsInt("ACCEPT_LOCK_TTL_SEC", 15),
			WorkerLockTTLSec:               getEnvAsInt("WORKER_LOCK_TTL_SEC", 30),
			DriverPresenceTTLSec:           getEnvAsInt("DRIVER_PRESENCE_TTL_SEC", 60),
		},
		Timeouts: TimeoutConfig{
			RedisOperationTimeout: getEnvAsInt("REDIS_OPERATION_TIMEOUT_SEC", DefaultRedisReadTimeout),
			RedisReadTimeout:      getEnvAsInt("REDIS_READ_TIMEOUT_SEC", 0),
			RedisWriteTimeout:     getEnvAsInt("REDIS_WRITE_TIMEOUT_SEC", 0),
		},
		NATS: NATSConfig{
			URL:        getEnv("NATS_URL", "nats://localhost:4222"),
			InstanceID: getEnv("INSTANCE_ID", serviceName+"-"+getEnv("HOSTNAME", "local")),
		},
		Stripe: StripeConfig{
			APIKey:        getEnv("STRIPE_API_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Twilio: TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
		},
		Sentry: SentryConfig{
			DSN: getEnv("SENTRY_DSN", ""),
		},
		Secrets: SecretsConfig{
			Provider:      getEnv("SECRETS_PROVIDER", ""),
			VaultAddress:  getEnv("VAULT_ADDR", ""),
			VaultToken:    getEnv("VAULT_TOKEN", ""),
			VaultMount:    getEnv("VAULT_MOUNT", "secret"),
			StripeRef:     getEnv("SECRETS_STRIPE_REF", "secret/data/dispatch/stripe#api_key"),
			TwilioRef:     getEnv("SECRETS_TWILIO_REF", "secret/data/dispatch/twilio#auth_token"),
			JWTSigningRef: getEnv("SECRETS_JWT_REF", "secret/data/dispatch/jwt#signing_key"),
			CacheTTLSec:   getEnvAsInt("SECRETS_CACHE_TTL_SEC", 300),
		},
	}

	return cfg, nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the database connection string in URL form, as
// golang-migrate's postgres driver expects rather than the keyword form
// DSN returns for pgxpool.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// DefaultRedisReadTimeoutDuration is the package-level default read timeout.
func DefaultRedisReadTimeoutDuration() time.Duration {
	return time.Duration(DefaultRedisReadTimeout) * time.Second
}

// DefaultRedisWriteTimeoutDuration is the package-level default write timeout.
func DefaultRedisWriteTimeoutDuration() time.Duration {
	return time.Duration(DefaultRedisWriteTimeout) * time.Second
}

// RedisReadTimeoutDuration returns the configured read timeout, falling back
// to RedisOperationTimeout when unset.
func (c TimeoutConfig) RedisReadTimeoutDuration() time.Duration {
	if c.RedisReadTimeout > 0 {
		return time.Duration(c.RedisReadTimeout) * time.Second
	}
	return time.Duration(c.RedisOperationTimeout) * time.Second
}

// RedisWriteTimeoutDuration returns the configured write timeout, falling
// back to RedisOperationTimeout when unset.
func (c TimeoutConfig) RedisWriteTimeoutDuration() time.Duration {
	if c.RedisWriteTimeout > 0 {
		return time.Duration(c.RedisWriteTimeout) * time.Second
	}
	return time.Duration(c.RedisOperationTimeout) * time.Second
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloatSlice(key string, defaultValue []float64) []float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return defaultValue
		}
		result = append(result, v)
	}
	return result
}
