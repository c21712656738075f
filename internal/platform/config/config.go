package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	strutil "certledger/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr     string
	LogLevel string

	// Ledger identity. ChainID is what clients compare against before any write.
	ChainID         uint64
	RegistryAddress string
	// Owner is used only when the registry is created; afterwards the stored owner wins.
	Owner string

	JWTSigningKey string
	SessionTTL    time.Duration
	ChallengeTTL  time.Duration

	// MaxExtensionDays caps a single validity extension. Zero means unbounded.
	MaxExtensionDays int

	// ConfidentialKeyset is a JSON Tink keyset; empty generates an ephemeral one.
	ConfidentialKeyset string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Outbox   OutboxConfig

	VerifyCacheTTL time.Duration

	RateLimit RateLimitConfig
}

// RateLimitConfig bounds the unauthenticated wallet handshake per client IP.
type RateLimitConfig struct {
	Disabled     bool
	AuthRequests int
	AuthWindow   time.Duration
}

// PostgresConfig selects the durable ledger. Empty DSN keeps the ledger in memory.
type PostgresConfig struct {
	// Driver is a database/sql driver name: "postgres" (lib/pq) or "pgx".
	Driver       string
	DSN          string
	MaxOpenConns int
}

// RedisConfig configures the verify cache and auth challenge store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the event relay. No brokers means events are only logged.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// OutboxConfig tunes the ledger event relay loop.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Default certificate lifetime at issuance.
const CertificateValidity = 365 * 24 * time.Hour

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:               getEnv("CERTLEDGER_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ChainID:            getEnvUint("CHAIN_ID", 8009),
		RegistryAddress:    getEnv("REGISTRY_ADDRESS", "0x00000000000000000000000000000000000C3471"),
		Owner:              os.Getenv("REGISTRY_OWNER"),
		JWTSigningKey:      jwtSigningKey,
		SessionTTL:         getEnvDuration("SESSION_TTL", 1*time.Hour),
		ChallengeTTL:       getEnvDuration("CHALLENGE_TTL", 5*time.Minute),
		MaxExtensionDays:   getEnvInt("MAX_EXTENSION_DAYS", 0),
		ConfidentialKeyset: os.Getenv("CONFIDENTIAL_KEYSET"),
		Postgres: PostgresConfig{
			Driver:       getEnv("DATABASE_DRIVER", "postgres"),
			DSN:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getEnvInt("DATABASE_MAX_OPEN_CONNS", 10),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: strutil.SplitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_TOPIC", "certledger.registry.events"),
		},
		Outbox: OutboxConfig{
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
		},
		VerifyCacheTTL: getEnvDuration("VERIFY_CACHE_TTL", 5*time.Minute),
		RateLimit: RateLimitConfig{
			Disabled:     os.Getenv("DISABLE_RATE_LIMITING") == "true",
			AuthRequests: getEnvInt("RATELIMIT_AUTH_REQUESTS", 20),
			AuthWindow:   getEnvDuration("RATELIMIT_AUTH_WINDOW", time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func getEnvUint(key string, fallback uint64) uint64 {
	if v, err := strconv.ParseUint(strings.TrimSpace(os.Getenv(key)), 10, 64); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}
