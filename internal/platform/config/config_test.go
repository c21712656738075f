package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("CHAIN_ID", "")
	t.Setenv("MAX_EXTENSION_DAYS", "")
	t.Setenv("DATABASE_DRIVER", "")

	cfg := FromEnv()
	assert.Equal(t, uint64(8009), cfg.ChainID)
	assert.Equal(t, 0, cfg.MaxExtensionDays)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, "postgres", cfg.Postgres.Driver)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("CHAIN_ID", "11155111")
	t.Setenv("MAX_EXTENSION_DAYS", "730")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
	t.Setenv("DATABASE_DRIVER", "pgx")

	cfg := FromEnv()
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, uint64(11155111), cfg.ChainID)
	assert.Equal(t, 730, cfg.MaxExtensionDays)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PollInterval)
	assert.Equal(t, "pgx", cfg.Postgres.Driver)
}

func TestFromEnvIgnoresMalformed(t *testing.T) {
	t.Setenv("SESSION_TTL", "forever")
	cfg := FromEnv()
	assert.Equal(t, time.Hour, cfg.SessionTTL)
}

func TestFromEnvRateLimit(t *testing.T) {
	t.Setenv("DISABLE_RATE_LIMITING", "")
	t.Setenv("RATELIMIT_AUTH_REQUESTS", "")
	cfg := FromEnv()
	assert.False(t, cfg.RateLimit.Disabled)
	assert.Equal(t, 20, cfg.RateLimit.AuthRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.AuthWindow)

	t.Setenv("DISABLE_RATE_LIMITING", "true")
	t.Setenv("RATELIMIT_AUTH_REQUESTS", "5")
	cfg = FromEnv()
	assert.True(t, cfg.RateLimit.Disabled)
	assert.Equal(t, 5, cfg.RateLimit.AuthRequests)
}
