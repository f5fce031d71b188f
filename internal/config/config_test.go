package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/staging")
	t.Setenv("STAGING_ADMIN_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8072", cfg.Addr)
	assert.Equal(t, 5*time.Minute, cfg.ValidationInterval)
	assert.Equal(t, 10*time.Minute, cfg.PromotionInterval)
	assert.Equal(t, 50, cfg.ValidationBatch)
	assert.Equal(t, 20, cfg.PromotionBatch)
	assert.Equal(t, 500, cfg.RetentionBatch)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, 3, cfg.RetentionHour)
	assert.Zero(t, cfg.StaleValidatingAfter, "staleness sweep is opt-in")
	assert.Nil(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STAGING_DATABASE_URL", "postgres://db1/staging")
	t.Setenv("DATABASE_URL", "postgres://db2/staging")
	t.Setenv("STAGING_ADMIN_JWT_SECRET", "secret")
	t.Setenv("STAGING_KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("STAGING_VALIDATION_INTERVAL", "1m")
	t.Setenv("STAGING_STALE_VALIDATING_AFTER", "30m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://db1/staging", cfg.DatabaseURL, "the service-specific URL wins")
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Minute, cfg.ValidationInterval)
	assert.Equal(t, 30*time.Minute, cfg.StaleValidatingAfter)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STAGING_DATABASE_URL", "")
	t.Setenv("STAGING_ADMIN_JWT_SECRET", "secret")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/staging")
	t.Setenv("STAGING_ADMIN_JWT_SECRET", "")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRetentionHourBounds(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/staging")
	t.Setenv("STAGING_ADMIN_JWT_SECRET", "secret")
	t.Setenv("STAGING_RETENTION_HOUR", "24")
	_, err := Load()
	assert.Error(t, err)
}
