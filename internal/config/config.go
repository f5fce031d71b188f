package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string

	AdminJWTSecret string

	KafkaBrokers []string
	NotifyTopic  string

	ArchiveBucket string
	ArchivePrefix string

	ValidationInterval time.Duration
	PromotionInterval  time.Duration
	RetentionHour      int
	RetentionDays      int

	ValidationBatch int
	PromotionBatch  int
	RetentionBatch  int

	// StaleValidatingAfter > 0 enables the staleness sweep that resets stuck
	// auto_validating submissions. Zero leaves them for operator resets.
	StaleValidatingAfter time.Duration
}

const (
	defaultAddr               = ":8072"
	defaultNotifyTopic        = "staging.notifications"
	defaultValidationInterval = 5 * time.Minute
	defaultPromotionInterval  = 10 * time.Minute
	defaultRetentionHour      = 3
	defaultRetentionDays      = 30
	defaultValidationBatch    = 50
	defaultPromotionBatch     = 20
	defaultRetentionBatch     = 500
)

func Load() (Config, error) {
	cfg := Config{
		Addr:                 getEnv("STAGING_ADDR", defaultAddr),
		DatabaseURL:          firstNonEmpty(os.Getenv("STAGING_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		AdminJWTSecret:       os.Getenv("STAGING_ADMIN_JWT_SECRET"),
		KafkaBrokers:         splitList(os.Getenv("STAGING_KAFKA_BROKERS")),
		NotifyTopic:          getEnv("STAGING_NOTIFY_TOPIC", defaultNotifyTopic),
		ArchiveBucket:        os.Getenv("STAGING_ARCHIVE_BUCKET"),
		ArchivePrefix:        os.Getenv("STAGING_ARCHIVE_PREFIX"),
		ValidationInterval:   getDuration("STAGING_VALIDATION_INTERVAL", defaultValidationInterval),
		PromotionInterval:    getDuration("STAGING_PROMOTION_INTERVAL", defaultPromotionInterval),
		RetentionHour:        getInt("STAGING_RETENTION_HOUR", defaultRetentionHour),
		RetentionDays:        getInt("STAGING_RETENTION_DAYS", defaultRetentionDays),
		ValidationBatch:      getInt("STAGING_VALIDATION_BATCH", defaultValidationBatch),
		PromotionBatch:       getInt("STAGING_PROMOTION_BATCH", defaultPromotionBatch),
		RetentionBatch:       getInt("STAGING_RETENTION_BATCH", defaultRetentionBatch),
		StaleValidatingAfter: getDuration("STAGING_STALE_VALIDATING_AFTER", 0),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or STAGING_DATABASE_URL required")
	}
	if cfg.AdminJWTSecret == "" {
		return Config{}, fmt.Errorf("STAGING_ADMIN_JWT_SECRET required")
	}
	if cfg.RetentionHour < 0 || cfg.RetentionHour > 23 {
		return Config{}, fmt.Errorf("STAGING_RETENTION_HOUR must be 0-23")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
