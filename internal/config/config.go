package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	DatabaseURL string

	ListenAddr string

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string
	// LogFormat is "json" (default) or "console".
	LogFormat string

	// RedisURL enables the summary cache when set (redis://host:port/db).
	RedisURL string
	// SummaryCacheTTL bounds how stale a cached dashboard summary may be.
	SummaryCacheTTL time.Duration

	// IngestRatePerMin is the per-IP limit on sample ingestion requests.
	IngestRatePerMin int

	// AggregationWorker runs the hourly/daily aggregation loop inside "serve".
	// Disable it when aggregation is driven by an external scheduler.
	AggregationWorker bool
	// BackfillConcurrency is how many hours are aggregated in parallel at startup.
	BackfillConcurrency int
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:         os.Getenv("APP_DATABASE_URL"),
		ListenAddr:          getenv("APP_LISTEN_ADDR", ":8080"),
		LogLevel:            getenv("APP_LOG_LEVEL", "info"),
		LogFormat:           getenv("APP_LOG_FORMAT", "json"),
		RedisURL:            os.Getenv("APP_REDIS_URL"),
		SummaryCacheTTL:     5 * time.Minute,
		IngestRatePerMin:    60,
		AggregationWorker:   true,
		BackfillConcurrency: 4,
	}

	if v := os.Getenv("APP_SUMMARY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.SummaryCacheTTL = d
		}
	}
	if v := os.Getenv("APP_INGEST_RATE_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.IngestRatePerMin = n
		}
	}
	if v := os.Getenv("APP_AGGREGATION_WORKER"); v != "" {
		switch strings.ToLower(v) {
		case "0", "false", "off", "no":
			cfg.AggregationWorker = false
		}
	}
	if v := os.Getenv("APP_BACKFILL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BackfillConcurrency = n
		}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
