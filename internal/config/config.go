// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the HTTP API, the warehouse, the
// metastore, the cache, and the export pipeline.
type Config struct {
	// Warehouse and metastore.
	WarehousePath string // DuckDB database file, empty for in-memory
	MetaDBPath    string // SQLite metadata file

	// Query execution.
	QueryTimeout time.Duration // per-execution warehouse deadline (default 30s)
	CacheTTL     time.Duration // cached result lifetime (default 5m)

	// Cache. Empty RedisAddr disables caching.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Export pipeline.
	ExportRoot      string        // artifact directory (default <tmp>/exports)
	ExportRetention time.Duration // artifact lifetime after completion (default 24h)
	ExportWorkers   int           // concurrent renders (default 4)
	ExportQueue     int           // queued job capacity (default 64)
	SweepSchedule   string        // cron expression for the expiry sweep

	// S3 fields are optional; nil when not configured.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string
	S3Bucket   *string
	S3Prefix   string

	ListenAddr string // HTTP listen address (default ":8080")
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// HasS3Config returns true if all required S3 fields are set.
func (c *Config) HasS3Config() bool {
	return c.S3KeyID != nil && c.S3Secret != nil &&
		c.S3Endpoint != nil && c.S3Region != nil && c.S3Bucket != nil
}

// CacheEnabled returns true when a Redis address is configured.
func (c *Config) CacheEnabled() bool {
	return c.RedisAddr != ""
}

// LoadFromEnv loads configuration from environment variables. Redis and S3
// variables are optional; the app can start without them.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		WarehousePath: os.Getenv("WAREHOUSE_PATH"),
		MetaDBPath:    os.Getenv("META_DB_PATH"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		ExportRoot:    os.Getenv("EXPORT_ROOT"),
		SweepSchedule: os.Getenv("EXPORT_SWEEP_SCHEDULE"),
		S3Prefix:      os.Getenv("S3_PREFIX"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Env:           os.Getenv("ENV"),
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}

	// Durations
	if v := os.Getenv("QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid QUERY_TIMEOUT %q: %w", v, err)
		}
		cfg.QueryTimeout = d
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CACHE_TTL %q: %w", v, err)
		}
		cfg.CacheTTL = d
	}
	if v := os.Getenv("EXPORT_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid EXPORT_RETENTION %q: %w", v, err)
		}
		cfg.ExportRetention = d
	}

	// Export pipeline sizing
	if v := os.Getenv("EXPORT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExportWorkers = n
		}
	}
	if v := os.Getenv("EXPORT_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExportQueue = n
		}
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// S3 fields are only set if present
	if v := os.Getenv("S3_KEY_ID"); v != "" {
		cfg.S3KeyID = &v
	}
	if v := os.Getenv("S3_SECRET"); v != "" {
		cfg.S3Secret = &v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3Endpoint = &v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3Region = &v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3Bucket = &v
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "freight_meta.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ExportRetention == 0 {
		cfg.ExportRetention = 24 * time.Hour
	}
	if cfg.ExportWorkers == 0 {
		cfg.ExportWorkers = 4
	}
	if cfg.ExportQueue == 0 {
		cfg.ExportQueue = 64
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if !cfg.CacheEnabled() {
		cfg.Warnings = append(cfg.Warnings, "REDIS_ADDR not set, result caching is disabled")
	}
	if cfg.WarehousePath == "" {
		cfg.Warnings = append(cfg.Warnings, "WAREHOUSE_PATH not set, using an in-memory warehouse; data is not persisted")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if cfg.WarehousePath == "" {
			return nil, fmt.Errorf("WAREHOUSE_PATH must be set in production (ENV=production)")
		}
	}

	return cfg, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
