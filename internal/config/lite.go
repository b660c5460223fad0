// This file contains the lightweight configuration for standalone operation.

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/surgery-scheduler-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external services and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Cache settings
	CacheMaxItems int           // Maximum items in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Synthetic batch settings
	BatchCount int   // Size of a generated batch
	BatchSeed  int64 // Generator seed; 0 seeds from the clock

	// HTTP settings
	HTTPHost       string
	HTTPPort       int
	AllowedOrigins []string

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".surgery-scheduler")

	return &LiteConfig{
		DataDir:        dataDir,
		CacheMaxItems:  1000,
		CacheTTL:       15 * time.Minute,
		BatchCount:     40,
		HTTPHost:       "127.0.0.1",
		HTTPPort:       8000,
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	// Data directory
	if v := os.Getenv("SURGERY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Cache settings
	if v := os.Getenv("SURGERY_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("SURGERY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Synthetic batch
	if v := os.Getenv("SURGERY_BATCH_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchCount = n
		}
	}
	if v := os.Getenv("SURGERY_BATCH_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.BatchSeed = n
		}
	}

	// HTTP
	if v := os.Getenv("SURGERY_HTTP_HOST"); v != "" {
		cfg.HTTPHost = v
	}
	if v := os.Getenv("SURGERY_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}
	if v := os.Getenv("SURGERY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	// Logging
	if v := os.Getenv("SURGERY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SURGERY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// HistoryDBPath returns the path to the schedule history SQLite database.
func (c *LiteConfig) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// ExportDir returns the directory for JSON and CSV exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// Config expands the lite settings into a full configuration running in
// mock mode with no external services.
func (c *LiteConfig) Config() *domain.Config {
	return &domain.Config{
		Environment: "development",
		Server: domain.ServerConfig{
			Host:           c.HTTPHost,
			Port:           c.HTTPPort,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 30 * time.Second,
			MaxUploadBytes: 10 << 20,
			AllowedOrigins: c.AllowedOrigins,
		},
		Scheduler: domain.SchedulerConfig{
			Mode:           string(domain.ModeMock),
			GeneratedCount: c.BatchCount,
			Seed:           c.BatchSeed,
		},
		Cache: domain.CacheConfig{
			DefaultTTL: c.CacheTTL,
			MaxItems:   c.CacheMaxItems,
		},
		RateLimit: domain.RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Metrics: domain.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: domain.LoggingConfig{
			Level:  c.LogLevel,
			Format: c.LogFormat,
			Output: "stderr",
		},
	}
}
