package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgery-scheduler-server/internal/domain"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 40, cfg.BatchCount)
	assert.Zero(t, cfg.BatchSeed)
	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("SURGERY_DATA_DIR", "/tmp/test-surgery")
	t.Setenv("SURGERY_CACHE_MAX_ITEMS", "500")
	t.Setenv("SURGERY_CACHE_TTL", "12h")
	t.Setenv("SURGERY_BATCH_COUNT", "12")
	t.Setenv("SURGERY_BATCH_SEED", "42")
	t.Setenv("SURGERY_HTTP_HOST", "0.0.0.0")
	t.Setenv("SURGERY_HTTP_PORT", "9090")
	t.Setenv("SURGERY_ALLOWED_ORIGINS", "https://or.example.org, http://localhost:3000,")
	t.Setenv("SURGERY_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-surgery", cfg.DataDir)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 12, cfg.BatchCount)
	assert.Equal(t, int64(42), cfg.BatchSeed)
	assert.Equal(t, "0.0.0.0", cfg.HTTPHost)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, []string{"https://or.example.org", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadLiteConfig_IgnoresInvalidNumbers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("SURGERY_CACHE_MAX_ITEMS", "-4")
	t.Setenv("SURGERY_HTTP_PORT", "eighty")
	t.Setenv("SURGERY_CACHE_TTL", "forever")

	cfg := LoadLiteConfig()

	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.surgery-scheduler"}

	assert.Equal(t, "/home/user/.surgery-scheduler/history.db", cfg.HistoryDBPath())
	assert.Equal(t, "/home/user/.surgery-scheduler/exports", cfg.ExportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "scheduler")}

	require.NoError(t, cfg.EnsureDataDir())

	_, err := os.Stat(cfg.DataDir)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func TestLiteConfig_Config(t *testing.T) {
	lite := DefaultLiteConfig()
	lite.BatchSeed = 9

	cfg := lite.Config()

	assert.Equal(t, string(domain.ModeMock), cfg.Scheduler.Mode)
	assert.Equal(t, 40, cfg.Scheduler.GeneratedCount)
	assert.Equal(t, int64(9), cfg.Scheduler.Seed)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.False(t, cfg.Database.Enabled)
	assert.Empty(t, cfg.Cache.RedisURL)
	assert.Equal(t, 1000, cfg.Cache.MaxItems)
	assert.False(t, cfg.Archive.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"SURGERY_DATA_DIR",
		"SURGERY_CACHE_MAX_ITEMS",
		"SURGERY_CACHE_TTL",
		"SURGERY_BATCH_COUNT",
		"SURGERY_BATCH_SEED",
		"SURGERY_HTTP_HOST",
		"SURGERY_HTTP_PORT",
		"SURGERY_ALLOWED_ORIGINS",
		"SURGERY_LOG_LEVEL",
		"SURGERY_LOG_FORMAT",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}
