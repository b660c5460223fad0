package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgery-scheduler-server/internal/api"
	"github.com/surgery-scheduler-server/internal/config"
	"github.com/surgery-scheduler-server/internal/domain"
)

func testFullConfig(t *testing.T) *domain.Config {
	t.Helper()
	m, err := config.NewManager(config.WithConfigFile(writeConfig(t, "logging:\n  level: warn\n")))
	require.NoError(t, err)
	return m.GetConfig()
}

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestNewLite(t *testing.T) {
	logger, _ := test.NewNullLogger()
	lite := config.DefaultLiteConfig()
	lite.DataDir = filepath.Join(t.TempDir(), "scheduler")

	a, err := NewLite(lite, logger)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"history"}, a.Health.Names())
	assert.NotNil(t, a.Metrics)
	assert.Nil(t, a.Archiver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	h := api.NewServer(a.Config, a.Service, a.ServerOptions()...).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/batch-import?count=4&seed=2&start_date=2025-03-10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	runs, total, err := a.Service.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, runs, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "surgery_scheduler_live_clients 0")
}

func TestNewFull_NoExternalServices(t *testing.T) {
	logger, _ := test.NewNullLogger()

	a, err := NewFull(context.Background(), testFullConfig(t), logger)
	require.NoError(t, err)
	defer a.Close()

	assert.Empty(t, a.Health.Names())

	resp, err := a.Service.GenerateBatch(context.Background(), 3, 1, "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, resp.Schedule, 3)
	assert.Empty(t, resp.RunID, "no history store without a database")
}

func TestNewFull_OptionalComponents(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testFullConfig(t)
	cfg.Scheduler.Mode = string(domain.ModeAuto)
	cfg.Backend.BaseURL = "http://127.0.0.1:1"
	cfg.Archive = domain.ArchiveConfig{
		Enabled:         true,
		Bucket:          "or-archive",
		Region:          "us-east-1",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}

	a, err := NewFull(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	assert.ElementsMatch(t, []string{"backend", "archive"}, a.Health.Names())
	assert.NotNil(t, a.Archiver)
	assert.Len(t, a.ServerOptions(), 5)
}

func TestNewFull_UnreachableRedis(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testFullConfig(t)
	cfg.Cache.RedisURL = "redis://127.0.0.1:1/0"
	cfg.Cache.MaxRetries = -1

	_, err := NewFull(context.Background(), cfg, logger)
	assert.Error(t, err)
}
