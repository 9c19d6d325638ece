package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library_lending/pkg/lending"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, lending.DefaultMaxBorrowLimit, cfg.Policy.MaxBorrowLimit)
	assert.True(t, lending.DefaultFinePerDay.Equal(cfg.Policy.FinePerDay))
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MAX_BORROW_LIMIT", "5")
	t.Setenv("FINE_PER_DAY", "1.10")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 5, cfg.Policy.MaxBorrowLimit)
	assert.Equal(t, "1.10", cfg.Policy.FinePerDay.StringFixed(2))
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_ReportsEveryBadValue(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "many")
	t.Setenv("IDEMPOTENCY_TTL", "a day")
	t.Setenv("OVERDUE_THRESHOLD", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_MAX_OPEN_CONNS")
	assert.Contains(t, err.Error(), "IDEMPOTENCY_TTL")
	assert.ErrorIs(t, err, lending.ErrInvalidPolicy)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LENDING_TEST_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LENDING_TEST_VALUE") })

	require.NoError(t, LoadEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("LENDING_TEST_VALUE"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "json", slog.LevelInfo).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	NewLogger(&buf, "text", slog.LevelWarn).Info("dropped")
	assert.Empty(t, buf.String())
}
