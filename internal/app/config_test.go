package app

import (
	"bytes"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	unsetEnv(t, "APP_ENV", "APP_ADDR", "RANKING_CACHE_TTL", "RATE_LIMIT_PER_MINUTE", "TOTALS_REFRESH_CRON")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10*time.Minute, cfg.RankingCacheTTL)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, "0 2 * * *", cfg.TotalsRefreshCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RANKING_CACHE_TTL", "90s")
	t.Setenv("WORKER_CONCURRENCY", "12")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 90*time.Second, cfg.RankingCacheTTL)
	require.Equal(t, 12, cfg.WorkerConcurrency)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "RATE_LIMIT_PER_MINUTE")

	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("TOTALS_REFRESH_CRON", "")
	t.Setenv("WORKER_CONCURRENCY", "many")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.Int64("order_id", 7))
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"order_id":7`)
}

// unsetEnv clears keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
