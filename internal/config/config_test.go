package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIFromEnvDefaults(t *testing.T) {
	t.Setenv("STOCKTICKER_TOKEN_SECRET", " s3cret ")
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "s3cret", cfg.TokenSecret)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 256, cfg.PublishBuffer)
	assert.Equal(t, int64(100), cfg.EventHistory)
	assert.True(t, cfg.Migrate)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadAPIFromEnvPortOverride(t *testing.T) {
	t.Setenv("STOCKTICKER_TOKEN_SECRET", "x")
	t.Setenv("STOCKTICKER_API_ADDR", ":9000")
	t.Setenv("PORT", "7070")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
}

func TestLoadAPIFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("STOCKTICKER_TOKEN_SECRET", "")
	_, err := LoadAPIFromEnv()
	assert.ErrorContains(t, err, "STOCKTICKER_TOKEN_SECRET")
}

func TestLoadAPIFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("STOCKTICKER_TOKEN_SECRET", "x")
	t.Setenv("STOCKTICKER_LOCK_TIMEOUT", "soon")
	_, err := LoadAPIFromEnv()
	assert.ErrorContains(t, err, "parse env")
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := LoadWorkerFromEnv()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/ticker")
	t.Setenv("STOCKTICKER_SWEEP_EVERY", "10s")
	t.Setenv("STOCKTICKER_WORKER_RUN_ONCE", "true")
	cfg, err := LoadWorkerFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.SweepEvery)
	assert.True(t, cfg.RunOnce)
}

func TestLoadCLIFromEnv(t *testing.T) {
	t.Setenv("STK_API_BASE_URL", "https://ticker.example.com/ ")
	cfg := LoadCLIFromEnv()
	assert.Equal(t, "https://ticker.example.com", cfg.APIBaseURL)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticker.env")
	require.NoError(t, os.WriteFile(path, []byte("STOCKTICKER_DOTENV_PROBE=from-file\nSTOCKTICKER_DOTENV_KEEP=from-file\n"), 0o600))
	t.Setenv("STOCKTICKER_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { os.Unsetenv("STOCKTICKER_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("STOCKTICKER_DOTENV_PROBE"))
	assert.Equal(t, "from-env", os.Getenv("STOCKTICKER_DOTENV_KEEP"))
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, LogLevel(" WARN "))
	assert.Equal(t, slog.LevelInfo, LogLevel("chatty"))
}

func TestDiscordSettingsGoTogether(t *testing.T) {
	t.Setenv("STOCKTICKER_TOKEN_SECRET", "x")
	t.Setenv("DISCORD_BOT_TOKEN", "bot")
	t.Setenv("DISCORD_CHANNEL_ID", "")
	_, err := LoadAPIFromEnv()
	assert.ErrorContains(t, err, "DISCORD_CHANNEL_ID")

	t.Setenv("DISCORD_CHANNEL_ID", "123")
	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "123", cfg.DiscordChannelID)
}
