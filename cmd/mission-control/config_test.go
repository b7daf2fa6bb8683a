package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomBuge/openclaw-mission-control/internal/db"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "application.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), writeConfig(t, "log:\n  level: DEBUG\n"))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, uint(8000), cfg.Http.Port)
	assert.Equal(t, db.DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Liveness.OfflineAfter)
	assert.Equal(t, 10*time.Second, cfg.OpenClaw.Timeout)
	assert.True(t, cfg.Grpc.Enabled)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
db:
  driver: postgres
  url: postgres://localhost/mc
openclaw:
  url: ws://gateway:18789
  timeout: 3s
liveness:
  offline_after: 90s
`)
	t.Setenv("HTTP_ADMIN_API_KEY", "from-env")
	t.Setenv("OPENCLAW_TOKEN", "gw-token")

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, db.DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, "from-env", cfg.Http.AdminAPIKey)
	assert.Equal(t, 90*time.Second, cfg.Liveness.OfflineAfter)
	assert.Equal(t, 3*time.Second, cfg.OpenClaw.Timeout)
	gw := cfg.OpenClaw.Gateway()
	assert.Equal(t, "ws://gateway:18789", gw.URL)
	assert.Equal(t, "gw-token", gw.Token)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := Config{}
	cfg.Http.AdminAPIKey = "k"
	cfg.Http.JWTSecret = "s"
	cfg.OpenClaw.Token = "t"
	cfg.Matrix.AccessToken = "m"
	cfg.DB.Url = "postgres://user:pw@host/db"

	out := cfg.Redacted()
	assert.Equal(t, redacted, out.Http.AdminAPIKey)
	assert.Equal(t, redacted, out.Http.JWTSecret)
	assert.Equal(t, redacted, out.OpenClaw.Token)
	assert.Equal(t, redacted, out.Matrix.AccessToken)
	assert.Equal(t, redacted, out.DB.Url)
	assert.Equal(t, "k", cfg.Http.AdminAPIKey)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
