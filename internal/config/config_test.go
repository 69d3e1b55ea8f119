package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.HeartbeatInterval())
	assert.Equal(t, 10*time.Second, cfg.Server.AuthTimeout())
	assert.Equal(t, 4, cfg.Engines.SuggestionPool)
	assert.Equal(t, 2, cfg.Engines.AnalysisPool)
	assert.Equal(t, "static", cfg.Auth.Mode)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  heartbeat_seconds: 15
engines:
  binary_dir: /opt/engines
  suggestion_pool: 8
auth:
  mode: redis
  redis_addr: redis.internal:6379
limits:
  requests_per_minute: 30
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.HeartbeatInterval())
	assert.Equal(t, "/opt/engines", cfg.Engines.BinaryDir)
	assert.Equal(t, 8, cfg.Engines.SuggestionPool)
	assert.Equal(t, 2, cfg.Engines.AnalysisPool, "unset keys keep defaults")
	assert.Equal(t, "redis", cfg.Auth.Mode)
	assert.Equal(t, 30, cfg.Limits.RequestsPerMinute)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("CHESSMATE_PORT", "7777")
	t.Setenv("CHESSMATE_AUTH_MODE", "redis")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Auth.Mode)
}

func TestValidation(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("CHESSMATE_PORT", "99999")
		_, err := Load("")
		assert.ErrorContains(t, err, "invalid port")
	})

	t.Run("bad pool size", func(t *testing.T) {
		t.Setenv("CHESSMATE_SUGGESTION_POOL", "0")
		_, err := Load("")
		assert.ErrorContains(t, err, "pool sizes")
	})

	t.Run("bad auth mode", func(t *testing.T) {
		t.Setenv("CHESSMATE_AUTH_MODE", "jwt")
		_, err := Load("")
		assert.ErrorContains(t, err, "auth mode")
	})

	t.Run("unparsable env int", func(t *testing.T) {
		t.Setenv("CHESSMATE_PORT", "lots")
		_, err := Load("")
		assert.Error(t, err)
	})
}
