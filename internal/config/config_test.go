package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultGatewayBaseURL, cfg.Gateway.BaseURL)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Horde.PollInterval)
	assert.Equal(t, 60, cfg.Horde.MaxAttempts)
	assert.Equal(t, "https://stablehorde.net/api/v2", cfg.Horde.BaseURL)
	assert.Equal(t, "https://api.bytez.com/models/v2", cfg.Bytez.BaseURL)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
gateway:
  base_url: http://localhost:3000/bytez/v1
  api_key: from-file
horde:
  poll_interval: 500ms
  max_attempts: 10
server:
  allow_origins: [https://app.example]
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://localhost:3000/bytez/v1", cfg.Gateway.BaseURL)
	assert.Equal(t, "from-file", cfg.Gateway.APIKey)
	assert.Equal(t, 500*time.Millisecond, cfg.Horde.PollInterval)
	assert.Equal(t, 10, cfg.Horde.MaxAttempts)
	assert.Equal(t, []string{"https://app.example"}, cfg.Server.AllowOrigins)
	assert.Equal(t, ":3000", cfg.Server.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  api_key: from-file\n"), 0600))

	t.Setenv("GATEWAY_API_KEY", "from-env")
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOW_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("HORDE_POLL_INTERVAL", "1s")
	t.Setenv("HORDE_MAX_ATTEMPTS", "3")
	t.Setenv("BUCKET", "images")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.APIKey)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowOrigins)
	assert.Equal(t, time.Second, cfg.Horde.PollInterval)
	assert.Equal(t, 3, cfg.Horde.MaxAttempts)
	assert.Equal(t, "images", cfg.Archive.Bucket)

	opts := cfg.HordeOptions()
	assert.Equal(t, time.Second, opts.PollInterval)
	assert.Equal(t, 3, opts.MaxAttempts)
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("HORDE_POLL_INTERVAL", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "HORDE_POLL_INTERVAL")

	t.Setenv("HORDE_POLL_INTERVAL", "")
	t.Setenv("HORDE_MAX_ATTEMPTS", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "HORDE_MAX_ATTEMPTS")
}
