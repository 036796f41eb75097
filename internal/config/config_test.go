package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 60, cfg.RateLimit.PerMinute)
	assert.Equal(t, 10000, cfg.RateLimit.PerDay)
	assert.False(t, cfg.Redis.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromReader(t *testing.T) {
	yaml := `
server:
  addr: ":9090"
  shutdownTimeout: 5s
redis:
  enabled: true
  addr: "redis:6379"
rateLimit:
  perMinute: 30
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 30, cfg.RateLimit.PerMinute)

	// Fields the file does not name keep their defaults.
	assert.Equal(t, 10000, cfg.RateLimit.PerDay)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_EnvSubstitution(t *testing.T) {
	t.Setenv("KEYGATE_REDIS_ADDR", "redis.internal:6379")

	yaml := `
redis:
  enabled: true
  addr: "${KEYGATE_REDIS_ADDR}"
  keyPrefix: "${KEYGATE_PREFIX:-keygate:}"
logging:
  level: "${KEYGATE_LOG_LEVEL:-debug}"
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "keygate:", cfg.Redis.KeyPrefix, "unset var falls back to default")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_FileMissing(t *testing.T) {
	_, err := LoadConfig("/nonexistent/keygate.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("server: [not a map"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"negative shutdown", func(c *Config) { c.Server.ShutdownTimeout = -time.Second }},
		{"redis enabled without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad audit format", func(c *Config) { c.Audit.Format = "xml" }},
		{"negative limits", func(c *Config) { c.RateLimit.PerDay = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.Error(t, ValidateConfig(nil))
}

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "keygate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestWatcher_LoadsInitialConfig(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "server:\n  addr: \":7070\"\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	cfg := w.GetLastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rateLimit:\n  perMinute: 10\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c },
		WithDebounceDelay(10*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	writeConfigFile(t, dir, "rateLimit:\n  perMinute: 99\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 99, cfg.RateLimit.PerMinute)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_InvalidReloadKeepsLastConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rateLimit:\n  perMinute: 10\n")

	errs := make(chan error, 1)
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(func(e error) { errs <- e }),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	writeConfigFile(t, dir, "logging:\n  level: bogus\n")

	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	assert.Equal(t, 10, w.GetLastConfig().RateLimit.PerMinute)
}

func TestWatcher_ForceReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rateLimit:\n  perMinute: 10\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	writeConfigFile(t, dir, "rateLimit:\n  perMinute: 42\n")
	require.NoError(t, w.ForceReload())
	assert.Equal(t, 42, w.GetLastConfig().RateLimit.PerMinute)
}
