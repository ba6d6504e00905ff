package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/importacoes/{action}", cfg.Endpoints.History)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	yaml := `
base_url: https://iptv.example.com/api/
tenant_id: acme
store:
  driver: file
  path: state.json
monitor:
  max_log_items: 500
  log_poll_interval: 2s
endpoints:
  start_job: /importacoes/{action}/run
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobwatch.yaml"), []byte(yaml), 0o600))
	t.Setenv("JOBWATCH_MONITOR_STATUS_POLL_INTERVAL", "7s")
	t.Setenv("JOBWATCH_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://iptv.example.com/api", cfg.BaseURL)
	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "state.json", cfg.Store.Path)
	assert.Equal(t, 500, cfg.Monitor.MaxLogItems)
	assert.Equal(t, 2*time.Second, cfg.Monitor.LogPollInterval)
	assert.Equal(t, 7*time.Second, cfg.Monitor.StatusPollInterval)
	assert.Equal(t, 200, cfg.Monitor.LogPageSize)
	assert.Equal(t, "/importacoes/{action}/run", cfg.Endpoints.StartJob)
	assert.Equal(t, "/jobs/{id}", cfg.Endpoints.Job)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_FallbacksForUnusableValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  max_log_items: -1\nsession:\n  refresh_threshold: 0s\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Monitor.MaxLogItems)
	assert.Equal(t, 30*time.Second, cfg.Session.RefreshThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "relative base url", mutate: func(c *Config) { c.BaseURL = "/api" }},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "etcd" }},
		{name: "file store without path", mutate: func(c *Config) { c.Store.Path = "" }},
		{name: "redis without url", mutate: func(c *Config) { c.Store.Driver = "redis" }},
		{name: "redis with url", mutate: func(c *Config) {
			c.Store.Driver = "redis"
			c.Store.RedisURL = "redis://localhost:6379/0"
		}, ok: true},
		{name: "memory", mutate: func(c *Config) { c.Store = StoreConfig{Driver: "memory"} }, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test,
// matching testing.T.Chdir which is unavailable before Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
