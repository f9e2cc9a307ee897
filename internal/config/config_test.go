package config

// ============================================================================
// Configuration Test File
// Purpose: Verify YAML loading, defaults and validation
// ============================================================================

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestLoad tests that file values override defaults and the rest keep them.
func TestLoad(t *testing.T) {
	path := writeConfig(t, `
redis:
  address: "redis.example:6380"
jobs:
  poll_timeout: 30
  poll_times: 15
  max_polling_clients: 128
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.example:6380", cfg.Redis.Address)
	assert.Equal(t, 30, cfg.Jobs.PollTimeout)
	assert.Equal(t, 15, cfg.Jobs.PollTimes)
	assert.EqualValues(t, 128, cfg.Jobs.MaxPollingClients)

	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Jobs.TokenTimeout, cfg.Jobs.TokenTimeout)
	assert.Equal(t, Default().Web.Port, cfg.Web.Port)
}

// TestLoadMissingFile tests the error for an absent config file.
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// TestValidate tests rejection of configurations the protocol cannot run
// with.
func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero poll times", func(c *Config) { c.Jobs.PollTimes = 0 }},
		{"zero poll timeout", func(c *Config) { c.Jobs.PollTimeout = 0 }},
		{"zero polling clients", func(c *Config) { c.Jobs.MaxPollingClients = 0 }},
		{"zero token timeout", func(c *Config) { c.Jobs.TokenTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

// TestPollInterval tests the attempts-times-interval arithmetic.
func TestPollInterval(t *testing.T) {
	jobs := JobConfig{PollTimeout: 10, PollTimes: 10}
	assert.Equal(t, time.Second, jobs.PollInterval())

	jobs = JobConfig{PollTimeout: 1, PollTimes: 4}
	assert.Equal(t, 250*time.Millisecond, jobs.PollInterval())
}
