// ============================================================================
// LAPS Configuration - YAML Config Loading
// ============================================================================
//
// Package: internal/config
// Purpose: Loads the backend configuration from a YAML file. Timeouts are
// plain integer seconds in the file; accessors convert to time.Duration.
//
// ============================================================================

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LAPS-Group/laps/internal/store"
)

// Config is the complete backend configuration.
type Config struct {
	Redis   store.Config  `yaml:"redis"`
	Jobs    JobConfig     `yaml:"jobs"`
	Web     WebConfig     `yaml:"web"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// JobConfig tunes the job dispatch and polling protocol. All timeouts are in
// seconds.
type JobConfig struct {
	// TokenTimeout is the TTL of a token -> job id mapping.
	TokenTimeout int `yaml:"token_timeout"`
	// CacheTimeout is the TTL of a dedup cache entry.
	CacheTimeout int `yaml:"cache_timeout"`
	// ResultTimeout is how long a job result is kept after being written.
	ResultTimeout int `yaml:"result_timeout"`
	// PollTimeout is the total time one poll invocation may spend waiting.
	PollTimeout int `yaml:"poll_timeout"`
	// PollTimes is how many result reads one poll invocation performs; the
	// sleep between reads is PollTimeout / PollTimes.
	PollTimes int `yaml:"poll_times"`
	// MaxPollingClients caps the number of concurrently polling clients.
	MaxPollingClients int64 `yaml:"max_polling_clients"`
}

// WebConfig configures the HTTP listener.
type WebConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when a field is absent from the
// file.
func Default() Config {
	return Config{
		Redis: store.Config{
			Address:   "localhost:6379",
			KeyPrefix: store.DefaultPrefix,
		},
		Jobs: JobConfig{
			TokenTimeout:      600,
			CacheTimeout:      600,
			ResultTimeout:     600,
			PollTimeout:       10,
			PollTimes:         10,
			MaxPollingClients: 64,
		},
		Web: WebConfig{
			Address: "0.0.0.0",
			Port:    8000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads and validates the configuration file at path. Missing fields
// keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the protocol cannot run with.
func (c Config) Validate() error {
	if c.Jobs.PollTimes < 1 {
		return fmt.Errorf("jobs.poll_times must be at least 1, got %d", c.Jobs.PollTimes)
	}
	if c.Jobs.PollTimeout < 1 {
		return fmt.Errorf("jobs.poll_timeout must be at least 1 second, got %d", c.Jobs.PollTimeout)
	}
	if c.Jobs.MaxPollingClients < 1 {
		return fmt.Errorf("jobs.max_polling_clients must be at least 1, got %d", c.Jobs.MaxPollingClients)
	}
	if c.Jobs.TokenTimeout < 1 || c.Jobs.CacheTimeout < 1 || c.Jobs.ResultTimeout < 1 {
		return fmt.Errorf("job timeouts must be at least 1 second")
	}
	return nil
}

// TokenTTL returns the token mapping TTL.
func (j JobConfig) TokenTTL() time.Duration {
	return time.Duration(j.TokenTimeout) * time.Second
}

// CacheTTL returns the dedup cache entry TTL.
func (j JobConfig) CacheTTL() time.Duration {
	return time.Duration(j.CacheTimeout) * time.Second
}

// ResultTTL returns the job result slot TTL.
func (j JobConfig) ResultTTL() time.Duration {
	return time.Duration(j.ResultTimeout) * time.Second
}

// PollInterval returns the sleep between result reads inside one poll
// invocation.
func (j JobConfig) PollInterval() time.Duration {
	return time.Duration(j.PollTimeout) * time.Second / time.Duration(j.PollTimes)
}
