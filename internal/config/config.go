// Package config loads patchward configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds patchward configuration.
type Config struct {
	// PatchBinary is the executable used for the "patch" command.
	PatchBinary string `yaml:"patch_binary"`
	// DBPath is the SQLite journal location.
	DBPath string `yaml:"db_path"`
	// Listen is the daemon's HTTP listen address.
	Listen string `yaml:"listen"`
	// LogFile enables rotating file logging for the daemon when set.
	LogFile string `yaml:"log_file"`
	// LockTTLSec bounds how long a transaction may hold a target file.
	LockTTLSec int `yaml:"lock_ttl_sec"`
	// Scheduler configures asynchronous transaction workers.
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// SchedulerConfig defines the scheduler configuration.
type SchedulerConfig struct {
	// GlobalMax is the maximum number of concurrent workers across all connectors.
	GlobalMax int `yaml:"global_max"`
	// ByConnector defines per-connector concurrency limits.
	ByConnector map[string]int `yaml:"by_connector"`
	// PollInterval is how often pending transactions are looked for.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Dir returns ~/.patchward, falling back to the working directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".patchward"
	}
	return filepath.Join(home, ".patchward")
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		PatchBinary: "patch",
		DBPath:      filepath.Join(dir, "patchward.db"),
		Listen:      "127.0.0.1:7477",
		LockTTLSec:  300,
		Scheduler: SchedulerConfig{
			GlobalMax: 4,
			ByConnector: map[string]int{
				"localexec": 4,
			},
			PollInterval: time.Second,
		},
	}
}

// GetConnectorLimit returns the concurrency limit for a connector.
func (c *SchedulerConfig) GetConnectorLimit(connectorName string) int {
	if limit, ok := c.ByConnector[connectorName]; ok {
		return limit
	}
	return 1
}

// LoadConfig loads configuration from a YAML file. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromHome loads configuration from ~/.patchward/config.yaml.
func LoadConfigFromHome() (*Config, error) {
	return LoadConfig(filepath.Join(Dir(), "config.yaml"))
}

// SaveConfig saves configuration to a YAML file, creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.PatchBinary == "" {
		return fmt.Errorf("patch_binary must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.LockTTLSec < 1 {
		return fmt.Errorf("lock_ttl_sec must be at least 1")
	}
	if c.Scheduler.GlobalMax < 1 {
		return fmt.Errorf("scheduler.global_max must be at least 1")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	return nil
}
