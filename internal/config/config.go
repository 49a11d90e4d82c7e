// Package config handles the agentdeck workspace configuration.
// Config lives at <workspace>/.agentdeck/config.yaml and is auto-created
// with defaults on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all agentdeck configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Storage paths (relative paths resolve against the workspace)
	Storage StorageConfig `yaml:"storage"`

	// Experiment runtime settings
	Runtime RuntimeConfig `yaml:"runtime"`

	// Evidence ledger settings
	Ledger LedgerConfig `yaml:"ledger"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures the on-disk layout.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ArtifactRoot string `yaml:"artifact_root"`
	ProfilesPath string `yaml:"profiles_path"`
	LedgerPath   string `yaml:"ledger_path"`
	ClaimsPath   string `yaml:"claims_path"`
}

// RuntimeConfig configures the experiment runtime.
type RuntimeConfig struct {
	// QueueCapacity bounds the in-memory FIFO of pending runs.
	QueueCapacity int `yaml:"queue_capacity"`

	// DefaultTimeoutMs applies when neither profile nor request set one.
	DefaultTimeoutMs int64 `yaml:"default_timeout_ms"`

	// DefaultOutputCapBytes caps each captured stream (1 MiB default).
	DefaultOutputCapBytes int64 `yaml:"default_output_cap_bytes"`
}

// LedgerConfig configures the evidence ledger.
type LedgerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentdeck",
		Version: "0.1.0",
		Storage: StorageConfig{
			DatabasePath: ".agentdeck/experiments.db",
			ArtifactRoot: ".agentdeck/artifacts",
			ProfilesPath: ".agentdeck/profiles.json",
			LedgerPath:   ".agentdeck/ledger.db",
			ClaimsPath:   ".agentdeck/claims.db",
		},
		Runtime: RuntimeConfig{
			QueueCapacity:         64,
			DefaultTimeoutMs:      30000,
			DefaultOutputCapBytes: 1 << 20,
		},
		Ledger: LedgerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".agentdeck", "config.yaml")
}

// Load reads the workspace config, creating it with defaults if absent.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			if err := Save(workspace, cfg); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyFloors()
	return cfg, nil
}

// Save writes the config to the workspace.
func Save(workspace string, cfg *Config) error {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyFloors clamps nonsensical values back to defaults.
func (c *Config) applyFloors() {
	def := DefaultConfig()
	if c.Runtime.QueueCapacity <= 0 {
		c.Runtime.QueueCapacity = def.Runtime.QueueCapacity
	}
	if c.Runtime.DefaultTimeoutMs <= 0 {
		c.Runtime.DefaultTimeoutMs = def.Runtime.DefaultTimeoutMs
	}
	if c.Runtime.DefaultOutputCapBytes <= 0 {
		c.Runtime.DefaultOutputCapBytes = def.Runtime.DefaultOutputCapBytes
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = def.Storage.DatabasePath
	}
	if c.Storage.ArtifactRoot == "" {
		c.Storage.ArtifactRoot = def.Storage.ArtifactRoot
	}
	if c.Storage.ProfilesPath == "" {
		c.Storage.ProfilesPath = def.Storage.ProfilesPath
	}
	if c.Storage.LedgerPath == "" {
		c.Storage.LedgerPath = def.Storage.LedgerPath
	}
	if c.Storage.ClaimsPath == "" {
		c.Storage.ClaimsPath = def.Storage.ClaimsPath
	}
}

// ResolvePath resolves a possibly-relative storage path against the workspace.
func ResolvePath(workspace, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
