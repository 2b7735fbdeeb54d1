// Package config holds the daemon configuration and atomic YAML file I/O.
package config

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Daemon      DaemonConfig      `yaml:"daemon"`
	Logging     LoggingConfig     `yaml:"logging"`
	Definitions DefinitionsConfig `yaml:"definitions"`
	Cloud       CloudConfig       `yaml:"cloud"`
	Audit       AuditConfig       `yaml:"audit"`
}

type DeviceConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Location    string `yaml:"location,omitempty"`
	ModelID     string `yaml:"model_id,omitempty"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type DefinitionsConfig struct {
	// Dir holds command and state definition JSON files. The daemon
	// watches it and reloads the dictionary when files change.
	Dir           string  `yaml:"dir"`
	DebounceSec   float64 `yaml:"debounce_sec"`
	WatchDisabled bool    `yaml:"watch_disabled,omitempty"`
}

type CloudConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url,omitempty"`
	Token        string `yaml:"token,omitempty"`
	ReconnectSec int    `yaml:"reconnect_sec"`
}

type AuditConfig struct {
	Enabled  bool  `yaml:"enabled"`
	MaxBytes int64 `yaml:"max_bytes,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Name: "weft-device",
		},
		Daemon: DaemonConfig{
			ShutdownTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Definitions: DefinitionsConfig{
			Dir:         "definitions",
			DebounceSec: 0.5,
		},
		Cloud: CloudConfig{
			ReconnectSec: 5,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// Load reads a YAML config file. Missing fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config atomically.
func Save(path string, cfg Config) error {
	return AtomicWrite(path, cfg)
}
