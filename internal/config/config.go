// Package config loads the bluescan configuration file.
//
// Config file locations (priority order):
//  1. $BLUESCAN_CONFIG
//  2. ./bluescan.yaml
//  3. $XDG_CONFIG_HOME/bluescan/config.yaml
//  4. ~/.config/bluescan/config.yaml
//  5. /etc/bluescan/config.yaml
//
// Flags override whatever the file provides; the file only sets defaults
// for repeat invocations.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel names accepted by scan.channel.
const (
	ChannelDBus         = "dbus"
	ChannelBluetoothctl = "bluetoothctl"
)

// Config is the root configuration structure.
type Config struct {
	Version      int                `yaml:"version"`
	Adapter      string             `yaml:"adapter"`
	Scan         ScanConfig         `yaml:"scan"`
	Bluetoothctl BluetoothctlConfig `yaml:"bluetoothctl"`
	History      HistoryConfig      `yaml:"history"`
	Export       ExportConfig       `yaml:"export"`
}

// ScanConfig bounds one scan session.
type ScanConfig struct {
	// DurationSeconds is the session time budget.
	DurationSeconds int `yaml:"duration_seconds"`
	// Channel selects the discovery channel: dbus or bluetoothctl.
	Channel string `yaml:"channel"`
	// Machine switches the presenter to the machine-parsable stream.
	Machine bool `yaml:"machine"`
}

// BluetoothctlConfig configures the line-oriented channel.
type BluetoothctlConfig struct {
	// Path is the binary to spawn, resolved via $PATH when relative.
	Path string `yaml:"path"`
}

// HistoryConfig configures the optional scan journal.
type HistoryConfig struct {
	// Path is the SQLite file; empty disables the journal.
	Path string `yaml:"path,omitempty"`
}

// ExportConfig configures the optional summary export.
type ExportConfig struct {
	// Path is the output file; format follows the extension. Empty
	// disables export.
	Path string `yaml:"path,omitempty"`
}

// Load finds and loads the config file, or returns defaults if none found.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}

	return &cfg, path, nil
}

// DefaultConfig returns the defaults used when no config file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Adapter == "" {
		c.Adapter = "hci0"
	}
	if c.Scan.DurationSeconds == 0 {
		c.Scan.DurationSeconds = 15
	}
	if c.Scan.Channel == "" {
		c.Scan.Channel = ChannelDBus
	}
	if c.Bluetoothctl.Path == "" {
		c.Bluetoothctl.Path = "bluetoothctl"
	}
}

// Validate rejects values no session could run with.
func (c *Config) Validate() error {
	if c.Scan.DurationSeconds <= 0 {
		return fmt.Errorf("scan duration must be a positive number of seconds, got %d", c.Scan.DurationSeconds)
	}
	if c.Scan.Channel != ChannelDBus && c.Scan.Channel != ChannelBluetoothctl {
		return fmt.Errorf("unknown scan channel %q (expected %s or %s)",
			c.Scan.Channel, ChannelDBus, ChannelBluetoothctl)
	}
	return nil
}

// Duration returns the scan budget as a time.Duration.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.Scan.DurationSeconds) * time.Second
}
