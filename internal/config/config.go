// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the optional musestat YAML configuration file.
// Command-line flags override values loaded here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/musestat/pkg/muse"
)

// Config represents the complete configuration
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Serial   SerialConfig   `yaml:"serial"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Stream   StreamConfig   `yaml:"stream"`
	NATS     NATSConfig     `yaml:"nats"`
	HTTP     HTTPConfig     `yaml:"http"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig selects the headset and the command preset
type DeviceConfig struct {
	Target      string        `yaml:"target"` // name or address, empty for any
	Preset      string        `yaml:"preset"`
	BLE         bool          `yaml:"ble"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// SerialConfig contains the serial bridge settings
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// BridgeConfig contains the WebSocket bridge settings
type BridgeConfig struct {
	URL          string        `yaml:"url"`
	Username     string        `yaml:"username"`
	NoSSLVerify  bool          `yaml:"no_ssl_verify"`
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
}

// StreamConfig contains frame output settings
type StreamConfig struct {
	Families  []string `yaml:"families"`
	QueueSize int      `yaml:"queue_size"`
	Outlet    string   `yaml:"outlet"` // listen address for the frame outlet, empty to disable
}

// NATSConfig contains the telemetry bus settings
type NATSConfig struct {
	URL           string `yaml:"url"` // empty to disable
	SubjectPrefix string `yaml:"subject_prefix"`
	ClientName    string `yaml:"client_name"`
}

// HTTPConfig contains the control API settings
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// RegistryConfig contains the known-device store settings
type RegistryConfig struct {
	Path string `yaml:"path"` // empty to disable
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration
func Default() *Config {
	registry := ""
	if home, err := os.UserHomeDir(); err == nil {
		registry = filepath.Join(home, ".musestat", "devices.db")
	}
	return &Config{
		Device: DeviceConfig{
			Preset:      muse.PresetP50.Name,
			ScanTimeout: 30 * time.Second,
		},
		Serial: SerialConfig{
			Baud: 115200,
		},
		Bridge: BridgeConfig{
			ReplyTimeout: 15 * time.Second,
		},
		Stream: StreamConfig{
			Families:  []string{"eeg", "ppg"},
			QueueSize: 1024,
		},
		NATS: NATSConfig{
			SubjectPrefix: "muse",
			ClientName:    "musestat",
		},
		HTTP: HTTPConfig{
			Address: "127.0.0.1:8480",
		},
		Registry: RegistryConfig{
			Path: registry,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}
	if err := c.Serial.Validate(); err != nil {
		return fmt.Errorf("serial config: %w", err)
	}
	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	if _, err := muse.LookupCommandSet(d.Preset); err != nil {
		return err
	}
	if d.ScanTimeout < 0 {
		return fmt.Errorf("scan_timeout cannot be negative, got %s", d.ScanTimeout)
	}
	return nil
}

// Validate validates serial configuration
func (s *SerialConfig) Validate() error {
	if s.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", s.Baud)
	}
	return nil
}

// Validate validates bridge configuration
func (b *BridgeConfig) Validate() error {
	if b.URL != "" && !strings.HasPrefix(b.URL, "ws://") && !strings.HasPrefix(b.URL, "wss://") {
		return fmt.Errorf("url must use ws:// or wss://, got %s", b.URL)
	}
	if b.ReplyTimeout < 0 {
		return fmt.Errorf("reply_timeout cannot be negative, got %s", b.ReplyTimeout)
	}
	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if _, err := s.ParsedFamilies(); err != nil {
		return err
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}
	return nil
}

// ParsedFamilies returns the configured families (all when none are listed)
func (s *StreamConfig) ParsedFamilies() ([]muse.Family, error) {
	if len(s.Families) == 0 {
		return append([]muse.Family(nil), muse.Families[:]...), nil
	}
	out := make([]muse.Family, 0, len(s.Families))
	for _, name := range s.Families {
		f, err := muse.ParseFamily(name)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	return nil
}
