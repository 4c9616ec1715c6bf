package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a file
// Supports both YAML and JSON formats
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))

	var config Config

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	return &config, nil
}

// LoadConfigWithDefaults loads configuration from a file and applies defaults for missing values
func LoadConfigWithDefaults(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyDefaults(config)

	return config, nil
}

// LoadOrDefault attempts to load configuration from path, returns default config if file doesn't exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return LoadConfigWithDefaults(path)
}

// SaveConfig saves configuration to a file
// Format is determined by file extension
func SaveConfig(config *Config, path string) error {
	ext := strings.ToLower(filepath.Ext(path))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadSchema returns the inline codec schema, reading SchemaFile when set
func (c CodecConfig) LoadSchema() (string, error) {
	if c.SchemaFile == "" {
		return c.Schema, nil
	}
	data, err := os.ReadFile(c.SchemaFile)
	if err != nil {
		return "", fmt.Errorf("failed to read schema file: %w", err)
	}
	return string(data), nil
}

// applyDefaults fills in missing values with defaults
func applyDefaults(config *Config) {
	defaults := DefaultConfig()

	if config.Version == "" {
		config.Version = defaults.Version
	}

	// Application
	if config.Application.Name == "" {
		config.Application.Name = defaults.Application.Name
	}
	if config.Application.Environment == "" {
		config.Application.Environment = defaults.Application.Environment
	}
	if config.Application.Tags == nil {
		config.Application.Tags = make(map[string]string)
	}

	// Adapter
	a, d := &config.Adapter, defaults.Adapter
	if a.Name == "" && a.Type != "" {
		a.Name = a.Type + "-in"
	}
	if a.BufferCapacity == 0 {
		a.BufferCapacity = d.BufferCapacity
	}
	if a.BlastSize == 0 {
		a.BlastSize = d.BlastSize
	}
	if a.ChunkSize == 0 {
		a.ChunkSize = d.ChunkSize
	}
	if a.PollTimeout == 0 {
		a.PollTimeout = d.PollTimeout
	}
	if a.ConnectTimeout == 0 {
		a.ConnectTimeout = d.ConnectTimeout
	}
	if a.ShutdownGrace == 0 {
		a.ShutdownGrace = d.ShutdownGrace
	}
	if a.Properties == nil {
		a.Properties = make(map[string]string)
	}
	if a.Retry.InitialBackoff == 0 {
		a.Retry.InitialBackoff = d.Retry.InitialBackoff
	}
	if a.Retry.MaxBackoff == 0 {
		a.Retry.MaxBackoff = d.Retry.MaxBackoff
	}
	if a.Retry.BackoffMultiplier == 0 {
		a.Retry.BackoffMultiplier = d.Retry.BackoffMultiplier
	}

	// Window
	if config.Window.Width == 0 {
		config.Window.Width = defaults.Window.Width
	}
	if config.Window.TickWidth == 0 {
		config.Window.TickWidth = config.Window.Width
	}

	// Codec
	if config.Codec.Format == "" {
		config.Codec.Format = defaults.Codec.Format
	}
	if config.Codec.Registry.Timeout == 0 {
		config.Codec.Registry.Timeout = defaults.Codec.Registry.Timeout
	}

	// Sinks
	for i := range config.Sinks.Log {
		if config.Sinks.Log[i].Level == "" {
			config.Sinks.Log[i].Level = "debug"
		}
	}
	for i := range config.Sinks.TimescaleDB {
		if config.Sinks.TimescaleDB[i].BatchSize == 0 {
			config.Sinks.TimescaleDB[i].BatchSize = 100
		}
	}

	if config.DeadLetter.MaxSize == 0 {
		config.DeadLetter.MaxSize = defaults.DeadLetter.MaxSize
	}

	// Metrics
	if config.Metrics.Address == "" {
		config.Metrics.Address = defaults.Metrics.Address
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = defaults.Metrics.Path
	}

	// Logging
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Logging.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Logging.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Logging.Output
	}

	// Tracing
	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = config.Application.Name
	}
	if config.Tracing.Exporter == "" {
		config.Tracing.Exporter = defaults.Tracing.Exporter
	}
	if config.Tracing.SamplingRate == 0 {
		config.Tracing.SamplingRate = defaults.Tracing.SamplingRate
	}
}
