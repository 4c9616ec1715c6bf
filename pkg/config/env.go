package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration
// Environment variables follow the pattern: INLET_<SECTION>_<KEY>
// Example: INLET_ADAPTER_BLAST_SIZE=500
func ApplyEnvOverrides(config *Config) error {
	// Application overrides
	if val := os.Getenv("INLET_APPLICATION_NAME"); val != "" {
		config.Application.Name = val
	}
	if val := os.Getenv("INLET_APPLICATION_ENVIRONMENT"); val != "" {
		config.Application.Environment = val
	}

	// Adapter overrides
	if val := os.Getenv("INLET_ADAPTER_NAME"); val != "" {
		config.Adapter.Name = val
	}
	if val := os.Getenv("INLET_ADAPTER_TYPE"); val != "" {
		config.Adapter.Type = val
	}
	if val := os.Getenv("INLET_ADAPTER_ENDPOINT"); val != "" {
		config.Adapter.Endpoint = val
	}
	if val := os.Getenv("INLET_ADAPTER_FILTER"); val != "" {
		config.Adapter.Filter = val
	}
	if val := os.Getenv("INLET_ADAPTER_QUEUE"); val != "" {
		config.Adapter.Queue = val
	}
	if val := os.Getenv("INLET_ADAPTER_GROUP_ID"); val != "" {
		config.Adapter.GroupID = val
	}

	if err := envInt("INLET_ADAPTER_BUFFER_CAPACITY", &config.Adapter.BufferCapacity); err != nil {
		return err
	}
	if err := envInt("INLET_ADAPTER_BLAST_SIZE", &config.Adapter.BlastSize); err != nil {
		return err
	}
	if err := envInt("INLET_ADAPTER_CHUNK_SIZE", &config.Adapter.ChunkSize); err != nil {
		return err
	}
	if err := envDuration("INLET_ADAPTER_SHUTDOWN_GRACE", &config.Adapter.ShutdownGrace); err != nil {
		return err
	}
	if err := envInt("INLET_ADAPTER_RETRY_MAX_ATTEMPTS", &config.Adapter.Retry.MaxAttempts); err != nil {
		return err
	}

	// Window overrides
	if val := os.Getenv("INLET_WINDOW_FIRST_WINDOW_MILLIS"); val != "" {
		millis, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid INLET_WINDOW_FIRST_WINDOW_MILLIS: %w", err)
		}
		config.Window.FirstWindowMillis = millis
	}
	if err := envDuration("INLET_WINDOW_WIDTH", &config.Window.Width); err != nil {
		return err
	}
	if err := envDuration("INLET_WINDOW_TICK_WIDTH", &config.Window.TickWidth); err != nil {
		return err
	}

	// Codec overrides
	if val := os.Getenv("INLET_CODEC_FORMAT"); val != "" {
		config.Codec.Format = val
	}
	if val := os.Getenv("INLET_CODEC_SCHEMA_FILE"); val != "" {
		config.Codec.SchemaFile = val
	}
	if val := os.Getenv("INLET_CODEC_REGISTRY_URL"); val != "" {
		config.Codec.Registry.URL = val
	}
	if val := os.Getenv("INLET_CODEC_REGISTRY_USERNAME"); val != "" {
		config.Codec.Registry.Username = val
	}
	if val := os.Getenv("INLET_CODEC_REGISTRY_PASSWORD"); val != "" {
		config.Codec.Registry.Password = val
	}

	// Dead letter overrides
	if val := os.Getenv("INLET_DEAD_LETTER_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid INLET_DEAD_LETTER_ENABLED: %w", err)
		}
		config.DeadLetter.Enabled = enabled
	}

	// Metrics overrides
	if val := os.Getenv("INLET_METRICS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid INLET_METRICS_ENABLED: %w", err)
		}
		config.Metrics.Enabled = enabled
	}
	if val := os.Getenv("INLET_METRICS_ADDRESS"); val != "" {
		config.Metrics.Address = val
	}
	if val := os.Getenv("INLET_METRICS_PATH"); val != "" {
		config.Metrics.Path = val
	}

	// Logging overrides
	if val := os.Getenv("INLET_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("INLET_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("INLET_LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("INLET_LOG_OUTPUT_PATH"); val != "" {
		config.Logging.OutputPath = val
	}

	// Tracing overrides
	if val := os.Getenv("INLET_TRACING_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid INLET_TRACING_ENABLED: %w", err)
		}
		config.Tracing.Enabled = enabled
	}
	if val := os.Getenv("INLET_TRACING_EXPORTER"); val != "" {
		config.Tracing.Exporter = val
	}
	if val := os.Getenv("INLET_TRACING_ENDPOINT"); val != "" {
		config.Tracing.Endpoint = val
	}

	return nil
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

// GetEnvWithDefault retrieves an environment variable or returns a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// LoadConfigWithEnv loads configuration from file and applies environment variable overrides
func LoadConfigWithEnv(path string) (*Config, error) {
	config, err := LoadConfigWithDefaults(path)
	if err != nil {
		return nil, err
	}

	if err := ApplyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

// LoadOrDefaultWithEnv loads configuration from file (or uses default) and applies environment overrides
func LoadOrDefaultWithEnv(path string) (*Config, error) {
	config, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if err := ApplyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}
