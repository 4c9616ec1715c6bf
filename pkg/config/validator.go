package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("found %d validation error(s):\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Has reports whether field failed validation
func (e *ValidationErrors) Has(field string) bool {
	for _, err := range e.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Add adds a validation error
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// checkOneOf records an error unless value is one of valid
func (e *ValidationErrors) checkOneOf(field, what, value string, valid []string) {
	if !slices.Contains(valid, value) {
		e.Add(field, fmt.Sprintf("invalid %s %s (valid: %s)", what, value, strings.Join(valid, ", ")))
	}
}

// Validate validates the entire configuration
func Validate(config *Config) error {
	errs := &ValidationErrors{}

	validateVersion(config, errs)
	validateApplication(config, errs)
	validateAdapter(config, errs)
	validateWindow(config, errs)
	validateCodec(config, errs)
	validateSinks(config, errs)
	validateDeadLetter(config, errs)
	validateMetrics(config, errs)
	validateLogging(config, errs)
	validateTracing(config, errs)

	if errs.HasErrors() {
		return errs
	}

	return nil
}

func validateVersion(config *Config, errs *ValidationErrors) {
	if err := ValidateVersion(config); err != nil {
		errs.Add("version", err.Error())
	}
}

func validateApplication(config *Config, errs *ValidationErrors) {
	if config.Application.Name == "" {
		errs.Add("application.name", "application name is required")
	}

	if config.Application.Environment != "" {
		errs.checkOneOf("application.environment", "environment", config.Application.Environment,
			[]string{"development", "staging", "production", "test"})
	}
}

func validateAdapter(config *Config, errs *ValidationErrors) {
	a := config.Adapter

	if a.Name == "" {
		errs.Add("adapter.name", "adapter name is required")
	}

	errs.checkOneOf("adapter.type", "adapter type", a.Type,
		[]string{AdapterNATS, AdapterRedis, AdapterSocket, AdapterWebSocket, AdapterKafka})

	if a.Endpoint == "" {
		errs.Add("adapter.endpoint", "endpoint is required")
	}

	switch a.Type {
	case AdapterNATS:
		if a.Filter == "" {
			errs.Add("adapter.filter", "subject is required for nats")
		}
	case AdapterRedis:
		if a.Filter == "" {
			errs.Add("adapter.filter", "channel pattern is required for redis")
		}
	case AdapterWebSocket:
		if u, err := url.Parse(a.Endpoint); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs.Add("adapter.endpoint", "websocket endpoint must be a ws:// or wss:// URL")
		}
	case AdapterKafka:
		if len(a.Topics()) == 0 {
			errs.Add("adapter.filter", "at least one topic is required for kafka")
		}
		if a.GroupID == "" {
			errs.Add("adapter.group_id", "group ID is required for kafka")
		}
	}

	if a.BufferCapacity <= 0 {
		errs.Add("adapter.buffer_capacity", "buffer capacity must be positive")
	}
	if a.BlastSize <= 0 {
		errs.Add("adapter.blast_size", "blast size must be positive")
	}
	if a.Type == AdapterSocket && a.ChunkSize <= 0 {
		errs.Add("adapter.chunk_size", "chunk size must be positive")
	}
	if a.ShutdownGrace < 0 {
		errs.Add("adapter.shutdown_grace", "shutdown grace must not be negative")
	}

	r := a.Retry
	if r.MaxAttempts != 0 {
		if r.InitialBackoff <= 0 {
			errs.Add("adapter.retry.initial_backoff", "initial backoff must be positive when retry is enabled")
		}
		if r.MaxBackoff < r.InitialBackoff {
			errs.Add("adapter.retry.max_backoff", "max backoff must be >= initial backoff")
		}
		if r.BackoffMultiplier < 1 {
			errs.Add("adapter.retry.backoff_multiplier", "backoff multiplier must be >= 1")
		}
		if r.BackoffJitter < 0 || r.BackoffJitter > 1 {
			errs.Add("adapter.retry.backoff_jitter", "backoff jitter must be between 0 and 1")
		}
	}
}

func validateWindow(config *Config, errs *ValidationErrors) {
	w := config.Window

	if w.FirstWindowMillis < 0 {
		errs.Add("window.first_window_millis", "first window must not be negative")
	}
	if w.Width <= 0 {
		errs.Add("window.width", "window width must be positive")
	}
	if w.TickWidth <= 0 {
		errs.Add("window.tick_width", "tick width must be positive")
	}
	if w.Width > 0 && w.TickWidth > 0 && w.Width%w.TickWidth != 0 {
		errs.Add("window.width", fmt.Sprintf("window width %s is not a multiple of tick width %s", w.Width, w.TickWidth))
	}
}

func validateCodec(config *Config, errs *ValidationErrors) {
	c := config.Codec

	errs.checkOneOf("codec.format", "codec format", c.Format,
		[]string{"raw", "text", "json", "jsonschema", "avro", "avro-registry", "protobuf-struct"})

	switch c.Format {
	case "jsonschema", "avro":
		if c.Schema == "" && c.SchemaFile == "" {
			errs.Add("codec.schema", fmt.Sprintf("schema or schema_file is required for %s", c.Format))
		}
		if c.SchemaFile != "" && !fileExists(c.SchemaFile) {
			errs.Add("codec.schema_file", fmt.Sprintf("schema file does not exist: %s", c.SchemaFile))
		}
	case "avro-registry":
		if c.Registry.URL == "" {
			errs.Add("codec.registry.url", "registry URL is required for avro-registry")
		}
	}
}

func validateSinks(config *Config, errs *ValidationErrors) {
	names := make(map[string]bool)
	checkName := func(prefix, name string) {
		if name == "" {
			errs.Add(prefix+".name", "sink name is required")
			return
		}
		if names[name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate sink name %s", name))
		}
		names[name] = true
	}

	for i, l := range config.Sinks.Log {
		prefix := fmt.Sprintf("sinks.log[%d]", i)
		checkName(prefix, l.Name)
		errs.checkOneOf(prefix+".level", "log level", l.Level, []string{"debug", "info", "warn", "error"})
	}

	for i, kafka := range config.Sinks.Kafka {
		prefix := fmt.Sprintf("sinks.kafka[%d]", i)
		checkName(prefix, kafka.Name)

		if len(kafka.Brokers) == 0 {
			errs.Add(prefix+".brokers", "at least one broker is required")
		}
		if kafka.Topic == "" {
			errs.Add(prefix+".topic", "topic is required")
		}
	}

	for i, ts := range config.Sinks.TimescaleDB {
		prefix := fmt.Sprintf("sinks.timescaledb[%d]", i)
		checkName(prefix, ts.Name)

		if ts.ConnectionString == "" {
			errs.Add(prefix+".connection_string", "connection string is required")
		}
		if ts.Table == "" {
			errs.Add(prefix+".table", "table name is required")
		}
		if ts.BatchSize <= 0 {
			errs.Add(prefix+".batch_size", "batch size must be positive")
		}
		if ts.MaxPending != 0 && ts.MaxPending < ts.BatchSize {
			errs.Add(prefix+".max_pending", "max pending must be at least the batch size")
		}
	}

	if b := config.Sinks.Breaker; b.Enabled {
		if b.FailureThreshold <= 0 {
			errs.Add("sinks.breaker.failure_threshold", "failure threshold must be positive")
		}
		if b.SuccessThreshold <= 0 {
			errs.Add("sinks.breaker.success_threshold", "success threshold must be positive")
		}
		if b.OpenTimeout <= 0 {
			errs.Add("sinks.breaker.open_timeout", "open timeout must be positive")
		}
	}
}

func validateDeadLetter(config *Config, errs *ValidationErrors) {
	if config.DeadLetter.Enabled && config.DeadLetter.MaxSize <= 0 {
		errs.Add("dead_letter.max_size", "max size must be positive when the dead letter queue is enabled")
	}
}

func validateMetrics(config *Config, errs *ValidationErrors) {
	if config.Metrics.Enabled {
		if config.Metrics.Address == "" {
			errs.Add("metrics.address", "metrics address is required when metrics are enabled")
		}

		if config.Metrics.Path == "" || !strings.HasPrefix(config.Metrics.Path, "/") {
			errs.Add("metrics.path", "metrics path must start with /")
		}
	}
}

func validateLogging(config *Config, errs *ValidationErrors) {
	errs.checkOneOf("logging.level", "log level", config.Logging.Level, []string{"debug", "info", "warn", "error"})
	errs.checkOneOf("logging.format", "log format", config.Logging.Format, []string{"json", "console"})
	errs.checkOneOf("logging.output", "log output", config.Logging.Output, []string{"stdout", "stderr", "file"})

	if config.Logging.Output == "file" && config.Logging.OutputPath == "" {
		errs.Add("logging.output_path", "output path is required when output is 'file'")
	}
}

func validateTracing(config *Config, errs *ValidationErrors) {
	if !config.Tracing.Enabled {
		return
	}

	errs.checkOneOf("tracing.exporter", "exporter", config.Tracing.Exporter, []string{"stdout", "otlp"})

	if config.Tracing.Exporter == "otlp" && config.Tracing.Endpoint == "" {
		errs.Add("tracing.endpoint", "endpoint is required for the otlp exporter")
	}
	if config.Tracing.SamplingRate < 0 || config.Tracing.SamplingRate > 1 {
		errs.Add("tracing.sampling_rate", "sampling rate must be between 0 and 1")
	}
}

// ValidateAndLoad loads and validates a configuration file
func ValidateAndLoad(path string) (*Config, error) {
	config, err := LoadConfigWithEnv(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	_, err := os.Stat(path)
	return err == nil
}
