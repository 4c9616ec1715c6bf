package config

import (
	"strings"
	"time"
)

// Version represents the configuration file version
const (
	CurrentConfigVersion = "v1"
)

// Adapter types
const (
	AdapterNATS      = "nats"
	AdapterRedis     = "redis"
	AdapterSocket    = "socket"
	AdapterWebSocket = "websocket"
	AdapterKafka     = "kafka"
)

// Defaults carried over from the socket and pub/sub input operators
const (
	DefaultBufferCapacity = 1024 * 1024
	DefaultBlastSize      = 1000
	DefaultChunkSize      = 8192
)

// Config represents the complete inlet configuration
type Config struct {
	// Version of the configuration schema
	Version string `yaml:"version" json:"version"`

	// Application metadata
	Application ApplicationConfig `yaml:"application" json:"application"`

	// External source and its buffer
	Adapter AdapterConfig `yaml:"adapter" json:"adapter"`

	// Window and tick widths
	Window WindowConfig `yaml:"window" json:"window"`

	// How drained payloads are decoded
	Codec CodecConfig `yaml:"codec" json:"codec"`

	// Where records go
	Sinks SinksConfig `yaml:"sinks" json:"sinks"`

	// Retention of payloads that failed to decode
	DeadLetter DeadLetterConfig `yaml:"dead_letter" json:"dead_letter"`

	// Metrics and monitoring configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ApplicationConfig holds application-level metadata
type ApplicationConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Environment string            `yaml:"environment" json:"environment"` // development, staging, production, test
	Tags        map[string]string `yaml:"tags" json:"tags"`
}

// AdapterConfig describes one external source. Endpoint and Filter are
// interpreted per type:
//
//	nats:      server URL, subject (Queue selects a queue group)
//	redis:     host:port, channel pattern
//	socket:    host:port, unused
//	websocket: ws:// or wss:// URL, unused
//	kafka:     bootstrap servers, comma separated topics (GroupID required)
type AdapterConfig struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Filter   string `yaml:"filter" json:"filter"`
	Queue    string `yaml:"queue" json:"queue"`
	GroupID  string `yaml:"group_id" json:"group_id"`

	BufferCapacity int           `yaml:"buffer_capacity" json:"buffer_capacity"`
	BlastSize      int           `yaml:"blast_size" json:"blast_size"`
	ChunkSize      int           `yaml:"chunk_size" json:"chunk_size"`
	PollTimeout    time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`

	// Extra client properties, passed through to the kafka consumer
	Properties map[string]string `yaml:"properties" json:"properties"`

	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// Topics splits Filter into kafka topics
func (a AdapterConfig) Topics() []string {
	var topics []string
	for _, t := range strings.Split(a.Filter, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// RetryConfig controls retries when opening the external source
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff" json:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	BackoffJitter     float64       `yaml:"backoff_jitter" json:"backoff_jitter"`
}

// WindowConfig holds window scheduling configuration
type WindowConfig struct {
	// Start of window 0 in unix millis; 0 means now, truncated to the window width
	FirstWindowMillis int64         `yaml:"first_window_millis" json:"first_window_millis"`
	Width             time.Duration `yaml:"width" json:"width"`
	TickWidth         time.Duration `yaml:"tick_width" json:"tick_width"`
}

// FirstWindow resolves the start of window 0 relative to now
func (w WindowConfig) FirstWindow(now time.Time) time.Time {
	if w.FirstWindowMillis > 0 {
		return time.UnixMilli(w.FirstWindowMillis)
	}
	if w.Width > 0 {
		return now.Truncate(w.Width)
	}
	return now
}

// CodecConfig selects the payload decoder
type CodecConfig struct {
	Format     string         `yaml:"format" json:"format"` // raw, text, json, jsonschema, avro, avro-registry, protobuf-struct
	Schema     string         `yaml:"schema" json:"schema"`
	SchemaFile string         `yaml:"schema_file" json:"schema_file"`
	Registry   RegistryConfig `yaml:"registry" json:"registry"`
}

// RegistryConfig points at a Confluent-compatible schema registry
type RegistryConfig struct {
	URL      string        `yaml:"url" json:"url"`
	Username string        `yaml:"username" json:"username"`
	Password string        `yaml:"password" json:"password"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// SinksConfig holds data sink configurations
type SinksConfig struct {
	Log         []LogSinkConfig       `yaml:"log" json:"log"`
	Kafka       []KafkaSinkConfig     `yaml:"kafka" json:"kafka"`
	TimescaleDB []TimescaleSinkConfig `yaml:"timescaledb" json:"timescaledb"`

	// Circuit breaker applied to every sink
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// BreakerConfig stops writing to a sink after repeated failures and
// tries it again once OpenTimeout has passed
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

// LogSinkConfig writes records to the process log
type LogSinkConfig struct {
	Name  string `yaml:"name" json:"name"`
	Level string `yaml:"level" json:"level"`
}

// KafkaSinkConfig holds Kafka sink configuration
type KafkaSinkConfig struct {
	Name         string            `yaml:"name" json:"name"`
	Brokers      []string          `yaml:"brokers" json:"brokers"`
	Topic        string            `yaml:"topic" json:"topic"`
	FlushTimeout time.Duration     `yaml:"flush_timeout" json:"flush_timeout"`
	Properties   map[string]string `yaml:"properties" json:"properties"`
}

// TimescaleSinkConfig holds TimescaleDB sink configuration
type TimescaleSinkConfig struct {
	Name             string `yaml:"name" json:"name"`
	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	Table            string `yaml:"table" json:"table"`
	BatchSize        int    `yaml:"batch_size" json:"batch_size"`
	MaxPending       int    `yaml:"max_pending" json:"max_pending"` // 0 means 10 batches
}

// DeadLetterConfig keeps a bounded history of undecodable payloads
type DeadLetterConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	MaxSize int  `yaml:"max_size" json:"max_size"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format     string `yaml:"format" json:"format"` // json, console
	Output     string `yaml:"output" json:"output"` // stdout, stderr, file
	OutputPath string `yaml:"output_path" json:"output_path"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // stdout, otlp
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	Insecure     bool    `yaml:"insecure" json:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Application: ApplicationConfig{
			Name:        "inlet",
			Environment: "development",
			Tags:        make(map[string]string),
		},
		Adapter: AdapterConfig{
			Name:           "nats-in",
			Type:           AdapterNATS,
			Endpoint:       "nats://127.0.0.1:4222",
			Filter:         "inlet.events",
			BufferCapacity: DefaultBufferCapacity,
			BlastSize:      DefaultBlastSize,
			ChunkSize:      DefaultChunkSize,
			PollTimeout:    100 * time.Millisecond,
			ConnectTimeout: 5 * time.Second,
			ShutdownGrace:  2 * time.Second,
			Properties:     make(map[string]string),
			Retry: RetryConfig{
				MaxAttempts:       5,
				InitialBackoff:    200 * time.Millisecond,
				MaxBackoff:        10 * time.Second,
				BackoffMultiplier: 2.0,
				BackoffJitter:     0.1,
			},
		},
		Window: WindowConfig{
			Width:     500 * time.Millisecond,
			TickWidth: 500 * time.Millisecond,
		},
		Codec: CodecConfig{
			Format: "raw",
			Registry: RegistryConfig{
				Timeout: 10 * time.Second,
			},
		},
		Sinks: SinksConfig{
			Log:         []LogSinkConfig{{Name: "log", Level: "debug"}},
			Kafka:       []KafkaSinkConfig{},
			TimescaleDB: []TimescaleSinkConfig{},
			Breaker: BreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				SuccessThreshold: 1,
				OpenTimeout:      30 * time.Second,
			},
		},
		DeadLetter: DeadLetterConfig{
			Enabled: false,
			MaxSize: 1000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9091",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "inlet",
			Exporter:     "stdout",
			SamplingRate: 1.0,
		},
	}
}

// ProductionConfig returns a production-ready configuration
func ProductionConfig() *Config {
	config := DefaultConfig()
	config.Application.Environment = "production"
	config.Adapter.Retry.MaxAttempts = -1
	config.Adapter.Retry.MaxBackoff = 60 * time.Second
	config.Adapter.ShutdownGrace = 5 * time.Second
	config.Sinks.Log = []LogSinkConfig{}
	config.Sinks.Breaker.Enabled = true
	config.Logging.Level = "warn"
	config.Tracing.SamplingRate = 0.1
	return config
}

// DevelopmentConfig returns a development-friendly configuration
func DevelopmentConfig() *Config {
	config := DefaultConfig()
	config.Application.Environment = "development"
	config.Adapter.Retry.MaxAttempts = 0
	config.DeadLetter.Enabled = true
	config.Logging.Level = "debug"
	config.Logging.Format = "console"
	return config
}
