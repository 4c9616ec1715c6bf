package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/linkedin/goavro/v2"
	"github.com/riferrei/srclient"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// Confluent wire format: magic byte, 4 byte big-endian schema id, datum
const (
	magicByte      byte = 0x0
	wireHeaderSize      = 5
)

// SchemaSource resolves writer schemas by registry id
type SchemaSource interface {
	SchemaByID(id int) (string, error)
}

// RegistryClient is a SchemaSource backed by a Confluent-compatible registry
type RegistryClient struct {
	client *srclient.SchemaRegistryClient
	logger *zap.Logger
}

// NewRegistryClient creates a registry client. srclient caches schemas
// it has already fetched.
func NewRegistryClient(cfg config.RegistryConfig, logger *zap.Logger) (*RegistryClient, error) {
	if cfg.URL == "" {
		return nil, inerrors.ConfigError("codec.registry.url", "registry URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := srclient.CreateSchemaRegistryClient(cfg.URL)
	if cfg.Username != "" && cfg.Password != "" {
		client.SetCredentials(cfg.Username, cfg.Password)
	}
	client.SetTimeout(cfg.Timeout)

	logger.Info("Schema registry client initialized", zap.String("url", cfg.URL))

	return &RegistryClient{client: client, logger: logger}, nil
}

// SchemaByID fetches the schema text for id
func (r *RegistryClient) SchemaByID(id int) (string, error) {
	schema, err := r.client.GetSchema(id)
	if err != nil {
		return "", fmt.Errorf("failed to get schema %d: %w", id, err)
	}
	return schema.Schema(), nil
}

// DefaultLookupBackoff is how long a failed schema lookup is remembered
const DefaultLookupBackoff = 30 * time.Second

// failedLookup is a remembered schema resolution failure
type failedLookup struct {
	err   error
	until time.Time
}

// RegistryAvroDecoder decodes Confluent-framed Avro, resolving each schema id
// once and caching the compiled codec. A failed resolution is cached for the
// lookup backoff, so items carrying that id fail fast without another
// registry round trip.
type RegistryAvroDecoder struct {
	source  SchemaSource
	logger  *zap.Logger
	backoff time.Duration
	now     func() time.Time

	codecs   map[int]*goavro.Codec
	failures map[int]failedLookup
}

// RegistryOption configures a RegistryAvroDecoder
type RegistryOption func(*RegistryAvroDecoder)

// WithLookupBackoff sets how long a failed schema lookup is remembered
func WithLookupBackoff(d time.Duration) RegistryOption {
	return func(r *RegistryAvroDecoder) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// NewRegistryAvroDecoder creates a decoder that resolves schemas from source
func NewRegistryAvroDecoder(source SchemaSource, logger *zap.Logger, opts ...RegistryOption) *RegistryAvroDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &RegistryAvroDecoder{
		source:   source,
		logger:   logger,
		backoff:  DefaultLookupBackoff,
		now:      time.Now,
		codecs:   make(map[int]*goavro.Codec),
		failures: make(map[int]failedLookup),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *RegistryAvroDecoder) Format() string { return FormatAvroRegistry }

func (d *RegistryAvroDecoder) Decode(msg *stream.Message) (*stream.Record, error) {
	id, datum, err := splitWireFormat(msg.Payload)
	if err != nil {
		return nil, inerrors.DecodeError(FormatAvroRegistry, err)
	}

	codec, err := d.codec(id)
	if err != nil {
		return nil, inerrors.DecodeError(FormatAvroRegistry, err).WithMetadata("schema_id", id)
	}

	native, err := decodeAvro(codec, datum)
	if err != nil {
		return nil, inerrors.DecodeError(FormatAvroRegistry, err).WithMetadata("schema_id", id)
	}

	return newRecord(msg, native), nil
}

func (d *RegistryAvroDecoder) codec(id int) (*goavro.Codec, error) {
	if codec, ok := d.codecs[id]; ok {
		return codec, nil
	}
	if f, ok := d.failures[id]; ok {
		if d.now().Before(f.until) {
			return nil, f.err
		}
		delete(d.failures, id)
	}

	codec, err := d.resolve(id)
	if err != nil {
		d.failures[id] = failedLookup{err: err, until: d.now().Add(d.backoff)}
		d.logger.Warn("Schema lookup failed, items with this id are dropped until it is retried",
			zap.Int("schema_id", id),
			zap.Duration("retry_after", d.backoff),
			zap.Error(err))
		return nil, err
	}
	d.codecs[id] = codec

	d.logger.Debug("Created Avro codec", zap.Int("schema_id", id))
	return codec, nil
}

func (d *RegistryAvroDecoder) resolve(id int) (*goavro.Codec, error) {
	schema, err := d.source.SchemaByID(id)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create Avro codec for schema %d: %w", id, err)
	}
	return codec, nil
}

func splitWireFormat(data []byte) (int, []byte, error) {
	if len(data) < wireHeaderSize {
		return 0, nil, errors.New("data too short for Confluent wire format")
	}
	if data[0] != magicByte {
		return 0, nil, fmt.Errorf("invalid magic byte: expected 0x0, got 0x%x", data[0])
	}
	return int(binary.BigEndian.Uint32(data[1:wireHeaderSize])), data[wireHeaderSize:], nil
}

// AppendWireFormat frames an encoded datum with the registry schema id
func AppendWireFormat(dst []byte, id int, datum []byte) []byte {
	dst = append(dst, magicByte)
	dst = binary.BigEndian.AppendUint32(dst, uint32(id))
	return append(dst, datum...)
}
