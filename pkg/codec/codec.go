// Package codec turns raw payloads read by an adapter into decoded records.
package codec

import (
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/inlet/pkg/config"
	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// Payload formats
const (
	FormatRaw            = "raw"
	FormatText           = "text"
	FormatJSON           = "json"
	FormatJSONSchema     = "jsonschema"
	FormatAvro           = "avro"
	FormatAvroRegistry   = "avro-registry"
	FormatProtobufStruct = "protobuf-struct"
)

// Decoder converts one message into a record. Implementations are called from
// the drain path only, never concurrently.
type Decoder interface {
	Decode(msg *stream.Message) (*stream.Record, error)
	Format() string
}

// NewDecoder builds the decoder selected by cfg.Format
func NewDecoder(cfg config.CodecConfig, logger *zap.Logger) (Decoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Format {
	case "", FormatRaw:
		return RawDecoder{}, nil
	case FormatText:
		return TextDecoder{}, nil
	case FormatJSON:
		return JSONDecoder{}, nil
	case FormatJSONSchema:
		schema, err := cfg.LoadSchema()
		if err != nil {
			return nil, inerrors.ConfigError("codec.schema", "%v", err)
		}
		return NewJSONSchemaDecoder(schema)
	case FormatAvro:
		schema, err := cfg.LoadSchema()
		if err != nil {
			return nil, inerrors.ConfigError("codec.schema", "%v", err)
		}
		return NewAvroDecoder(schema)
	case FormatAvroRegistry:
		registry, err := NewRegistryClient(cfg.Registry, logger)
		if err != nil {
			return nil, err
		}
		return NewRegistryAvroDecoder(registry, logger), nil
	case FormatProtobufStruct:
		return ProtobufStructDecoder{}, nil
	default:
		return nil, inerrors.ConfigError("codec.format", "unknown codec format %q", cfg.Format)
	}
}

// newRecord copies the message envelope into a record carrying value
func newRecord(msg *stream.Message, value interface{}) *stream.Record {
	return &stream.Record{
		Key:        msg.Key,
		Value:      value,
		Headers:    msg.Headers,
		Source:     msg.Source,
		ReceivedAt: msg.ReceivedAt,
	}
}
