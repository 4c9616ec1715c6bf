package codec

import (
	"fmt"

	"github.com/linkedin/goavro/v2"

	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// AvroDecoder decodes bare Avro binary against one fixed writer schema
type AvroDecoder struct {
	codec *goavro.Codec
}

// NewAvroDecoder compiles the writer schema
func NewAvroDecoder(schema string) (*AvroDecoder, error) {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, inerrors.ConfigError("codec.schema", "invalid Avro schema: %v", err)
	}
	return &AvroDecoder{codec: codec}, nil
}

func (d *AvroDecoder) Format() string { return FormatAvro }

func (d *AvroDecoder) Decode(msg *stream.Message) (*stream.Record, error) {
	native, err := decodeAvro(d.codec, msg.Payload)
	if err != nil {
		return nil, inerrors.DecodeError(FormatAvro, err)
	}
	return newRecord(msg, native), nil
}

// decodeAvro requires the datum to consume the whole buffer
func decodeAvro(codec *goavro.Codec, data []byte) (interface{}, error) {
	native, rest, err := codec.NativeFromBinary(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Avro: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%d trailing bytes after Avro datum", len(rest))
	}
	return native, nil
}
