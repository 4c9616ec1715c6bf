package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// ProtobufStructDecoder decodes a binary google.protobuf.Struct into a plain
// map, so producers can ship schemaless documents over protobuf
type ProtobufStructDecoder struct{}

func (ProtobufStructDecoder) Format() string { return FormatProtobufStruct }

func (ProtobufStructDecoder) Decode(msg *stream.Message) (*stream.Record, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(msg.Payload, &s); err != nil {
		return nil, inerrors.DecodeError(FormatProtobufStruct, fmt.Errorf("failed to unmarshal protobuf: %w", err))
	}
	return newRecord(msg, s.AsMap()), nil
}
