package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	inerrors "github.com/therealutkarshpriyadarshi/inlet/pkg/errors"
	"github.com/therealutkarshpriyadarshi/inlet/pkg/stream"
)

// RawDecoder passes the payload through as bytes
type RawDecoder struct{}

func (RawDecoder) Format() string { return FormatRaw }

func (RawDecoder) Decode(msg *stream.Message) (*stream.Record, error) {
	return newRecord(msg, msg.Payload), nil
}

// TextDecoder exposes the payload as a string
type TextDecoder struct{}

func (TextDecoder) Format() string { return FormatText }

func (TextDecoder) Decode(msg *stream.Message) (*stream.Record, error) {
	return newRecord(msg, string(msg.Payload)), nil
}

// JSONDecoder parses the payload as a JSON document. Numbers are kept as
// json.Number so integer precision survives.
type JSONDecoder struct{}

func (JSONDecoder) Format() string { return FormatJSON }

func (JSONDecoder) Decode(msg *stream.Message) (*stream.Record, error) {
	v, err := unmarshalJSON(msg.Payload)
	if err != nil {
		return nil, inerrors.DecodeError(FormatJSON, err)
	}
	return newRecord(msg, v), nil
}

func unmarshalJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON document")
	}
	return v, nil
}

// JSONSchemaDecoder parses JSON and validates it against a compiled schema
type JSONSchemaDecoder struct {
	schema *jsonschema.Schema
}

// NewJSONSchemaDecoder compiles schema (draft 2020-12 unless the document
// declares its own $schema)
func NewJSONSchemaDecoder(schema string) (*JSONSchemaDecoder, error) {
	compiled, err := compileJSONSchema(schema)
	if err != nil {
		return nil, inerrors.ConfigError("codec.schema", "invalid JSON Schema: %v", err)
	}
	return &JSONSchemaDecoder{schema: compiled}, nil
}

func compileJSONSchema(schema string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	const url = "schema://inlet/payload.json"
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	return compiler.Compile(url)
}

func (d *JSONSchemaDecoder) Format() string { return FormatJSONSchema }

func (d *JSONSchemaDecoder) Decode(msg *stream.Message) (*stream.Record, error) {
	v, err := unmarshalJSON(msg.Payload)
	if err != nil {
		return nil, inerrors.DecodeError(FormatJSONSchema, err)
	}
	if err := d.schema.Validate(v); err != nil {
		return nil, inerrors.DecodeError(FormatJSONSchema, fmt.Errorf("validation failed: %w", err))
	}
	return newRecord(msg, v), nil
}
