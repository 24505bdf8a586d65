package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gproto "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrUnknownCodec is returned by CodecByName for unsupported names.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec renders wire messages. Binary codecs are sent as websocket binary
// frames, the rest as text frames.
type Codec interface {
	Name() string
	Binary() bool
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSON is the default text codec.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Binary() bool { return false }

func (JSON) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

// Protobuf carries the same documents as JSON inside a
// google.protobuf.Struct, so clients can use any protobuf runtime without
// generated code.
type Protobuf struct{}

func (Protobuf) Name() string { return "protobuf" }

func (Protobuf) Binary() bool { return true }

func (Protobuf) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protobuf encode: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("protobuf encode: message must be an object: %w", err)
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("protobuf encode: %w", err)
	}
	return gproto.Marshal(msg)
}

func (Protobuf) Decode(data []byte, v any) error {
	var msg structpb.Struct
	if err := gproto.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("protobuf decode: %w", err)
	}
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return fmt.Errorf("protobuf decode: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// CodecByName resolves a configured codec name. Empty selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "protobuf", "proto", "binary":
		return Protobuf{}, nil
	default:
		return nil, fmt.Errorf("codec %q: %w", name, ErrUnknownCodec)
	}
}

// DecodeClient decodes an inbound frame with codec and validates its version.
func DecodeClient(codec Codec, payload []byte) (ClientMessage, error) {
	if codec == nil {
		codec = JSON{}
	}
	var msg ClientMessage
	if err := codec.Decode(payload, &msg); err != nil {
		return msg, err
	}
	return normalizeClientMessage(msg)
}
