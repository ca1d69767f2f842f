package rpcweb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Codec is the message serializer (C5): it moves between wire bytes and
// the Go value a handler actually receives/returns, in both the binary
// and JSON encodings a grpc-web request can negotiate.
type Codec interface {
	Unmarshal(data []byte) (any, error)
	Marshal(msg any) ([]byte, error)
	UnmarshalJSON(data []byte) (any, error)
	MarshalJSON(msg any) ([]byte, error)
}

// ProtoCodec implements Codec over google.golang.org/protobuf, the same
// library the descriptor-driven gateway in this codebase's ancestor used
// for wire serialization.
type ProtoCodec struct {
	// New returns a freshly zeroed instance of the message type this
	// codec handles.
	New func() proto.Message
}

var jsonUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}
var jsonMarshal = protojson.MarshalOptions{EmitUnpopulated: true}

func (c ProtoCodec) Unmarshal(data []byte) (any, error) {
	m := c.New()
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, newParseError(fmt.Errorf("proto unmarshal: %w", err))
	}
	return m, nil
}

func (c ProtoCodec) Marshal(msg any) ([]byte, error) {
	m, ok := msg.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("rpcweb: %T does not implement proto.Message", msg)
	}
	return proto.Marshal(m)
}

func (c ProtoCodec) UnmarshalJSON(data []byte) (any, error) {
	m := c.New()
	if err := jsonUnmarshal.Unmarshal(data, m); err != nil {
		return nil, newParseError(fmt.Errorf("json unmarshal: %w", err))
	}
	return m, nil
}

func (c ProtoCodec) MarshalJSON(msg any) ([]byte, error) {
	m, ok := msg.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("rpcweb: %T does not implement proto.Message", msg)
	}
	return jsonMarshal.Marshal(m)
}
