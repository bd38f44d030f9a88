package cache

import (
	"encoding/json"

	"golang.org/x/xerrors"
	"google.golang.org/protobuf/proto"
)

// Serializer converts values to bytes and back, used by DiskCacheStore
type Serializer[V any] interface {
	Serialize(value V) ([]byte, error)
	Deserialize(data []byte) (V, error)
}

// JSONSerializer implements Serializer with encoding/json
type JSONSerializer[V any] struct{}

// NewJSONSerializer creates a new JSONSerializer
func NewJSONSerializer[V any]() *JSONSerializer[V] {
	return &JSONSerializer[V]{}
}

// Serialize serializes the value
func (serializer *JSONSerializer[V]) Serialize(value V) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal value to json: %w", err)
	}
	return data, nil
}

// Deserialize deserializes the value
func (serializer *JSONSerializer[V]) Deserialize(data []byte) (V, error) {
	var value V
	err := json.Unmarshal(data, &value)
	if err != nil {
		return value, xerrors.Errorf("failed to unmarshal value from json: %w", err)
	}
	return value, nil
}

// BytesSerializer implements Serializer for raw bytes
type BytesSerializer struct{}

// NewBytesSerializer creates a new BytesSerializer
func NewBytesSerializer() *BytesSerializer {
	return &BytesSerializer{}
}

// Serialize returns a copy of the value
func (serializer *BytesSerializer) Serialize(value []byte) ([]byte, error) {
	dataCopy := make([]byte, len(value))
	copy(dataCopy, value)
	return dataCopy, nil
}

// Deserialize returns the data
func (serializer *BytesSerializer) Deserialize(data []byte) ([]byte, error) {
	return data, nil
}

// ProtoSerializer implements Serializer for protobuf messages
type ProtoSerializer[M proto.Message] struct {
	newMessage func() M
}

// NewProtoSerializer creates a new ProtoSerializer. newMessage returns an empty message to unmarshal into.
func NewProtoSerializer[M proto.Message](newMessage func() M) *ProtoSerializer[M] {
	return &ProtoSerializer[M]{
		newMessage: newMessage,
	}
}

// Serialize serializes the message
func (serializer *ProtoSerializer[M]) Serialize(value M) ([]byte, error) {
	data, err := proto.Marshal(value)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal protobuf message: %w", err)
	}
	return data, nil
}

// Deserialize deserializes the message
func (serializer *ProtoSerializer[M]) Deserialize(data []byte) (M, error) {
	message := serializer.newMessage()
	err := proto.Unmarshal(data, message)
	if err != nil {
		var zero M
		return zero, xerrors.Errorf("failed to unmarshal protobuf message: %w", err)
	}
	return message, nil
}
