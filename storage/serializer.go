package storage

import (
	"encoding/json"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnsupportedFormat is returned by GetSerializer for unknown format names.
var ErrUnsupportedFormat = errors.New("storage: unsupported serialization format")

// Serializer turns relayed invalidation tokens into bytes and back.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Format is the name GetSerializer resolves to this serializer.
	Format() string
}

// JSONSerializer implements Serializer using JSON.
type JSONSerializer struct{}

// Marshal serializes a value to JSON.
func (js *JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (js *JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Format returns "json".
func (js *JSONSerializer) Format() string { return "json" }

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// MsgpackSerializer implements Serializer using MessagePack. Tokens are
// roughly half the size of their JSON form.
type MsgpackSerializer struct{}

// Marshal serializes a value to MessagePack.
func (ms *MsgpackSerializer) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal deserializes a value from MessagePack.
func (ms *MsgpackSerializer) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// Format returns "msgpack".
func (ms *MsgpackSerializer) Format() string { return "msgpack" }

// NewMsgpackSerializer creates a new MessagePack serializer.
func NewMsgpackSerializer() *MsgpackSerializer {
	return &MsgpackSerializer{}
}

// GetSerializer returns a serializer for the given format. An empty format
// means JSON.
func GetSerializer(format string) (Serializer, error) {
	switch format {
	case "json", "":
		return NewJSONSerializer(), nil
	case "msgpack":
		return NewMsgpackSerializer(), nil
	default:
		return nil, errors.Join(ErrUnsupportedFormat, errors.New(format))
	}
}
