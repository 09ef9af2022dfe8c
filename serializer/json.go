package serializer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/transport"
)

var errNotObject = errors.New("payload is not a JSON object")

// JSON is the text wire format used by devtools endpoints.
type JSON struct{}

func (JSON) Serialize(msg *protocol.Message) (transport.Message, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return transport.Message{}, fmt.Errorf("serialize %s: %w", msg.Method, err)
	}
	return transport.Message{Payload: b}, nil
}

// Deserialize accepts text and binary frames alike; binary frames are
// treated as UTF-8 text.
func (JSON) Deserialize(msg transport.Message) (*protocol.Message, error) {
	if !isObject(msg.Payload) {
		return nil, errNotObject
	}

	var m protocol.Message
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// isObject reports whether the first non-space byte opens an object.
func isObject(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
