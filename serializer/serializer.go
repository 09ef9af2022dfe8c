// Package serializer converts protocol messages to and from the payloads a
// transport carries.
//
// Serializers never panic on bad input. Deserialize returns an error for
// anything that is not a well-formed message and the connection turns that
// error into a DeserializationError notification instead of failing.
package serializer

import (
	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/transport"
)

// Serializer is the contract between a connection and its wire format.
type Serializer interface {
	Serialize(msg *protocol.Message) (transport.Message, error)
	Deserialize(msg transport.Message) (*protocol.Message, error)
}

// ByName returns the serializer registered under name: "json" (the default
// when name is empty) or "cbor".
func ByName(name string) (Serializer, bool) {
	switch name {
	case "", "json":
		return JSON{}, true
	case "cbor":
		return CBOR{}, true
	default:
		return nil, false
	}
}
