package serializer

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/transport"
)

// CBOR is a compact binary envelope. The envelope fields are CBOR; params
// and results stay raw JSON and travel as byte strings, so handlers see the
// same payloads whichever format the connection uses.
type CBOR struct{}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if cborDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

type cborMessage struct {
	ID        *int64     `cbor:"id,omitempty"`
	Method    string     `cbor:"method,omitempty"`
	Params    []byte     `cbor:"params,omitempty"`
	Result    []byte     `cbor:"result,omitempty"`
	Error     *cborError `cbor:"error,omitempty"`
	SessionID string     `cbor:"sessionId,omitempty"`
}

type cborError struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message"`
}

func (CBOR) Serialize(msg *protocol.Message) (transport.Message, error) {
	wire := cborMessage{
		ID:        msg.ID,
		Method:    msg.Method,
		Params:    msg.Params,
		Result:    msg.Result,
		SessionID: msg.SessionID,
	}
	if msg.Error != nil {
		wire.Error = &cborError{Code: msg.Error.Code, Message: msg.Error.Message}
	}

	b, err := cborEnc.Marshal(wire)
	if err != nil {
		return transport.Message{}, fmt.Errorf("serialize %s: %w", msg.Method, err)
	}
	return transport.Message{Payload: b, Binary: true}, nil
}

func (CBOR) Deserialize(msg transport.Message) (*protocol.Message, error) {
	var wire cborMessage
	if err := cborDec.Unmarshal(msg.Payload, &wire); err != nil {
		return nil, err
	}

	m := &protocol.Message{
		ID:        wire.ID,
		Method:    wire.Method,
		Params:    wire.Params,
		Result:    wire.Result,
		SessionID: wire.SessionID,
	}
	if wire.Error != nil {
		m.Error = &protocol.ResponseError{Code: wire.Error.Code, Message: wire.Error.Message}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
