// Package protocol defines the wire messages exchanged on a devtools-style
// connection and the error taxonomy both session roles share.
//
// Every message is one JSON-shaped object. Which fields are present decides
// what it is:
//
//	{"id":1001,"method":"DOM.getDocument","params":{...}}     command
//	{"method":"DOM.childNodeInserted","params":{...}}         event (command, no id)
//	{"id":1001,"result":{...}}                                success response
//	{"id":1001,"error":{"code":-32601,"message":"..."}}       error response
//
// Any of them may carry a "sessionId". No sessionId means the root session.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the shape of a message, derived from which fields it carries.
type Kind int

const (
	KindInvalid Kind = iota // neither a command nor a well-formed response
	KindCommand             // has a method; events are commands without an id
	KindSuccess             // has an id and a result
	KindError               // has an id and an error
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	default:
		return "invalid"
	}
}

// ResponseError is the error object of an error response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Message is the single envelope for commands, events and responses.
//
// Params and Result are kept as raw JSON so the connection never needs to
// know the shape of any domain's payloads.
type Message struct {
	ID        *int64          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ResponseError  `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Kind classifies the message. A result or error field wins over a method
// field, so a dual-shaped message is treated as a response. Responses
// without an id are invalid: there is nothing to correlate them with.
func (m *Message) Kind() Kind {
	switch {
	case m.Error != nil:
		if m.ID == nil {
			return KindInvalid
		}
		return KindError
	case m.Result != nil:
		if m.ID == nil {
			return KindInvalid
		}
		return KindSuccess
	case m.Method != "":
		return KindCommand
	default:
		return KindInvalid
	}
}

// IsCommand reports whether m is a command (including events).
func (m *Message) IsCommand() bool { return m.Kind() == KindCommand }

// IsResponse reports whether m is a success or error response.
func (m *Message) IsResponse() bool {
	k := m.Kind()
	return k == KindSuccess || k == KindError
}

// IsEvent reports whether m is a command that expects no reply.
func (m *Message) IsEvent() bool { return m.IsCommand() && m.ID == nil }

// Validate returns an error describing why m is not a well-formed message.
func (m *Message) Validate() error {
	if m.Kind() != KindInvalid {
		return nil
	}
	if (m.Error != nil || m.Result != nil) && m.ID == nil {
		return fmt.Errorf("response without id")
	}
	return fmt.Errorf("message has neither method, result nor error")
}

// NewCommand builds a command that expects a reply with the given id.
func NewCommand(id int64, method string, params json.RawMessage, sessionID string) *Message {
	return &Message{ID: &id, Method: method, Params: params, SessionID: sessionID}
}

// NewEvent builds an id-less command. Receivers never reply to it.
func NewEvent(method string, params json.RawMessage, sessionID string) *Message {
	return &Message{Method: method, Params: params, SessionID: sessionID}
}

// NewSuccess builds a success response. A nil result is sent as {}.
func NewSuccess(id int64, result json.RawMessage) *Message {
	if result == nil {
		result = json.RawMessage("{}")
	}
	return &Message{ID: &id, Result: result}
}

// NewError builds an error response.
func NewError(id int64, code Code, message string) *Message {
	return &Message{ID: &id, Error: &ResponseError{Code: int(code), Message: message}}
}

// SplitMethod splits "Domain.method" into its two halves. Anything after the
// first dot belongs to the method name. A method without a dot has an empty
// function name.
func SplitMethod(method string) (domain, name string) {
	domain, name, _ = strings.Cut(method, ".")
	return domain, name
}

// JoinMethod is the inverse of SplitMethod.
func JoinMethod(domain, name string) string {
	return domain + "." + name
}

// MarshalPayload turns params or a result into raw JSON. Raw JSON is passed
// through untouched and nil becomes {}.
func MarshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if p == nil {
			return json.RawMessage("{}"), nil
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(b), nil
	}
}
