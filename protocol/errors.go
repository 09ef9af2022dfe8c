package protocol

import (
	"errors"
	"fmt"
)

// Code is a protocol error code. The fixed values follow the JSON-RPC
// convention that the devtools protocol reuses.
type Code int

const (
	CodeParseError     Code = -32700
	CodeInvalidRequest Code = -32600
	CodeMethodNotFound Code = -32601
	CodeInvalidParams  Code = -32602
	CodeInternalError  Code = -32603
	CodeServerError    Code = -32000
)

// Sentinels for errors.Is. Every *ProtocolError matches ErrProtocol and,
// when its code is one of the fixed codes, the matching kind below.
var (
	ErrProtocol       = errors.New("protocol error")
	ErrParse          = errors.New("parse error")
	ErrInvalidRequest = errors.New("invalid request")
	ErrMethodNotFound = errors.New("method not found")
	ErrInvalidParams  = errors.New("invalid params")
	ErrInternal       = errors.New("internal error")
	ErrServer         = errors.New("server error")

	// ErrConnectionClosed is matched by every *ConnectionClosedError.
	ErrConnectionClosed = errors.New("connection closed")
)

var kindByCode = map[Code]error{
	CodeParseError:     ErrParse,
	CodeInvalidRequest: ErrInvalidRequest,
	CodeMethodNotFound: ErrMethodNotFound,
	CodeInvalidParams:  ErrInvalidParams,
	CodeInternalError:  ErrInternal,
	CodeServerError:    ErrServer,
}

// ProtocolError is an error that travels on the wire: either one the remote
// side answered with, or one a handler returns to be sent back verbatim.
type ProtocolError struct {
	Code    Code
	Method  string
	Message string

	// Stack is the call-site stack captured when the request was issued, if
	// stack capture was enabled on the connection.
	Stack []byte
}

// ErrorFromCode maps a code, method and message to a protocol error whose
// kind is the most specific one for the code. Unknown codes only match
// ErrProtocol.
func ErrorFromCode(code int, method, message string) *ProtocolError {
	return &ProtocolError{Code: Code(code), Method: method, Message: message}
}

// NewMethodNotFound is what a server answers for an unhandled method.
func NewMethodNotFound(method string) *ProtocolError {
	return &ProtocolError{
		Code:    CodeMethodNotFound,
		Method:  method,
		Message: fmt.Sprintf("Method %s not found", method),
	}
}

func NewInvalidParams(method, message string) *ProtocolError {
	return &ProtocolError{Code: CodeInvalidParams, Method: method, Message: message}
}

func NewInternal(method, message string) *ProtocolError {
	return &ProtocolError{Code: CodeInternalError, Method: method, Message: message}
}

func NewServerError(method, message string) *ProtocolError {
	return &ProtocolError{Code: CodeServerError, Method: method, Message: message}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cdp error %d calling method %s: %s", e.Code, e.Method, e.Message)
}

// Kind returns the sentinel for the error's code, or ErrProtocol.
func (e *ProtocolError) Kind() error {
	if k, ok := kindByCode[e.Code]; ok {
		return k
	}
	return ErrProtocol
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol || target == e.Kind()
}

// Response serializes the error as an error response for the given id.
func (e *ProtocolError) Response(id int64) *Message {
	return NewError(id, e.Code, e.Message)
}

// ConnectionClosedError is returned for calls that cannot complete because
// the session or its connection closed. Cause is the transport error that
// closed the connection, nil for a clean or manual close.
type ConnectionClosedError struct {
	Cause error
	Stack []byte
}

func (e *ConnectionClosedError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "connection closed"
}

func (e *ConnectionClosedError) Is(target error) bool { return target == ErrConnectionClosed }

func (e *ConnectionClosedError) Unwrap() error { return e.Cause }

// DeserializationError is reported when an inbound payload cannot be decoded.
type DeserializationError struct {
	Cause   error
	Payload []byte
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialization of a message failed: %v", e.Cause)
}

func (e *DeserializationError) Unwrap() error { return e.Cause }

// UnknownSessionError is reported when a message names a session the
// connection does not know.
type UnknownSessionError struct {
	Message *Message
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("message received for unknown session ID %q", e.Message.SessionID)
}

// MessageProcessingError is reported when a session fails while handling an
// inbound message, usually because of user code running in a listener.
type MessageProcessingError struct {
	Cause   error
	Message *Message
}

func (e *MessageProcessingError) Error() string {
	return fmt.Sprintf("error processing a cdp message: %v", e.Cause)
}

func (e *MessageProcessingError) Unwrap() error { return e.Cause }
