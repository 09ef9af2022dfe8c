package transport

import "errors"

// ErrTransportClosed is returned when you try to send on a closed transport.
// Named errors like this let callers check the exact cause with errors.Is()
// instead of comparing raw strings.
var ErrTransportClosed = errors.New("transport closed")

// Message is what flows through a transport: one already-serialized
// protocol message. The transport doesn't interpret the payload, it only
// needs to know whether it is text or binary so frame-aware transports
// (WebSocket) can pick the right frame type.
type Message struct {
	Payload []byte
	Binary  bool
}

// DisconnectReason tells the connection why a transport closed.
// This feeds directly into observability — you can see in logs whether
// a connection dropped due to a network error, a timeout, or a clean close.
type DisconnectReason int

const (
	ReasonUnknown      DisconnectReason = iota // catch-all, should be rare
	ReasonNetworkError                         // underlying connection failed
	ReasonTimeout                              // no activity within deadline
	ReasonClosedClean                          // graceful shutdown by the remote side
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNetworkError:
		return "network_error"
	case ReasonTimeout:
		return "timeout"
	case ReasonClosedClean:
		return "closed_clean"
	default:
		return "unknown"
	}
}

// DisconnectEvent is sent on the channel returned by Disconnected().
// It bundles the reason with an optional error for debugging.
type DisconnectEvent struct {
	Reason DisconnectReason
	Err    error // nil on clean close, populated on errors
}

// Adapter is the contract every transport must satisfy.
// The connection only ever talks to this interface —
// it never imports tcp, websocket, or anything concrete.
type Adapter interface {
	// Send delivers one serialized message to the remote side.
	// Returns ErrTransportClosed if the transport is no longer active.
	Send(msg Message) error

	// Receive returns a channel that emits incoming messages in arrival
	// order. The channel is closed when the transport ends for any reason,
	// including a local Close.
	Receive() <-chan Message

	// Disconnected returns a channel that emits at most one DisconnectEvent,
	// before Receive is closed, when the transport ends on its own.
	// A local Close does not produce an event.
	Disconnected() <-chan DisconnectEvent

	// Close shuts down the transport and releases its resources.
	// Safe to call multiple times — subsequent calls are no-ops.
	Close() error
}
