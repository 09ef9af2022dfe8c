package tcp

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/atomic"

	"github.com/risa-org/cdp/transport"
)

// DefaultMaxMessageSize bounds a single inbound frame.
const DefaultMaxMessageSize = 64 << 20

const (
	kindText   byte = 0
	kindBinary byte = 1
)

var errFrameTooLarge = errors.New("tcp: frame exceeds max message size")

// Adapter implements transport.Adapter over any stream connection: TCP,
// a unix socket, a pipe, or net.Pipe in tests.
//
// Wire format for each message:
//
//	[4 bytes: payload length uint32 big-endian][1 byte: kind][N bytes: payload]
//
// kind is 0 for text and 1 for binary payloads. We define our own simple
// framing because a stream has no concept of message boundaries. Without
// framing, a Read() call might return half a message or two messages joined
// together.
type Adapter struct {
	conn       net.Conn                       // the underlying connection
	incoming   chan transport.Message         // delivers received messages to caller
	disconnect chan transport.DisconnectEvent // signals when the remote side goes away
	closeOnce  sync.Once                      // guarantees cleanup runs exactly once
	closed     atomic.Bool                    // set by a local Close, suppresses the disconnect event
	writeMu    sync.Mutex                     // one writer at a time, a stream is not concurrent-safe for writes
	maxSize    uint32
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithMaxMessageSize caps inbound frames. A larger frame ends the transport
// with a network error.
func WithMaxMessageSize(n uint32) Option {
	return func(a *Adapter) { a.maxSize = n }
}

// New wraps an existing net.Conn in a transport Adapter.
// The conn must already be established — dialing or accepting happens outside.
// Immediately starts a read loop goroutine in the background.
func New(conn net.Conn, opts ...Option) *Adapter {
	a := &Adapter{
		conn:       conn,
		incoming:   make(chan transport.Message, 64),        // buffered so reader doesn't block on slow consumers
		disconnect: make(chan transport.DisconnectEvent, 1), // buffered so writer never blocks
		maxSize:    DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(a)
	}

	go a.readLoop()

	return a
}

// Dial connects to addr and wraps the connection.
func Dial(network, addr string, opts ...Option) (*Adapter, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// Send frames a message and writes it to the connection.
// Header and payload go out in one write so a frame is never split by a
// concurrent writer.
func (a *Adapter) Send(msg transport.Message) error {
	if a.closed.Load() {
		return transport.ErrTransportClosed
	}

	frame := make([]byte, 5+len(msg.Payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(msg.Payload)))
	frame[4] = kindText
	if msg.Binary {
		frame[4] = kindBinary
	}
	copy(frame[5:], msg.Payload)

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.conn.Write(frame); err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

// Receive returns the channel of incoming messages.
// The channel is closed when the connection closes.
func (a *Adapter) Receive() <-chan transport.Message {
	return a.incoming
}

// Disconnected returns a channel that emits exactly one event when
// the remote side goes away or the connection fails.
func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

// Close shuts down the connection cleanly.
// Safe to call multiple times — cleanup runs exactly once due to sync.Once.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		err = a.conn.Close()
	})
	return err
}

// readLoop runs in a goroutine and continuously reads frames from the
// connection. When the connection closes it signals disconnect and exits.
func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming) // signal to Receive() callers that we're done
		a.Close()         // ensure connection is closed
	}()

	var header [5]byte
	for {
		if _, err := io.ReadFull(a.conn, header[:]); err != nil {
			a.signalDisconnect(err)
			return
		}

		size := binary.BigEndian.Uint32(header[0:4])
		if size > a.maxSize {
			a.signalDisconnect(errFrameTooLarge)
			return
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(a.conn, payload); err != nil {
			a.signalDisconnect(err)
			return
		}

		a.incoming <- transport.Message{
			Payload: payload,
			Binary:  header[4] == kindBinary,
		}
	}
}

// signalDisconnect figures out the reason for disconnection and
// sends exactly one event on the disconnect channel. Nothing is sent when
// we closed the connection ourselves.
func (a *Adapter) signalDisconnect(err error) {
	if a.closed.Load() {
		return
	}

	event := transport.DisconnectEvent{}
	var netErr net.Error
	switch {
	case err == nil || errors.Is(err, io.EOF):
		// EOF means the remote side closed cleanly
		event.Reason = transport.ReasonClosedClean
	case errors.As(err, &netErr) && netErr.Timeout():
		event.Reason = transport.ReasonTimeout
		event.Err = err
	default:
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	select {
	case a.disconnect <- event:
	default:
	}
}
