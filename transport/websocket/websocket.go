package websocket

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/atomic"
	"nhooyr.io/websocket"

	"github.com/risa-org/cdp/transport"
)

// DefaultReadLimit is larger than the library default because devtools
// payloads (whole documents, screenshots) are routinely several megabytes.
const DefaultReadLimit = 64 << 20

// Adapter implements transport.Adapter over a WebSocket connection.
// WebSocket already has message boundaries built in, so every protocol
// message is exactly one frame: text frames for text payloads, binary
// frames for binary ones.
type Adapter struct {
	conn       *websocket.Conn
	incoming   chan transport.Message
	disconnect chan transport.DisconnectEvent
	done       chan struct{} // closed when the read loop ends
	closeOnce  sync.Once
	closed     atomic.Bool // set by a local Close, suppresses the disconnect event
	ctx        context.Context
	cancel     context.CancelFunc
	readLimit  int64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithReadLimit caps inbound messages at n bytes. A larger message ends the
// transport with a network error.
func WithReadLimit(n int64) Option {
	return func(a *Adapter) { a.readLimit = n }
}

// New wraps an existing *websocket.Conn in a transport Adapter.
func New(conn *websocket.Conn, opts ...Option) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		conn:       conn,
		incoming:   make(chan transport.Message, 64),
		disconnect: make(chan transport.DisconnectEvent, 1),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		readLimit:  DefaultReadLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	conn.SetReadLimit(a.readLimit)

	go a.readLoop()
	return a
}

// Dial opens a WebSocket connection to url, e.g. a browser's
// ws://127.0.0.1:9222/devtools/browser/<id> endpoint.
func Dial(ctx context.Context, url string, opts ...Option) (*Adapter, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// Handler upgrades every request to a WebSocket and hands the adapter to
// serve. serve runs on the request goroutine; the upgrade is kept open
// until serve returns.
func Handler(serve func(r *http.Request, a *Adapter), accept *websocket.AcceptOptions, opts ...Option) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, accept)
		if err != nil {
			return
		}
		a := New(conn, opts...)
		defer a.Close()
		serve(r, a)
	})
}

func (a *Adapter) Send(msg transport.Message) error {
	typ := websocket.MessageText
	if msg.Binary {
		typ = websocket.MessageBinary
	}
	if a.closed.Load() {
		return transport.ErrTransportClosed
	}
	if err := a.conn.Write(a.ctx, typ, msg.Payload); err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

func (a *Adapter) Receive() <-chan transport.Message {
	return a.incoming
}

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

// Done is closed once the connection is gone, whichever side ended it.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Close runs the closing handshake with status 1000, so the peer sees a
// clean close, and only then releases pending reads and writes.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		err = a.conn.Close(websocket.StatusNormalClosure, "closed")
		a.cancel()
	})
	return err
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		close(a.done)
		a.Close()
	}()

	for {
		typ, payload, err := a.conn.Read(a.ctx)
		if err != nil {
			a.signalDisconnect(err)
			return
		}
		a.incoming <- transport.Message{
			Payload: payload,
			Binary:  typ == websocket.MessageBinary,
		}
	}
}

// signalDisconnect sends at most one disconnect event.
// StatusNormalClosure (1000) and StatusGoingAway (1001) are both clean closes —
// different WebSocket implementations and shutdown timing produce either code.
// Nothing is sent when we closed the connection ourselves.
func (a *Adapter) signalDisconnect(err error) {
	if a.closed.Load() {
		return
	}

	event := transport.DisconnectEvent{}

	status := websocket.CloseStatus(err)
	switch status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		event.Reason = transport.ReasonClosedClean
	default:
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	select {
	case a.disconnect <- event:
	default:
	}
}
