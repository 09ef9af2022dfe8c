package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/store/memory"
	"github.com/risa-org/cdp/transport"
)

// firstID is the counter seed; the first request carries firstID+1.
const firstID = 1000

var errNotRegistered = errors.New("request was not registered")

// ClientConnection issues commands and receives events.
type ClientConnection = Connection[*ClientSession]

// ServerConnection answers commands and emits events.
type ServerConnection = Connection[*ServerSession]

// sessionType is satisfied by the session pointer types. The registry
// compares sessions by identity, hence comparable.
type sessionType interface {
	comparable
	Session
}

// Connection multiplexes sessions over one transport. It owns the transport,
// the request id counter and the session registry, and routes every inbound
// message to the session named by its sessionId.
//
// Inbound messages are handled on a single goroutine in arrival order.
// Everything else is safe for concurrent use.
type Connection[S sessionType] struct {
	transport  transport.Adapter
	opts       settings
	log        *zap.Logger
	newSession func(conn link, id string) S

	lastID   *atomic.Int64
	sendMu   sync.Mutex
	sessions *memory.Store[S]
	root     S

	closing *atomic.Bool
	closed  *atomic.Bool // set after cause, so readers of closed see the cause
	cause   *atomic.Error
	done    chan struct{}

	closeEvents emitter[error]
	willSend    emitter[*protocol.Message]
	didReceive  emitter[*protocol.Message]
	errorEvents emitter[error]
}

// NewClientConnection starts reading from t and returns a connection whose
// sessions are client sessions.
func NewClientConnection(t transport.Adapter, opts ...Option) *ClientConnection {
	return newConnection(t, newClientSession, opts)
}

// NewServerConnection starts reading from t and returns a connection whose
// sessions are server sessions. Install handlers on Root() and on every
// session returned by Session or CreateSession.
func NewServerConnection(t transport.Adapter, opts ...Option) *ServerConnection {
	return newConnection(t, newServerSession, opts)
}

func newConnection[S sessionType](t transport.Adapter, ctor func(link, string) S, opts []Option) *Connection[S] {
	c := &Connection[S]{
		transport:  t,
		opts:       defaultSettings(),
		newSession: ctor,
		lastID:     atomic.NewInt64(firstID),
		sessions:   memory.New[S](),
		closing:    atomic.NewBool(false),
		closed:     atomic.NewBool(false),
		cause:      atomic.NewError(nil),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	c.log = c.opts.logger

	c.root = ctor(c, "")
	c.track(c.root)

	go c.readLoop()
	return c
}

// Request sends a command on the session named by sessionID and returns its
// id. It does not wait for, or even track, the response; use a ClientSession
// for that.
func (c *Connection[S]) Request(method string, params any, sessionID string) (int64, error) {
	raw, err := protocol.MarshalPayload(params)
	if err != nil {
		return 0, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return c.request(method, raw, sessionID, nil)
}

// Send serializes msg and writes it to the transport.
// Returns an error matching protocol.ErrConnectionClosed once closed.
func (c *Connection[S]) Send(msg *protocol.Message) error {
	return c.send(msg)
}

// Session returns the session for id, creating it on first use. The empty id
// is the root session. A created session deregisters itself when it closes,
// so a later call with the same id yields a fresh session.
func (c *Connection[S]) Session(id string) S {
	if id == "" {
		return c.root
	}

	s, created := c.sessions.GetOrCreate(id, func() S { return c.newSession(c, id) })
	if !created {
		return s
	}
	c.track(s)
	s.OnClose(func(error) { c.sessions.CompareAndDelete(id, s) })

	// the connection may have closed while the session was being built
	if c.closed.Load() {
		s.closeWith(c.cause.Load())
	}
	return s
}

// CreateSession opens a session under a freshly minted id.
func (c *Connection[S]) CreateSession() S {
	return c.Session(uuid.NewString())
}

// Sessions returns every open non-root session.
func (c *Connection[S]) Sessions() []S {
	return c.sessions.Values()
}

func (c *Connection[S]) Root() S { return c.root }

func (c *Connection[S]) Closed() bool { return c.closed.Load() }

// Done is closed once the connection and all its sessions are closed.
func (c *Connection[S]) Done() <-chan struct{} { return c.done }

// Err is the transport error that closed the connection, nil while open or
// after a clean close.
func (c *Connection[S]) Err() error { return c.cause.Load() }

// Close closes the transport and every session. Idempotent.
func (c *Connection[S]) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Connection[S]) Dispose() { c.shutdown(nil) }

// OnMessage registers fn to see every successfully decoded inbound message
// before it is routed.
func (c *Connection[S]) OnMessage(fn func(*protocol.Message)) Disposable {
	return c.didReceive.On(fn)
}

// OnWillSend registers fn to see every outbound message before it is
// serialized.
func (c *Connection[S]) OnWillSend(fn func(*protocol.Message)) Disposable {
	return c.willSend.On(fn)
}

// OnError registers fn for inbound failures that do not close the
// connection: *protocol.DeserializationError, *protocol.UnknownSessionError
// and *protocol.MessageProcessingError.
func (c *Connection[S]) OnError(fn func(error)) Disposable {
	return c.errorEvents.On(fn)
}

// OnClose registers fn to run once when the connection closes.
func (c *Connection[S]) OnClose(fn func(cause error)) Disposable {
	return c.closeEvents.On(fn)
}

func (c *Connection[S]) request(method string, params json.RawMessage, sessionID string, register func(int64) bool) (int64, error) {
	if c.closed.Load() {
		return 0, &protocol.ConnectionClosedError{Cause: c.cause.Load()}
	}

	id := c.lastID.Inc()
	if register != nil && !register(id) {
		return 0, errNotRegistered
	}
	return id, c.send(protocol.NewCommand(id, method, params, sessionID))
}

func (c *Connection[S]) send(msg *protocol.Message) error {
	if c.closed.Load() {
		return &protocol.ConnectionClosedError{Cause: c.cause.Load()}
	}

	c.willSend.Emit(msg)
	out, err := c.opts.serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("serialize %s message: %w", msg.Kind(), err)
	}

	c.sendMu.Lock()
	err = c.transport.Send(out)
	c.sendMu.Unlock()
	if err != nil {
		if errors.Is(err, transport.ErrTransportClosed) {
			return &protocol.ConnectionClosedError{Cause: err}
		}
		return err
	}

	c.opts.observer.MessageSent(msg.Kind())
	return nil
}

func (c *Connection[S]) onClose(fn func(cause error)) Disposable {
	return c.closeEvents.On(fn)
}

func (c *Connection[S]) settings() *settings { return &c.opts }

// track wires a new session into logging and the observer.
func (c *Connection[S]) track(s S) {
	id := s.ID()
	c.opts.observer.SessionOpened()
	c.log.Debug("session opened", zap.String("session_id", id))
	s.OnClose(func(cause error) {
		c.opts.observer.SessionClosed()
		c.log.Debug("session closed", zap.String("session_id", id), zap.Error(cause))
	})
}

func (c *Connection[S]) readLoop() {
	for msg := range c.transport.Receive() {
		if c.closed.Load() {
			continue
		}
		c.onMessage(msg)
	}

	// Receive is closed; an end the transport did not ask for left its
	// event behind.
	var cause error
	select {
	case event := <-c.transport.Disconnected():
		cause = event.Err
		if cause == nil && event.Reason != transport.ReasonClosedClean {
			cause = fmt.Errorf("transport ended: %s", event.Reason)
		}
	default:
	}
	c.shutdown(cause)
}

func (c *Connection[S]) onMessage(raw transport.Message) {
	msg, err := c.opts.serializer.Deserialize(raw)
	if err != nil {
		c.reportError(&protocol.DeserializationError{Cause: err, Payload: raw.Payload})
		return
	}
	c.opts.observer.MessageReceived(msg.Kind())
	c.didReceive.Emit(msg)

	s := c.root
	if msg.SessionID != "" {
		var ok bool
		if s, ok = c.sessions.Get(msg.SessionID); !ok {
			c.reportError(&protocol.UnknownSessionError{Message: msg})
			return
		}
	}

	if err := inject(s, msg); err != nil {
		c.reportError(&protocol.MessageProcessingError{Cause: err, Message: msg})
	}
}

// inject turns a panic in user code reached from InjectMessage (event
// listeners, mostly) into an error so one bad listener cannot stop the
// read loop.
func inject(s Session, msg *protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.InjectMessage(msg)
}

func (c *Connection[S]) reportError(err error) {
	c.log.Warn("dropping inbound message", zap.Error(err))
	c.opts.observer.ReceiveError(err)
	c.errorEvents.Emit(err)
}

func (c *Connection[S]) shutdown(cause error) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	c.cause.Store(cause)
	c.closed.Store(true)
	if cause != nil {
		c.log.Warn("connection closed", zap.Error(cause))
	} else {
		c.log.Debug("connection closed")
	}

	c.transport.Close()
	c.closeEvents.Emit(cause)
	c.root.Dispose()
	close(c.done)
}
