package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/risa-org/cdp/protocol"
)

// Request is one inbound command as a handler sees it.
type Request struct {
	// Method is the full "Domain.method" name.
	Method    string
	Params    json.RawMessage
	SessionID string
	// Events emits events on the session the command arrived on.
	Events *EventDispatcher
}

// Decode unmarshals the params into v. A failure is an InvalidParams
// protocol error, so handlers can return it unchanged.
func (r *Request) Decode(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return protocol.NewInvalidParams(r.Method, err.Error())
	}
	return nil
}

// HandlerFunc answers one command. The result is encoded with encoding/json;
// a nil result is sent as an empty object. Returning a *protocol.ProtocolError
// sends it as is; any other error is reported as an internal error.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Domain maps a method name, without the domain prefix, to its handler.
type Domain map[string]HandlerFunc

// Handlers is the table a ServerSession dispatches on.
type Handlers struct {
	Domains map[string]Domain

	// Unknown, when set, is tried for every method the table lacks. A nil
	// result with a nil error still means the method was not found.
	Unknown HandlerFunc
}

// Handle adapts a typed function to a HandlerFunc. Params that do not
// decode as P are rejected with InvalidParams before fn runs.
func Handle[P, R any](fn func(ctx context.Context, params P) (R, error)) HandlerFunc {
	return func(ctx context.Context, req *Request) (any, error) {
		var params P
		if err := req.Decode(&params); err != nil {
			return nil, err
		}
		return fn(ctx, params)
	}
}

// HandlerError reports a handler that failed with something other than a
// protocol error, or panicked.
type HandlerError struct {
	Method string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s failed: %v", e.Method, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ServerSession dispatches inbound commands to handlers and sends their
// results back. Handlers of one session run one at a time in arrival order,
// off the connection's read loop; sessions do not wait on each other. The
// context a handler gets is cancelled when the session closes, and commands
// still queued then are dropped.
type ServerSession struct {
	base

	mu       sync.RWMutex
	handlers Handlers

	wrap   Middleware
	events *EventDispatcher
	ctx    context.Context
	cancel context.CancelFunc
	calls  *callQueue

	handlerErrors emitter[*HandlerError]
}

func newServerSession(conn link, id string) *ServerSession {
	s := &ServerSession{}
	s.events = &EventDispatcher{session: s}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.calls = newCallQueue()
	s.init(id, conn, s.teardown)

	mw := s.opts.middleware
	if s.opts.rateLimit > 0 {
		mw = append(mw[:len(mw):len(mw)], RateLimitMiddleware(s.opts.rateLimit, s.opts.rateBurst))
	}
	s.wrap = Chain(mw...)
	return s
}

// SetHandlers replaces the handler table. Ignored once the session closed.
func (s *ServerSession) SetHandlers(h Handlers) {
	if s.Closed() {
		return
	}
	s.mu.Lock()
	s.handlers = h
	s.mu.Unlock()
}

// Events returns the dispatcher for events on this session.
func (s *ServerSession) Events() *EventDispatcher { return s.events }

// OnHandlerError registers fn for handler failures that went out on the
// wire as internal errors.
func (s *ServerSession) OnHandlerError(fn func(*HandlerError)) Disposable {
	return s.handlerErrors.On(fn)
}

// Send stamps msg with this session's id and sends it. It fails with a
// *protocol.ConnectionClosedError once the session is closed.
func (s *ServerSession) Send(msg *protocol.Message) error {
	conn, open := s.conn()
	if !open {
		return s.closedError(nil)
	}
	stamped := *msg
	stamped.SessionID = s.id
	return conn.send(&stamped)
}

// Emit sends the event "Domain.event" with params.
func (s *ServerSession) Emit(method string, params any) error {
	raw, err := protocol.MarshalPayload(params)
	if err != nil {
		return fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return s.Send(protocol.NewEvent(method, raw, ""))
}

// InjectMessage queues the handler for a command. Responses are ignored: a
// server never issues requests.
func (s *ServerSession) InjectMessage(msg *protocol.Message) error {
	if s.Closed() || !msg.IsCommand() {
		return nil
	}

	s.mu.RLock()
	h := s.handlers
	s.mu.RUnlock()

	domain, name := protocol.SplitMethod(msg.Method)
	fn := h.Domains[domain][name]
	if fn == nil {
		fn = notFound(h.Unknown)
	}

	req := &Request{
		Method:    msg.Method,
		Params:    msg.Params,
		SessionID: s.id,
		Events:    s.events,
	}
	s.calls.push(func() { s.handleCall(msg.ID, fn, req) })
	return nil
}

func notFound(unknown HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (any, error) {
		if unknown == nil {
			return nil, protocol.NewMethodNotFound(req.Method)
		}
		result, err := unknown(ctx, req)
		if err == nil && result == nil {
			return nil, protocol.NewMethodNotFound(req.Method)
		}
		return result, err
	}
}

func (s *ServerSession) handleCall(id *int64, fn HandlerFunc, req *Request) {
	var reply *protocol.Message

	result, err := s.invoke(fn, req)
	if err == nil {
		var raw json.RawMessage
		if raw, err = protocol.MarshalPayload(result); err == nil && id != nil {
			reply = protocol.NewSuccess(*id, raw)
		}
	}
	if err != nil {
		var perr *protocol.ProtocolError
		if !errors.As(err, &perr) {
			s.reportHandlerError(req.Method, err)
			perr = protocol.NewInternal(req.Method, err.Error())
		}
		if id != nil {
			reply = perr.Response(*id)
		}
	}

	if reply == nil {
		return
	}
	if err := s.Send(reply); err != nil && !errors.Is(err, protocol.ErrConnectionClosed) {
		s.opts.logger.Warn("failed to send response",
			zap.String("method", req.Method), zap.Int64("id", *id), zap.Error(err))
	}
}

func (s *ServerSession) invoke(fn HandlerFunc, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.wrap(fn)(s.ctx, req)
}

func (s *ServerSession) reportHandlerError(method string, err error) {
	s.opts.logger.Error("handler failed",
		zap.String("session_id", s.id), zap.String("method", method), zap.Error(err))
	s.opts.observer.HandlerError(method, err)
	s.handlerErrors.Emit(&HandlerError{Method: method, Err: err})
}

func (s *ServerSession) teardown(error) {
	s.mu.Lock()
	s.handlers = Handlers{}
	s.mu.Unlock()
	s.calls.close()
	s.cancel()
}

// EventDispatcher emits events on one server session.
type EventDispatcher struct {
	session *ServerSession
}

// Domain scopes the dispatcher to one domain.
func (e *EventDispatcher) Domain(name string) DomainEmitter {
	return DomainEmitter{session: e.session, name: name}
}

// DomainEmitter emits one domain's events.
type DomainEmitter struct {
	session *ServerSession
	name    string
}

// Emit sends the id-less command "Domain.event".
func (d DomainEmitter) Emit(event string, params any) error {
	return d.session.Emit(protocol.JoinMethod(d.name, event), params)
}
