package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/risa-org/cdp/protocol"
)

// Call is one outstanding request. It completes exactly once: with the
// result, with the remote error, or with a *protocol.ConnectionClosedError
// when the session closes first.
type Call struct {
	ID     int64
	Method string

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
	stack  []byte
}

func newCall(method string) *Call {
	return &Call{Method: method, done: make(chan struct{})}
}

// Done is closed once the call has completed.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result blocks until the call completes and returns its outcome.
func (c *Call) Result() (json.RawMessage, error) {
	<-c.done
	return c.result, c.err
}

// Wait is Result bounded by ctx. Giving up on the wait does not cancel the
// request; a response that arrives later is discarded.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) finish(result json.RawMessage, err error) {
	c.once.Do(func() {
		c.result, c.err = result, err
		close(c.done)
	})
}

// ClientSession issues commands and routes the responses back to their
// callers, and fans events out to subscribers.
//
// Event listeners run on the connection's read goroutine. A listener must
// not wait for the response to a request it issues itself: that response
// cannot be read until the listener returns. Use Go and return instead.
type ClientSession struct {
	base

	mu       sync.Mutex
	pending  map[int64]*Call
	paused   bool
	draining bool
	queue    []*protocol.Message
	domains  map[string]*DomainClient

	events emitter[*protocol.Message]
}

func newClientSession(conn link, id string) *ClientSession {
	s := &ClientSession{
		pending: make(map[int64]*Call),
		domains: make(map[string]*DomainClient),
	}
	s.init(id, conn, s.teardown)
	return s
}

// Go sends a command and returns without waiting for the response.
// params may be nil, a json.RawMessage, or anything encoding/json accepts.
func (s *ClientSession) Go(method string, params any) *Call {
	call := newCall(method)
	if s.opts.captureStack {
		call.stack = debug.Stack()
	}

	raw, err := protocol.MarshalPayload(params)
	if err != nil {
		call.finish(nil, fmt.Errorf("marshal params for %s: %w", method, err))
		return call
	}

	conn, open := s.conn()
	if !open {
		call.finish(nil, s.closedError(call.stack))
		return call
	}

	_, err = conn.request(method, raw, s.id, func(id int64) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending == nil {
			return false
		}
		call.ID = id
		s.pending[id] = call
		return true
	})
	if err != nil {
		s.mu.Lock()
		delete(s.pending, call.ID)
		s.mu.Unlock()

		if errors.Is(err, errNotRegistered) {
			err = s.closedError(call.stack)
		}
		call.finish(nil, err)
	}
	return call
}

// Request sends a command and waits for its result.
func (s *ClientSession) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.Go(method, params).Wait(ctx)
}

// Call sends a command and decodes its result into out, which may be nil.
func (s *ClientSession) Call(ctx context.Context, method string, params, out any) error {
	raw, err := s.Request(ctx, method, params)
	if err != nil {
		return err
	}
	return decodeResult(method, raw, out)
}

// Pause holds back responses until Resume. Events keep flowing.
func (s *ClientSession) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume delivers the responses queued while paused, oldest first, then
// returns to delivering them as they arrive. Responses that arrive while
// the queue drains are appended to it, so order is kept.
func (s *ClientSession) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	if s.draining {
		return
	}

	s.draining = true
	for !s.paused && len(s.queue) > 0 {
		msg := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		s.mu.Unlock()
		s.resolve(msg)
		s.mu.Lock()
	}
	s.draining = false
}

// Paused reports whether responses are being held back.
func (s *ClientSession) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// OnEvent registers fn for every event this session receives.
func (s *ClientSession) OnEvent(fn func(*protocol.Message)) Disposable {
	return s.events.On(fn)
}

// Domain returns the client for the named domain, creating it on first use.
func (s *ClientSession) Domain(name string) *DomainClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[name]
	if !ok {
		d = newDomainClient(s, name)
		s.domains[name] = d
	}
	return d
}

// InjectMessage routes a response to its pending call and an event to its
// subscribers. Commands carrying an id are not for a client and are
// dropped.
func (s *ClientSession) InjectMessage(msg *protocol.Message) error {
	if s.Closed() {
		return nil
	}

	switch msg.Kind() {
	case protocol.KindCommand:
		if msg.ID != nil {
			s.opts.logger.Debug("client session dropping command",
				zap.String("method", msg.Method), zap.Int64("id", *msg.ID))
			return nil
		}
		s.dispatchEvent(msg)

	case protocol.KindSuccess, protocol.KindError:
		s.mu.Lock()
		if s.paused || s.draining {
			s.queue = append(s.queue, msg)
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		s.resolve(msg)
	}
	return nil
}

func (s *ClientSession) dispatchEvent(msg *protocol.Message) {
	s.events.Emit(msg)

	domain, event := protocol.SplitMethod(msg.Method)
	s.mu.Lock()
	d := s.domains[domain]
	s.mu.Unlock()
	if d != nil {
		d.dispatch(event, msg.Params)
	}
}

func (s *ClientSession) resolve(msg *protocol.Message) {
	id := *msg.ID

	s.mu.Lock()
	call, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		// duplicate, abandoned after close, or never ours
		s.opts.logger.Debug("response for unknown request", zap.Int64("id", id))
		return
	}

	if msg.Error != nil {
		perr := protocol.ErrorFromCode(msg.Error.Code, call.Method, msg.Error.Message)
		perr.Stack = call.stack
		call.finish(nil, perr)
		return
	}
	call.finish(msg.Result, nil)
}

func (s *ClientSession) teardown(cause error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.queue = nil
	s.paused = false
	domains := s.domains
	s.mu.Unlock()

	for _, call := range pending {
		call.finish(nil, &protocol.ConnectionClosedError{Cause: cause, Stack: call.stack})
	}
	for _, d := range domains {
		d.clear()
	}
	s.events.Clear()
}

func decodeResult(method string, raw json.RawMessage, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result of %s: %w", method, err)
	}
	return nil
}
