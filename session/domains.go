package session

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/risa-org/cdp/protocol"
)

// DomainClient scopes a ClientSession to one protocol domain, so callers
// write Domain("Page").Invoke(ctx, "navigate", p) instead of spelling out
// "Page.navigate", and subscribe to the domain's events by bare name.
type DomainClient struct {
	session *ClientSession
	name    string

	mu     sync.Mutex
	events map[string]*emitter[json.RawMessage]
}

func newDomainClient(s *ClientSession, name string) *DomainClient {
	return &DomainClient{
		session: s,
		name:    name,
		events:  make(map[string]*emitter[json.RawMessage]),
	}
}

func (d *DomainClient) Name() string { return d.name }

// Session returns the session the domain belongs to.
func (d *DomainClient) Session() *ClientSession { return d.session }

// Invoke calls Domain.method and returns the raw result.
func (d *DomainClient) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return d.session.Request(ctx, protocol.JoinMethod(d.name, method), params)
}

// Call calls Domain.method and decodes the result into out.
func (d *DomainClient) Call(ctx context.Context, method string, params, out any) error {
	return d.session.Call(ctx, protocol.JoinMethod(d.name, method), params, out)
}

// On registers fn for the domain event with the given bare name.
func (d *DomainClient) On(event string, fn func(params json.RawMessage)) Disposable {
	d.mu.Lock()
	e, ok := d.events[event]
	if !ok {
		e = &emitter[json.RawMessage]{}
		d.events[event] = e
	}
	d.mu.Unlock()
	return e.On(fn)
}

func (d *DomainClient) dispatch(event string, params json.RawMessage) {
	d.mu.Lock()
	e := d.events[event]
	d.mu.Unlock()
	if e != nil {
		e.Emit(params)
	}
}

func (d *DomainClient) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.events {
		e.Clear()
	}
}

// Invoke calls method on d and decodes the result as R.
func Invoke[R any](ctx context.Context, d *DomainClient, method string, params any) (R, error) {
	var out R
	err := d.Call(ctx, method, params, &out)
	return out, err
}

// Subscribe registers fn for event on d with the params decoded as T.
// Events whose params do not decode are logged and skipped.
func Subscribe[T any](d *DomainClient, event string, fn func(T)) Disposable {
	return d.On(event, func(raw json.RawMessage) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				d.session.opts.logger.Warn("dropping undecodable event",
					zap.String("method", protocol.JoinMethod(d.name, event)), zap.Error(err))
				return
			}
		}
		fn(v)
	})
}

// Method is a typed binding for one command, declared once and used with
// any session:
//
//	var getDocument = session.Method[GetDocumentParams, GetDocumentResult]{Domain: "DOM", Name: "getDocument"}
//	doc, err := getDocument.Invoke(ctx, s, GetDocumentParams{Depth: 1})
type Method[P, R any] struct {
	Domain string
	Name   string
}

func (m Method[P, R]) String() string { return protocol.JoinMethod(m.Domain, m.Name) }

func (m Method[P, R]) Invoke(ctx context.Context, s *ClientSession, params P) (R, error) {
	return Invoke[R](ctx, s.Domain(m.Domain), m.Name, params)
}

// Event is a typed binding for one event.
type Event[T any] struct {
	Domain string
	Name   string
}

func (e Event[T]) String() string { return protocol.JoinMethod(e.Domain, e.Name) }

func (e Event[T]) Subscribe(s *ClientSession, fn func(T)) Disposable {
	return Subscribe(s.Domain(e.Domain), e.Name, fn)
}
