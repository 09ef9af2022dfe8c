// Package loopback provides an in-memory transport.Adapter that is driven by
// hand: inject inbound messages, end it with or without an error, and watch
// what gets sent. Pair connects two of them back to back so a client and a
// server connection can talk inside one process.
package loopback

import (
	"sync"

	"github.com/risa-org/cdp/transport"
)

const bufferSize = 1024

// Transport implements transport.Adapter in memory.
type Transport struct {
	mu         sync.Mutex
	ended      bool
	incoming   chan transport.Message
	disconnect chan transport.DisconnectEvent
	sent       chan transport.Message
	peer       *Transport
}

// New creates an unpaired transport. Everything it sends shows up on Sent().
func New() *Transport {
	return &Transport{
		incoming:   make(chan transport.Message, bufferSize),
		disconnect: make(chan transport.DisconnectEvent, 1),
		sent:       make(chan transport.Message, bufferSize),
	}
}

// Pair creates two transports where each one's Send is the other's Receive.
// Closing one ends the other cleanly.
func Pair() (*Transport, *Transport) {
	a, b := New(), New()
	a.peer, b.peer = b, a
	return a, b
}

// Inject delivers msg as if it had been received from the remote side.
// Messages injected after the transport ended are dropped.
func (t *Transport) Inject(msg transport.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	t.incoming <- msg
}

// InjectText is Inject for a text payload.
func (t *Transport) InjectText(payload string) {
	t.Inject(transport.Message{Payload: []byte(payload)})
}

// EndWith ends the transport as the remote side would: a nil error is a
// clean close, anything else a network error.
func (t *Transport) EndWith(err error) {
	event := transport.DisconnectEvent{Reason: transport.ReasonClosedClean}
	if err != nil {
		event = transport.DisconnectEvent{Reason: transport.ReasonNetworkError, Err: err}
	}
	t.end(&event)
}

// Sent returns the messages this transport sent. Paired transports hand
// their messages to the peer instead.
func (t *Transport) Sent() <-chan transport.Message {
	return t.sent
}

func (t *Transport) Send(msg transport.Message) error {
	t.mu.Lock()
	ended := t.ended
	t.mu.Unlock()
	if ended {
		return transport.ErrTransportClosed
	}

	if t.peer != nil {
		t.peer.Inject(msg)
		return nil
	}
	t.sent <- msg
	return nil
}

func (t *Transport) Receive() <-chan transport.Message {
	return t.incoming
}

func (t *Transport) Disconnected() <-chan transport.DisconnectEvent {
	return t.disconnect
}

// Close ends the transport without a disconnect event and ends the peer, if
// any, cleanly.
func (t *Transport) Close() error {
	if t.end(nil) && t.peer != nil {
		t.peer.EndWith(nil)
	}
	return nil
}

// end closes the receive side exactly once. The event, when given, is
// published before the channel closes.
func (t *Transport) end(event *transport.DisconnectEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return false
	}
	t.ended = true
	if event != nil {
		t.disconnect <- *event
	}
	close(t.incoming)
	return true
}
