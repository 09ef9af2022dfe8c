package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/serializer"
	"github.com/risa-org/cdp/transport/loopback"
)

const waitTimeout = 2 * time.Second

// newClient returns a client connection over an unpaired loopback, so the
// test plays the remote side by hand.
func newClient(t *testing.T, opts ...Option) (*ClientConnection, *loopback.Transport) {
	t.Helper()
	lt := loopback.New()
	conn := NewClientConnection(lt, opts...)
	t.Cleanup(func() { conn.Close() })
	return conn, lt
}

// newServer is newClient for the server role.
func newServer(t *testing.T, opts ...Option) (*ServerConnection, *loopback.Transport) {
	t.Helper()
	lt := loopback.New()
	conn := NewServerConnection(lt, opts...)
	t.Cleanup(func() { conn.Close() })
	return conn, lt
}

// newPair connects a client and a server connection back to back.
func newPair(t *testing.T, opts ...Option) (*ClientConnection, *ServerConnection) {
	t.Helper()
	a, b := loopback.Pair()
	client := NewClientConnection(a, opts...)
	server := NewServerConnection(b, opts...)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// nextSent decodes the next message the connection wrote to lt.
func nextSent(t *testing.T, lt *loopback.Transport) *protocol.Message {
	t.Helper()
	select {
	case raw := <-lt.Sent():
		msg, err := serializer.JSON{}.Deserialize(raw)
		require.NoError(t, err)
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an outbound message")
		return nil
	}
}

func deliver(t *testing.T, lt *loopback.Transport, msg *protocol.Message) {
	t.Helper()
	raw, err := serializer.JSON{}.Serialize(msg)
	require.NoError(t, err)
	lt.Inject(raw)
}

// flush waits until everything injected so far has been routed: inbound
// messages are handled in order, so once a marker event reaches the root
// session, so has everything before it.
func flush(t *testing.T, conn *ClientConnection, lt *loopback.Transport) {
	t.Helper()
	seen := make(chan struct{})
	d := conn.Root().Domain("Test").On("flushed", func(json.RawMessage) { close(seen) })
	defer d.Dispose()

	deliver(t, lt, protocol.NewEvent("Test.flushed", nil, ""))
	select {
	case <-seen:
	case <-time.After(waitTimeout):
		t.Fatal("timed out flushing inbound messages")
	}
}

func waitCall(t *testing.T, call *Call) (json.RawMessage, error) {
	t.Helper()
	select {
	case <-call.Done():
		return call.Result()
	case <-time.After(waitTimeout):
		t.Fatalf("call %s (%d) did not complete", call.Method, call.ID)
		return nil, nil
	}
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for close")
	}
}

func success(id int64, result string) *protocol.Message {
	return protocol.NewSuccess(id, json.RawMessage(result))
}
