package integration

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/serializer"
	"github.com/risa-org/cdp/session"
	"github.com/risa-org/cdp/transport"
	tcpadapter "github.com/risa-org/cdp/transport/tcp"
	wsadapter "github.com/risa-org/cdp/transport/websocket"
)

// ------------------------------------------------------------
// Server side
// ------------------------------------------------------------

type evaluateParams struct {
	Expression string `json:"expression"`
}

type evaluateResult struct {
	Value string `json:"value"`
}

// install gives s a Runtime domain plus Target.attach, which opens a child
// session with the same handlers.
func install(conn *session.ServerConnection, s *session.ServerSession) {
	s.SetHandlers(session.Handlers{Domains: map[string]session.Domain{
		"Runtime": {
			"evaluate": session.Handle(func(_ context.Context, p evaluateParams) (evaluateResult, error) {
				if p.Expression == "throw" {
					return evaluateResult{}, errors.New("uncaught exception")
				}
				err := s.Events().Domain("Runtime").Emit("consoleAPICalled", map[string]string{"text": p.Expression})
				return evaluateResult{Value: p.Expression + "@" + s.ID()}, err
			}),
			"hang": func(ctx context.Context, _ *session.Request) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		"Target": {
			"attach": func(context.Context, *session.Request) (any, error) {
				child := conn.CreateSession()
				install(conn, child)
				return map[string]string{"sessionId": child.ID()}, nil
			},
		},
	}})
}

func serve(t transport.Adapter, opts ...session.Option) *session.ServerConnection {
	conn := session.NewServerConnection(t, opts...)
	install(conn, conn.Root())
	return conn
}

// ------------------------------------------------------------
// Transports
// ------------------------------------------------------------

type pairFunc func(t *testing.T, opts ...session.Option) (*session.ClientConnection, *session.ServerConnection)

func tcpPair(t *testing.T, opts ...session.Option) (*session.ClientConnection, *session.ServerConnection) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := serve(tcpadapter.New(serverConn), opts...)
	client := session.NewClientConnection(tcpadapter.New(clientConn), opts...)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func wsPair(t *testing.T, opts ...session.Option) (*session.ClientConnection, *session.ServerConnection) {
	t.Helper()
	servers := make(chan *session.ServerConnection, 1)

	srv := httptest.NewServer(wsadapter.Handler(func(_ *http.Request, a *wsadapter.Adapter) {
		conn := serve(a, opts...)
		servers <- conn
		<-conn.Done()
	}, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a, err := wsadapter.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	client := session.NewClientConnection(a, opts...)
	server := <-servers
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

var transports = map[string]pairFunc{
	"tcp":       tcpPair,
	"websocket": wsPair,
}

var serializers = map[string]session.Option{
	"json": session.WithSerializer(serializer.JSON{}),
	"cbor": session.WithSerializer(serializer.CBOR{}),
}

func forEach(t *testing.T, test func(t *testing.T, pair pairFunc, ser session.Option)) {
	for tname, pair := range transports {
		for sname, ser := range serializers {
			t.Run(tname+"/"+sname, func(t *testing.T) { test(t, pair, ser) })
		}
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ------------------------------------------------------------
// Tests
// ------------------------------------------------------------

func TestRequestEventAndResponse(t *testing.T) {
	forEach(t, func(t *testing.T, pair pairFunc, ser session.Option) {
		client, _ := pair(t, ser)
		ctx := testContext(t)

		logged := make(chan string, 1)
		session.Subscribe(client.Root().Domain("Runtime"), "consoleAPICalled", func(ev map[string]string) {
			logged <- ev["text"]
		})

		res, err := session.Invoke[evaluateResult](ctx, client.Root().Domain("Runtime"), "evaluate", evaluateParams{Expression: "1+1"})
		require.NoError(t, err)
		assert.Equal(t, "1+1@", res.Value)
		assert.Equal(t, "1+1", <-logged)
	})
}

func TestMultiplexedSessions(t *testing.T) {
	forEach(t, func(t *testing.T, pair pairFunc, ser session.Option) {
		client, server := pair(t, ser)
		ctx := testContext(t)

		var ids []string
		for range 3 {
			var attached struct {
				SessionID string `json:"sessionId"`
			}
			require.NoError(t, client.Root().Domain("Target").Call(ctx, "attach", nil, &attached))
			ids = append(ids, attached.SessionID)
		}
		assert.Len(t, server.Sessions(), 3)

		// concurrent calls on every session, answered out of order
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := session.Invoke[evaluateResult](ctx, client.Session(id).Domain("Runtime"), "evaluate", evaluateParams{Expression: "x"})
				assert.NoError(t, err)
				assert.Equal(t, "x@"+id, res.Value)
			}()
		}
		wg.Wait()
	})
}

func TestHandlerErrorsCrossTheWire(t *testing.T) {
	forEach(t, func(t *testing.T, pair pairFunc, ser session.Option) {
		client, _ := pair(t, ser)
		ctx := testContext(t)

		_, err := client.Root().Request(ctx, "Runtime.evaluate", evaluateParams{Expression: "throw"})
		assert.ErrorIs(t, err, protocol.ErrInternal)
		assert.Contains(t, err.Error(), "uncaught exception")

		_, err = client.Root().Request(ctx, "Runtime.evaluate", map[string]int{"expression": 1})
		assert.ErrorIs(t, err, protocol.ErrInvalidParams)

		_, err = client.Root().Request(ctx, "Page.navigate", nil)
		assert.ErrorIs(t, err, protocol.ErrMethodNotFound)
		assert.Contains(t, err.Error(), "Page.navigate")
	})
}

func TestServerCloseRejectsPendingCalls(t *testing.T) {
	forEach(t, func(t *testing.T, pair pairFunc, ser session.Option) {
		client, server := pair(t, ser)
		ctx := testContext(t)

		var attached struct {
			SessionID string `json:"sessionId"`
		}
		require.NoError(t, client.Root().Domain("Target").Call(ctx, "attach", nil, &attached))

		rootCall := client.Root().Go("Runtime.hang", nil)
		childCall := client.Session(attached.SessionID).Go("Runtime.hang", nil)

		server.Close()

		for _, call := range []*session.Call{rootCall, childCall} {
			_, err := call.Wait(ctx)
			assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
		}

		select {
		case <-client.Done():
		case <-ctx.Done():
			t.Fatal("client connection did not close")
		}
		_, err := client.Root().Request(ctx, "Runtime.evaluate", nil)
		assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	})
}

func TestCleanRemoteCloseHasNoCause(t *testing.T) {
	forEach(t, func(t *testing.T, pair pairFunc, ser session.Option) {
		client, server := pair(t, ser)
		ctx := testContext(t)

		call := client.Root().Go("Runtime.hang", nil)
		server.Close()

		_, err := call.Wait(ctx)
		require.ErrorIs(t, err, protocol.ErrConnectionClosed)
		var closed *protocol.ConnectionClosedError
		require.ErrorAs(t, err, &closed)
		assert.NoError(t, closed.Cause)

		select {
		case <-client.Done():
		case <-ctx.Done():
			t.Fatal("client connection did not close")
		}
		assert.NoError(t, client.Err())
	})
}

func TestAbnormalEndCarriesTransportError(t *testing.T) {
	clientConn, remote := net.Pipe()
	defer remote.Close()
	client := session.NewClientConnection(tcpadapter.New(clientConn, tcpadapter.WithMaxMessageSize(4)))
	defer client.Close()
	ctx := testContext(t)

	// the remote reads the request, then answers with a frame header far
	// over the client's size limit
	go func() {
		var header [5]byte
		if _, err := io.ReadFull(remote, header[:]); err != nil {
			return
		}
		io.CopyN(io.Discard, remote, int64(binary.BigEndian.Uint32(header[:4])))
		remote.Write([]byte{0, 0, 1, 0, 0})
	}()

	call := client.Root().Go("Runtime.hang", nil)

	_, err := call.Wait(ctx)
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)
	var closed *protocol.ConnectionClosedError
	require.ErrorAs(t, err, &closed)
	require.Error(t, closed.Cause)
	assert.Contains(t, closed.Cause.Error(), "max message size")

	<-client.Done()
	assert.Equal(t, closed.Cause, client.Err())
}
