package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/risa-org/cdp/config"
	"github.com/risa-org/cdp/protocol"
	"github.com/risa-org/cdp/session"
	"github.com/risa-org/cdp/transport/loopback"
)

func newDaemonPair(t *testing.T) *session.ClientConnection {
	t.Helper()
	a, b := loopback.Pair()
	server := session.NewServerConnection(b)
	install(server, server.Root())
	client := session.NewClientConnection(a)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client
}

func TestEchoEmitsThenAnswers(t *testing.T) {
	client := newDaemonPair(t)

	echoed := make(chan string, 1)
	session.Subscribe(client.Root().Domain("System"), "echoed", func(ev echoResult) { echoed <- ev.Message })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := session.Invoke[echoResult](ctx, client.Root().Domain("System"), "echo", echoParams{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Message)

	// the event was sent before the response, so it is already here
	select {
	case msg := <-echoed:
		assert.Equal(t, "hi", msg)
	default:
		t.Fatal("System.echoed not delivered before the response")
	}
}

func TestCreateSessionInstallsDomains(t *testing.T) {
	client := newDaemonPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	created, err := session.Invoke[createSessionResult](ctx, client.Root().Domain("Target"), "createSession", nil)
	require.NoError(t, err)
	require.NotEmpty(t, created.SessionID)

	child := client.Session(created.SessionID)
	info, err := session.Invoke[infoResult](ctx, child.Domain("System"), "getInfo", nil)
	require.NoError(t, err)
	assert.Equal(t, created.SessionID, info.SessionID)
	assert.Equal(t, 1, info.Sessions)

	err = client.Root().Domain("Target").Call(ctx, "closeSession", closeSessionParams{SessionID: created.SessionID}, nil)
	require.NoError(t, err)

	err = client.Root().Domain("Target").Call(ctx, "closeSession", closeSessionParams{SessionID: created.SessionID}, nil)
	assert.ErrorIs(t, err, protocol.ErrServer)
}

func TestUnknownMethod(t *testing.T) {
	client := newDaemonPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Root().Request(ctx, "System.reboot", nil)
	assert.ErrorIs(t, err, protocol.ErrMethodNotFound)
}

func TestConnectionOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Serializer = "cbor"
	cfg.RateLimit = 10
	cfg.RateBurst = 2

	opts, err := connectionOptions(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, opts, 6)

	cfg.Serializer = "yaml"
	_, err = connectionOptions(cfg, nil)
	assert.Error(t, err)
}

func TestServeClosesConnectionOnShutdown(t *testing.T) {
	a, b := loopback.Pair()
	client := session.NewClientConnection(a)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		serve(ctx, b, "loopback", zap.NewNop(), nil)
		close(returned)
	}()

	cancel()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after shutdown")
	}
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client was not disconnected")
	}
	assert.NoError(t, client.Err())
}
