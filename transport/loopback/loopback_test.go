package loopback

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risa-org/cdp/transport"
)

func TestInjectIsReceived(t *testing.T) {
	tr := New()
	tr.InjectText(`{"method":"A.b"}`)

	select {
	case msg := <-tr.Receive():
		assert.Equal(t, `{"method":"A.b"}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSendShowsUpOnSent(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Send(transport.Message{Payload: []byte("hi")}))
	assert.Equal(t, "hi", string((<-tr.Sent()).Payload))
}

func TestEndWithError(t *testing.T) {
	tr := New()
	boom := errors.New("boom")
	tr.EndWith(boom)

	event := <-tr.Disconnected()
	assert.Equal(t, transport.ReasonNetworkError, event.Reason)
	assert.ErrorIs(t, event.Err, boom)

	_, open := <-tr.Receive()
	assert.False(t, open, "receive channel should be closed")

	assert.ErrorIs(t, tr.Send(transport.Message{}), transport.ErrTransportClosed)
}

func TestCloseHasNoDisconnectEvent(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, open := <-tr.Receive()
	assert.False(t, open)

	select {
	case ev := <-tr.Disconnected():
		t.Fatalf("unexpected disconnect event %+v", ev)
	default:
	}

	// injecting after the end is dropped, not a panic
	tr.InjectText("late")
}

func TestPair(t *testing.T) {
	a, b := Pair()
	require.NoError(t, a.Send(transport.Message{Payload: []byte("ping")}))
	assert.Equal(t, "ping", string((<-b.Receive()).Payload))

	require.NoError(t, a.Close())
	event := <-b.Disconnected()
	assert.Equal(t, transport.ReasonClosedClean, event.Reason)
	assert.NoError(t, event.Err)
}
