package session

import (
	"encoding/json"
	"sync"

	"github.com/risa-org/cdp/protocol"
)

// State is where a session is in its lifecycle.
// Closed is terminal: nothing comes after it.
type State int

const (
	StateOpen   State = iota // attached to a live connection
	StateClosed              // detached, holds only the close cause
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Session is one logical conversation multiplexed over a Connection.
// ClientSession and ServerSession are the only implementations.
type Session interface {
	// ID is the session id; the root session's id is empty.
	ID() string
	State() State
	Closed() bool
	// Done is closed once the session is closed and its close listeners
	// have run.
	Done() <-chan struct{}
	// Err is the cause the session closed with, nil while open or after a
	// clean or manual close.
	Err() error
	// OnClose registers fn to run once when the session closes.
	OnClose(fn func(cause error)) Disposable
	// Dispose closes the session without a cause. Idempotent.
	Dispose()
	// InjectMessage hands one inbound message to the session.
	InjectMessage(msg *protocol.Message) error

	closeWith(cause error)
}

// link is what a session needs from its connection.
type link interface {
	// request assigns the next id, lets register record it, and sends the
	// command. Nothing is sent when register returns false.
	request(method string, params json.RawMessage, sessionID string, register func(id int64) bool) (int64, error)
	send(msg *protocol.Message) error
	onClose(fn func(cause error)) Disposable
	settings() *settings
}

// connState is the session's tagged lifecycle record. An open record holds
// the live connection, a closed one only the cause, so a closed session
// cannot reach the connection by construction.
type connState struct {
	state State
	conn  link
	cause error
}

// base carries the lifecycle shared by both session roles.
type base struct {
	id   string
	opts *settings

	stateMu     sync.Mutex
	st          connState
	owned       []Disposable
	closeEvents emitter[error]
	done        chan struct{}
	teardown    func(cause error)
}

// init attaches the session to conn. teardown runs exactly once, after the
// state flips to closed and before close listeners are notified.
func (b *base) init(id string, conn link, teardown func(cause error)) {
	b.id = id
	b.opts = conn.settings()
	b.st = connState{state: StateOpen, conn: conn}
	b.done = make(chan struct{})
	b.teardown = teardown
	b.own(conn.onClose(b.closeWith))
}

// own ties d to the session's lifetime. Owning on a closed session disposes
// d right away.
func (b *base) own(d Disposable) {
	b.stateMu.Lock()
	if b.st.state == StateOpen {
		b.owned = append(b.owned, d)
		b.stateMu.Unlock()
		return
	}
	b.stateMu.Unlock()
	d.Dispose()
}

// conn returns the live connection; false once the session is closed.
func (b *base) conn() (link, bool) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.st.conn, b.st.state == StateOpen
}

// closedError is what calls on a closed session fail with.
func (b *base) closedError(stack []byte) error {
	return &protocol.ConnectionClosedError{Cause: b.Err(), Stack: stack}
}

func (b *base) ID() string { return b.id }

func (b *base) State() State {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.st.state
}

func (b *base) Closed() bool { return b.State() == StateClosed }

func (b *base) Done() <-chan struct{} { return b.done }

func (b *base) Err() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.st.cause
}

// OnClose calls fn right away if the session is already closed.
func (b *base) OnClose(fn func(cause error)) Disposable {
	b.stateMu.Lock()
	if b.st.state == StateClosed {
		cause := b.st.cause
		b.stateMu.Unlock()
		fn(cause)
		return DisposableFunc(func() {})
	}
	defer b.stateMu.Unlock()
	return b.closeEvents.On(fn)
}

func (b *base) Dispose() { b.closeWith(nil) }

func (b *base) closeWith(cause error) {
	b.stateMu.Lock()
	if b.st.state == StateClosed {
		b.stateMu.Unlock()
		return
	}
	b.st = connState{state: StateClosed, cause: cause}
	owned := b.owned
	b.owned = nil
	b.stateMu.Unlock()

	for _, d := range owned {
		d.Dispose()
	}
	if b.teardown != nil {
		b.teardown(cause)
	}
	b.closeEvents.Emit(cause)
	b.closeEvents.Clear()
	close(b.done)
}
