// Package cancellation races asynchronous work against an external
// cancellation signal.
//
// A Token is the read side of the signal. Timeout and Await return as soon
// as either the work finishes or the token fires, whichever happens first,
// and never leave a watcher behind.
package cancellation

import (
	"context"
	"errors"
	"sync"
)

// ErrTaskCancelled is matched by every *TaskCancelledError.
var ErrTaskCancelled = errors.New("task cancelled")

// TaskCancelledError is returned when the token fires before the work
// completes.
type TaskCancelledError struct {
	Message string
}

func (e *TaskCancelledError) Error() string {
	if e.Message == "" {
		return "Task cancelled"
	}
	return e.Message
}

func (e *TaskCancelledError) Is(target error) bool { return target == ErrTaskCancelled }

// Token signals that cancellation was requested.
type Token interface {
	// Done is closed when cancellation is requested. A nil channel means the
	// token can never fire.
	Done() <-chan struct{}
	IsCancellationRequested() bool
}

// None is a token that is never cancelled.
var None Token = noneToken{}

type noneToken struct{}

func (noneToken) Done() <-chan struct{}         { return nil }
func (noneToken) IsCancellationRequested() bool { return false }

// Source owns a token and cancels it.
type Source struct {
	once sync.Once
	done chan struct{}
}

func NewSource() *Source {
	return &Source{done: make(chan struct{})}
}

// Cancel fires the token. Safe to call multiple times.
func (s *Source) Cancel() {
	s.once.Do(func() { close(s.done) })
}

func (s *Source) Token() Token { return sourceToken{s} }

type sourceToken struct{ s *Source }

func (t sourceToken) Done() <-chan struct{} { return t.s.done }

func (t sourceToken) IsCancellationRequested() bool {
	select {
	case <-t.s.done:
		return true
	default:
		return false
	}
}

// FromContext adapts a context: the token fires when ctx is done.
func FromContext(ctx context.Context) Token { return ctxToken{ctx} }

type ctxToken struct{ ctx context.Context }

func (t ctxToken) Done() <-chan struct{}         { return t.ctx.Done() }
func (t ctxToken) IsCancellationRequested() bool { return t.ctx.Err() != nil }

// OnCancellationRequested calls fn once when token fires. The returned stop
// function unsubscribes; it reports whether fn was prevented from running.
func OnCancellationRequested(token Token, fn func()) (stop func() bool) {
	stopCh := make(chan struct{})
	fired := make(chan bool, 1)

	go func() {
		select {
		case <-token.Done():
			fn()
			fired <- true
		case <-stopCh:
			fired <- false
		}
	}()

	var once sync.Once
	var prevented bool
	return func() bool {
		once.Do(func() {
			close(stopCh)
			prevented = !<-fired
		})
		return prevented
	}
}

// Result is the outcome of an asynchronous operation.
type Result[T any] struct {
	Value T
	Err   error
}

// Timeout waits for op unless token fires first. An already-cancelled
// token fails immediately without looking at op. message overrides the
// default error text.
func Timeout[T any](op <-chan Result[T], token Token, message string) (T, error) {
	var zero T
	if token.IsCancellationRequested() {
		return zero, &TaskCancelledError{Message: message}
	}

	select {
	case r := <-op:
		return r.Value, r.Err
	case <-token.Done():
		return zero, &TaskCancelledError{Message: message}
	}
}

// Await runs fn on its own goroutine and races it against token. When the
// token wins, fn keeps running to completion but its result is discarded.
func Await[T any](token Token, message string, fn func() (T, error)) (T, error) {
	if token.IsCancellationRequested() {
		var zero T
		return zero, &TaskCancelledError{Message: message}
	}

	op := make(chan Result[T], 1) // buffered so the losing goroutine never blocks
	go func() {
		v, err := fn()
		op <- Result[T]{Value: v, Err: err}
	}()
	return Timeout(op, token, message)
}
