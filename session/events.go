package session

import (
	"sync"

	"go.uber.org/atomic"
)

// Disposable is a registration that can be undone, typically a listener.
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a function to Disposable. Dispose calls the function
// every time; wrap it with onceDisposable when it must run only once.
type DisposableFunc func()

func (f DisposableFunc) Dispose() { f() }

func onceDisposable(f func()) Disposable {
	var once sync.Once
	return DisposableFunc(func() { once.Do(f) })
}

// emitter is a minimal multi-listener event source. Listeners are called
// synchronously on the emitting goroutine, in registration order, from a
// snapshot taken when Emit starts: listeners added or removed during an
// emission take effect on the next one.
type emitter[T any] struct {
	mu        sync.Mutex
	next      atomic.Uint64
	listeners []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

func (e *emitter[T]) On(fn func(T)) Disposable {
	id := e.next.Inc()

	e.mu.Lock()
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})
	e.mu.Unlock()

	return onceDisposable(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	})
}

func (e *emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := e.listeners
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

func (e *emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *emitter[T]) Clear() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}
