package session

import "sync"

// callQueue runs functions one at a time, in the order they were pushed, on
// a goroutine of its own. push never blocks, so the connection's read loop
// is not held up by a slow handler.
type callQueue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newCallQueue() *callQueue {
	q := &callQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// push appends fn. It reports false once the queue is closed.
func (q *callQueue) push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// close drops everything not yet started and stops the worker once the
// running function, if any, returns.
func (q *callQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

func (q *callQueue) run() {
	for {
		select {
		case <-q.wake:
		case <-q.done:
			return
		}
		for fn := q.pop(); fn != nil; fn = q.pop() {
			fn()
		}
	}
}

func (q *callQueue) pop() func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) == 0 {
		return nil
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn
}
