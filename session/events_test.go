package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterCallsListenersInOrder(t *testing.T) {
	var e emitter[int]
	var got []int
	e.On(func(v int) { got = append(got, v) })
	e.On(func(v int) { got = append(got, v*10) })

	e.Emit(1)
	assert.Equal(t, []int{1, 10}, got)
}

func TestEmitterDispose(t *testing.T) {
	var e emitter[string]
	calls := 0
	d := e.On(func(string) { calls++ })

	d.Dispose()
	d.Dispose()
	e.Emit("x")

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, e.Len())
}

func TestEmitterSnapshot(t *testing.T) {
	var e emitter[int]
	calls := 0
	var second Disposable
	e.On(func(int) {
		calls++
		// removing a later listener mid-emit only affects the next emit
		second.Dispose()
	})
	second = e.On(func(int) { calls++ })

	e.Emit(0)
	assert.Equal(t, 2, calls)
	e.Emit(0)
	assert.Equal(t, 3, calls)
}

func TestEmitterClear(t *testing.T) {
	var e emitter[int]
	e.On(func(int) { t.Error("cleared listener ran") })
	e.Clear()
	e.Emit(0)
}

func TestDisposableFuncRunsEveryTime(t *testing.T) {
	calls := 0
	d := DisposableFunc(func() { calls++ })
	d.Dispose()
	d.Dispose()
	assert.Equal(t, 2, calls)

	calls = 0
	once := onceDisposable(func() { calls++ })
	once.Dispose()
	once.Dispose()
	assert.Equal(t, 1, calls)
}
