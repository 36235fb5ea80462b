package corert

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwait_ThinWrapperOverFutureAwait(t *testing.T) {
	p, f := NewPromise(nil)
	require.NoError(t, p.Fulfill(5, nil))

	state, value, err := Await(f, NoDeadline)
	assert.Equal(t, Fulfilled, state)
	assert.Equal(t, 5, value)
	assert.NoError(t, err)
}

// TestAwaitOnLoop_ResolvesWhileLoopDispatchesOtherTimers exercises
// end-to-end scenario 6: a loop-posted callback schedules a second timer
// that resolves the promise later; AwaitOnLoop must observe it without
// blocking the loop's other timers from firing meanwhile.
func TestAwaitOnLoop_ResolvesWhileLoopDispatchesOtherTimers(t *testing.T) {
	l := newTestLoop(t)
	runLoopAsync(t, l)

	var unrelatedTicks atomic.Int32
	_, err := l.RegisterTimer(NewDeadline(5*time.Millisecond), 5*time.Millisecond, func(loop *Loop, kind EventKind, fd int, userData any) {
		unrelatedTicks.Add(1)
	}, nil)
	require.NoError(t, err)

	promise, future := NewPromise(l)
	_, err = l.RegisterTimer(NewDeadline(1), 0, func(loop *Loop, kind EventKind, fd int, userData any) {
		_, regErr := loop.RegisterTimer(NewDeadline(20*time.Millisecond), 0, func(loop *Loop, kind EventKind, fd int, userData any) {
			_ = promise.Fulfill("resolved", nil)
		}, nil)
		require.NoError(t, regErr)
	}, nil)
	require.NoError(t, err)

	state, value, awaitErr := AwaitOnLoop(l, future, NewDeadline(500*time.Millisecond))
	assert.NoError(t, awaitErr)
	assert.Equal(t, Fulfilled, state)
	assert.Equal(t, "resolved", value)
	assert.Greater(t, unrelatedTicks.Load(), int32(0))
}

func TestAwaitOnLoop_TimesOutWhenNeverResolved(t *testing.T) {
	l := newTestLoop(t)
	runLoopAsync(t, l)

	_, future := NewPromise(l)
	state, _, err := AwaitOnLoop(l, future, NewDeadline(40*time.Millisecond))
	assert.Equal(t, Pending, state)
	assert.ErrorIs(t, err, ErrTimeout)
}
