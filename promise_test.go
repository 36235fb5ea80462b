package corert

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise_FulfillResolvesFuture(t *testing.T) {
	p, f := NewPromise(nil)
	require.NoError(t, p.Fulfill(42, nil))

	state, value, err := f.Await(NoDeadline)
	assert.Equal(t, Fulfilled, state)
	assert.Equal(t, 42, value)
	assert.NoError(t, err)
}

func TestPromise_RejectResolvesFutureWithError(t *testing.T) {
	p, f := NewPromise(nil)
	sentinel := errors.New("boom")
	require.NoError(t, p.Reject(sentinel))

	state, _, err := f.Await(NoDeadline)
	assert.Equal(t, Rejected, state)
	assert.Equal(t, sentinel, err)
}

func TestPromise_CancelIsTerminalWithoutErrorCode(t *testing.T) {
	p, f := NewPromise(nil)
	require.NoError(t, p.Cancel())

	state, _, err := f.Await(NoDeadline)
	assert.Equal(t, Cancelled, state)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestPromise_FulfillAfterTerminalFailsAndDestroysValue(t *testing.T) {
	p, _ := NewPromise(nil)
	require.NoError(t, p.Fulfill(1, nil))

	var destroyedWith any
	err := p.Fulfill(2, func(v any) { destroyedWith = v })
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 2, destroyedWith)
}

func TestPromise_TakeValueTransfersOwnershipExactlyOnce(t *testing.T) {
	p, f := NewPromise(nil)
	require.NoError(t, p.Fulfill("payload", nil))

	v, ok := f.TakeValue()
	require.True(t, ok)
	assert.Equal(t, "payload", v)

	_, ok = f.TakeValue()
	assert.False(t, ok)

	// A subsequent Value() returns nil: ownership has moved out.
	assert.Nil(t, f.Value())
}

func TestPromise_DestroyAfterTakeValueDoesNotCallDestructor(t *testing.T) {
	p, f := NewPromise(nil)
	called := false
	require.NoError(t, p.Fulfill("v", func(any) { called = true }))

	_, ok := f.TakeValue()
	require.True(t, ok)

	f.Destroy()
	p.Destroy()
	assert.False(t, called)
}

func TestPromise_DestructorCalledOnceWhenNeverTaken(t *testing.T) {
	p, f := NewPromise(nil)
	var calls int32
	require.NoError(t, p.Fulfill("v", func(any) { atomic.AddInt32(&calls, 1) }))

	p.Destroy()
	f.Destroy()
	assert.Equal(t, int32(1), calls)
}

func TestPromise_AwaitTimesOutWhilePending(t *testing.T) {
	_, f := NewPromise(nil)
	state, _, err := f.Await(NewDeadline(20 * time.Millisecond))
	assert.Equal(t, Pending, state)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPromise_AwaitReturnsImmediatelyOnCancel(t *testing.T) {
	p, f := NewPromise(nil)
	require.NoError(t, p.Cancel())

	start := time.Now()
	state, _, err := f.Await(NewDeadline(time.Second))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, Cancelled, state)
	assert.ErrorIs(t, err, ErrCancelled)
}

// TestPromise_ContinuationsFireExactlyOnceEachOrdering installs N
// continuations before the terminal transition and M afterward, and
// asserts every one of them runs exactly once: the pre-transition ones in
// registration order, strictly after the transition; the post-transition
// ones synchronously to their own Then call.
func TestPromise_ContinuationsFireExactlyOnceEachOrdering(t *testing.T) {
	p, f := NewPromise(nil)

	const before = 5
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(before)
	for i := 0; i < before; i++ {
		i := i
		f.Then(func(state PromiseState, value any, err error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	require.NoError(t, p.Fulfill(7, nil))
	wg.Wait()

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	mu.Unlock()

	const after = 3
	var afterCalls int32
	for i := 0; i < after; i++ {
		f.Then(func(state PromiseState, value any, err error) {
			atomic.AddInt32(&afterCalls, 1)
		})
	}
	assert.Equal(t, int32(after), afterCalls)
}

func TestPromise_MultipleFuturesAllObserveTerminalTransition(t *testing.T) {
	p, f1 := NewPromise(nil)
	f2 := p.Future()
	f3 := f1.Future()

	require.NoError(t, p.Fulfill("done", nil))

	for _, f := range []*Future{f1, f2, f3} {
		state, value, _ := f.Await(NoDeadline)
		assert.Equal(t, Fulfilled, state)
		assert.Equal(t, "done", value)
	}
}

func TestPromise_StateAndIsDone(t *testing.T) {
	p, f := NewPromise(nil)
	assert.Equal(t, Pending, f.State())
	assert.False(t, f.IsDone())

	require.NoError(t, p.Reject(errors.New("x")))
	assert.Equal(t, Rejected, f.State())
	assert.True(t, f.IsDone())
}
