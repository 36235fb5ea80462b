package corert

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_FIFOSingleProducerConsumer(t *testing.T) {
	ch := NewChannel(1, nil)
	defer ch.Destroy()

	for i := 0; i < 50; i++ {
		require.NoError(t, ch.Send(i))
		v, err := ch.Recv()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestChannel_UnboundedNeverBlocksSender(t *testing.T) {
	ch := NewChannel(0, nil)
	defer ch.Destroy()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			require.NoError(t, ch.Send(i))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unbounded send blocked")
	}
	assert.Equal(t, 1000, ch.Len())
}

func TestChannel_TrySendWouldBlockWhenFull(t *testing.T) {
	ch := NewChannel(1, nil)
	defer ch.Destroy()

	assert.Equal(t, SendOK, ch.TrySend("a"))
	assert.Equal(t, SendWouldBlock, ch.TrySend("b"))
}

func TestChannel_TryRecvWouldBlockWhenEmpty(t *testing.T) {
	ch := NewChannel(1, nil)
	defer ch.Destroy()

	_, status := ch.TryRecv()
	assert.Equal(t, RecvWouldBlock, status)
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	ch := NewChannel(1, nil)
	ch.Close()
	ch.Close() // must not panic or double-broadcast incorrectly
	assert.True(t, ch.Closed())
}

func TestChannel_CloseDrainsResidualThenReportsClosed(t *testing.T) {
	ch := NewChannel(4, nil)
	require.NoError(t, ch.Send(1))
	require.NoError(t, ch.Send(2))
	ch.Close()

	v, err := ch.Recv()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = ch.Recv()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = ch.Recv()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChannel_SendAfterCloseFailsImmediately(t *testing.T) {
	ch := NewChannel(1, nil)
	ch.Close()
	err := ch.Send("x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChannel_SendDeadlineTimesOutWhenFull(t *testing.T) {
	ch := NewChannel(1, nil)
	defer ch.Destroy()
	require.NoError(t, ch.Send("first"))

	err := ch.SendDeadline("second", NewDeadline(20*time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestChannel_RecvDeadlineTimesOutWhenEmpty(t *testing.T) {
	ch := NewChannel(1, nil)
	defer ch.Destroy()

	_, err := ch.RecvDeadline(NewDeadline(20 * time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestChannel_DestroyInvokesDestructorOnResidualItemsExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	destroyed := make(map[int]int)

	ch := NewChannel(8, func(item any) {
		mu.Lock()
		defer mu.Unlock()
		destroyed[item.(int)]++
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, ch.Send(i))
	}
	ch.Destroy()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, destroyed, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 1, destroyed[i])
	}
}

// TestChannel_EveryItemExactlyOneOutcome stresses concurrent senders and
// receivers racing a close, and asserts every successfully enqueued item
// is observed exactly once: either delivered or destroyed, never both,
// never neither.
func TestChannel_EveryItemExactlyOneOutcome(t *testing.T) {
	const n = 2000
	var destroyedCount int64
	var destroyedMu sync.Mutex
	seen := make(map[int]bool, n)

	ch := NewChannel(16, func(item any) {
		destroyedMu.Lock()
		destroyedCount++
		destroyedMu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = ch.Send(i)
		}
	}()

	var recvMu sync.Mutex
	var recvWG sync.WaitGroup
	for w := 0; w < 4; w++ {
		recvWG.Add(1)
		go func() {
			defer recvWG.Done()
			for {
				v, err := ch.Recv()
				if err != nil {
					return
				}
				recvMu.Lock()
				seen[v.(int)] = true
				recvMu.Unlock()
			}
		}()
	}

	wg.Wait()
	ch.Close()
	recvWG.Wait()

	destroyedMu.Lock()
	total := len(seen) + int(destroyedCount)
	destroyedMu.Unlock()
	assert.Equal(t, n, total)
}

func TestChannel_LenAndCapacity(t *testing.T) {
	ch := NewChannel(3, nil)
	defer ch.Destroy()
	assert.Equal(t, 3, ch.Capacity())
	assert.Equal(t, 0, ch.Len())
	require.NoError(t, ch.Send(1))
	assert.Equal(t, 1, ch.Len())
}

func TestChannel_DestroyOnNilIsSafe(t *testing.T) {
	var ch *Channel
	assert.NotPanics(t, func() { ch.Destroy() })
}
