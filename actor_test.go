package corert

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterBehavior implements end-to-end scenario 1 from spec.md §8: add
// each received integer to a running counter; an ask carrying 0 replies
// with the counter's current value.
func counterBehavior(counter *int) Behavior {
	return func(self *Actor, message Message) (int, bool) {
		switch m := message.(type) {
		case PlainMessage:
			*counter += m.Payload.(int)
			return 0, true
		case *AskEnvelope:
			if m.Payload.(int) == 0 {
				self.ReplyOk(m, *counter, nil)
				return 0, true
			}
			*counter += m.Payload.(int)
			return 0, true
		}
		return 0, false
	}
}

func TestActor_CounterEndToEnd(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(true)

	var counter int
	a := NewActor(pool, counterBehavior(&counter), nil, nil)
	require.NoError(t, a.Start())
	defer a.Destroy()

	for i := 1; i <= 100; i++ {
		require.NoError(t, a.Send(i))
	}

	future := a.Ask(0, nil)
	state, value, err := future.Await(NewDeadline(time.Second))
	require.NoError(t, err)
	assert.Equal(t, Fulfilled, state)
	assert.Equal(t, 5050, value)
}

func TestActor_MessagesFromOneSenderProcessedInOrder(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(true)

	var mu sync.Mutex
	var order []int
	a := NewActor(pool, func(self *Actor, message Message) (int, bool) {
		m := message.(PlainMessage)
		mu.Lock()
		order = append(order, m.Payload.(int))
		mu.Unlock()
		return 0, true
	}, nil, nil)
	require.NoError(t, a.Start())
	defer a.Destroy()

	for i := 0; i < 200; i++ {
		require.NoError(t, a.Send(i))
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 200 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("actor never processed all 200 messages")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 200; i++ {
		assert.Equal(t, i, order[i])
	}
}

// TestActor_AskTimeoutThenLateReplyIsSafe implements end-to-end scenario 2:
// a behavior sleeps before replying; the caller's Await times out first,
// but the actor's later reply must still resolve the promise exactly once
// without leaking or panicking.
func TestActor_AskTimeoutThenLateReplyIsSafe(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(true)

	a := NewActor(pool, func(self *Actor, message Message) (int, bool) {
		env := message.(*AskEnvelope)
		time.Sleep(50 * time.Millisecond)
		self.ReplyOk(env, "late", nil)
		return 0, true
	}, nil, nil)
	require.NoError(t, a.Start())
	defer a.Destroy()

	future := a.Ask("ping", nil)
	state, _, err := future.Await(NewDeadline(10 * time.Millisecond))
	assert.Equal(t, Pending, state)
	assert.ErrorIs(t, err, ErrTimeout)

	// The actor's reply still resolves the promise (the future stays
	// valid; it was only the Await call that gave up).
	state, value, err := future.Await(NewDeadline(time.Second))
	assert.NoError(t, err)
	assert.Equal(t, Fulfilled, state)
	assert.Equal(t, "late", value)
}

func TestActor_UnconsumedAskIsAutomaticallyCancelled(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(true)

	a := NewActor(pool, func(self *Actor, message Message) (int, bool) {
		return 0, false // never consumes, never replies
	}, nil, nil)
	require.NoError(t, a.Start())
	defer a.Destroy()

	future := a.Ask("anything", nil)
	state, _, err := future.Await(NewDeadline(time.Second))
	assert.Equal(t, Cancelled, state)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestActor_UnconsumedPlainMessageGoesToDestructor(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(true)

	var destroyed int32
	a := NewActor(pool, func(self *Actor, message Message) (int, bool) {
		return 0, false
	}, nil, func(item any) { atomic.AddInt32(&destroyed, 1) })
	require.NoError(t, a.Start())
	defer a.Destroy()

	require.NoError(t, a.Send("unused"))

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&destroyed) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&destroyed))
}

func TestActor_BecomeSwapsBehaviorForNextMessage(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(true)

	var mu sync.Mutex
	var seen []string

	var behaviorB Behavior
	behaviorA := func(self *Actor, message Message) (int, bool) {
		mu.Lock()
		seen = append(seen, "A")
		mu.Unlock()
		self.Become(behaviorB)
		return 0, true
	}
	behaviorB = func(self *Actor, message Message) (int, bool) {
		mu.Lock()
		seen = append(seen, "B")
		mu.Unlock()
		return 0, true
	}

	a := NewActor(pool, behaviorA, nil, nil)
	require.NoError(t, a.Start())
	defer a.Destroy()

	require.NoError(t, a.Send(1))
	require.NoError(t, a.Send(2))

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("actor never processed both messages")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A", "B"}, seen)
}

func TestActor_BehaviorReturningPositiveStopsGracefully(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(true)

	a := NewActor(pool, func(self *Actor, message Message) (int, bool) {
		return 1, true
	}, nil, nil)
	require.NoError(t, a.Start())

	require.NoError(t, a.Send("stop me"))

	deadline := time.Now().Add(time.Second)
	for a.State() != ActorClosed && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, ActorClosed, a.State())
}

func TestActor_BehaviorReturningNegativeCrashes(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(true)

	a := NewActor(pool, func(self *Actor, message Message) (int, bool) {
		return -1, true
	}, nil, nil)
	require.NoError(t, a.Start())
	defer a.Destroy()

	require.NoError(t, a.Send("crash me"))

	deadline := time.Now().Add(time.Second)
	for a.State() != ActorCrashed && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, ActorCrashed, a.State())
}

func TestActor_StartTwiceReturnsAlreadyStarted(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown(true)

	a := NewActor(pool, func(self *Actor, message Message) (int, bool) { return 0, true }, nil, nil)
	require.NoError(t, a.Start())
	defer a.Destroy()
	assert.ErrorIs(t, a.Start(), ErrAlreadyStarted)
}

func TestActor_StopIsIdempotent(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown(true)

	a := NewActor(pool, func(self *Actor, message Message) (int, bool) { return 0, true }, nil, nil)
	require.NoError(t, a.Start())
	a.Stop()
	assert.NotPanics(t, a.Stop)
	a.Destroy()
}

func TestActor_StatsTrackProcessedAndPeak(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(true)

	a := NewActor(pool, func(self *Actor, message Message) (int, bool) { return 0, true }, nil, nil)
	require.NoError(t, a.Start())
	defer a.Destroy()

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Send(i))
	}

	deadline := time.Now().Add(time.Second)
	for a.Stats().Processed < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	stats := a.Stats()
	assert.Equal(t, uint64(10), stats.Processed)
	assert.GreaterOrEqual(t, stats.MailboxPeak, 1)
}
