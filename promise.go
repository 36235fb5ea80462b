package corert

import (
	"sync"
	"sync/atomic"
)

// PromiseState is the lifecycle state of a promise/future pair. Pending is
// the only non-terminal state; every other state is sticky once reached.
type PromiseState int

const (
	// Pending indicates the operation has not yet resolved.
	Pending PromiseState = iota
	// Fulfilled indicates the promise resolved successfully with a value.
	Fulfilled
	// Rejected indicates the promise resolved with an error.
	Rejected
	// Cancelled indicates the promise was cancelled: terminal, equivalent
	// to rejection without an error code.
	Cancelled
)

func (s PromiseState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Fulfilled:
		return "Fulfilled"
	case Rejected:
		return "Rejected"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// continuation is one registered Then callback. A small literal slice
// (rather than a linked list of heap nodes) is the "small-vector" storage
// the runtime's design notes recommend: the overwhelmingly common case is
// zero or one continuation per promise.
type continuation struct {
	cb func(PromiseState, any, error)
}

// promiseCore is the shared cell between exactly one [Promise] (producer
// role) and any number of [Future] handles (consumer role). It is
// reference-counted rather than left to the garbage collector because
// destruction has an observable side effect: it is the point at which an
// unclaimed value is finally handed to its destructor.
type promiseCore struct {
	mu   sync.Mutex
	cond *sync.Cond

	state PromiseState
	value any
	err   error

	valueTaken bool
	dtor       func(any)

	continuations []continuation
	refs          int32 // atomic

	loop *Loop // optional, woken after a terminal transition
}

// Promise is the producer handle on a [promiseCore]: the role that
// transitions the shared cell out of Pending exactly once.
type Promise struct {
	core *promiseCore
}

// Future is a consumer handle on a [promiseCore]. Any number of Futures
// may observe the same resolution.
type Future struct {
	core *promiseCore
}

// NewPromise allocates a fresh promise/future pair in the Pending state.
// loop may be nil; if non-nil, it is woken once after every terminal
// transition so a loop-bound awaiter ([AwaitOnLoop]) can resume promptly.
func NewPromise(loop *Loop) (*Promise, *Future) {
	core := &promiseCore{
		state: Pending,
		refs:  2, // the returned promise and future
		loop:  loop,
	}
	core.cond = sync.NewCond(&core.mu)
	return &Promise{core: core}, &Future{core: core}
}

// Future returns an additional consumer handle on the same shared core,
// incrementing its reference count.
func (p *Promise) Future() *Future {
	atomic.AddInt32(&p.core.refs, 1)
	return &Future{core: p.core}
}

// Future returns an additional consumer handle sharing the same core as f.
func (f *Future) Future() *Future {
	atomic.AddInt32(&f.core.refs, 1)
	return &Future{core: f.core}
}

// transition performs the one allowed Pending -> terminal move. It returns
// false (and, for Fulfill, destroys the unaccepted value) if the core is
// already terminal.
func (c *promiseCore) transition(state PromiseState, value any, err error, dtor func(any)) bool {
	c.mu.Lock()
	if c.state != Pending {
		c.mu.Unlock()
		if dtor != nil {
			dtor(value)
		}
		return false
	}
	c.state = state
	c.value = value
	c.err = err
	c.dtor = dtor
	cbs := c.continuations
	c.continuations = nil
	loop := c.loop
	c.mu.Unlock()

	c.cond.Broadcast()
	c.dispatch(cbs)
	if loop != nil {
		loop.wake()
	}
	return true
}

// dispatch invokes continuations outside the core's mutex, using a
// snapshot of the terminal state so callbacks never observe a partially
// updated core and may safely register further work without deadlocking
// against c.mu.
func (c *promiseCore) dispatch(cbs []continuation) {
	if len(cbs) == 0 {
		return
	}
	c.mu.Lock()
	state, value, err := c.state, c.peekValueLocked(), c.err
	c.mu.Unlock()
	for _, cont := range cbs {
		cont.cb(state, value, err)
	}
}

// peekValueLocked returns the value for continuation dispatch without
// marking it taken; continuations observe a borrow, never ownership.
func (c *promiseCore) peekValueLocked() any {
	if c.valueTaken {
		return nil
	}
	return c.value
}

// Fulfill transitions the promise to Fulfilled with value, owned by dtor
// (which may be nil). If the promise is already terminal, Fulfill returns
// [ErrClosed] and immediately invokes dtor(value) so the caller never
// leaks the value it tried to hand over.
func (p *Promise) Fulfill(value any, dtor func(any)) error {
	if p.core.transition(Fulfilled, value, nil, dtor) {
		return nil
	}
	return ErrClosed
}

// Reject transitions the promise to Rejected with err.
func (p *Promise) Reject(err error) error {
	if err == nil {
		err = ErrClosed
	}
	if p.core.transition(Rejected, nil, err, nil) {
		return nil
	}
	return ErrClosed
}

// Cancel transitions the promise to Cancelled.
func (p *Promise) Cancel() error {
	if p.core.transition(Cancelled, nil, ErrCancelled, nil) {
		return nil
	}
	return ErrClosed
}

// State returns a snapshot of the current state.
func (f *Future) State() PromiseState {
	f.core.mu.Lock()
	defer f.core.mu.Unlock()
	return f.core.state
}

// IsDone reports whether the promise has reached a terminal state.
func (f *Future) IsDone() bool {
	return f.State() != Pending
}

// Err returns the rejection/cancellation error, or nil if fulfilled or
// still pending.
func (f *Future) Err() error {
	f.core.mu.Lock()
	defer f.core.mu.Unlock()
	return f.core.err
}

// Value returns a borrow of the fulfillment value. The borrow is only
// valid while the core still owns the value; it is undefined (returns nil)
// after [Future.TakeValue] has transferred ownership out.
func (f *Future) Value() any {
	f.core.mu.Lock()
	defer f.core.mu.Unlock()
	return f.core.peekValueLocked()
}

// TakeValue transfers ownership of the fulfillment value to the caller: it
// returns (value, true) exactly once per core, the first time it is called
// after Fulfilled; every subsequent call (from any Future sharing the
// core) returns (nil, false). After a successful take, the core's
// destructor is disabled — Destroy will not call it.
func (f *Future) TakeValue() (any, bool) {
	c := f.core
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Fulfilled || c.valueTaken {
		return nil, false
	}
	c.valueTaken = true
	c.dtor = nil
	return c.value, true
}

// Await blocks until the promise reaches a terminal state or deadline
// elapses. It returns the terminal state and value/error, or
// ([Pending], nil, [ErrTimeout]) on timeout. Spurious wakeups re-enter the
// wait automatically.
func (f *Future) Await(deadline Deadline) (PromiseState, any, error) {
	c := f.core
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state == Pending {
		if deadline.IsInfinite() {
			c.cond.Wait()
			continue
		}
		if deadline.Expired() {
			return Pending, nil, ErrTimeout
		}
		if !condWaitUntil(c.cond, deadline) {
			return Pending, nil, ErrTimeout
		}
	}
	return c.state, c.peekValueLocked(), c.err
}

// Then registers cb to run once the promise reaches a terminal state. If
// the promise is already terminal, cb runs synchronously, outside the
// core's mutex, before Then returns. Continuations registered before the
// terminal transition fire in registration order, strictly after the
// transition; those registered afterward fire synchronously to the Then
// caller, matching the ordering guarantee in spec.md §5.
func (f *Future) Then(cb func(state PromiseState, value any, err error)) {
	if cb == nil {
		return
	}
	c := f.core
	c.mu.Lock()
	if c.state == Pending {
		c.continuations = append(c.continuations, continuation{cb: cb})
		c.mu.Unlock()
		return
	}
	state, value, err := c.state, c.peekValueLocked(), c.err
	loop := c.loop
	c.mu.Unlock()
	cb(state, value, err)
	if loop != nil {
		loop.wake()
	}
}

// Destroy releases p's reference to the shared core. On the last
// reference (across the promise and all its futures), any still-owned
// value is passed to its destructor and pending continuation nodes are
// dropped. Safe to call on nil.
func (p *Promise) Destroy() {
	if p == nil {
		return
	}
	p.core.release()
}

// Destroy releases f's reference to the shared core; see [Promise.Destroy].
func (f *Future) Destroy() {
	if f == nil {
		return
	}
	f.core.release()
}

func (c *promiseCore) release() {
	if atomic.AddInt32(&c.refs, -1) > 0 {
		return
	}
	c.mu.Lock()
	dtor, value, taken := c.dtor, c.value, c.valueTaken
	c.continuations = nil
	c.mu.Unlock()
	if dtor != nil && !taken {
		dtor(value)
	}
}
