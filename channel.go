package corert

import (
	"sync"
	"time"
)

// ItemDestructor is invoked on items that are drained from a [Channel]
// without being delivered to a receiver: the residual items still queued
// when [Channel.Destroy] is called. Close alone leaves residual items for
// receivers to drain. It is the Go-idiomatic equivalent of the runtime's
// opaque "item destructor" field.
type ItemDestructor func(item any)

// Channel is a bounded MPMC queue of opaque items. Capacity 0 selects
// unbounded semantics: Send and TrySend never block or fail due to
// capacity, backed by a growable slice guarded by the same mutex as the
// bounded ring (the fallback-list policy spec.md §3/§4.7 describes).
//
// For every item successfully enqueued there is exactly one outcome:
// delivered to a receiver, or passed to the configured [ItemDestructor].
// No item is ever observed by two receivers.
type Channel struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf      []any // ring buffer slots; len == capacity when bounded
	head     int
	tail     int
	count    int
	capacity int // 0 means unbounded

	unbounded []any // fallback list, used only when capacity == 0

	closed  bool
	dtor    ItemDestructor
	waiters int // not updated by any operation; always 0
}

// NewChannel creates a Channel with the given capacity (0 for unbounded)
// and an optional item destructor, invoked on items that are never
// delivered to a receiver.
func NewChannel(capacity int, dtor ItemDestructor) *Channel {
	if capacity < 0 {
		capacity = 0
	}
	c := &Channel{
		capacity: capacity,
		dtor:     dtor,
	}
	if capacity > 0 {
		c.buf = make([]any, capacity)
	}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

func (c *Channel) isUnbounded() bool { return c.capacity == 0 }

func (c *Channel) lenLocked() int {
	if c.isUnbounded() {
		return len(c.unbounded)
	}
	return c.count
}

// Len returns a snapshot of the number of items currently queued.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lenLocked()
}

// Capacity returns the channel's configured capacity (0 for unbounded).
func (c *Channel) Capacity() int { return c.capacity }

// pushLocked enqueues item assuming capacity is available (or unbounded).
func (c *Channel) pushLocked(item any) {
	if c.isUnbounded() {
		c.unbounded = append(c.unbounded, item)
		return
	}
	c.buf[c.tail] = item
	c.tail = (c.tail + 1) % c.capacity
	c.count++
}

// popLocked dequeues the oldest item assuming one is present.
func (c *Channel) popLocked() any {
	if c.isUnbounded() {
		item := c.unbounded[0]
		c.unbounded[0] = nil
		c.unbounded = c.unbounded[1:]
		return item
	}
	item := c.buf[c.head]
	c.buf[c.head] = nil
	c.head = (c.head + 1) % c.capacity
	c.count--
	return item
}

func (c *Channel) fullLocked() bool {
	return !c.isUnbounded() && c.count == c.capacity
}

// Send enqueues item, blocking while the channel is full and open. It
// returns [ErrClosed] if the channel closes while waiting or is already
// closed.
func (c *Channel) Send(item any) error {
	return c.SendDeadline(item, NoDeadline)
}

// SendDeadline is Send with an absolute deadline; it returns [ErrTimeout]
// if deadline elapses before room is available.
func (c *Channel) SendDeadline(item any, deadline Deadline) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.fullLocked() && !c.closed {
		if deadline.IsInfinite() {
			c.notFull.Wait()
			continue
		}
		if deadline.Expired() {
			return ErrTimeout
		}
		if !condWaitUntil(c.notFull, deadline) {
			return ErrTimeout
		}
	}
	if c.closed {
		return ErrClosed
	}
	c.pushLocked(item)
	c.notEmpty.Signal()
	return nil
}

// SendStatus is the result of [Channel.TrySend].
type SendStatus int

const (
	// SendOK indicates the item was enqueued.
	SendOK SendStatus = iota
	// SendWouldBlock indicates the channel is full.
	SendWouldBlock
	// SendClosed indicates the channel is closed.
	SendClosed
)

// TrySend attempts to enqueue item without blocking.
func (c *Channel) TrySend(item any) SendStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return SendClosed
	}
	if c.fullLocked() {
		return SendWouldBlock
	}
	c.pushLocked(item)
	c.notEmpty.Signal()
	return SendOK
}

// Recv dequeues one item, blocking while the channel is empty and open.
// After Close, Recv drains any residual items before returning
// (nil, [ErrClosed]).
func (c *Channel) Recv() (any, error) {
	return c.RecvDeadline(NoDeadline)
}

// RecvDeadline is Recv with an absolute deadline; it returns
// (nil, [ErrTimeout]) if deadline elapses with nothing to deliver.
func (c *Channel) RecvDeadline(deadline Deadline) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.lenLocked() == 0 && !c.closed {
		if deadline.IsInfinite() {
			c.notEmpty.Wait()
			continue
		}
		if deadline.Expired() {
			return nil, ErrTimeout
		}
		if !condWaitUntil(c.notEmpty, deadline) {
			return nil, ErrTimeout
		}
	}
	if c.lenLocked() == 0 {
		// closed and drained
		return nil, ErrClosed
	}
	item := c.popLocked()
	c.notFull.Signal()
	return item, nil
}

// RecvStatus is the result of [Channel.TryRecv].
type RecvStatus int

const (
	// RecvOK indicates an item was dequeued.
	RecvOK RecvStatus = iota
	// RecvWouldBlock indicates the channel is empty but still open.
	RecvWouldBlock
	// RecvClosed indicates the channel is closed and drained.
	RecvClosed
)

// TryRecv attempts to dequeue one item without blocking.
func (c *Channel) TryRecv() (any, RecvStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lenLocked() == 0 {
		if c.closed {
			return nil, RecvClosed
		}
		return nil, RecvWouldBlock
	}
	item := c.popLocked()
	c.notFull.Signal()
	return item, RecvOK
}

// Close marks the channel closed and wakes all blocked senders and
// receivers. Idempotent: close;close behaves as a single close. After
// Close, Send fails immediately; Recv continues to drain residual items
// until empty, then fails.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Destroy closes the channel if not already closed, drains any residual
// items through the configured [ItemDestructor], and releases resources.
// Safe to call on an already-closed or zero-value-adjacent Channel.
func (c *Channel) Destroy() {
	if c == nil {
		return
	}
	c.Close()
	c.mu.Lock()
	var drained []any
	for c.lenLocked() > 0 {
		drained = append(drained, c.popLocked())
	}
	dtor := c.dtor
	c.mu.Unlock()
	if dtor != nil {
		for _, item := range drained {
			dtor(item)
		}
	}
}

// condWaitUntil waits on cond until either it is signalled/broadcast or
// deadline elapses, returning false on timeout. sync.Cond has no built-in
// deadline support, so this spins a timer goroutine that broadcasts the
// cond's underlying locker's condition once the deadline elapses; the
// caller re-checks its own predicate after this returns, matching the
// "spurious wakeups re-enter the loop" requirement for all wait primitives
// in this package.
func condWaitUntil(cond *sync.Cond, deadline Deadline) bool {
	remaining := deadline.Remaining()
	timer := time.AfterFunc(remaining, cond.Broadcast)
	defer timer.Stop()
	cond.Wait()
	return !deadline.Expired()
}
