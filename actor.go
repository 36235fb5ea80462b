package corert

import (
	"sync"
	"sync/atomic"
	"time"
)

// maxBatchSize caps how many messages an actor's dispatch loop dequeues
// into one batch before dispatching them.
const maxBatchSize = 32

// defaultMailboxCapacity is the ring size of every actor's bounded mailbox.
const defaultMailboxCapacity = 1024

// emaSmoothing is the weight given to each new latency sample in the
// mailbox's exponential moving average (1/8, the runtime's default).
const emaSmoothing = 0.125

var askIDCounter atomic.Uint64

// Message is the tagged union dispatched to a [Behavior]: either an opaque
// plain payload or an [*AskEnvelope] wrapping one with reply plumbing. The
// teacher's source distinguishes the two by inspecting whether an envelope's
// first field is a non-null pointer; Go has sum types via interfaces, so
// this drops that pointer-shape heuristic entirely in favor of a real tag.
type Message interface {
	isMessage()
}

// PlainMessage is a Message carrying an opaque payload with no reply
// plumbing — the result of a plain [Actor.Send]. A [Behavior] type-switches
// on Message to tell this apart from an [*AskEnvelope]; Payload is exported
// so behaviors defined outside this package can read it.
type PlainMessage struct {
	Payload any
}

func (PlainMessage) isMessage() {}

// AskEnvelope is a Message wrapping a payload awaiting exactly one reply.
// The behavior processing it must call exactly one of [Actor.ReplyOk],
// [Actor.ReplyError], or [Actor.ReplyCancel]; the dispatch loop itself
// cancels it on the actor's behalf if the behavior declines to consume it.
type AskEnvelope struct {
	Payload any
	Sender  *Actor // nil if the ask originated outside any actor

	promise *Promise
	askID   uint64
}

func (*AskEnvelope) isMessage() {}

// AskID returns the envelope's unique ask identifier, assigned from a
// dedicated atomic counter rather than derived from a clock reading (two
// asks issued in the same tick of a coarse clock must never collide).
func (e *AskEnvelope) AskID() uint64 { return e.askID }

// Behavior processes one message dispatched to self. The ownership
// convention: return consumed=true to signal the behavior has taken
// responsibility for message's lifetime (in particular, for any
// [AskEnvelope] it must reply to, now or later); consumed=false tells the
// dispatch loop to apply the default disposal (destructor for a plain
// message, an automatic [Actor.ReplyCancel] for an unanswered ask).
//
// The int result follows the runtime's status convention: >0 requests a
// graceful stop, 0 continues, <0 signals a crash observable by a
// supervising [Supervisor].
type Behavior func(self *Actor, message Message) (result int, consumed bool)

// ActorState is the lifecycle state of an [Actor].
type ActorState int32

const (
	ActorInit ActorState = iota
	ActorRunning
	ActorStopping
	ActorCrashed
	ActorClosed
)

func (s ActorState) String() string {
	switch s {
	case ActorInit:
		return "Init"
	case ActorRunning:
		return "Running"
	case ActorStopping:
		return "Stopping"
	case ActorCrashed:
		return "Crashed"
	case ActorClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ActorStats is a snapshot of an actor's mailbox/dispatch statistics.
type ActorStats struct {
	Processed       uint64
	ProcessingTime  time.Duration
	AvgLatency      time.Duration
	MailboxSize     int
	MailboxPeak     int
	OverflowEvents  uint64
}

// Actor is a concurrent entity with a private mailbox, dispatching
// messages one at a time to a single, swappable [Behavior]. Its loop task
// runs on a [Pool] worker goroutine; only that goroutine ever invokes the
// behavior, so behavior code never needs its own synchronization against
// concurrent dispatch.
type Actor struct {
	opts *actorOptions
	pool *Pool

	mailbox *Channel
	dtor    ItemDestructor

	state atomic.Int32

	behaviorMu sync.Mutex
	behavior   Behavior

	started atomic.Bool

	statsMu        sync.Mutex
	processed      uint64
	processingTime time.Duration
	avgLatency     time.Duration
	mailboxPeak    int
	overflow       uint64

	asksMu sync.Mutex
	asks   map[uint64]*AskEnvelope

	done chan struct{}

	// UserContext is opaque state supplied at creation, analogous to the
	// teacher's user_context field: behaviors type-assert it to whatever
	// concrete type they were constructed to expect.
	UserContext any
}

// NewActor creates an Actor bound to pool, running initial as its first
// behavior. The actor does not begin dispatching until [Actor.Start].
func NewActor(pool *Pool, initial Behavior, userContext any, dtor ItemDestructor, opts ...ActorOption) *Actor {
	cfg := resolveActorOptions(opts)
	a := &Actor{
		opts:        cfg,
		pool:        pool,
		dtor:        dtor,
		behavior:    initial,
		UserContext: userContext,
		asks:        make(map[uint64]*AskEnvelope),
		done:        make(chan struct{}),
	}
	a.state.Store(int32(ActorInit))
	a.mailbox = NewChannel(cfg.ringBufSize, func(item any) {
		a.disposeUndelivered(item)
	})
	return a
}

// State returns the actor's current lifecycle state.
func (a *Actor) State() ActorState { return ActorState(a.state.Load()) }

// Start submits the actor's dispatch loop to its pool. Calling Start more
// than once returns [ErrAlreadyStarted].
func (a *Actor) Start() error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	a.state.Store(int32(ActorRunning))
	if err := a.pool.Submit(a.run); err != nil {
		a.state.Store(int32(ActorClosed))
		close(a.done)
		return err
	}
	return nil
}

// Stop requests a graceful shutdown: it closes the mailbox so the
// dispatch loop drains whatever is already queued, then exits. It does
// not block until the loop has actually exited; use [Actor.Destroy] for
// that.
func (a *Actor) Stop() {
	for {
		s := a.State()
		if s == ActorClosed || s == ActorCrashed {
			return
		}
		if a.state.CompareAndSwap(int32(s), int32(ActorStopping)) {
			break
		}
	}
	a.mailbox.Close()
}

// Close halts the loop as soon as it next checks its state, without
// draining the mailbox; messages still queued are not delivered. The
// loop passes the rest of its current batch to the configured disposal,
// and [Actor.Destroy] does the same for messages left in the mailbox.
func (a *Actor) Close() {
	a.state.Store(int32(ActorClosed))
	a.mailbox.Close()
}

// Destroy stops the actor, waits (up to a few seconds) for its dispatch
// loop to observe the terminal state, and releases its mailbox.
func (a *Actor) Destroy() {
	a.Stop()
	select {
	case <-a.done:
	case <-time.After(5 * time.Second):
	}
	a.mailbox.Destroy()
}

// Send enqueues payload as a plain message, falling back to a blocking
// send if the mailbox is momentarily full.
func (a *Actor) Send(payload any) error {
	msg := PlainMessage{Payload: payload}
	switch a.mailbox.TrySend(msg) {
	case SendOK:
		return nil
	case SendClosed:
		return ErrClosed
	default:
		return a.mailbox.Send(msg)
	}
}

// Ask sends payload to the actor and returns a [Future] resolved by the
// actor's own call to [Actor.ReplyOk], [Actor.ReplyError], or
// [Actor.ReplyCancel]. sender, if non-nil, is attached to the envelope so
// the receiving behavior can reply to a third party instead of the
// implicit caller.
func (a *Actor) Ask(payload any, sender *Actor) *Future {
	promise, future := NewPromise(nil)
	env := &AskEnvelope{
		Payload: payload,
		Sender:  sender,
		promise: promise,
		askID:   askIDCounter.Add(1),
	}
	a.asksMu.Lock()
	a.asks[env.askID] = env
	a.asksMu.Unlock()

	switch a.mailbox.TrySend(env) {
	case SendOK:
		return future
	case SendClosed:
		a.forgetAsk(env.askID)
		promise.Reject(ErrClosed)
		return future
	default:
	}
	if err := a.mailbox.Send(env); err != nil {
		a.forgetAsk(env.askID)
		promise.Reject(err)
	}
	return future
}

func (a *Actor) forgetAsk(id uint64) {
	a.asksMu.Lock()
	delete(a.asks, id)
	a.asksMu.Unlock()
}

// ReplyOk resolves env's future with value, owned thereafter by valueDtor
// if the caller never takes it. It is a programming error to reply to the
// same envelope twice; the second call leaves the resolution unchanged and,
// as [Promise.Fulfill] does for a late value, passes value to valueDtor.
func (a *Actor) ReplyOk(env *AskEnvelope, value any, valueDtor func(any)) {
	a.forgetAsk(env.askID)
	if env.promise.Fulfill(value, valueDtor) != nil {
		return
	}
	env.promise.Destroy()
}

// ReplyError resolves env's future with a rejection.
func (a *Actor) ReplyError(env *AskEnvelope, err error) {
	a.forgetAsk(env.askID)
	if env.promise.Reject(err) != nil {
		return
	}
	env.promise.Destroy()
}

// ReplyCancel resolves env's future as cancelled.
func (a *Actor) ReplyCancel(env *AskEnvelope) {
	a.forgetAsk(env.askID)
	if env.promise.Cancel() != nil {
		return
	}
	env.promise.Destroy()
}

// Become atomically replaces the actor's behavior; the effect is observed
// starting with the next dispatched message.
func (a *Actor) Become(next Behavior) {
	a.behaviorMu.Lock()
	a.behavior = next
	a.behaviorMu.Unlock()
}

// Stats returns a snapshot of the actor's mailbox/dispatch statistics.
func (a *Actor) Stats() ActorStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return ActorStats{
		Processed:      a.processed,
		ProcessingTime: a.processingTime,
		AvgLatency:     a.avgLatency,
		MailboxSize:    a.mailbox.Len(),
		MailboxPeak:    a.mailboxPeak,
		OverflowEvents: a.overflow,
	}
}

// run is the actor's dispatch loop, submitted to the pool exactly once by
// Start. It dequeues messages in batches of up to the configured
// (default maxBatchSize) size, one blocking receive followed by
// non-blocking receives, each taking the mailbox lock on its own. Batching
// never reorders delivery: messages are handled strictly in enqueue order
// within and across batches.
func (a *Actor) run() {
	defer close(a.done)
	batch := make([]Message, 0, a.opts.batchSize)
	for {
		if a.State() == ActorClosed {
			return
		}

		batch = a.receiveBatch(batch[:0])
		if len(batch) == 0 {
			// mailbox closed and drained
			a.finalizeTerminal()
			return
		}

		for i, msg := range batch {
			a.dispatchOne(msg)
			if a.State() == ActorClosed {
				for _, rest := range batch[i+1:] {
					a.disposeUndelivered(rest)
				}
				return
			}
		}
	}
}

func (a *Actor) receiveBatch(dst []Message) []Message {
	if a.State() == ActorClosed {
		return dst
	}
	first, err := a.mailbox.Recv()
	if err != nil {
		return dst
	}
	dst = append(dst, first.(Message))
	if peak := a.mailbox.Len() + 1; peak > 0 {
		a.statsMu.Lock()
		if peak > a.mailboxPeak {
			a.mailboxPeak = peak
		}
		a.statsMu.Unlock()
	}
	for len(dst) < a.opts.batchSize {
		item, status := a.mailbox.TryRecv()
		if status != RecvOK {
			break
		}
		dst = append(dst, item.(Message))
	}
	return dst
}

func (a *Actor) dispatchOne(msg Message) {
	start := now()

	a.behaviorMu.Lock()
	behavior := a.behavior
	a.behaviorMu.Unlock()

	result, consumed := a.safeInvoke(behavior, msg)

	elapsed := now().Sub(start)
	a.recordStats(elapsed)

	if !consumed {
		a.disposeUndelivered(msg)
	}

	switch {
	case result > 0:
		a.Stop()
	case result < 0:
		a.state.Store(int32(ActorCrashed))
		a.mailbox.Close()
	}
}

func (a *Actor) safeInvoke(behavior Behavior, msg Message) (result int, consumed bool) {
	defer func() {
		if r := recover(); r != nil {
			logErr("actor", a.opts.name, nil, "behavior panicked")
			result = -1
			consumed = false
		}
	}()
	if behavior == nil {
		return 0, false
	}
	return behavior(a, msg)
}

func (a *Actor) recordStats(elapsed time.Duration) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.processed++
	a.processingTime += elapsed
	if a.processed == 1 {
		a.avgLatency = elapsed
		return
	}
	a.avgLatency = time.Duration(float64(a.avgLatency)*(1-emaSmoothing) + float64(elapsed)*emaSmoothing)
}

// disposeUndelivered runs the configured disposal for a message that the
// behavior did not consume or that was never delivered: a plain message
// goes to the actor's message destructor, an unanswered ask is cancelled
// so its caller never hangs waiting for a reply that will never come.
func (a *Actor) disposeUndelivered(item any) {
	switch m := item.(type) {
	case PlainMessage:
		if a.dtor != nil {
			a.dtor(m.Payload)
		}
	case *AskEnvelope:
		a.ReplyCancel(m)
	}
}

func (a *Actor) finalizeTerminal() {
	for {
		s := a.State()
		if s == ActorClosed || s == ActorCrashed {
			return
		}
		if a.state.CompareAndSwap(int32(s), int32(ActorClosed)) {
			return
		}
	}
}
