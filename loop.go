package corert

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind distinguishes the two kinds of registration a [Loop] manages.
type EventKind int

const (
	// IOEvent marks a registration created by [Loop.RegisterIO].
	IOEvent EventKind = iota
	// TimerEvent marks a registration created by [Loop.RegisterTimer].
	TimerEvent
)

// LoopCallback is invoked on the loop's own goroutine when a registered
// event fires. fd is -1 for timer events.
type LoopCallback func(loop *Loop, kind EventKind, fd int, userData any)

// loopEvent is one entry in the loop's registry. IDs are unique and
// monotonic for the lifetime of the Loop; ID 0 is reserved for the
// internal wake notification and is never assigned to a registration.
type loopEvent struct {
	id       uint64
	kind     EventKind
	fd       int
	mask     IOMask
	when     Deadline
	period   time.Duration
	callback LoopCallback
	userData any
	active   bool

	heapIndex int // position in the timer heap, -1 if not a timer / not queued
}

// Loop is a single-threaded reactor multiplexing I/O readiness and timers.
// Callbacks always run on the goroutine that calls [Loop.Run]; other
// goroutines interact with a running Loop only through [Loop.RegisterIO],
// [Loop.ModIO], [Loop.RegisterTimer], [Loop.Unregister], and the wake
// mechanism those calls trigger internally.
type Loop struct {
	opts   *loopOptions
	poller Poller

	mu       sync.Mutex
	registry map[uint64]*loopEvent
	timers   timerHeap
	nextID   uint64

	running atomic.Bool
	stopped chan struct{}
}

// NewLoop creates a Loop using the platform-default [Poller] backend,
// unless overridden via [WithPoller].
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg := resolveLoopOptions(opts)
	poller := cfg.poller
	if poller == nil {
		p, err := newPoller()
		if err != nil {
			return nil, err
		}
		poller = p
	}
	l := &Loop{
		opts:     cfg,
		poller:   poller,
		registry: make(map[uint64]*loopEvent),
		nextID:   1,
		stopped:  make(chan struct{}),
	}
	return l, nil
}

// RegisterIO registers fd for readiness notifications matching mask,
// invoking cb on the loop goroutine whenever it fires. Returns a non-zero
// event id used with [Loop.ModIO] and [Loop.Unregister].
func (l *Loop) RegisterIO(fd int, mask IOMask, cb LoopCallback, userData any) (uint64, error) {
	if cb == nil {
		return 0, ErrInvalidArgument
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	ev := &loopEvent{id: id, kind: IOEvent, fd: fd, mask: mask, callback: cb, userData: userData, active: true, heapIndex: -1}
	l.registry[id] = ev
	l.mu.Unlock()

	if err := l.poller.Add(fd, mask, id); err != nil {
		l.mu.Lock()
		delete(l.registry, id)
		l.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// ModIO updates the readiness mask for a previously registered I/O event.
func (l *Loop) ModIO(id uint64, mask IOMask) error {
	l.mu.Lock()
	ev, ok := l.registry[id]
	if !ok || !ev.active || ev.kind != IOEvent {
		l.mu.Unlock()
		return ErrInvalidArgument
	}
	ev.mask = mask
	fd := ev.fd
	l.mu.Unlock()
	return l.poller.Mod(fd, mask, id)
}

// RegisterTimer schedules cb to fire once `when` elapses. A positive period
// reschedules it every period thereafter, computed as now+period at the
// moment of firing (not when+period), a deliberate anti-drift policy: long
// runs trade cadence accuracy for immunity to pile-up after a slow tick.
// period <= 0 makes the timer one-shot. Registration wakes the loop so a
// blocked Wait recomputes its deadline immediately.
func (l *Loop) RegisterTimer(when Deadline, period time.Duration, cb LoopCallback, userData any) (uint64, error) {
	if cb == nil {
		return 0, ErrInvalidArgument
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	ev := &loopEvent{id: id, kind: TimerEvent, fd: -1, when: when, period: period, callback: cb, userData: userData, active: true}
	l.registry[id] = ev
	heap.Push(&l.timers, ev)
	l.mu.Unlock()

	l.wake()
	return id, nil
}

// Unregister deactivates an event. For I/O events it is removed from the
// poller immediately; for timer events it is marked inactive and compacted
// out of the heap lazily, so a Run loop currently iterating the timer heap
// never observes a mutated slice mid-iteration.
func (l *Loop) Unregister(id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.registry[id]
	if !ok {
		return ErrUnknownChild
	}
	ev.active = false
	delete(l.registry, id)
	if ev.kind == IOEvent {
		_ = l.poller.Del(ev.fd)
	}
	return nil
}

// wake interrupts a blocked Wait call; safe to call from any goroutine,
// including when loop is nil (no-op), so callers needn't nil-check a
// promise's optional loop back-reference before waking it.
func (l *Loop) wake() {
	if l == nil {
		return
	}
	_ = l.poller.Wake()
}

// Run drives the reactor until Stop is called. It must be called at most
// once; calling Run a second time returns [ErrAlreadyStarted].
func (l *Loop) Run() error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	logInfo("loop", l.opts.name, nil, "started")
	events := make([]PollEvent, l.opts.eventCap)

	for l.running.Load() {
		deadline := l.nextTimerDeadline()

		n, err := l.poller.Wait(deadline, events)
		if err != nil {
			logErr("loop", l.opts.name, nil, "poller wait failed")
			continue
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			if ev.Tag == 0 {
				continue // wake notification; next loop iteration re-evaluates running/timers
			}
			l.mu.Lock()
			entry, ok := l.registry[ev.Tag]
			l.mu.Unlock()
			if ok && entry.active && entry.kind == IOEvent {
				entry.callback(l, IOEvent, entry.fd, entry.userData)
			}
		}

		l.fireDueTimers()
	}

	close(l.stopped)
	logInfo("loop", l.opts.name, nil, "stopped")
	return nil
}

func (l *Loop) nextTimerDeadline() Deadline {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.timers) > 0 && !l.timers[0].active {
		heap.Pop(&l.timers)
	}
	if len(l.timers) == 0 {
		return NoDeadline
	}
	return l.timers[0].when
}

func (l *Loop) fireDueTimers() {
	for {
		l.mu.Lock()
		for len(l.timers) > 0 && !l.timers[0].active {
			heap.Pop(&l.timers)
		}
		if len(l.timers) == 0 || !l.timers[0].when.Expired() {
			l.mu.Unlock()
			return
		}
		ev := l.timers[0]
		if ev.period > 0 {
			ev.when = NewDeadline(ev.period)
			heap.Fix(&l.timers, 0)
		} else {
			heap.Pop(&l.timers)
			ev.active = false
			delete(l.registry, ev.id)
		}
		l.mu.Unlock()

		ev.callback(l, TimerEvent, -1, ev.userData)
	}
}

// Stop requests the run loop to exit after its current iteration and
// blocks until it has. Idempotent.
func (l *Loop) Stop() {
	if l.running.CompareAndSwap(true, false) {
		l.wake()
	}
	<-l.stopped
}

// Close stops the loop (if running) and releases the poller.
func (l *Loop) Close() error {
	if l.running.Load() {
		l.Stop()
	}
	return l.poller.Close()
}

// timerHeap is a container/heap of *loopEvent ordered by `when`, the
// concrete structure backing the loop's "earliest deadline first" timer
// dispatch.
type timerHeap []*loopEvent

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].when.Before(h[j].when) || (h[i].when == h[j].when && h[i].id < h[j].id)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *timerHeap) Push(x any) {
	ev := x.(*loopEvent)
	ev.heapIndex = len(*h)
	*h = append(*h, ev)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.heapIndex = -1
	*h = old[:n-1]
	return ev
}
