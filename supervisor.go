package corert

import (
	"sync"
	"time"
)

// RestartPolicy controls whether a child is eligible for restart when a
// supervision strategy considers it.
type RestartPolicy int

const (
	// Permanent children are always restarted.
	Permanent RestartPolicy = iota
	// Transient children are restarted only if their own exit was
	// abnormal; a normal exit marks them Exited for good.
	Transient
	// Temporary children are never restarted.
	Temporary
)

// RestartStrategy selects which siblings a supervisor restarts when one
// child fails.
type RestartStrategy int

const (
	// OneForOne restarts only the failed child.
	OneForOne RestartStrategy = iota
	// OneForAll restarts every child, in insertion order.
	OneForAll
	// RestForOne restarts every child whose order index is >= the failed
	// child's.
	RestForOne
)

// ChildState is the lifecycle state of a supervised child.
type ChildState int

const (
	ChildPending ChildState = iota
	ChildRunning
	ChildExited
	ChildStopped
)

// StopToken is handed to a [ChildFunc] so it can observe a cooperative
// stop request. Child functions are expected to poll Done (or select on
// it) and return promptly once it is closed.
type StopToken struct {
	ch <-chan struct{}
}

// Done returns a channel closed when the supervisor requests this child
// stop.
func (t StopToken) Done() <-chan struct{} { return t.ch }

// Stopped reports whether a stop has been requested, without blocking.
func (t StopToken) Stopped() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// ChildFunc is the body of a supervised child: it runs on a dedicated
// goroutine, observes token for cooperative shutdown, and returns a
// status (0 for normal exit, non-zero for abnormal).
type ChildFunc func(token StopToken, arg any) int

// ChildSpec describes a child to be added to a [Supervisor].
type ChildSpec struct {
	Name            string
	Function        ChildFunc
	Arg             any
	Policy          RestartPolicy
	ShutdownTimeout time.Duration

	// Window and MaxRestarts bound this child's restart intensity:
	// MaxRestarts restarts are allowed per Window before the supervisor
	// escalates. MaxRestarts <= 0 means unlimited.
	Window      time.Duration
	MaxRestarts int
}

// childRecord is the supervisor's internal bookkeeping for one child.
type childRecord struct {
	id         uint64
	orderIndex uint64
	spec       ChildSpec

	state      ChildState
	lastStatus int

	restartCount  int
	windowStartNS int64

	stopCh chan struct{}
	exited chan struct{}
}

type exitMsg struct {
	id     uint64
	exited chan struct{} // identifies which spawn of the child exited
	status int
}

// Supervisor manages a set of children under one restart strategy,
// restarting them according to policy and a per-child restart-intensity
// window.
type Supervisor struct {
	opts     *supervisorOptions
	strategy RestartStrategy

	mu             sync.Mutex
	children       map[uint64]*childRecord
	order          []uint64
	nextID         uint64
	nextOrderIndex uint64
	running        bool

	exitCh        chan exitMsg
	closeExitOnce sync.Once
	monitorDone   chan struct{}
}

// NewSupervisor creates a Supervisor using strategy to decide which
// siblings restart when one child fails. It does not start until
// [Supervisor.Start].
func NewSupervisor(strategy RestartStrategy, opts ...SupervisorOption) *Supervisor {
	return &Supervisor{
		opts:        resolveSupervisorOptions(opts),
		strategy:    strategy,
		children:    make(map[uint64]*childRecord),
		exitCh:      make(chan exitMsg, 256),
		monitorDone: make(chan struct{}),
	}
}

// Add registers spec, assigning it a monotonic id and order index. If the
// supervisor is already running, the child starts immediately; otherwise
// it starts when [Supervisor.Start] is called.
func (s *Supervisor) Add(spec ChildSpec) (uint64, error) {
	if spec.Function == nil {
		return 0, ErrInvalidArgument
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	orderIndex := s.nextOrderIndex
	s.nextOrderIndex++
	rec := &childRecord{id: id, orderIndex: orderIndex, spec: spec, state: ChildPending}
	s.children[id] = rec
	s.order = append(s.order, id)
	running := s.running
	s.mu.Unlock()

	if running {
		s.spawn(rec)
	}
	return id, nil
}

// Start begins supervision: the monitor goroutine starts draining exit
// notifications, and every pending child is spawned.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.running = true
	var pending []*childRecord
	for _, id := range s.order {
		if rec := s.children[id]; rec != nil && rec.state == ChildPending {
			pending = append(pending, rec)
		}
	}
	s.mu.Unlock()

	go s.monitor()
	for _, rec := range pending {
		s.spawn(rec)
	}
	logInfo("supervisor", s.opts.name, nil, "started")
	return nil
}

// spawn launches rec's child function on a dedicated goroutine, a
// trampoline carrying the supervisor's exit channel the same way the
// teacher's thread-spawning call sites carry their own context structs.
func (s *Supervisor) spawn(rec *childRecord) {
	s.mu.Lock()
	stopCh, exited := make(chan struct{}), make(chan struct{})
	rec.stopCh = stopCh
	rec.exited = exited
	rec.state = ChildRunning
	s.mu.Unlock()
	go s.trampoline(rec, stopCh, exited)
}

func (s *Supervisor) trampoline(rec *childRecord, stopCh, exited chan struct{}) {
	status := -1
	func() {
		defer func() {
			if r := recover(); r != nil {
				logErr("supervisor", s.opts.name, func(b *loggerBuilder) { b.Str("child", rec.spec.Name) }, "child function panicked")
				status = -1
			}
		}()
		status = rec.spec.Function(StopToken{ch: stopCh}, rec.spec.Arg)
	}()
	close(exited)
	select {
	case s.exitCh <- exitMsg{id: rec.id, exited: exited, status: status}:
	default:
		logWarn("supervisor", s.opts.name, nil, "exit channel full, child exit dropped")
	}
}

// monitor drains exit notifications until the exit channel is closed,
// applying the configured strategy to every abnormal exit and restarting
// Permanent children on normal exit.
func (s *Supervisor) monitor() {
	defer close(s.monitorDone)
	for msg := range s.exitCh {
		s.handleExit(msg)
	}
}

func (s *Supervisor) handleExit(msg exitMsg) {
	s.mu.Lock()
	rec, ok := s.children[msg.id]
	if !ok || rec.exited != msg.exited {
		// removed, or an earlier spawn already replaced by a restart
		s.mu.Unlock()
		return
	}
	rec.lastStatus = msg.status
	rec.state = ChildExited
	s.mu.Unlock()

	if msg.status != 0 {
		s.applyStrategy(rec)
		return
	}
	s.restartIfEligible(rec)
}

func (s *Supervisor) applyStrategy(failed *childRecord) {
	s.mu.Lock()
	strategy := s.strategy
	order := append([]uint64(nil), s.order...)
	s.mu.Unlock()

	switch strategy {
	case OneForOne:
		s.restartIfEligible(failed)
	case OneForAll:
		for _, id := range order {
			if rec := s.lookup(id); rec != nil {
				s.restartIfEligible(rec)
			}
		}
	case RestForOne:
		for _, id := range order {
			rec := s.lookup(id)
			if rec != nil && rec.orderIndex >= failed.orderIndex {
				s.restartIfEligible(rec)
			}
		}
	}
}

func (s *Supervisor) lookup(id uint64) *childRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.children[id]
}

// restartIfEligible restarts rec if its policy permits it given its last
// exit status, subject to the restart-intensity check. Escalates on
// intensity violation.
func (s *Supervisor) restartIfEligible(rec *childRecord) {
	s.mu.Lock()
	policy := rec.spec.Policy
	lastStatus := rec.lastStatus
	running := s.running
	s.mu.Unlock()

	if !running {
		return
	}

	switch policy {
	case Temporary:
		return
	case Transient:
		if lastStatus == 0 {
			return
		}
	case Permanent:
	}

	// A sibling swept in by OneForAll/RestForOne may still be running (it
	// wasn't the one that failed): stop it first, or spawn below replaces
	// its stopCh/exited out from under its live trampoline goroutine,
	// orphaning it. A no-op if rec isn't currently running.
	s.stopChild(rec)

	if !s.intensityAllowed(rec) {
		s.escalate()
		return
	}
	s.spawn(rec)
}

// intensityAllowed gates rec's restart using its own restart_count/
// window_start_ns bookkeeping, per the fixed-window-with-anchor-reset
// algorithm: the window resets to a fresh count of 1 whenever it's empty
// or has elapsed, and otherwise accepts restarts up to max_restarts before
// refusing.
func (s *Supervisor) intensityAllowed(rec *childRecord) bool {
	if rec.spec.MaxRestarts <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nowNS := now().UnixNano()
	switch {
	case rec.restartCount == 0:
		rec.restartCount = 1
		rec.windowStartNS = nowNS
		return true
	case nowNS-rec.windowStartNS <= int64(rec.spec.Window) && rec.restartCount+1 <= rec.spec.MaxRestarts:
		rec.restartCount++
		return true
	case nowNS-rec.windowStartNS > int64(rec.spec.Window):
		rec.restartCount = 1
		rec.windowStartNS = nowNS
		return true
	default:
		return false
	}
}

// escalate stops every child (best-effort) and halts supervision, closing
// the exit channel so the monitor exits after draining it.
func (s *Supervisor) escalate() {
	logErr("supervisor", s.opts.name, nil, "restart intensity exceeded, escalating")
	s.stopAllChildren()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.closeExitOnce.Do(func() { close(s.exitCh) })
}

func (s *Supervisor) stopAllChildren() {
	s.mu.Lock()
	var recs []*childRecord
	for _, id := range s.order {
		if rec := s.children[id]; rec != nil {
			recs = append(recs, rec)
		}
	}
	s.mu.Unlock()

	for _, rec := range recs {
		s.stopChild(rec)
	}
}

// stopChild signals rec to stop and waits up to its shutdown timeout for
// confirmation; a no-op if rec isn't currently running.
func (s *Supervisor) stopChild(rec *childRecord) {
	s.mu.Lock()
	stopCh, exited, timeout, state := rec.stopCh, rec.exited, rec.spec.ShutdownTimeout, rec.state
	s.mu.Unlock()
	if state != ChildRunning || stopCh == nil {
		return
	}
	close(stopCh)
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-exited:
	case <-time.After(timeout):
		logWarn("supervisor", s.opts.name, func(b *loggerBuilder) { b.Str("child", rec.spec.Name) }, "child did not stop within shutdown timeout")
	}
}

// Remove stops a child and removes it from the registry.
func (s *Supervisor) Remove(id uint64) error {
	s.mu.Lock()
	rec, ok := s.children[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChild
	}
	delete(s.children, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.stopChild(rec)
	return nil
}

// Restart manually restarts a child, subject to the same restart-intensity
// check as an automatic restart. Returns [ErrEscalated] if the check
// fails.
func (s *Supervisor) Restart(id uint64) error {
	rec := s.lookup(id)
	if rec == nil {
		return ErrUnknownChild
	}
	s.stopChild(rec)
	if !s.intensityAllowed(rec) {
		s.escalate()
		return ErrEscalated
	}
	s.spawn(rec)
	return nil
}

// Stop gracefully stops every child and the monitor goroutine, waiting
// for both. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.stopAllChildren()
	s.closeExitOnce.Do(func() { close(s.exitCh) })
	<-s.monitorDone
	logInfo("supervisor", s.opts.name, nil, "stopped")
}

// ChildStatus is a snapshot of one child's observable state.
type ChildStatus struct {
	ID            uint64
	Name          string
	State         ChildState
	LastStatus    int
	RestartCount  int
	WindowStartNS int64
}

// Status returns a snapshot of every currently registered child.
func (s *Supervisor) Status() []ChildStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChildStatus, 0, len(s.order))
	for _, id := range s.order {
		rec, ok := s.children[id]
		if !ok {
			continue
		}
		out = append(out, ChildStatus{
			ID:            rec.id,
			Name:          rec.spec.Name,
			State:         rec.state,
			LastStatus:    rec.lastStatus,
			RestartCount:  rec.restartCount,
			WindowStartNS: rec.windowStartNS,
		})
	}
	return out
}
