package corert

// This file follows the functional-options shape used throughout the
// runtime's constructors: an unexported config struct, an unexported
// wrapper implementing the exported Option interface, and a resolve
// helper that applies options in order and tolerates nil entries.

// --- Pool options ---

type poolOptions struct {
	name   string
	logger bool
}

// PoolOption configures a [Pool] created by [NewPool].
type PoolOption interface{ applyPool(*poolOptions) }

type poolOptionFunc func(*poolOptions)

func (f poolOptionFunc) applyPool(o *poolOptions) { f(o) }

// WithPoolName attaches a name to the pool, included in all log records
// emitted for it.
func WithPoolName(name string) PoolOption {
	return poolOptionFunc(func(o *poolOptions) { o.name = name })
}

func resolvePoolOptions(opts []PoolOption) *poolOptions {
	cfg := &poolOptions{name: "pool"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyPool(cfg)
	}
	return cfg
}

// --- Loop options ---

type loopOptions struct {
	name       string
	poller     Poller
	eventCap   int
	tickBudget int
}

// LoopOption configures a [Loop] created by [NewLoop].
type LoopOption interface{ applyLoop(*loopOptions) }

type loopOptionFunc func(*loopOptions)

func (f loopOptionFunc) applyLoop(o *loopOptions) { f(o) }

// WithLoopName attaches a name to the loop, included in all log records.
func WithLoopName(name string) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.name = name })
}

// WithPoller overrides the default platform poller backend. Primarily used
// by tests to install a fake poller.
func WithPoller(p Poller) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.poller = p })
}

// WithEventCapacity sets how many poller events are drained per Wait call.
// The default is 128.
func WithEventCapacity(n int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) {
		if n > 0 {
			o.eventCap = n
		}
	})
}

func resolveLoopOptions(opts []LoopOption) *loopOptions {
	cfg := &loopOptions{name: "loop", eventCap: 128}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyLoop(cfg)
	}
	return cfg
}

// --- Actor options ---

type actorOptions struct {
	name        string
	batchSize   int
	ringBufSize int
}

// ActorOption configures an [Actor] created by [NewActor].
type ActorOption interface{ applyActor(*actorOptions) }

type actorOptionFunc func(*actorOptions)

func (f actorOptionFunc) applyActor(o *actorOptions) { f(o) }

// WithActorName attaches a name to the actor, included in its log records.
func WithActorName(name string) ActorOption {
	return actorOptionFunc(func(o *actorOptions) { o.name = name })
}

// WithBatchSize overrides the maximum number of messages dequeued into one
// dispatch batch (default 32, per the runtime's batch-receive guidance).
// Values outside 1..32 are ignored.
func WithBatchSize(n int) ActorOption {
	return actorOptionFunc(func(o *actorOptions) {
		if n > 0 && n <= maxBatchSize {
			o.batchSize = n
		}
	})
}

func resolveActorOptions(opts []ActorOption) *actorOptions {
	cfg := &actorOptions{name: "actor", batchSize: maxBatchSize, ringBufSize: defaultMailboxCapacity}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyActor(cfg)
	}
	return cfg
}

// --- Supervisor options ---

type supervisorOptions struct {
	name string
}

// SupervisorOption configures a [Supervisor] created by [NewSupervisor].
type SupervisorOption interface{ applySupervisor(*supervisorOptions) }

type supervisorOptionFunc func(*supervisorOptions)

func (f supervisorOptionFunc) applySupervisor(o *supervisorOptions) { f(o) }

// WithSupervisorName attaches a name to the supervisor, included in log
// records.
func WithSupervisorName(name string) SupervisorOption {
	return supervisorOptionFunc(func(o *supervisorOptions) { o.name = name })
}

func resolveSupervisorOptions(opts []SupervisorOption) *supervisorOptions {
	cfg := &supervisorOptions{name: "supervisor"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applySupervisor(cfg)
	}
	return cfg
}
