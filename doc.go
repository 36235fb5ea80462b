// Package corert implements a single-process concurrent runtime: an actor
// model layered over a promise/future core, a reactive event loop, a
// work-stealing-free (FIFO) thread pool, an MPMC channel, and a supervision
// tree.
//
// # Architecture
//
// The runtime is built leaves-first:
//
//   - [Deadline] represents an absolute (wall-clock, Unix-nanosecond)
//     timestamp shared by every blocking operation in the package.
//   - [Channel] is a bounded MPMC queue of opaque items with close semantics
//     and timed send/receive.
//   - [Promise] / [Future] form a single-resolution shared cell with
//     continuations and thread-safe await, the core primitive everything
//     else is built on.
//   - [Pool] is a fixed-size worker pool draining one FIFO task queue.
//   - [Loop] is a single-threaded reactor multiplexing timers and I/O
//     readiness via a pluggable [Poller] backend, woken cross-thread through
//     the poller's wake mechanism (an eventfd on Linux).
//   - [Run] and [RunOnLoop] bridge pool tasks and loop callbacks into
//     futures; [Await] and [AwaitOnLoop] provide cooperative blocking.
//   - [Actor] wraps a [Channel] mailbox, a swappable behavior function, and
//     the ask/reply protocol built on [Promise]. A [Behavior] receives its
//     own actor as an explicit parameter rather than reading it from
//     thread-local storage, so "self" is always in scope without a
//     separate accessor.
//   - [Supervisor] manages a set of actors (or arbitrary child functions)
//     with one-for-one, one-for-all, or rest-for-one restart strategies and
//     a per-child fixed restart-intensity window whose anchor resets once
//     the window has elapsed.
//
// # Concurrency
//
// Every component guards its mutable state with mutexes of its own (the
// actor splits its state across several). User
// callbacks never run while a component's own lock is held: the promise
// core snapshots state and releases its mutex before invoking
// continuations, the pool executes tasks outside its queue lock, and the
// loop dispatches I/O/timer callbacks without holding the registry lock
// across the call.
//
// # Logging
//
// Lifecycle events (pool and loop start/stop, supervisor start/stop and
// escalation, panics recovered from actor behaviors, pool tasks and child
// functions) are logged through a package-level structured logger; see
// [SetLogger]. The default logger is a no-op, matching the "opt-in
// observability" posture of the rest of the package.
package corert
