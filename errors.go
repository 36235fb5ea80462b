package corert

import "errors"

// Sentinel errors returned at the package's public boundary. These mirror
// the status codes enumerated in the runtime's external-interface contract
// (AGAIN, TIMEOUT, CLOSED, INVALID_ARG); Go's idiomatic equivalent is
// errors.Is-comparable sentinels rather than integer codes.
var (
	// ErrWouldBlock is the error form of a non-blocking operation that
	// cannot complete immediately. [Channel.TrySend] and [Channel.TryRecv]
	// report that case through their status results ([SendWouldBlock],
	// [RecvWouldBlock]) and do not return this error.
	ErrWouldBlock = errors.New("corert: would block")

	// ErrTimeout is returned when a deadline elapses before an operation
	// completes.
	ErrTimeout = errors.New("corert: deadline exceeded")

	// ErrClosed is returned by operations attempted on a closed or
	// terminal resource (channel, promise, actor, pool, loop, supervisor).
	ErrClosed = errors.New("corert: closed")

	// ErrInvalidArgument is returned for nil handles, nil required
	// callbacks, or otherwise malformed arguments, detected at the call
	// site with no state change.
	ErrInvalidArgument = errors.New("corert: invalid argument")

	// ErrNotAccepting is returned by Pool.Submit when the pool is
	// shutting down; distinct from ErrClosed because the pool may still
	// be draining already-queued work.
	ErrNotAccepting = errors.New("corert: pool is not accepting new work")

	// ErrAlreadyStarted is returned when Start is called more than once
	// on an Actor or Supervisor, or Run more than once on a Loop.
	ErrAlreadyStarted = errors.New("corert: already started")

	// ErrNotRunning names the condition of an operation that requires a
	// running component attempted before Start or after Stop. No operation
	// in this package returns it.
	ErrNotRunning = errors.New("corert: not running")

	// ErrCancelled marks a future/promise resolved via Cancel: a terminal
	// state equivalent to rejection without an error code.
	ErrCancelled = errors.New("corert: cancelled")

	// ErrEscalated is returned to callers observing a supervisor that has
	// stopped all its children after exceeding restart intensity.
	ErrEscalated = errors.New("corert: restart intensity exceeded, supervisor escalated")

	// ErrUnknownChild is returned by Supervisor operations, and by
	// Loop.Unregister, referencing an id that is not currently registered.
	ErrUnknownChild = errors.New("corert: unknown child id")

	// ErrUnsupportedPlatform names the condition of a Poller backend that
	// cannot service I/O registration on the current GOOS. No backend in
	// this package returns it: the non-Linux fallback accepts every
	// registration.
	ErrUnsupportedPlatform = errors.New("corert: I/O polling unsupported on this platform")
)

// CrashError wraps the integer status code returned by an actor behavior or
// supervised child function when it signals a crash (a negative return
// value, per the runtime's result convention). It implements Unwrap so
// errors.Is/errors.As can reach a wrapped cause when Cause is set.
type CrashError struct {
	// Code is the raw status code returned by the behavior or child
	// function (always < 0).
	Code int
	// Cause is an optional underlying error describing the crash; nil if
	// the behavior returned only a bare status code.
	Cause error
}

func (e *CrashError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "corert: actor crashed"
}

func (e *CrashError) Unwrap() error { return e.Cause }
