package corert

import "time"

// loopAwaitPollInterval bounds how long a loop-bound waiter sleeps between
// checks of a future it does not own the resolution of. It is deliberately
// short: AwaitOnLoop is meant for bridging blocking code into a loop-driven
// program, not as a primary synchronization primitive.
const loopAwaitPollInterval = 10 * time.Millisecond

// Await blocks the calling goroutine until future resolves or deadline
// elapses. Thin wrapper over [Future.Await], named to mirror the
// spec-level "await(future, deadline)" operation distinctly from the
// method form.
func Await(future *Future, deadline Deadline) (PromiseState, any, error) {
	return future.Await(deadline)
}

// AwaitOnLoop blocks the calling goroutine until future resolves or
// deadline elapses, waking loop after every poll slice so a future that
// resolves as a side effect of the loop's own dispatch (timers, I/O
// callbacks) is observed promptly rather than only at the next slice
// boundary. Intended for bridging a blocking caller into a program whose
// actual work happens on loop's goroutine; it must never be called from
// loop's own goroutine, which would deadlock it against itself.
func AwaitOnLoop(loop *Loop, future *Future, deadline Deadline) (PromiseState, any, error) {
	for {
		slice := NewDeadline(loopAwaitPollInterval)
		if !deadline.IsInfinite() && deadline.Before(slice) {
			slice = deadline
		}
		state, value, err := future.Await(slice)
		if err != ErrTimeout {
			return state, value, err
		}
		if !deadline.IsInfinite() && deadline.Expired() {
			return Pending, nil, ErrTimeout
		}
		loop.wake()
	}
}
