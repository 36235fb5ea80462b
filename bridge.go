package corert

// Run submits fn to pool and returns a [Future] that resolves with its
// return value (or the error it returns). dtor, if non-nil, runs on the
// value if the future is destroyed before anyone takes its value — the
// same explicit-ownership convention [Channel] uses for undelivered items.
//
// fn runs on a pool worker goroutine, never on the caller's. The returned
// Promise is resolved from that same worker goroutine once fn returns.
func Run(pool *Pool, fn func() (any, error), dtor func(any)) (*Future, error) {
	if fn == nil {
		return nil, ErrInvalidArgument
	}
	promise, future := NewPromise(nil)
	err := pool.Submit(func() {
		defer promise.Destroy()
		value, err := fn()
		if err != nil {
			promise.Reject(err)
			return
		}
		_ = promise.Fulfill(value, dtor)
	})
	if err != nil {
		promise.Destroy()
		return nil, err
	}
	return future, nil
}

// RunOnLoop schedules cb to run on loop's own goroutine at the next
// opportunity (a one-shot, effectively-immediate timer registration) and
// returns a [Future] resolving with whatever cb returns. Unlike [Run], cb
// executes serialized with every other callback the loop dispatches, so it
// may safely touch state only the loop goroutine otherwise touches.
func RunOnLoop(loop *Loop, cb func() (any, error), dtor func(any)) (*Future, error) {
	if loop == nil || cb == nil {
		return nil, ErrInvalidArgument
	}
	promise, future := NewPromise(loop)
	_, err := loop.RegisterTimer(NewDeadline(1), 0, func(l *Loop, kind EventKind, fd int, userData any) {
		defer promise.Destroy()
		value, err := cb()
		if err != nil {
			promise.Reject(err)
			return
		}
		_ = promise.Fulfill(value, dtor)
	}, nil)
	if err != nil {
		promise.Destroy()
		return nil, err
	}
	return future, nil
}
