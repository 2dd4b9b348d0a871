// Package future provides a settle-once result, the Go shape of a promise.
//
// A Future is settled by Resolve or Reject; the first call wins and later
// ones report false. Callers either block with Await (never from the
// owning event loop) or register continuations with Then, which run as
// microtasks on the scheduler the future was created with.
package future

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/workerdom/internal/scheduler"
)

// Future is a value or error that becomes available later.
type Future struct {
	sched scheduler.Scheduler

	mu        sync.Mutex
	settled   bool
	value     any
	err       error
	callbacks []func(any, error)
	done      chan struct{}
}

// New creates a pending future. Continuations registered with Then run as
// microtasks on sched; with a nil sched they run inline on the settling
// goroutine.
func New(sched scheduler.Scheduler) *Future {
	return &Future{
		sched: sched,
		done:  make(chan struct{}),
	}
}

// Resolved returns a future already resolved with v.
func Resolved(sched scheduler.Scheduler, v any) *Future {
	f := New(sched)
	f.Resolve(v)
	return f
}

// Rejected returns a future already rejected with err.
func Rejected(sched scheduler.Scheduler, err error) *Future {
	f := New(sched)
	f.Reject(err)
	return f
}

// Resolve settles the future with v.
func (f *Future) Resolve(v any) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err.
func (f *Future) Reject(err error) bool {
	return f.settle(nil, err)
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether Resolve or Reject has been called.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the outcome. It is only meaningful once Done is closed.
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Await blocks until the future settles or ctx ends.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then registers fn to run with the outcome. If the future has already
// settled, fn is scheduled immediately.
func (f *Future) Then(fn func(any, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	f.dispatch(fn, v, err)
}

func (f *Future) settle(v any, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value, f.err = v, err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range callbacks {
		f.dispatch(fn, v, err)
	}
	return true
}

func (f *Future) dispatch(fn func(any, error), v any, err error) {
	if f.sched == nil {
		fn(v, err)
		return
	}
	f.sched.Microtask(func() { fn(v, err) })
}
