package strands

import (
	"context"
	"errors"
)

// Future is a value container representing the result of a pending operation.
// It runs any callbacks registered through [Future.AddResultCallback] or
// [Future.Subscribe] once populated through [Future.SetResult], [Future.Reject]
// or [Future.Cancel].
//
// A Future can be yielded from a generator: the strand suspends until it settles.
// Future is not threadsafe; settle it on the kernel's goroutine (see [Kernel.Submit]).
type Future[T any] struct {
	done      bool
	result    T
	err       error
	callbacks []func(T, error)
}

// NewFuture returns a new [Future] ready to be awaited or populated with a result.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{}
}

// HasResult reports whether the future has settled, including by cancellation.
func (f *Future[T]) HasResult() bool {
	return f.done
}

// Err returns the error the future settled with, if any.
func (f *Future[T]) Err() error {
	return f.err
}

// Result returns the result of the future, or [ErrNotReady] if it has not settled.
func (f *Future[T]) Result() (T, error) {
	if f.done {
		return f.result, f.err
	}

	var zero T
	return zero, ErrNotReady
}

// AddResultCallback registers a callback to run once the future settles.
// If it already has, the callback runs immediately.
func (f *Future[T]) AddResultCallback(callback func(T, error)) *Future[T] {
	if f.done {
		callback(f.result, f.err)
	} else {
		f.callbacks = append(f.callbacks, callback)
	}
	return f
}

// AddDoneCallback registers a type-unaware callback to run once the future settles.
func (f *Future[T]) AddDoneCallback(callback func(error)) *Future[T] {
	return f.AddResultCallback(func(_ T, err error) {
		callback(err)
	})
}

// Subscribe implements [Promise].
func (f *Future[T]) Subscribe(fn func(any, error)) {
	f.AddResultCallback(func(result T, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(result, nil)
	})
}

// SetResult settles the future. Only the first call has any effect.
func (f *Future[T]) SetResult(result T, err error) {
	if f.done {
		return
	}

	f.result, f.err = result, err
	f.done = true

	callbacks := f.callbacks
	f.callbacks = nil
	for _, callback := range callbacks {
		callback(result, err)
	}
}

// Reject settles the future with a failure. Reasons that are not errors
// are wrapped in a [*RejectedError] that keeps the raw value.
func (f *Future[T]) Reject(reason any) {
	err, ok := reason.(error)
	if !ok || err == nil {
		err = &RejectedError{Reason: reason}
	}
	var zero T
	f.SetResult(zero, err)
}

// Cancel implements [Cancellable]. If err is nil, the future
// is cancelled with [context.Canceled]. Settled futures are unaffected.
func (f *Future[T]) Cancel(err error) {
	if err == nil {
		err = context.Canceled
	}
	var zero T
	f.SetResult(zero, err)
}

// Shield returns a new [Future] which settles once this one does,
// but whose cancellation does not cancel this one.
// Yield a shielded future to wait on work that must outlive the waiting strand.
func (f *Future[T]) Shield() *Future[T] {
	if f.done {
		return f
	}

	fut := NewFuture[T]()
	f.AddResultCallback(func(result T, err error) {
		fut.SetResult(result, err)
	})
	fut.AddResultCallback(func(result T, err error) {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrTerminated) {
			f.SetResult(result, err)
		}
	})
	return fut
}

// promiseCoroutine suspends its strand until a Promise settles.
// Awaiting a strand goes through an exit listener, which is removed
// once the frame is released, so a failure after the wait is given up
// still counts as unobserved.
type promiseCoroutine struct {
	promise Promise
	cancel  func()
}

func newPromiseCoroutine(p Promise) *promiseCoroutine {
	return &promiseCoroutine{promise: p}
}

func (c *promiseCoroutine) Call(s *Strand) {
	p := c.promise
	s.Suspend()
	if target, ok := p.(*Strand); ok {
		c.cancel = target.OnExit(func(target *Strand) {
			c.settle(s, p)(target.Result())
		})
		return
	}
	p.Subscribe(c.settle(s, p))
}

// settle resumes s with the first settlement of p.
// Settlement after release (termination, or a second settlement) is ignored.
func (c *promiseCoroutine) settle(s *Strand, p Promise) func(any, error) {
	return func(value any, err error) {
		if c.promise != p {
			return
		}
		c.promise = nil
		if err != nil {
			_ = s.ResumeWithError(err)
		} else {
			_ = s.Resume(value)
		}
	}
}

func (c *promiseCoroutine) ResumeWithValue(s *Strand, v any) {
	s.Return(v)
}

func (c *promiseCoroutine) ResumeWithError(s *Strand, err error) {
	s.Throw(err)
}

func (c *promiseCoroutine) Terminate(s *Strand) {
	if cancellable, ok := c.promise.(Cancellable); ok {
		c.promise = nil
		cancellable.Cancel(ErrTerminated)
	}
	s.pop()
	s.Terminate()
}

func (c *promiseCoroutine) finalize() {
	c.promise = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
