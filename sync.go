package strands

import (
	"context"
	"slices"
)

// Queue passes values between strands in FIFO order.
// A strand waiting in [Queue.Get] that is terminated gives up its place,
// so the next value goes to the next live waiter.
// Queue is not threadsafe.
type Queue[T any] struct {
	items   []T
	getters []*Future[T]
}

// Get returns a [Future] that resolves to the first item of the Queue;
// yield it to wait until one is available.
func (q *Queue[T]) Get() *Future[T] {
	fut := NewFuture[T]()
	if item, ok := q.TryGet(); ok {
		fut.SetResult(item, nil)
		return fut
	}

	q.getters = append(q.getters, fut)
	fut.AddDoneCallback(func(error) {
		q.dropGetter(fut)
	})
	return fut
}

// TryGet pops the first item without waiting.
func (q *Queue[T]) TryGet() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Put hands item to the earliest waiting getter, or buffers it if there is none.
func (q *Queue[T]) Put(item T) {
	if len(q.getters) > 0 {
		fut := q.getters[0]
		q.getters = q.getters[1:]
		fut.SetResult(item, nil)
		return
	}
	q.items = append(q.items, item)
}

// dropGetter removes a getter settled by something other than Put,
// typically the cancellation of a terminated strand's wait.
func (q *Queue[T]) dropGetter(fut *Future[T]) {
	if i := slices.Index(q.getters, fut); i >= 0 {
		q.getters = slices.Delete(q.getters, i, i+1)
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Waiting returns the number of pending getters.
func (q *Queue[T]) Waiting() int {
	return len(q.getters)
}

// Mutex provides a simple locking mechanism for strands.
// Waiters acquire the lock in the order they asked for it.
// Mutex is not threadsafe.
type Mutex struct {
	locked  bool
	waiters []*Future[struct{}]
}

// Lock returns a [Future] that resolves once the lock is held.
// If the waiting strand is terminated first, its place in line is given up.
func (m *Mutex) Lock() *Future[struct{}] {
	fut := NewFuture[struct{}]()
	if !m.locked {
		m.locked = true
		fut.SetResult(struct{}{}, nil)
		return fut
	}

	m.waiters = append(m.waiters, fut)
	return fut
}

// Unlock hands the lock to the next waiter, or releases it if there is none.
func (m *Mutex) Unlock() {
	for len(m.waiters) > 0 {
		fut := m.waiters[0]
		m.waiters = m.waiters[1:]
		// skip if cancelled
		if fut.HasResult() {
			continue
		}
		fut.SetResult(struct{}{}, nil)
		return
	}
	m.locked = false
}

// Locked reports whether the Mutex is held.
func (m *Mutex) Locked() bool {
	return m.locked
}

// Go launches the given function in a goroutine and returns a [Future]
// that will complete on the kernel's goroutine when the function returns.
// Cancelling the future cancels the context passed to f.
func Go[T any](ctx context.Context, k *Kernel, f func(ctx context.Context) (T, error)) *Future[T] {
	fut := NewFuture[T]()

	goroCtx, cancel := context.WithCancelCause(ctx)
	fut.AddDoneCallback(func(err error) {
		cancel(err)
	})
	go func() {
		result, err := f(goroCtx)
		k.Submit(func() {
			fut.SetResult(result, err)
		})
	}()
	return fut
}
