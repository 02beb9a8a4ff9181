package strands

import (
	"container/heap"
	"time"
)

// EventQueue is a time-ordered queue of cancellable callbacks.
// Callbacks due at the same instant run in the order they were scheduled.
// EventQueue is not threadsafe; the [Kernel] owns its queue exclusively.
type EventQueue struct {
	queue callbackQueue
	seq   uint64
}

// Schedule queues fn to run once delay has elapsed.
// A negative delay is treated as zero.
func (q *EventQueue) Schedule(delay time.Duration, fn func()) *Callback {
	q.seq++
	c := &Callback{
		callback: fn,
		when:     time.Now().Add(max(delay, 0)),
		seq:      q.seq,
		index:    -1,
	}
	heap.Push(&q.queue, c)
	return c
}

// Tick runs every callback that is due. Callbacks scheduled while the tick is
// running are left for a later tick, even when they are already due.
// It reports the time until the next pending callback, or false if none remain.
func (q *EventQueue) Tick() (time.Duration, bool) {
	now := time.Now()
	limit := q.seq
	for !q.queue.Empty() {
		head := q.queue.Peek()
		if head.when.After(now) || head.seq > limit {
			break
		}
		heap.Pop(&q.queue)
		head.callback()
	}
	return q.Next()
}

// Next reports the time until the next pending callback, or false if the queue is empty.
func (q *EventQueue) Next() (time.Duration, bool) {
	if q.queue.Empty() {
		return 0, false
	}
	return max(time.Until(q.queue.Peek().when), 0), true
}

// Len returns the number of pending callbacks.
func (q *EventQueue) Len() int {
	return q.queue.Len()
}

// Callback is a handle to a callback scheduled on an [EventQueue].
type Callback struct {
	callback func()
	when     time.Time
	seq      uint64

	// queue == nil && index < 0 once the callback has run or been cancelled
	queue *callbackQueue
	index int
}

// Cancel removes this callback from its queue, preventing it from running.
// Returns false if the callback already ran or was already cancelled.
func (c *Callback) Cancel() bool {
	if c == nil || c.queue == nil {
		return false
	}
	return c.queue.Remove(c)
}

// Pending reports whether the callback is still waiting to run.
func (c *Callback) Pending() bool {
	return c != nil && c.queue != nil
}

// callbackQueue is a min-heap ordered by (when, seq).
type callbackQueue []*Callback

// Len implements [heap.Interface].
func (r *callbackQueue) Len() int {
	return len(*r)
}

// Less implements [heap.Interface].
func (r *callbackQueue) Less(i, j int) bool {
	a, b := (*r)[i], (*r)[j]
	if a.when.Equal(b.when) {
		return a.seq < b.seq
	}
	return a.when.Before(b.when)
}

// Swap implements [heap.Interface].
func (r *callbackQueue) Swap(i, j int) {
	(*r)[i].index = j
	(*r)[j].index = i
	(*r)[i], (*r)[j] = (*r)[j], (*r)[i]
}

// Push implements [heap.Interface].
func (r *callbackQueue) Push(x any) {
	callback := x.(*Callback)
	callback.index = r.Len()
	callback.queue = r
	*r = append(*r, callback)
}

// Pop implements [heap.Interface].
func (r *callbackQueue) Pop() any {
	n := len(*r)
	callback := (*r)[n-1]
	(*r)[n-1] = nil
	*r = (*r)[:n-1]
	// remove association to the queue
	// so Remove behaves correctly if called multiple times
	callback.index = -1
	callback.queue = nil
	return callback
}

// Remove removes a callback from the queue, effectively cancelling it.
func (r *callbackQueue) Remove(callback *Callback) bool {
	if callback.queue != r || callback.index < 0 {
		return false
	}
	heap.Remove(r, callback.index)
	return true
}

// Peek returns the next callback to run without modifying the queue.
// Will panic if the queue is empty.
func (r *callbackQueue) Peek() *Callback {
	return (*r)[0]
}

// Empty reports whether the queue is empty.
func (r *callbackQueue) Empty() bool {
	return r.Len() == 0
}
