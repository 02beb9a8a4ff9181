package strands

import "time"

// IOEvents is a set of readiness conditions reported by a [Poller].
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// PollResult describes why [Poller.Wait] returned.
type PollResult int

const (
	PollInactive    PollResult = iota // the timeout elapsed with nothing ready
	PollActive                        // at least one readiness event was dispatched
	PollInterrupted                   // woken by WakeupThreadsafe or a signal
)

func (r PollResult) String() string {
	switch r {
	case PollInactive:
		return "inactive"
	case PollActive:
		return "active"
	case PollInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Poller is the readiness backend of the kernel's IO multiplexer.
// Apart from WakeupThreadsafe, its methods are only called from the kernel's goroutine.
type Poller interface {
	// Wait blocks until a watched descriptor is ready, the timeout elapses
	// or WakeupThreadsafe is called. A negative timeout blocks indefinitely.
	// ready is called once per descriptor that became ready.
	Wait(timeout time.Duration, ready func(fd uintptr, events IOEvents)) (PollResult, error)
	// WakeupThreadsafe interrupts a blocked Wait. Safe to call from any goroutine.
	WakeupThreadsafe() error
	// Watch sets the conditions fd is watched for, replacing any previous interest.
	Watch(fd uintptr, events IOEvents) error
	// Unwatch stops watching fd.
	Unwatch(fd uintptr) error
	Close() error
}

// Resource is anything backed by a file descriptor, such as an [os.File] or a net.Conn's file.
type Resource interface {
	Fd() uintptr
}
