package strands

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTerminated is the error value recorded for a strand that was terminated.
	// Termination is not a failure: observers are told through [Observer.OnTerminated],
	// and a strand that awaits a terminated strand receives this error.
	ErrTerminated = errors.New("strand terminated")

	ErrNotSuspended     = errors.New("strand is not suspended")
	ErrActionPending    = errors.New("strand already has a pending action")
	ErrNoPendingAction  = errors.New("strand ticked without a pending action")
	ErrUnknownOperation = errors.New("unknown kernel operation")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrCannotAdapt      = errors.New("unable to adapt value to a coroutine")
	ErrProviderDepth    = errors.New("coroutine provider nesting too deep")
	ErrNotReady         = errors.New("future is still pending")
	ErrNotImplemented   = errors.New("not implemented on this platform")
	ErrKernelRunning    = errors.New("kernel is already running")
	ErrKernelClosed     = errors.New("kernel is closed")
)

// AdaptError is delivered to a frame that yielded a value [Adapt] could not handle.
type AdaptError struct {
	// Value is a human-readable rendering of the rejected value.
	Value string
	Err   error
}

func (e *AdaptError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Value)
}

func (e *AdaptError) Unwrap() error {
	return e.Err
}

// OperationError reports a failed system call: an unknown operation name
// or arguments the operation's handler rejected.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("kernel operation %q: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// TimeoutError is thrown by [Timeout] when the timer fires before the child strand exits.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

// RejectedError wraps a promise rejection reason that is not itself an error.
type RejectedError struct {
	Reason any
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("promise rejected: %v", e.Reason)
}

// PanicError wraps a value recovered from a panicking generator body or observer.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// KernelPanic is returned from [Kernel.Run] when an error reaches a point where
// no frame or observer can handle it. It stops the scheduler loop.
type KernelPanic struct {
	Strand StrandID
	Err    error
}

func (e *KernelPanic) Error() string {
	return fmt.Sprintf("kernel panic in strand#%d: %v", e.Strand, e.Err)
}

func (e *KernelPanic) Unwrap() error {
	return e.Err
}

// asPanicError converts a recovered value into an error,
// leaving errors that already describe a kernel panic untouched.
func asPanicError(r any) error {
	if err, ok := r.(error); ok {
		var kp *KernelPanic
		if errors.As(err, &kp) || errors.Is(err, ErrActionPending) || errors.Is(err, ErrNoPendingAction) {
			return err
		}
	}
	return &PanicError{Value: r}
}
