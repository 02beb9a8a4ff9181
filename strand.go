package strands

import (
	"fmt"
	"log/slog"
)

// StrandID identifies a strand within its [Kernel]. IDs start at 1.
type StrandID uint64

// ExitKind describes how a strand exited.
type ExitKind int

const (
	ExitNone       ExitKind = iota // still running
	ExitSuccess                    // the stack base received a value
	ExitFailure                    // the stack base received an error
	ExitTerminated                 // the strand was terminated
)

func (k ExitKind) String() string {
	switch k {
	case ExitNone:
		return "none"
	case ExitSuccess:
		return "success"
	case ExitFailure:
		return "failure"
	case ExitTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("ExitKind(%d)", int(k))
	}
}

// StrandState is the scheduling state of a strand.
type StrandState int

const (
	StateReady     StrandState = iota // has a pending action and waits for the kernel
	StateRunning                      // being ticked
	StateSuspended                    // waiting for an external resume
	StateExited                       // the stack base has completed
)

func (s StrandState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("StrandState(%d)", int(s))
	}
}

type actionKind int

const (
	actionNone actionKind = iota
	actionCall
	actionValue
	actionError
	actionTerminate
)

// action is the next entry point to invoke on the top frame.
type action struct {
	kind  actionKind
	value any
	err   error
}

// Observer is notified once a strand exits. Exactly one method is called, once.
type Observer interface {
	OnSuccess(value any)
	OnFailure(err error)
	OnTerminated()
}

// ObserverFuncs adapts plain functions to an [Observer]. Nil fields are skipped.
type ObserverFuncs struct {
	Success    func(value any)
	Failure    func(err error)
	Terminated func()
}

func (o ObserverFuncs) OnSuccess(value any) {
	if o.Success != nil {
		o.Success(value)
	}
}

func (o ObserverFuncs) OnFailure(err error) {
	if o.Failure != nil {
		o.Failure(err)
	}
}

func (o ObserverFuncs) OnTerminated() {
	if o.Terminated != nil {
		o.Terminated()
	}
}

type exitListener struct {
	fn func(*Strand)
}

// Strand is a cooperatively scheduled thread of execution:
// a stack of [Coroutine] frames plus the action pending on the top frame.
//
// Strands are created with [Kernel.Execute] and are owned by their kernel.
// Holding a *Strand only lets you observe it; awaiting a strand never terminates it.
// A Strand is not threadsafe.
type Strand struct {
	id     StrandID
	kernel *Kernel

	stack  []Coroutine
	action action

	running   bool
	suspended bool
	queued    bool

	exit   ExitKind
	result any
	err    error

	observers []Observer
	listeners []*exitListener
}

func newStrand(k *Kernel, id StrandID) *Strand {
	return &Strand{
		id:     id,
		kernel: k,
		stack:  []Coroutine{&stackBase{}},
	}
}

// ID returns the strand's kernel-unique id.
func (s *Strand) ID() StrandID {
	return s.id
}

// Kernel returns the kernel the strand runs on.
func (s *Strand) Kernel() *Kernel {
	return s.kernel
}

func (s *Strand) String() string {
	return fmt.Sprintf("strand#%d", s.id)
}

// State returns the strand's current scheduling state.
func (s *Strand) State() StrandState {
	switch {
	case s.exit != ExitNone:
		return StateExited
	case s.running:
		return StateRunning
	case s.suspended:
		return StateSuspended
	default:
		return StateReady
	}
}

// Exited reports whether the strand has exited.
func (s *Strand) Exited() bool {
	return s.exit != ExitNone
}

// ExitKind reports how the strand exited, or [ExitNone] if it is still running.
func (s *Strand) ExitKind() ExitKind {
	return s.exit
}

// Result returns the strand's exit value or error.
// A terminated strand reports [ErrTerminated]; a live one [ErrNotReady].
func (s *Strand) Result() (any, error) {
	if s.exit == ExitNone {
		return nil, ErrNotReady
	}
	return s.result, s.err
}

// Depth returns the number of frames on the stack, including the stack base.
func (s *Strand) Depth() int {
	return len(s.stack)
}

// setAction records the next entry point. A pending terminate is kept,
// so a frame that terminates its own strand can still complete.
func (s *Strand) setAction(a action) {
	if s.action.kind == actionTerminate {
		return
	}
	if s.action.kind != actionNone {
		panic(fmt.Errorf("%w: %s", ErrActionPending, s))
	}
	s.action = a
}

// Call adapts v and pushes it as the new top frame, to be started on the next step.
// If v cannot be adapted, the pushed frame throws the [*AdaptError]
// back to the frame that called.
//
// Once the strand has been terminated, v is dropped without being adapted.
func (s *Strand) Call(v any) {
	if s.action.kind == actionTerminate {
		return
	}
	c, err := Adapt(v)
	if err != nil {
		c = &failedCall{err: err}
	}
	s.stack = append(s.stack, c)
	s.setAction(action{kind: actionCall})
}

// Return pops the top frame and resumes the one below it with v.
func (s *Strand) Return(v any) {
	s.pop()
	s.setAction(action{kind: actionValue, value: v})
}

// Throw pops the top frame and resumes the one below it with err.
func (s *Strand) Throw(err error) {
	if err == nil {
		err = fmt.Errorf("%w: nil error thrown", ErrInvalidArgument)
	}
	s.pop()
	s.setAction(action{kind: actionError, err: err})
}

// pop removes and finalizes the top frame.
func (s *Strand) pop() Coroutine {
	n := len(s.stack)
	top := s.stack[n-1]
	s.stack[n-1] = nil
	s.stack = s.stack[:n-1]
	top.finalize()
	return top
}

// Suspend stops the kernel from ticking the strand until it is resumed or terminated.
// A strand with a pending terminate keeps running so it can unwind.
func (s *Strand) Suspend() {
	if s.action.kind == actionTerminate {
		return
	}
	s.suspended = true
}

// Resume wakes a suspended strand, resuming its top frame with v.
// Only one resumption is accepted per suspension; later ones fail with [ErrNotSuspended].
func (s *Strand) Resume(v any) error {
	return s.resume(action{kind: actionValue, value: v})
}

// ResumeWithError wakes a suspended strand, resuming its top frame with err.
func (s *Strand) ResumeWithError(err error) error {
	if err == nil {
		return fmt.Errorf("%w: nil error", ErrInvalidArgument)
	}
	return s.resume(action{kind: actionError, err: err})
}

func (s *Strand) resume(a action) error {
	if s.exit != ExitNone || !s.suspended {
		return fmt.Errorf("%w: %s", ErrNotSuspended, s)
	}
	s.suspended = false
	s.setAction(a)
	s.schedule()
	return nil
}

// Terminate asks the strand to unwind. Each frame, starting from the top,
// releases its resources and passes termination on to the frame below,
// until the strand exits with [ExitTerminated].
//
// Terminate supersedes a resumption that has not been consumed yet.
// Calling it again, or on an exited strand, has no effect.
func (s *Strand) Terminate() {
	if s.exit != ExitNone || s.action.kind == actionTerminate {
		return
	}
	s.action = action{kind: actionTerminate}
	s.suspended = false
	s.schedule()
}

// schedule puts the strand on the kernel's run queue, unless it is
// already queued or mid-tick, in which case the tick loop picks it up.
func (s *Strand) schedule() {
	if s.running || s.queued {
		return
	}
	s.queued = true
	s.kernel.enqueue(s)
}

// tick drives the strand until it suspends or exits.
func (s *Strand) tick() {
	s.queued = false
	s.running = true
	defer func() {
		s.running = false
	}()

	for !s.suspended && s.exit == ExitNone {
		a := s.action
		s.action = action{}

		top := s.stack[len(s.stack)-1]
		switch a.kind {
		case actionCall:
			top.Call(s)
		case actionValue:
			top.ResumeWithValue(s, a.value)
		case actionError:
			top.ResumeWithError(s, a.err)
		case actionTerminate:
			top.Terminate(s)
		default:
			panic(fmt.Errorf("%w: %s", ErrNoPendingAction, s))
		}
	}
}

// finish pops the stack base and records the exit.
func (s *Strand) finish(kind ExitKind, v any, err error) {
	s.pop()
	s.action = action{}
	s.suspended = false
	s.exit, s.result, s.err = kind, v, err
	s.kernel.retire(s)

	logger := s.kernel.logger
	if kind == ExitFailure {
		logger.Debug("strand exited", slog.String("strand", s.String()), slog.String("exit", kind.String()), slog.Any("error", err))
	} else {
		logger.Debug("strand exited", slog.String("strand", s.String()), slog.String("exit", kind.String()))
	}

	observers, listeners := s.observers, s.listeners
	s.observers, s.listeners = nil, nil

	if kind == ExitFailure && len(observers) == 0 && len(listeners) == 0 {
		s.kernel.raise(&KernelPanic{Strand: s.id, Err: err})
		return
	}

	for _, o := range observers {
		s.notify(o)
	}
	for _, l := range listeners {
		if fn := l.fn; fn != nil {
			l.fn = nil
			s.guard(func() { fn(s) })
		}
	}
}

func (s *Strand) notify(o Observer) {
	s.guard(func() {
		switch s.exit {
		case ExitSuccess:
			o.OnSuccess(s.result)
		case ExitFailure:
			o.OnFailure(s.err)
		case ExitTerminated:
			o.OnTerminated()
		}
	})
}

// guard turns a panicking observer into a kernel panic.
func (s *Strand) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.kernel.raise(&KernelPanic{Strand: s.id, Err: asPanicError(r)})
		}
	}()
	fn()
}

// Observe registers o to be told how the strand exited.
// If it already has, o is notified immediately.
// An observed strand failing is not a kernel panic.
func (s *Strand) Observe(o Observer) {
	if s.exit != ExitNone {
		s.notify(o)
		return
	}
	s.observers = append(s.observers, o)
}

// OnExit registers fn to run once the strand exits, or immediately if it already has.
// The returned function unregisters fn; it is safe to call more than once.
func (s *Strand) OnExit(fn func(*Strand)) (cancel func()) {
	if s.exit != ExitNone {
		s.guard(func() { fn(s) })
		return func() {}
	}

	l := &exitListener{fn: fn}
	s.listeners = append(s.listeners, l)
	return func() {
		if l.fn == nil {
			return
		}
		l.fn = nil
		for i, other := range s.listeners {
			if other == l {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
	}
}

// Subscribe implements [Promise], so that a strand can be yielded to wait for its result.
// The subscription counts as an observer and is never removed; yielding the strand
// instead waits through an exit listener that goes away with the waiting frame.
func (s *Strand) Subscribe(fn func(any, error)) {
	s.Observe(ObserverFuncs{
		Success: func(v any) { fn(v, nil) },
		Failure: func(err error) { fn(nil, err) },
		Terminated: func() {
			fn(nil, ErrTerminated)
		},
	})
}
