package strands

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Names of the built-in kernel operations.
const (
	OpCooperate = "cooperate"
	OpSleep     = "sleep"
	OpSuspend   = "suspend"
	OpTimeout   = "timeout"
	OpSelect    = "select"
	OpAll       = "all"
	OpExecute   = "execute"
	OpTerminate = "terminate"
	OpReturn    = "return"
	OpThrow     = "throw"
	OpReadable  = "readable"
	OpWritable  = "writable"
)

// Handler implements a kernel operation. It manipulates the calling strand
// directly: it must leave the strand with a pending action or suspended,
// typically by completing call (through [Strand.Return] or [Strand.Throw]),
// by pushing another frame or by suspending.
//
// A returned error is thrown to the caller as an [*OperationError];
// handlers return errors only before touching the strand.
type Handler func(s *Strand, call *SystemCall) error

// API is a table of kernel operations, keyed by name.
type API struct {
	handlers map[string]Handler
}

// NewAPI returns a table holding the built-in operations.
func NewAPI() *API {
	return &API{
		handlers: map[string]Handler{
			OpCooperate: cooperate,
			OpSleep:     sleep,
			OpSuspend:   suspend,
			OpTimeout:   timeout,
			OpSelect:    selectStrands,
			OpAll:       all,
			OpExecute:   execute,
			OpTerminate: terminate,
			OpReturn:    returnValue,
			OpThrow:     throwError,
			OpReadable:  waitReadable,
			OpWritable:  waitWritable,
		},
	}
}

// Register adds or replaces an operation.
func (a *API) Register(name string, handler Handler) {
	a.handlers[name] = handler
}

// Lookup returns the handler registered under name.
func (a *API) Lookup(name string) (Handler, bool) {
	handler, ok := a.handlers[name]
	return handler, ok
}

// Names returns the registered operation names in sorted order.
func (a *API) Names() []string {
	return slices.Sorted(maps.Keys(a.handlers))
}

// SystemCall is a frame that invokes a named kernel operation.
// Yield one from a generator to perform the operation.
//
// A SystemCall must not be on more than one stack at a time.
type SystemCall struct {
	Name string
	Args []any

	finalizers []func()
}

func (c *SystemCall) String() string {
	return fmt.Sprintf("%s%v", c.Name, c.Args)
}

// OnFinalize registers fn to run when the frame is popped,
// however the operation ends.
func (c *SystemCall) OnFinalize(fn func()) {
	c.finalizers = append(c.finalizers, fn)
}

func (c *SystemCall) Call(s *Strand) {
	c.finalizers = nil

	handler, ok := s.kernel.api.Lookup(c.Name)
	if !ok {
		s.Throw(&OperationError{Op: c.Name, Err: ErrUnknownOperation})
		return
	}
	if err := handler(s, c); err != nil {
		if _, ok := err.(*OperationError); !ok {
			err = &OperationError{Op: c.Name, Err: err}
		}
		s.Throw(err)
	}
}

func (c *SystemCall) ResumeWithValue(s *Strand, v any) {
	s.Return(v)
}

func (c *SystemCall) ResumeWithError(s *Strand, err error) {
	s.Throw(err)
}

func (c *SystemCall) Terminate(s *Strand) {
	s.pop()
	s.Terminate()
}

func (c *SystemCall) finalize() {
	finalizers := c.finalizers
	c.finalizers = nil
	for _, fn := range finalizers {
		fn()
	}
}

// Arg returns the i-th argument as a T.
func Arg[T any](call *SystemCall, i int) (T, error) {
	var zero T
	if i >= len(call.Args) {
		return zero, fmt.Errorf("%w: missing argument %d", ErrInvalidArgument, i)
	}
	v, ok := call.Args[i].(T)
	if !ok {
		return zero, fmt.Errorf("%w: argument %d is %T, want %T", ErrInvalidArgument, i, call.Args[i], zero)
	}
	return v, nil
}

// Cooperate yields to the scheduler: the strand resumes on the next pass,
// after every strand that was already ready.
func Cooperate() *SystemCall {
	return &SystemCall{Name: OpCooperate}
}

// Sleep suspends the strand for d.
func Sleep(d time.Duration) *SystemCall {
	return &SystemCall{Name: OpSleep, Args: []any{d}}
}

// Suspend suspends the strand until something resumes or terminates it.
// If fn is not nil it receives the strand, so it can arrange the resumption.
func Suspend(fn func(*Strand)) *SystemCall {
	return &SystemCall{Name: OpSuspend, Args: []any{fn}}
}

// Timeout runs v on a child strand and returns its result. If the child has not
// exited after d, it is terminated and the caller receives a [*TimeoutError]
// once the child has unwound.
func Timeout(d time.Duration, v any) *SystemCall {
	return &SystemCall{Name: OpTimeout, Args: []any{d, v}}
}

// Select waits until at least one of strands has exited and returns
// the exited ones as a []*Strand. It does not suspend if one already has.
func Select(strands ...*Strand) *SystemCall {
	args := make([]any, len(strands))
	for i, s := range strands {
		args[i] = s
	}
	return &SystemCall{Name: OpSelect, Args: args}
}

// All runs each of vs on its own strand and returns their results as a []any in input order.
// The first failure or termination terminates the remaining strands and,
// once they have exited, is thrown to the caller.
func All(vs ...any) *SystemCall {
	return &SystemCall{Name: OpAll, Args: vs}
}

// Execute spawns v on a new strand and returns the *Strand without waiting for it.
func Execute(v any) *SystemCall {
	return &SystemCall{Name: OpExecute, Args: []any{v}}
}

// Terminate terminates the calling strand.
func Terminate() *SystemCall {
	return &SystemCall{Name: OpTerminate}
}

// Return completes the frame with v.
func Return(v any) *SystemCall {
	return &SystemCall{Name: OpReturn, Args: []any{v}}
}

// Throw completes the frame with err.
func Throw(err error) *SystemCall {
	return &SystemCall{Name: OpThrow, Args: []any{err}}
}

// Readable suspends the strand until res is readable.
func Readable(res Resource) *SystemCall {
	return &SystemCall{Name: OpReadable, Args: []any{res}}
}

// Writable suspends the strand until res is writable.
func Writable(res Resource) *SystemCall {
	return &SystemCall{Name: OpWritable, Args: []any{res}}
}

func cooperate(s *Strand, call *SystemCall) error {
	released := false
	call.OnFinalize(func() {
		released = true
	})

	s.Suspend()
	// resuming mid-tick would keep the strand running,
	// so wait until it has handed control back
	s.kernel.afterCurrentTick(func() {
		if !released {
			_ = s.Resume(nil)
		}
	})
	return nil
}

func sleep(s *Strand, call *SystemCall) error {
	d, err := Arg[time.Duration](call, 0)
	if err != nil {
		return err
	}

	timer := s.kernel.Schedule(d, func() {
		_ = s.Resume(nil)
	})
	call.OnFinalize(func() {
		timer.Cancel()
	})
	s.Suspend()
	return nil
}

func suspend(s *Strand, call *SystemCall) error {
	var fn func(*Strand)
	if len(call.Args) > 0 && call.Args[0] != nil {
		var err error
		if fn, err = Arg[func(*Strand)](call, 0); err != nil {
			return err
		}
	}

	s.Suspend()
	if fn != nil {
		fn(s)
	}
	return nil
}

func timeout(s *Strand, call *SystemCall) error {
	d, err := Arg[time.Duration](call, 0)
	if err != nil {
		return err
	}
	if len(call.Args) < 2 {
		return fmt.Errorf("%w: nothing to run", ErrInvalidArgument)
	}

	s.Call(newTimeout(d, call.Args[1]))
	return nil
}

func selectStrands(s *Strand, call *SystemCall) error {
	if len(call.Args) == 0 {
		return fmt.Errorf("%w: no strands to select from", ErrInvalidArgument)
	}
	strands := make([]*Strand, len(call.Args))
	for i := range call.Args {
		strand, err := Arg[*Strand](call, i)
		if err != nil {
			return err
		}
		if strand == nil {
			return fmt.Errorf("%w: nil strand at %d", ErrInvalidArgument, i)
		}
		strands[i] = strand
	}

	s.Call(newSelect(strands))
	return nil
}

func all(s *Strand, call *SystemCall) error {
	s.Call(waitAll(call.Args))
	return nil
}

func execute(s *Strand, call *SystemCall) error {
	if len(call.Args) == 0 {
		return fmt.Errorf("%w: nothing to execute", ErrInvalidArgument)
	}
	s.Return(s.kernel.Execute(call.Args[0]))
	return nil
}

func terminate(s *Strand, _ *SystemCall) error {
	s.Terminate()
	return nil
}

func returnValue(s *Strand, call *SystemCall) error {
	var v any
	if len(call.Args) > 0 {
		v = call.Args[0]
	}
	s.Return(v)
	return nil
}

func throwError(s *Strand, call *SystemCall) error {
	err, argErr := Arg[error](call, 0)
	if argErr != nil {
		return argErr
	}
	s.Throw(err)
	return nil
}

func waitReadable(s *Strand, call *SystemCall) error {
	return waitIO(s, call, EventRead)
}

func waitWritable(s *Strand, call *SystemCall) error {
	return waitIO(s, call, EventWrite)
}

func waitIO(s *Strand, call *SystemCall, direction IOEvents) error {
	res, err := Arg[Resource](call, 0)
	if err != nil {
		return err
	}

	register := s.kernel.RegisterRead
	if direction == EventWrite {
		register = s.kernel.RegisterWrite
	}
	cancel, err := register(res, func() {
		_ = s.Resume(nil)
	})
	if err != nil {
		return err
	}
	call.OnFinalize(cancel)
	s.Suspend()
	return nil
}
