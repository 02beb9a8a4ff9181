// Package strands implements a cooperative scheduler for strands:
// lightweight threads of execution built from stacks of resumable coroutines,
// multiplexed over a single-threaded event loop.
package strands

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kernel owns a set of strands and drives them, together with
// the timers and IO readiness events they wait on.
//
// Apart from [Kernel.Submit] and [Kernel.Stop], Kernel must only be used
// from the goroutine that calls [Kernel.Run].
type Kernel struct {
	id     uuid.UUID
	logger *slog.Logger
	api    *API

	events EventQueue
	io     *ioMux
	poller Poller

	nextID    StrandID
	live      map[StrandID]*Strand
	runQueue  []*Strand
	afterTick []func()

	fromThread chan func()
	stopped    atomic.Bool
	panicErr   error
	running    bool
	closed     bool
}

// NewKernel constructs a new [Kernel].
func NewKernel(opts ...KernelOption) (*Kernel, error) {
	cfg, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}

	poller, err := cfg.newPoller()
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}

	id := uuid.New()
	k := &Kernel{
		id:         id,
		logger:     cfg.logger.With(slog.String("kernel", id.String())),
		api:        NewAPI(),
		io:         newIOMux(poller),
		poller:     poller,
		live:       make(map[StrandID]*Strand),
		fromThread: make(chan func(), cfg.threadQueueSize),
	}
	for name, handler := range cfg.handlers {
		k.api.Register(name, handler)
	}
	return k, nil
}

// ID returns the kernel's instance id, which also tags its log records.
func (k *Kernel) ID() uuid.UUID {
	return k.id
}

// API returns the kernel's system call table.
func (k *Kernel) API() *API {
	return k.api
}

// Logger returns the kernel's logger.
func (k *Kernel) Logger() *slog.Logger {
	return k.logger
}

// Execute spawns a new strand running v (see [Adapt]).
// The strand starts on the kernel's next pass.
func (k *Kernel) Execute(v any) *Strand {
	k.nextID++
	s := newStrand(k, k.nextID)
	k.live[s.id] = s
	s.Call(v)
	s.schedule()
	k.logger.Debug("strand spawned", slog.String("strand", s.String()))
	return s
}

// Strands returns the live strands in spawn order.
func (k *Kernel) Strands() []*Strand {
	strands := make([]*Strand, 0, len(k.live))
	for _, s := range k.live {
		strands = append(strands, s)
	}
	slices.SortFunc(strands, func(a, b *Strand) int {
		return cmp.Compare(a.id, b.id)
	})
	return strands
}

func (k *Kernel) enqueue(s *Strand) {
	k.runQueue = append(k.runQueue, s)
}

func (k *Kernel) retire(s *Strand) {
	delete(k.live, s.id)
}

// raise records a kernel panic. Only the first one is kept.
func (k *Kernel) raise(err error) {
	if k.panicErr != nil {
		return
	}
	k.panicErr = err
	k.logger.Error("kernel panic", slog.Any("error", err))
}

// afterCurrentTick runs fn once the strand being ticked has suspended or exited.
func (k *Kernel) afterCurrentTick(fn func()) {
	k.afterTick = append(k.afterTick, fn)
}

// Schedule runs fn on the kernel's goroutine once delay has elapsed.
func (k *Kernel) Schedule(delay time.Duration, fn func()) *Callback {
	return k.events.Schedule(delay, fn)
}

// RegisterRead runs fn once res is readable. Registrations for the same resource
// queue up, and each readiness event only fires the earliest one.
func (k *Kernel) RegisterRead(res Resource, fn func()) (cancel func(), err error) {
	return k.io.register(res.Fd(), EventRead, fn)
}

// RegisterWrite runs fn once res is writable. See [Kernel.RegisterRead].
func (k *Kernel) RegisterWrite(res Resource, fn func()) (cancel func(), err error) {
	return k.io.register(res.Fd(), EventWrite, fn)
}

// Submit schedules fn to run on the kernel's goroutine. It is safe to call from any
// other goroutine, and blocks while the threadsafe queue is full
// (see [WithThreadsafeQueueSize]) until the kernel drains it.
// Code running on the kernel's goroutine must use [Kernel.Schedule] instead,
// since nothing would drain the queue while it blocks.
func (k *Kernel) Submit(fn func()) {
	k.fromThread <- fn
	if err := k.poller.WakeupThreadsafe(); err != nil {
		k.logger.Warn("could not wake up kernel from thread", slog.Any("error", err))
	}
}

// Stop makes [Kernel.Run] return after the current pass. It is safe to call from any goroutine.
func (k *Kernel) Stop() {
	k.stopped.Store(true)
	if err := k.poller.WakeupThreadsafe(); err != nil {
		k.logger.Warn("could not wake up kernel for stop", slog.Any("error", err))
	}
}

// Run drives the kernel until no strand, timer or IO registration remains,
// [Kernel.Stop] is called, ctx is done or a kernel panic occurs.
//
// A strand suspended with nothing that will ever resume it keeps Run blocked.
//
// A kernel panic is final: later calls return it without running anything,
// and the kernel should be closed.
func (k *Kernel) Run(ctx context.Context) error {
	if k.closed {
		return ErrKernelClosed
	}
	if k.running {
		return ErrKernelRunning
	}
	if k.panicErr != nil {
		return k.panicErr
	}
	k.running = true
	defer func() {
		k.running = false
		k.stopped.Store(false)
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = k.poller.WakeupThreadsafe()
	})
	defer stop()

	for {
		k.runThreadCallbacks()
		if err := k.runPass(); err != nil {
			return err
		}
		k.events.Tick()
		if k.panicErr != nil {
			return k.panicErr
		}

		if k.stopped.Load() {
			return nil
		}
		if err := context.Cause(ctx); err != nil {
			return err
		}
		if !k.hasWork() {
			return nil
		}

		if _, err := k.poller.Wait(k.pollTimeout(ctx), k.io.dispatch); err != nil {
			return err
		}
		if k.panicErr != nil {
			return k.panicErr
		}
	}
}

func (k *Kernel) runThreadCallbacks() {
	for {
		select {
		case fn := <-k.fromThread:
			fn()
		default:
			return
		}
	}
}

// runPass ticks every strand that was ready when the pass started, in order.
// Strands readied during the pass run on the next one.
func (k *Kernel) runPass() error {
	queue := k.runQueue
	k.runQueue = nil

	for i, s := range queue {
		if s.exit != ExitNone || s.suspended {
			s.queued = false
			continue
		}

		k.tick(s)
		hooks := k.afterTick
		k.afterTick = nil
		for _, fn := range hooks {
			fn()
		}

		if k.panicErr != nil {
			k.runQueue = append(queue[i+1:], k.runQueue...)
			return k.panicErr
		}
	}
	return nil
}

func (k *Kernel) tick(s *Strand) {
	defer func() {
		if r := recover(); r != nil {
			err := asPanicError(r)
			var kp *KernelPanic
			if !errors.As(err, &kp) {
				err = &KernelPanic{Strand: s.id, Err: err}
			}
			k.raise(err)
		}
	}()
	s.tick()
}

func (k *Kernel) hasWork() bool {
	return len(k.runQueue) > 0 || k.events.Len() > 0 || k.io.Len() > 0 || len(k.live) > 0
}

// pollTimeout is zero while strands are runnable, the time until the next timer
// if there is one, and infinite otherwise, bounded by the context's deadline.
func (k *Kernel) pollTimeout(ctx context.Context) time.Duration {
	timeout := time.Duration(-1)
	if len(k.runQueue) > 0 || len(k.fromThread) > 0 {
		timeout = 0
	} else if next, ok := k.events.Next(); ok {
		timeout = next
	}

	if deadline, ok := ctx.Deadline(); ok {
		untilDeadline := max(time.Until(deadline), 0)
		if timeout < 0 || untilDeadline < timeout {
			timeout = untilDeadline
		}
	}
	return timeout
}

// WaitFor spawns a strand running v and drives the kernel until that strand exits,
// returning its result. Termination is reported as [ErrTerminated].
func (k *Kernel) WaitFor(ctx context.Context, v any) (any, error) {
	if k.running {
		return nil, ErrKernelRunning
	}
	if k.closed {
		return nil, ErrKernelClosed
	}
	if k.panicErr != nil {
		return nil, k.panicErr
	}

	s := k.Execute(v)
	cancel := s.OnExit(func(*Strand) {
		k.Stop()
	})
	defer cancel()

	if err := k.Run(ctx); err != nil {
		return nil, err
	}
	if !s.Exited() {
		return nil, fmt.Errorf("%w: %s has not exited", ErrNotReady, s)
	}
	return s.Result()
}

// Close terminates every live strand, lets them unwind and releases the poller.
func (k *Kernel) Close() error {
	if k.closed {
		return ErrKernelClosed
	}
	if k.running {
		return ErrKernelRunning
	}

	// a panic returned from Run has already been reported
	k.panicErr = nil
	for _, s := range k.Strands() {
		s.Terminate()
	}

	var errs []error
	for len(k.runQueue) > 0 {
		if err := k.runPass(); err != nil {
			k.logger.Warn("kernel panic while closing", slog.Any("error", err))
			errs = append(errs, err)
			k.panicErr = nil
		}
	}

	k.closed = true
	return errors.Join(append(errs, k.poller.Close())...)
}
