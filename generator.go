package strands

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

// GeneratorFunc is the body of a generator-backed coroutine.
// It yields values to its strand through y, and its return value
// completes the frame.
type GeneratorFunc func(y *Yielder) (any, error)

// Yielder is handed to a [GeneratorFunc] to suspend it in favour of a yielded value.
type Yielder struct {
	strand *Strand
	yield  func(any) bool

	sent   any
	thrown error
}

// Yield pushes v (after [Adapt]) onto the strand and suspends the generator
// until that frame completes, returning its value or error.
//
// Once the strand is terminated, Yield returns [ErrTerminated] immediately;
// the generator should return, letting its deferred cleanup run.
func (y *Yielder) Yield(v any) (any, error) {
	if !y.yield(v) {
		return nil, ErrTerminated
	}
	v, err := y.sent, y.thrown
	y.sent, y.thrown = nil, nil
	return v, err
}

// Strand returns the strand the generator is running on.
func (y *Yielder) Strand() *Strand {
	return y.strand
}

// Await yields v and converts the result to T.
func Await[T any](y *Yielder, v any) (T, error) {
	var zero T
	res, err := y.Yield(v)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: awaited %T, want %T", ErrInvalidArgument, res, zero)
	}
	return typed, nil
}

// generatorCoroutine drives a GeneratorFunc through iter.Pull.
type generatorCoroutine struct {
	body GeneratorFunc
	y    *Yielder

	next func() (any, bool)
	stop func()

	result any
	err    error
}

func newGenerator(body GeneratorFunc) *generatorCoroutine {
	return &generatorCoroutine{body: body}
}

func (g *generatorCoroutine) start(s *Strand) {
	g.y = &Yielder{strand: s}
	g.next, g.stop = iter.Pull(func(yield func(any) bool) {
		g.y.yield = yield
		defer func() {
			if r := recover(); r != nil {
				g.result, g.err = nil, &PanicError{Value: r}
			}
		}()
		g.result, g.err = g.body(g.y)
	})
}

// advance runs the body up to its next yield, pushing the yielded value,
// or completes the frame if the body returned.
func (g *generatorCoroutine) advance(s *Strand) {
	v, ok := g.next()
	if ok {
		s.Call(v)
		return
	}

	if g.err != nil {
		s.Throw(g.err)
	} else {
		s.Return(g.result)
	}
}

func (g *generatorCoroutine) Call(s *Strand) {
	g.start(s)
	g.advance(s)
}

func (g *generatorCoroutine) ResumeWithValue(s *Strand, v any) {
	g.y.sent = v
	g.advance(s)
}

func (g *generatorCoroutine) ResumeWithError(s *Strand, err error) {
	g.y.thrown = err
	g.advance(s)
}

func (g *generatorCoroutine) Terminate(s *Strand) {
	// stopping makes the pending Yield return ErrTerminated,
	// so the body unwinds before the frames below are terminated
	g.release()
	var panicErr *PanicError
	if errors.As(g.err, &panicErr) {
		s.Kernel().logger.Warn("generator failed during termination",
			slog.String("strand", s.String()), slog.Any("error", g.err))
	}
	s.pop()
	s.Terminate()
}

func (g *generatorCoroutine) release() {
	if g.stop != nil {
		stop := g.stop
		g.next, g.stop = nil, nil
		stop()
	}
}

func (g *generatorCoroutine) finalize() {
	g.release()
}

// seqGenerator adapts a plain iterator: each element is yielded to the strand,
// resumption values are discarded and an error stops the iteration.
func seqGenerator(seq iter.Seq[any]) GeneratorFunc {
	return func(y *Yielder) (any, error) {
		for v := range seq {
			if _, err := y.Yield(v); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}
