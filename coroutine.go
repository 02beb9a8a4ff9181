package strands

import (
	"fmt"
	"iter"
)

// Coroutine is one frame on a strand's call stack.
//
// Exactly one entry point is invoked per step, and only on the frame at the top
// of the stack. Each entry point must leave the strand with either a pending
// action (by calling [Strand.Call], [Strand.Return], [Strand.Throw] or
// [Strand.Terminate]) or suspended.
//
// The set of implementations is closed: values of other types become
// coroutines through [Adapt].
type Coroutine interface {
	Call(s *Strand)
	ResumeWithValue(s *Strand, v any)
	ResumeWithError(s *Strand, err error)
	Terminate(s *Strand)

	// finalize runs exactly once, when the frame is popped.
	finalize()
}

// CoroutineProvider is implemented by types that know how to turn themselves
// into something [Adapt] accepts.
type CoroutineProvider interface {
	Coroutine() any
}

// Promise is an untyped view of a result that settles later.
// Both [*Future] and [*Strand] are promises.
type Promise interface {
	// Subscribe registers fn to run once the promise settles,
	// or immediately if it already has.
	Subscribe(fn func(value any, err error))
}

// Cancellable is implemented by promises that can be cancelled
// when the strand awaiting them is terminated.
type Cancellable interface {
	Cancel(err error)
}

const maxProviderDepth = 16

// Adapt converts v into a [Coroutine]. In order of precedence:
//   - a Coroutine is returned unchanged
//   - a [CoroutineProvider] is asked for its coroutine, which is adapted in turn
//   - a [GeneratorFunc] or iter.Seq[any] becomes a generator-backed coroutine
//   - a [Promise] becomes a coroutine that suspends until it settles
//   - a []any becomes an [All] system call over the same slice
//   - nil becomes a [Cooperate] system call
//
// Anything else fails with an [*AdaptError].
func Adapt(v any) (Coroutine, error) {
	for depth := 0; ; depth++ {
		provider, ok := v.(CoroutineProvider)
		if !ok {
			break
		}
		if _, isCoroutine := v.(Coroutine); isCoroutine {
			break
		}
		if depth == maxProviderDepth {
			return nil, &AdaptError{Value: describe(v), Err: ErrProviderDepth}
		}
		v = provider.Coroutine()
	}

	switch v := v.(type) {
	case nil:
		return Cooperate(), nil
	case Coroutine:
		return v, nil
	case GeneratorFunc:
		return newGenerator(v), nil
	case func(*Yielder) (any, error):
		return newGenerator(v), nil
	case iter.Seq[any]:
		return newGenerator(seqGenerator(v)), nil
	case func(func(any) bool):
		return newGenerator(seqGenerator(v)), nil
	case Promise:
		return newPromiseCoroutine(v), nil
	case []any:
		return &SystemCall{Name: OpAll, Args: v}, nil
	default:
		return nil, &AdaptError{Value: describe(v), Err: ErrCannotAdapt}
	}
}

func describe(v any) string {
	return fmt.Sprintf("%T(%v)", v, v)
}

// stackBase is the bottom frame of every strand.
// Whatever reaches it becomes the strand's exit record.
type stackBase struct{}

func (b *stackBase) Call(s *Strand) {
	s.finish(ExitSuccess, nil, nil)
}

func (b *stackBase) ResumeWithValue(s *Strand, v any) {
	s.finish(ExitSuccess, v, nil)
}

func (b *stackBase) ResumeWithError(s *Strand, err error) {
	s.finish(ExitFailure, nil, err)
}

func (b *stackBase) Terminate(s *Strand) {
	s.finish(ExitTerminated, nil, ErrTerminated)
}

func (b *stackBase) finalize() {}

// failedCall stands in for a value that could not be adapted,
// delivering the adaptation error to the frame that pushed it.
type failedCall struct {
	err error
}

func (f *failedCall) Call(s *Strand) {
	s.Throw(f.err)
}

func (f *failedCall) ResumeWithValue(s *Strand, v any) {
	s.Return(v)
}

func (f *failedCall) ResumeWithError(s *Strand, err error) {
	s.Throw(err)
}

func (f *failedCall) Terminate(s *Strand) {
	s.pop()
	s.Terminate()
}

func (f *failedCall) finalize() {}
