package strands

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeout(t *testing.T) {
	testKernel(t, "blocking body times out", nil, time.Millisecond*10, func(t *testing.T, k *Kernel, y *Yielder) error {
		cleanedUp := false
		_, err := y.Yield(Timeout(time.Millisecond*10, GeneratorFunc(func(y *Yielder) (any, error) {
			defer func() {
				cleanedUp = true
			}()
			return y.Yield(Suspend(nil))
		})))

		var timeoutErr *TimeoutError
		if assert.ErrorAs(t, err, &timeoutErr) {
			assert.Equal(t, time.Millisecond*10, timeoutErr.Timeout)
		}
		// the body has unwound before the caller hears about the timeout
		assert.True(t, cleanedUp)
		return nil
	})

	testKernel(t, "instant body", nil, time.Millisecond, func(t *testing.T, k *Kernel, y *Yielder) error {
		got, err := y.Yield(Timeout(time.Second*10, Return(7)))
		assert.Equal(t, 7, got)
		assert.Equal(t, 0, k.events.Len(), "timer still pending")
		return err
	})

	errBoom := errors.New("boom")
	testKernel(t, "failing body", errBoom, time.Millisecond*10, func(t *testing.T, k *Kernel, y *Yielder) error {
		_, err := y.Yield(Timeout(time.Second, GeneratorFunc(func(y *Yielder) (any, error) {
			if _, err := y.Yield(Sleep(time.Millisecond * 10)); err != nil {
				return nil, err
			}
			return nil, errBoom
		})))
		assert.Equal(t, 0, k.events.Len(), "timer still pending")
		return err
	})

	testKernel(t, "body terminated elsewhere", ErrTerminated, 0, func(t *testing.T, k *Kernel, y *Yielder) error {
		_, err := y.Yield(Timeout(time.Second, Terminate()))
		return err
	})

	testKernel(t, "zero timeout", nil, 0, func(t *testing.T, k *Kernel, y *Yielder) error {
		_, err := y.Yield(Timeout(0, Sleep(time.Second)))
		var timeoutErr *TimeoutError
		assert.ErrorAs(t, err, &timeoutErr)
		return nil
	})
}

func TestTimeout_CallerTerminated(t *testing.T) {
	k := newTestKernel(t)
	cleanedUp := false

	_, err := waitFor(t, k, func(y *Yielder) (any, error) {
		caller := spawn(y, Timeout(time.Second, GeneratorFunc(func(y *Yielder) (any, error) {
			defer func() {
				cleanedUp = true
			}()
			return y.Yield(Suspend(nil))
		})))
		for range 2 {
			if _, err := y.Yield(Cooperate()); err != nil {
				return nil, err
			}
		}
		assert.Equal(t, 1, k.events.Len())
		assert.Len(t, k.Strands(), 3)

		caller.Terminate()
		_, err := y.Yield(caller)
		assert.ErrorIs(t, err, ErrTerminated)
		assert.Equal(t, 0, k.events.Len(), "timer still pending")
		assert.True(t, cleanedUp)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Empty(t, k.Strands())
}

func TestTimeout_AwaitedStrandFailsLater(t *testing.T) {
	errBoom := errors.New("boom")
	k := newTestKernel(t)

	var target *Strand
	_, err := waitFor(t, k, func(y *Yielder) (any, error) {
		target = spawn(y, GeneratorFunc(func(y *Yielder) (any, error) {
			if _, err := y.Yield(Sleep(time.Millisecond * 20)); err != nil {
				return nil, err
			}
			return nil, errBoom
		}))

		for range 3 {
			_, err := y.Yield(Timeout(time.Millisecond, target))
			var timeoutErr *TimeoutError
			assert.ErrorAs(t, err, &timeoutErr)
		}
		// abandoned waits leave nothing behind on the target
		assert.Empty(t, target.observers)
		assert.Empty(t, target.listeners)
		assert.False(t, target.Exited())

		_, err := y.Yield(Suspend(nil))
		return nil, err
	})

	// nobody observes the target any more, so its failure is fatal
	var kp *KernelPanic
	require.ErrorAs(t, err, &kp)
	assert.Equal(t, target.ID(), kp.Strand)
	assert.ErrorIs(t, err, errBoom)
}
