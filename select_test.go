package strands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawn(y *Yielder, v any) *Strand {
	s, err := Await[*Strand](y, Execute(v))
	if err != nil {
		panic(err)
	}
	return s
}

func TestSelect(t *testing.T) {
	testKernel(t, "first to exit", nil, time.Millisecond*10, func(t *testing.T, k *Kernel, y *Yielder) error {
		slow := spawn(y, Sleep(time.Millisecond*30))
		fast := spawn(y, Sleep(time.Millisecond*10))

		exited, err := Await[[]*Strand](y, Select(slow, fast))
		assert.Equal(t, []*Strand{fast}, exited)
		// listeners are removed once the select completes
		assert.Empty(t, slow.listeners)

		slow.Terminate()
		return err
	})

	testKernel(t, "exits on the same pass are collected", nil, 0, func(t *testing.T, k *Kernel, y *Yielder) error {
		s1 := spawn(y, Return(1))
		s2 := spawn(y, Return(2))
		s3 := spawn(y, Sleep(time.Millisecond*10))

		exited, err := Await[[]*Strand](y, Select(s3, s2, s1))
		assert.Equal(t, []*Strand{s1, s2}, exited)
		return err
	})

	testKernel(t, "already exited does not suspend", nil, 0, func(t *testing.T, k *Kernel, y *Yielder) error {
		done := spawn(y, nil)
		pending := spawn(y, Sleep(time.Millisecond*10))
		if _, err := y.Yield(Sleep(time.Millisecond)); err != nil {
			return err
		}
		assert.True(t, done.Exited())

		depth := y.Strand().Depth()
		exited, err := Await[[]*Strand](y, Select(pending, done, done))
		assert.Equal(t, []*Strand{done}, exited)
		assert.Equal(t, depth, y.Strand().Depth())
		assert.Empty(t, pending.listeners)
		return err
	})
}

func TestSelect_CallerTerminated(t *testing.T) {
	k := newTestKernel(t)
	_, err := waitFor(t, k, func(y *Yielder) (any, error) {
		target := spawn(y, Suspend(nil))
		selecting := spawn(y, Select(target))
		if _, err := y.Yield(Cooperate()); err != nil {
			return nil, err
		}
		assert.Len(t, target.listeners, 1)

		selecting.Terminate()
		_, err := y.Yield(selecting)
		assert.ErrorIs(t, err, ErrTerminated)
		assert.Empty(t, target.listeners)
		assert.False(t, target.Exited())

		target.Terminate()
		return nil, nil
	})
	require.NoError(t, err)
}
