package strands

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_Result(t *testing.T) {
	fut1 := NewFuture[int]()
	_, err := fut1.Result()
	assert.ErrorIs(t, err, ErrNotReady)

	fut1.SetResult(10, nil)
	result, err := fut1.Result()
	assert.Equal(t, 10, result)
	assert.NoError(t, err)

	fut1.Cancel(nil)
	fut1.SetResult(42, errors.New("oops"))

	result, err = fut1.Result()
	assert.Equal(t, 10, result)
	assert.NoError(t, err)

	fut2 := NewFuture[int]()
	fut2.Cancel(nil)
	_, err = fut2.Result()
	assert.ErrorIs(t, err, context.Canceled)

	fut3 := NewFuture[int]()
	fut3.Cancel(sql.ErrNoRows)
	_, err = fut3.Result()
	assert.ErrorIs(t, err, sql.ErrNoRows)

	fut4 := NewFuture[int]()
	fut4.SetResult(42, sql.ErrConnDone)
	result, err = fut4.Result()
	assert.Equal(t, 42, result)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestFuture_Reject(t *testing.T) {
	fut := NewFuture[string]()
	fut.Reject(404)

	var rejected *RejectedError
	require.ErrorAs(t, fut.Err(), &rejected)
	assert.Equal(t, 404, rejected.Reason)

	fut2 := NewFuture[string]()
	fut2.Reject(sql.ErrNoRows)
	assert.Equal(t, sql.ErrNoRows, fut2.Err())
}

func TestFuture_Callbacks(t *testing.T) {
	fut := NewFuture[int]()
	var calls []string
	fut.AddResultCallback(func(v int, err error) {
		calls = append(calls, "result")
	}).AddDoneCallback(func(err error) {
		calls = append(calls, "done")
	})
	fut.Subscribe(func(v any, err error) {
		assert.Equal(t, 3, v)
		calls = append(calls, "subscribe")
	})
	assert.Empty(t, calls)

	fut.SetResult(3, nil)
	assert.Equal(t, []string{"result", "done", "subscribe"}, calls)

	// callbacks added afterwards run immediately
	fut.AddDoneCallback(func(err error) {
		calls = append(calls, "late")
	})
	assert.Equal(t, []string{"result", "done", "subscribe", "late"}, calls)
}

func TestFuture_Shield(t *testing.T) {
	inner := NewFuture[int]()
	shielded := inner.Shield()
	shielded.Cancel(nil)
	assert.False(t, inner.HasResult())

	shielded2 := inner.Shield()
	inner.SetResult(5, nil)
	result, err := shielded2.Result()
	assert.NoError(t, err)
	assert.Equal(t, 5, result)
	assert.Same(t, inner, inner.Shield())
}

func TestFuture_Await(t *testing.T) {
	testKernel(t, "settled later", nil, time.Millisecond*10, func(t *testing.T, k *Kernel, y *Yielder) error {
		fut := NewFuture[string]()
		k.Schedule(time.Millisecond*10, func() {
			fut.SetResult("done", nil)
		})
		got, err := Await[string](y, fut)
		assert.Equal(t, "done", got)
		return err
	})

	testKernel(t, "already settled", nil, 0, func(t *testing.T, k *Kernel, y *Yielder) error {
		fut := NewFuture[int]()
		fut.SetResult(1, nil)
		depth := y.Strand().Depth()
		got, err := Await[int](y, fut)
		assert.Equal(t, 1, got)
		assert.Equal(t, depth, y.Strand().Depth())
		return err
	})

	testKernel(t, "rejected", nil, 0, func(t *testing.T, k *Kernel, y *Yielder) error {
		fut := NewFuture[int]()
		k.Schedule(0, func() {
			fut.Reject("nope")
		})
		_, err := y.Yield(fut)
		var rejected *RejectedError
		if assert.ErrorAs(t, err, &rejected) {
			assert.Equal(t, "nope", rejected.Reason)
		}
		return nil
	})

	testKernel(t, "type mismatch", ErrInvalidArgument, 0, func(t *testing.T, k *Kernel, y *Yielder) error {
		fut := NewFuture[int]()
		fut.SetResult(1, nil)
		_, err := Await[string](y, fut)
		return err
	})
}

func TestFuture_AwaitTerminated(t *testing.T) {
	k := newTestKernel(t)
	fut := NewFuture[int]()

	_, err := waitFor(t, k, func(y *Yielder) (any, error) {
		waiter := spawn(y, fut)
		if _, err := y.Yield(Cooperate()); err != nil {
			return nil, err
		}
		waiter.Terminate()
		_, err := y.Yield(waiter)
		assert.ErrorIs(t, err, ErrTerminated)
		return nil, nil
	})
	require.NoError(t, err)

	// the waiter cancelled the future on its way out
	assert.ErrorIs(t, fut.Err(), ErrTerminated)
}

func TestGo(t *testing.T) {
	testKernel(t, "result", nil, time.Millisecond*20, func(t *testing.T, k *Kernel, y *Yielder) error {
		got, err := Await[string](y, Go(context.Background(), k, func(ctx context.Context) (string, error) {
			time.Sleep(time.Millisecond * 20)
			return "hello", nil
		}))
		assert.Equal(t, "hello", got)
		return err
	})

	testKernel(t, "concurrent", nil, time.Millisecond*20, func(t *testing.T, k *Kernel, y *Yielder) error {
		futs := make([]any, 5)
		for i := range futs {
			futs[i] = Go(context.Background(), k, func(ctx context.Context) (int, error) {
				time.Sleep(time.Millisecond * 20)
				return i, nil
			})
		}
		got, err := y.Yield(futs)
		assert.Equal(t, []any{0, 1, 2, 3, 4}, got)
		return err
	})

	testKernel(t, "cancelled by termination", nil, 0, func(t *testing.T, k *Kernel, y *Yielder) error {
		started := make(chan struct{})
		stopped := make(chan error, 1)
		fut := Go(context.Background(), k, func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			stopped <- context.Cause(ctx)
			return 0, ctx.Err()
		})
		<-started

		_, err := y.Yield(Timeout(time.Millisecond*5, fut))
		var timeoutErr *TimeoutError
		assert.ErrorAs(t, err, &timeoutErr)
		assert.ErrorIs(t, <-stopped, ErrTerminated)

		// give the goroutine time to hand its result back before the kernel closes
		_, err = y.Yield(Sleep(time.Millisecond * 5))
		return err
	})
}
