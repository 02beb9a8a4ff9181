package strands_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arvidfm/strands"
)

func Example() {
	k, _ := strands.NewKernel()
	defer k.Close()

	result, _ := k.WaitFor(context.Background(), strands.GeneratorFunc(func(y *strands.Yielder) (any, error) {
		task, _ := strands.Await[*strands.Strand](y, strands.Execute(strands.GeneratorFunc(func(y *strands.Yielder) (any, error) {
			for i := range 3 {
				fmt.Printf("in subtask: %d\n", i)
				_, _ = y.Yield(strands.Cooperate())
			}
			return 42, nil
		})))

		for j := range 3 {
			fmt.Printf("in main strand: %d\n", j)
			_, _ = y.Yield(strands.Cooperate())
		}
		return y.Yield(task)
	}))
	fmt.Printf("task result: %v\n", result)
	// Output:
	// in main strand: 0
	// in subtask: 0
	// in main strand: 1
	// in subtask: 1
	// in main strand: 2
	// in subtask: 2
	// task result: 42
}

func ExampleAll() {
	k, _ := strands.NewKernel()
	defer k.Close()

	work := func(d time.Duration, value int) strands.GeneratorFunc {
		return func(y *strands.Yielder) (any, error) {
			if _, err := y.Yield(strands.Sleep(d)); err != nil {
				return nil, err
			}
			fmt.Println(value)
			return value * 2, nil
		}
	}

	result, err := k.WaitFor(context.Background(), strands.All(
		work(time.Millisecond*20, 1),
		work(time.Millisecond*10, 2),
		work(0, 3),
	))
	fmt.Println(result, err)
	// Output:
	// 3
	// 2
	// 1
	// [2 4 6] <nil>
}

func ExampleTimeout() {
	k, _ := strands.NewKernel()
	defer k.Close()

	_, err := k.WaitFor(context.Background(), strands.Timeout(time.Millisecond*10, strands.Sleep(time.Second)))
	var timeoutErr *strands.TimeoutError
	if errors.As(err, &timeoutErr) {
		fmt.Println(err)
	}
	// Output:
	// operation timed out after 10ms
}

func ExampleKernel_Submit() {
	k, _ := strands.NewKernel()
	defer k.Close()

	result, _ := k.WaitFor(context.Background(), strands.GeneratorFunc(func(y *strands.Yielder) (any, error) {
		fut := strands.NewFuture[string]()
		go func() {
			k.Submit(func() {
				fut.SetResult("from another goroutine", nil)
			})
		}()
		return y.Yield(fut)
	}))
	fmt.Println(result)
	// Output:
	// from another goroutine
}
