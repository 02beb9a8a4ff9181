package strands

import (
	"log/slog"
	"slices"
)

// waitAll runs each value on its own strand and collects the results in order.
// No child outlives the returned generator: on failure, termination of a child
// or termination of the caller, the remaining children are terminated.
func waitAll(values []any) GeneratorFunc {
	return func(y *Yielder) (any, error) {
		results := make([]any, len(values))
		if len(values) == 0 {
			return results, nil
		}

		children := make([]*Strand, 0, len(values))
		defer func() {
			for _, child := range children {
				child.Terminate()
			}
		}()

		index := make(map[*Strand]int, len(values))
		for i, v := range values {
			child, err := Await[*Strand](y, Execute(v))
			if err != nil {
				return nil, err
			}
			// failures are handled here, not by the kernel
			child.Observe(ObserverFuncs{})
			children = append(children, child)
			index[child] = i
		}

		pending := slices.Clone(children)
		for len(pending) > 0 {
			exited, err := Await[[]*Strand](y, Select(pending...))
			if err != nil {
				return nil, err
			}

			for _, child := range exited {
				v, err := child.Result()
				if err != nil {
					return nil, abortAll(y, pending, err)
				}
				results[index[child]] = v
			}
			pending = slices.DeleteFunc(pending, (*Strand).Exited)
		}
		return results, nil
	}
}

// abortAll terminates the pending children and waits for them to exit before
// handing back cause.
func abortAll(y *Yielder, pending []*Strand, cause error) error {
	y.Strand().Kernel().logger.Debug("terminating remaining strands",
		slog.String("strand", y.Strand().String()), slog.Any("cause", cause))

	for _, child := range pending {
		child.Terminate()
	}
	for {
		pending = slices.DeleteFunc(pending, (*Strand).Exited)
		if len(pending) == 0 {
			return cause
		}
		if _, err := y.Yield(Select(pending...)); err != nil {
			return err
		}
	}
}
