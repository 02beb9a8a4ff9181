package strands

import (
	"errors"
	"log/slog"
)

// kernelOptions holds configuration for Kernel creation.
type kernelOptions struct {
	logger          *slog.Logger
	newPoller       func() (Poller, error)
	handlers        map[string]Handler
	threadQueueSize int
}

// KernelOption configures a [Kernel].
type KernelOption interface {
	applyKernel(*kernelOptions) error
}

type kernelOptionFunc func(*kernelOptions) error

func (f kernelOptionFunc) applyKernel(opts *kernelOptions) error {
	return f(opts)
}

// WithLogger sets the logger used for scheduler diagnostics.
// Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) KernelOption {
	return kernelOptionFunc(func(opts *kernelOptions) error {
		if logger == nil {
			return errors.New("strands: nil logger")
		}
		opts.logger = logger
		return nil
	})
}

// WithPoller replaces the platform poller backing the kernel's IO multiplexer.
func WithPoller(newPoller func() (Poller, error)) KernelOption {
	return kernelOptionFunc(func(opts *kernelOptions) error {
		if newPoller == nil {
			return errors.New("strands: nil poller constructor")
		}
		opts.newPoller = newPoller
		return nil
	})
}

// WithHandler registers an additional kernel operation,
// or replaces a built-in one of the same name.
func WithHandler(name string, handler Handler) KernelOption {
	return kernelOptionFunc(func(opts *kernelOptions) error {
		if name == "" || handler == nil {
			return errors.New("strands: handler needs a name and a function")
		}
		opts.handlers[name] = handler
		return nil
	})
}

// WithThreadsafeQueueSize sets the buffer size of the channel used by [Kernel.Submit].
func WithThreadsafeQueueSize(size int) KernelOption {
	return kernelOptionFunc(func(opts *kernelOptions) error {
		if size < 1 {
			return errors.New("strands: threadsafe queue size must be positive")
		}
		opts.threadQueueSize = size
		return nil
	})
}

func resolveKernelOptions(opts []KernelOption) (*kernelOptions, error) {
	cfg := &kernelOptions{
		logger:          slog.Default(),
		newPoller:       NewPoller,
		handlers:        make(map[string]Handler),
		threadQueueSize: 100,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
