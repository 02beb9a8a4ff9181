package strands

import (
	"errors"
	"time"
)

// ChannelPoller is a portable poller which only supports timers and wakeups,
// not file descriptor readiness.
type ChannelPoller struct {
	wakeupCh chan struct{}
	closed   bool
}

// NewChannelPoller constructs a new [ChannelPoller].
func NewChannelPoller() (Poller, error) {
	return &ChannelPoller{
		wakeupCh: make(chan struct{}, 1),
	}, nil
}

// Wait implements [Poller].
func (c *ChannelPoller) Wait(timeout time.Duration, _ func(uintptr, IOEvents)) (PollResult, error) {
	if c.closed {
		return PollInactive, ErrKernelClosed
	}

	if timeout == 0 {
		select {
		case <-c.wakeupCh:
			return PollInterrupted, nil
		default:
			return PollInactive, nil
		}
	}

	var timerCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerCh = timer.C
	}

	// nothing but a wakeup or the next callback can make progress,
	// so sleep until one of those happens
	select {
	case <-timerCh:
		return PollInactive, nil
	case <-c.wakeupCh:
		return PollInterrupted, nil
	}
}

// WakeupThreadsafe implements [Poller].
func (c *ChannelPoller) WakeupThreadsafe() error {
	select {
	case c.wakeupCh <- struct{}{}:
	default:
		// a wakeup is already pending
	}
	return nil
}

// Watch implements [Poller].
func (c *ChannelPoller) Watch(uintptr, IOEvents) error {
	return ErrNotImplemented
}

// Unwatch implements [Poller].
func (c *ChannelPoller) Unwatch(uintptr) error {
	return ErrNotImplemented
}

// Close implements [Poller].
func (c *ChannelPoller) Close() error {
	if c.closed {
		return errors.New("poller already closed")
	}
	c.closed = true
	return nil
}
