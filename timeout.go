package strands

import "time"

// timeoutCoroutine races a child strand against a timer.
type timeoutCoroutine struct {
	timeout time.Duration
	body    any

	child      *Strand
	timer      *Callback
	cancelExit func()
	timedOut   bool
}

func newTimeout(timeout time.Duration, body any) *timeoutCoroutine {
	return &timeoutCoroutine{timeout: timeout, body: body}
}

func (c *timeoutCoroutine) Call(s *Strand) {
	k := s.Kernel()
	c.child = k.Execute(c.body)
	c.cancelExit = c.child.OnExit(func(*Strand) {
		c.timer.Cancel()
		_ = s.Resume(nil)
	})
	c.timer = k.Schedule(c.timeout, func() {
		if c.child.Exited() {
			return
		}
		// the caller is resumed once the child has unwound
		c.timedOut = true
		c.child.Terminate()
	})
	s.Suspend()
}

func (c *timeoutCoroutine) ResumeWithValue(s *Strand, _ any) {
	if c.timedOut {
		s.Throw(&TimeoutError{Timeout: c.timeout})
		return
	}

	v, err := c.child.Result()
	if err != nil {
		s.Throw(err)
	} else {
		s.Return(v)
	}
}

func (c *timeoutCoroutine) ResumeWithError(s *Strand, err error) {
	s.Throw(err)
}

func (c *timeoutCoroutine) Terminate(s *Strand) {
	s.pop()
	s.Terminate()
}

func (c *timeoutCoroutine) finalize() {
	c.timer.Cancel()
	if c.cancelExit != nil {
		c.cancelExit()
		c.cancelExit = nil
	}
	if c.child != nil && !c.child.Exited() {
		c.child.Terminate()
	}
}
