package strands

import "slices"

// selectCoroutine waits for any of a set of strands to exit.
type selectCoroutine struct {
	strands []*Strand
	exited  []*Strand
	cancels []func()
}

func newSelect(strands []*Strand) *selectCoroutine {
	unique := make([]*Strand, 0, len(strands))
	for _, strand := range strands {
		if !slices.Contains(unique, strand) {
			unique = append(unique, strand)
		}
	}
	return &selectCoroutine{strands: unique}
}

func (c *selectCoroutine) Call(s *Strand) {
	var exited []*Strand
	for _, strand := range c.strands {
		if strand.Exited() {
			exited = append(exited, strand)
		}
	}
	if len(exited) > 0 {
		s.Return(exited)
		return
	}

	s.Suspend()
	for _, strand := range c.strands {
		c.cancels = append(c.cancels, strand.OnExit(func(strand *Strand) {
			c.exited = append(c.exited, strand)
			// later exits are collected until the caller runs
			if len(c.exited) == 1 {
				_ = s.Resume(nil)
			}
		}))
	}
}

func (c *selectCoroutine) ResumeWithValue(s *Strand, _ any) {
	s.Return(slices.Clone(c.exited))
}

func (c *selectCoroutine) ResumeWithError(s *Strand, err error) {
	s.Throw(err)
}

func (c *selectCoroutine) Terminate(s *Strand) {
	s.pop()
	s.Terminate()
}

func (c *selectCoroutine) finalize() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}
