package strands

// ioRegistration is one queued interest in a descriptor becoming ready.
type ioRegistration struct {
	fn func()
}

// fdInterest holds the queued registrations for one descriptor.
type fdInterest struct {
	readers []*ioRegistration
	writers []*ioRegistration
	watched IOEvents
}

func (f *fdInterest) wanted() IOEvents {
	var events IOEvents
	if len(f.readers) > 0 {
		events |= EventRead
	}
	if len(f.writers) > 0 {
		events |= EventWrite
	}
	return events
}

// ioMux multiplexes read/write registrations onto a [Poller].
// Each readiness event fires only the earliest registration for that direction;
// later registrations wait for subsequent events.
type ioMux struct {
	poller Poller
	fds    map[uintptr]*fdInterest
	count  int
}

func newIOMux(poller Poller) *ioMux {
	return &ioMux{
		poller: poller,
		fds:    make(map[uintptr]*fdInterest),
	}
}

// Len returns the number of pending registrations.
func (m *ioMux) Len() int {
	return m.count
}

func (m *ioMux) register(fd uintptr, direction IOEvents, fn func()) (cancel func(), err error) {
	interest := m.fds[fd]
	if interest == nil {
		interest = &fdInterest{}
		m.fds[fd] = interest
	}

	reg := &ioRegistration{fn: fn}
	if direction == EventRead {
		interest.readers = append(interest.readers, reg)
	} else {
		interest.writers = append(interest.writers, reg)
	}
	m.count++

	if err := m.sync(fd, interest); err != nil {
		m.remove(fd, interest, reg)
		_ = m.sync(fd, interest)
		return nil, err
	}

	return func() {
		if reg.fn == nil {
			return
		}
		if m.remove(fd, interest, reg) {
			_ = m.sync(fd, interest)
		}
	}, nil
}

// remove drops reg from its queue, reporting whether it was still queued.
func (m *ioMux) remove(fd uintptr, interest *fdInterest, reg *ioRegistration) bool {
	reg.fn = nil
	for _, queue := range []*[]*ioRegistration{&interest.readers, &interest.writers} {
		for i, r := range *queue {
			if r == reg {
				*queue = append((*queue)[:i], (*queue)[i+1:]...)
				m.count--
				return true
			}
		}
	}
	return false
}

// sync brings the poller's interest for fd in line with the queued registrations.
func (m *ioMux) sync(fd uintptr, interest *fdInterest) error {
	wanted := interest.wanted()
	if wanted == 0 {
		delete(m.fds, fd)
	}
	if wanted == interest.watched {
		return nil
	}
	if wanted == 0 {
		interest.watched = 0
		return m.poller.Unwatch(fd)
	}
	if err := m.poller.Watch(fd, wanted); err != nil {
		return err
	}
	interest.watched = wanted
	return nil
}

// dispatch is handed to [Poller.Wait] and fires the earliest registration
// of each direction that became ready.
func (m *ioMux) dispatch(fd uintptr, events IOEvents) {
	interest := m.fds[fd]
	if interest == nil {
		return
	}

	// errors and hangups wake both directions so waiters can observe them
	failed := events&(EventError|EventHangup) != 0
	var fire []func()
	if (events&EventRead != 0 || failed) && len(interest.readers) > 0 {
		fire = append(fire, m.pop(&interest.readers))
	}
	if (events&EventWrite != 0 || failed) && len(interest.writers) > 0 {
		fire = append(fire, m.pop(&interest.writers))
	}

	_ = m.sync(fd, interest)
	for _, fn := range fire {
		fn()
	}
}

func (m *ioMux) pop(queue *[]*ioRegistration) func() {
	reg := (*queue)[0]
	*queue = (*queue)[1:]
	m.count--
	fn := reg.fn
	reg.fn = nil
	return fn
}
