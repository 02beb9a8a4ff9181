//go:build linux

package strands

import (
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// EpollPoller is a level-triggered epoll [Poller] with an eventfd for threadsafe wakeups.
type EpollPoller struct {
	epfd    int
	wakerFd int
	events  []unix.EpollEvent
	watched map[uintptr]IOEvents
}

// NewPoller constructs the default poller for this platform.
func NewPoller() (Poller, error) {
	p, err := NewEpollPoller()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewEpollPoller constructs a new [EpollPoller].
func NewEpollPoller() (*EpollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	// eventfd for waking up the poller from another thread
	wakerFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakerFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakerFd, &event); err != nil {
		_ = unix.Close(wakerFd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return &EpollPoller{
		epfd:    epfd,
		wakerFd: wakerFd,
		events:  make([]unix.EpollEvent, 64),
		watched: make(map[uintptr]IOEvents),
	}, nil
}

// Wait implements [Poller].
func (e *EpollPoller) Wait(timeout time.Duration, ready func(fd uintptr, events IOEvents)) (PollResult, error) {
	n, err := unix.EpollWait(e.epfd, e.events, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return PollInterrupted, nil
		}
		return PollInactive, err
	}

	result := PollInactive
	for i := 0; i < n; i++ {
		fd := int(e.events[i].Fd)
		if fd == e.wakerFd {
			e.drainWaker()
			if result == PollInactive {
				result = PollInterrupted
			}
			continue
		}
		if _, ok := e.watched[uintptr(fd)]; !ok {
			// unwatched by an earlier callback in this batch
			continue
		}
		ready(uintptr(fd), epollToEvents(e.events[i].Events))
		result = PollActive
	}
	return result, nil
}

// timeoutMillis rounds sub-millisecond timeouts up
// so a pending timer doesn't turn the loop into a busy wait.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout.Milliseconds()
	if time.Duration(ms)*time.Millisecond < timeout {
		ms++
	}
	return int(ms)
}

func (e *EpollPoller) drainWaker() {
	var buf [8]byte
	for {
		if _, err := unix.Read(e.wakerFd, buf[:]); err != nil {
			return
		}
	}
}

// WakeupThreadsafe implements [Poller].
func (e *EpollPoller) WakeupThreadsafe() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.wakerFd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		// counter saturated, a wakeup is already pending
		return nil
	}
	return err
}

// Watch implements [Poller].
func (e *EpollPoller) Watch(fd uintptr, events IOEvents) error {
	op := unix.EPOLL_CTL_ADD
	if _, ok := e.watched[fd]; ok {
		op = unix.EPOLL_CTL_MOD
	}
	event := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(e.epfd, op, int(fd), &event); err != nil {
		return err
	}
	e.watched[fd] = events
	return nil
}

// Unwatch implements [Poller].
func (e *EpollPoller) Unwatch(fd uintptr) error {
	if _, ok := e.watched[fd]; !ok {
		return nil
	}
	delete(e.watched, fd)
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

// Close implements [Poller].
func (e *EpollPoller) Close() error {
	return errors.Join(unix.Close(e.wakerFd), unix.Close(e.epfd))
}

func eventsToEpoll(events IOEvents) uint32 {
	var out uint32
	if events&EventRead != 0 {
		out |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if events&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func epollToEvents(events uint32) IOEvents {
	var out IOEvents
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		out |= EventRead
	}
	if events&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if events&unix.EPOLLERR != 0 {
		out |= EventError
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		out |= EventHangup
	}
	return out
}
