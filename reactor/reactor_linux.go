//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor. Connection descriptors are registered
// one-shot so a readiness event is delivered to exactly one worker until the
// descriptor is re-armed; listening descriptors stay level-triggered.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-gate/api"
)

const connEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT

// linuxReactor is an epoll-based event reactor with an eventfd for wakeups.
type linuxReactor struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
}

// New constructs a new epoll reactor able to report maxEvents per Wait.
func New(maxEvents int) (api.Poller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	r := &linuxReactor{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}
	if err := r.ctl(unix.EPOLL_CTL_ADD, wakefd, unix.EPOLLIN); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *linuxReactor) ctl(op, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl op=%d fd=%d: %w", op, fd, err)
	}
	return nil
}

// Watch registers a listening descriptor, level-triggered.
func (r *linuxReactor) Watch(fd int) error {
	return r.ctl(unix.EPOLL_CTL_ADD, fd, unix.EPOLLIN)
}

// Add registers fd for one-shot read readiness.
func (r *linuxReactor) Add(fd int) error {
	return r.ctl(unix.EPOLL_CTL_ADD, fd, connEvents)
}

// Rearm re-enables one-shot read readiness on fd.
func (r *linuxReactor) Rearm(fd int) error {
	return r.ctl(unix.EPOLL_CTL_MOD, fd, connEvents)
}

// Remove deregisters fd.
func (r *linuxReactor) Remove(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks with no timeout until descriptors are ready or Wake is called.
func (r *linuxReactor) Wait(fds []int) (int, error) {
	limit := len(r.events)
	if len(fds) < limit {
		limit = len(fds)
	}
	n, err := unix.EpollWait(r.epfd, r.events[:limit], -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(r.events[i].Fd)
		if fd == r.wakefd {
			var drain [8]byte
			_, _ = unix.Read(r.wakefd, drain[:])
			continue
		}
		fds[out] = fd
		out++
	}
	return out, nil
}

// Wake interrupts a blocked Wait.
func (r *linuxReactor) Wake() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(r.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("wake: %w", err)
	}
	return nil
}

// Close releases the epoll and eventfd descriptors.
func (r *linuxReactor) Close() error {
	errWake := unix.Close(r.wakefd)
	errEp := unix.Close(r.epfd)
	if errEp != nil {
		return fmt.Errorf("epoll close: %w", errEp)
	}
	if errWake != nil {
		return fmt.Errorf("eventfd close: %w", errWake)
	}
	return nil
}
