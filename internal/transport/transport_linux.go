// internal/transport/transport_linux.go
//go:build linux
// +build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux socket operations over golang.org/x/sys/unix.

package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/protocol"
)

const readChunk = 4096

// Listen creates a non-blocking TCP listening socket bound to port on all
// IPv4 interfaces. Port 0 binds an ephemeral port; the bound port is returned.
func Listen(port int) (fd int, bound int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, 0, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("listen port %d: %w", port, err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("getsockname: %w", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		bound = in4.Port
	}
	return fd, bound, nil
}

// Accept takes one pending connection off lfd. The new descriptor is
// non-blocking. api.ErrWouldBlock means nothing was pending.
func Accept(lfd int) (int, error) {
	for {
		fd, _, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return fd, nil
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return -1, api.ErrWouldBlock
		default:
			return -1, fmt.Errorf("accept: %w", err)
		}
	}
}

// Read performs one non-blocking read. It returns api.ErrWouldBlock when no
// data is available and io.EOF when the peer has closed its side.
func Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch {
		case err == nil && n == 0 && len(p) > 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, api.ErrWouldBlock
		default:
			return 0, fmt.Errorf("read fd=%d: %w", fd, err)
		}
	}
}

// Drain appends everything currently readable on fd to dst, stopping at
// would-block or once dst holds limit bytes. A nil error means the socket
// is still open; io.EOF and other errors are returned with the data read
// before them.
func Drain(fd int, dst []byte, limit int) ([]byte, error) {
	var chunk [readChunk]byte
	for len(dst) < limit {
		n, err := Read(fd, chunk[:])
		dst = append(dst, chunk[:n]...)
		if errors.Is(err, api.ErrWouldBlock) {
			return dst, nil
		}
		if err != nil {
			return dst, err
		}
	}
	return dst, nil
}

// WriteAll writes b completely to the non-blocking fd, waiting for
// writability while the socket buffer is full, for at most timeout overall.
func WriteAll(fd int, b []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if n > 0 {
			b = b[n:]
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if err := waitFor(fd, unix.POLLOUT, deadline); err != nil {
				return err
			}
		default:
			return fmt.Errorf("write fd=%d: %w", fd, err)
		}
	}
	return nil
}

// Close releases fd.
func Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close fd=%d: %w", fd, err)
	}
	return nil
}

// Shutdown disables both directions of fd without releasing it. Pending
// and later reads return EOF.
func Shutdown(fd int) error {
	if err := unix.Shutdown(fd, unix.SHUT_RDWR); err != nil && !errors.Is(err, unix.ENOTCONN) {
		return fmt.Errorf("shutdown fd=%d: %w", fd, err)
	}
	return nil
}

// waitFor blocks until fd reports events or the deadline passes.
func waitFor(fd int, events int16, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("fd=%d: %w", fd, errDeadline)
		}
		ms := int(remaining / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: events}}
		n, err := unix.Poll(pfd, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll fd=%d: %w", fd, err)
		}
		if n > 0 {
			return nil
		}
	}
}

var errDeadline = errors.New("i/o deadline exceeded")

// DeadlineReader is an io.Reader over a non-blocking descriptor. All reads
// share one deadline; once it passes Read fails with
// protocol.ErrHandshakeTimeout.
type DeadlineReader struct {
	fd       int
	deadline time.Time
}

// NewDeadlineReader starts the clock for reads from fd.
func NewDeadlineReader(fd int, timeout time.Duration) *DeadlineReader {
	return &DeadlineReader{fd: fd, deadline: time.Now().Add(timeout)}
}

// Read implements io.Reader.
func (r *DeadlineReader) Read(p []byte) (int, error) {
	for {
		n, err := Read(r.fd, p)
		if !errors.Is(err, api.ErrWouldBlock) {
			return n, err
		}
		if err := waitFor(r.fd, unix.POLLIN, r.deadline); err != nil {
			if errors.Is(err, errDeadline) {
				return 0, protocol.ErrHandshakeTimeout
			}
			return 0, err
		}
	}
}
