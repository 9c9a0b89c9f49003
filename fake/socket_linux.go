//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// SocketPair returns a connected pair of stream sockets. The first end is
// non-blocking and meant to stand in for an accepted connection; the second
// is the blocking peer side. The peer is closed on test cleanup; the first
// end is left to its owner.
func SocketPair(t testing.TB) (conn, peer int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	return fds[0], fds[1]
}

// ReadPeer reads up to n bytes from a blocking peer, giving up after timeout.
// It returns whatever arrived, which is empty once the other end is closed.
func ReadPeer(t testing.TB, fd, n int, timeout time.Duration) []byte {
	t.Helper()
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		m, err := unix.Read(fd, buf[:n-len(out)])
		if err != nil || m <= 0 {
			break
		}
		out = append(out, buf[:m]...)
	}
	return out
}
