//go:build linux

package benchmarks

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-gate/bridge"
	"github.com/momentics/hioload-gate/fake"
	"github.com/momentics/hioload-gate/internal/session"
)

// BenchmarkBroadcast writes one frame to 16 socket pair peers per op.
func BenchmarkBroadcast(b *testing.B) {
	reg := session.NewRegistry(nil)
	br := bridge.New(reg)
	for i := 0; i < 16; i++ {
		fd, peer := fake.SocketPair(b)
		reg.Open(session.NewConn(fd, nil))
		go drain(peer)
	}
	b.Cleanup(func() {
		br.Close()
		reg.CloseAll()
	})

	msg := "GET / HTTP/1.1\r\nHost: bench\r\n\r\n"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if sent := br.Broadcast(msg); sent != 16 {
			b.Fatalf("sent = %d", sent)
		}
	}
}

// drain reads until the server end closes.
func drain(fd int) {
	buf := make([]byte, 64<<10)
	for {
		n, err := unix.Read(fd, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}
