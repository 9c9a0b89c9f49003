//go:build linux

package bridge_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-gate/bridge"
	"github.com/momentics/hioload-gate/control"
	"github.com/momentics/hioload-gate/fake"
	"github.com/momentics/hioload-gate/internal/session"
	"github.com/momentics/hioload-gate/protocol"
)

func TestBroadcastSkipsClosed(t *testing.T) {
	reg := session.NewRegistry(zaptest.NewLogger(t))
	metrics := control.NewMetricsRegistry()
	b := bridge.New(reg, bridge.WithLogger(zaptest.NewLogger(t)), bridge.WithMetrics(metrics))
	defer b.Close()

	var peers []int
	var fds []int
	for i := 0; i < 4; i++ {
		fd, peer := fake.SocketPair(t)
		reg.Open(session.NewConn(fd, nil))
		fds = append(fds, fd)
		peers = append(peers, peer)
	}
	t.Cleanup(func() { reg.CloseAll() })
	reg.Close(fds[3])

	if sent := b.Broadcast("hi"); sent != 3 {
		t.Fatalf("Broadcast sent to %d peers, want 3", sent)
	}
	want := string([]byte{0x81, 0x02, 'h', 'i'})
	for _, peer := range peers[:3] {
		if got := fake.ReadPeer(t, peer, 4, time.Second); string(got) != want {
			t.Errorf("peer %d got % x", peer, got)
		}
	}
	if got := fake.ReadPeer(t, peers[3], 4, 100*time.Millisecond); len(got) != 0 {
		t.Errorf("closed peer received % x", got)
	}
	if metrics.Counter(control.MetricBroadcastSent) != 3 {
		t.Errorf("sent metric = %d", metrics.Counter(control.MetricBroadcastSent))
	}
}

func TestBroadcastFailureClosesOnlyThatPeer(t *testing.T) {
	reg := session.NewRegistry(nil)
	b := bridge.New(reg, bridge.WithWriteTimeout(time.Second))
	defer b.Close()

	good, goodPeer := fake.SocketPair(t)
	bad, badPeer := fake.SocketPair(t)
	reg.Open(session.NewConn(good, nil))
	reg.Open(session.NewConn(bad, nil))
	t.Cleanup(func() { reg.CloseAll() })
	unix.Shutdown(badPeer, unix.SHUT_RD)

	if sent := b.Broadcast("x"); sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if !reg.IsClosed(bad) {
		t.Error("failing peer not closed")
	}
	if reg.IsClosed(good) {
		t.Error("healthy peer closed")
	}
	if got := fake.ReadPeer(t, goodPeer, 3, time.Second); len(got) != 3 {
		t.Errorf("healthy peer got % x", got)
	}
}

func TestCorrelatedRequest(t *testing.T) {
	reg := session.NewRegistry(nil)
	b := bridge.New(reg)
	defer b.Close()

	fd, peer := fake.SocketPair(t)
	reg.Open(session.NewConn(fd, nil))
	t.Cleanup(func() { reg.CloseAll() })

	go func() {
		raw := fake.ReadPeer(t, peer, 2, time.Second)
		if len(raw) < 2 {
			return
		}
		raw = append(raw, fake.ReadPeer(t, peer, int(raw[1]&0x7F), time.Second)...)
		frame, err := protocol.Decode(raw)
		if err != nil {
			t.Errorf("decode broadcast: %v", err)
			return
		}
		env, ok := bridge.ParseEnvelope(frame.Text())
		if !ok || env.Body != "question" {
			t.Errorf("broadcast was %q", frame.Text())
			return
		}
		// A plain message must not satisfy a correlated request.
		b.OnMessage(fd, "noise")
		b.OnMessage(fd, bridge.Envelope{ID: env.ID, Body: "answer"}.Marshal())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := b.Request(ctx, "question")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if reply != "answer" {
		t.Errorf("reply = %q", reply)
	}
	if msg, _ := b.AwaitResponse(ctx); msg != "noise" {
		t.Errorf("shared queue got %q", msg)
	}
}

func TestSendTo(t *testing.T) {
	reg := session.NewRegistry(zaptest.NewLogger(t))
	b := bridge.New(reg)
	defer b.Close()

	a, aPeer := fake.SocketPair(t)
	other, otherPeer := fake.SocketPair(t)
	reg.Open(session.NewConn(a, nil))
	reg.Open(session.NewConn(other, nil))
	t.Cleanup(func() { reg.CloseAll() })

	if err := b.SendTo(a, "yo"); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if got := fake.ReadPeer(t, aPeer, 4, time.Second); string(got) != "\x81\x02yo" {
		t.Errorf("target got % x", got)
	}
	if got := fake.ReadPeer(t, otherPeer, 4, 100*time.Millisecond); len(got) != 0 {
		t.Errorf("other peer got % x", got)
	}
	reg.Close(a)
	if err := b.SendTo(a, "late"); err == nil {
		t.Error("SendTo on a closed connection succeeded")
	}
}

func TestBroadcastFailureDuringReadDefersRelease(t *testing.T) {
	reg := session.NewRegistry(zaptest.NewLogger(t))
	b := bridge.New(reg, bridge.WithWriteTimeout(time.Second))
	defer b.Close()

	fd, peer := fake.SocketPair(t)
	c := session.NewConn(fd, nil)
	reg.Open(c)
	unix.Shutdown(peer, unix.SHUT_RD)

	// A worker is mid-read when the broadcast write fails.
	c.LockRead()
	if sent := b.Broadcast("x"); sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
	if !reg.IsClosed(fd) {
		t.Fatal("failing peer not closed")
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		t.Fatalf("descriptor released under the reader: %v", err)
	}
	n, err := unix.Read(fd, make([]byte, 8))
	if n != 0 || err != nil {
		t.Errorf("read after close = %d, %v; want EOF", n, err)
	}

	c.UnlockRead()
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err == nil {
		t.Error("descriptor still open after the reader finished")
	}
}
