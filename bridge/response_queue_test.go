package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-gate/bridge"
	"github.com/momentics/hioload-gate/internal/session"
)

func TestAwaitResponseBlocksUntilMessage(t *testing.T) {
	b := bridge.New(session.NewRegistry(nil))
	defer b.Close()

	got := make(chan string, 1)
	go func() {
		msg, err := b.AwaitResponse(context.Background())
		if err != nil {
			t.Errorf("AwaitResponse: %v", err)
		}
		got <- msg
	}()

	select {
	case msg := <-got:
		t.Fatalf("AwaitResponse returned %q before any message", msg)
	case <-time.After(50 * time.Millisecond):
	}

	b.OnMessage(7, "exact reply")
	select {
	case msg := <-got:
		if msg != "exact reply" {
			t.Errorf("got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitResponse did not wake")
	}
}

func TestAwaitResponseReturnsEnvelopeShapedReply(t *testing.T) {
	b := bridge.New(session.NewRegistry(nil))
	defer b.Close()

	// No Request is outstanding, so the reply belongs to the shared queue
	// exactly as received.
	reply := `{"id":"42","body":"hello"}`
	b.OnMessage(7, reply)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := b.AwaitResponse(ctx)
	if err != nil || got != reply {
		t.Fatalf("AwaitResponse = %q, %v; want %q", got, err, reply)
	}
}

func TestResponseQueueOldestWaiterFirst(t *testing.T) {
	q := bridge.NewResponseQueue()
	first := make(chan string, 1)
	second := make(chan string, 1)
	go func() { m, _ := q.Pop(context.Background()); first <- m }()
	waitFor(t, func() bool { return q.Waiting() == 1 })
	go func() { m, _ := q.Pop(context.Background()); second <- m }()
	waitFor(t, func() bool { return q.Waiting() == 2 })

	q.Push("a")
	q.Push("b")
	if m := <-first; m != "a" {
		t.Errorf("first waiter got %q", m)
	}
	if m := <-second; m != "b" {
		t.Errorf("second waiter got %q", m)
	}
}

func TestResponseQueueBuffersAndCancels(t *testing.T) {
	q := bridge.NewResponseQueue()
	q.Push("early")
	if m, err := q.Pop(context.Background()); err != nil || m != "early" {
		t.Fatalf("Pop = %q, %v", m, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Pop err = %v, want deadline", err)
	}
	// The cancelled waiter must not swallow the next message.
	q.Push("later")
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
}

func TestResponseQueueClose(t *testing.T) {
	q := bridge.NewResponseQueue()
	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errc <- err
	}()
	waitFor(t, func() bool { return q.Waiting() == 1 })
	q.Close()
	if err := <-errc; !errors.Is(err, bridge.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if q.Push("x") {
		t.Error("Push accepted after Close")
	}
}

func TestParseEnvelope(t *testing.T) {
	env := bridge.Envelope{ID: "t1", Body: "hello"}
	got, ok := bridge.ParseEnvelope(env.Marshal())
	if !ok || got != env {
		t.Fatalf("ParseEnvelope = %+v, %v", got, ok)
	}
	for _, text := range []string{"plain", `{"id":"x"}`, `{"id":"","body":"b"}`, `{"body":"b"}`, "{broken"} {
		if _, ok := bridge.ParseEnvelope(text); ok {
			t.Errorf("%q parsed as envelope", text)
		}
	}
}

func TestRequestWithoutPeers(t *testing.T) {
	b := bridge.New(session.NewRegistry(nil))
	if _, err := b.Request(context.Background(), "x"); !errors.Is(err, bridge.ErrNoPeers) {
		t.Errorf("err = %v, want ErrNoPeers", err)
	}
	b.Close()
	if _, err := b.AwaitResponse(context.Background()); !errors.Is(err, bridge.ErrClosed) {
		t.Errorf("await after close = %v, want ErrClosed", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}
