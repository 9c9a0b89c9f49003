//go:build linux

package client_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-gate/server"
)

func TestClientAgainstGatewayEngine(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Ports = []int{0}
	srv, err := server.New(cfg, server.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	c := dial(t, fmt.Sprintf("ws://127.0.0.1:%d/", srv.Ports()[0]))
	deadline := time.Now().Add(2 * time.Second)
	for srv.Registry().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	srv.Bridge().Broadcast("to client")
	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	if got, err := c.Receive(rctx); err != nil || got != "to client" {
		t.Fatalf("Receive = %q, %v", got, err)
	}

	if err := c.Ping([]byte("hb")); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := c.Send("to gateway"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got, err := srv.Bridge().AwaitResponse(rctx); err != nil || got != "to gateway" {
		t.Fatalf("AwaitResponse = %q, %v", got, err)
	}
}
