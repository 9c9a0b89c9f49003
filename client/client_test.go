package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"

	"github.com/momentics/hioload-gate/client"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url, &client.Config{WriteTimeout: time.Second, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEchoAgainstStandardServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, msg); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	c := dial(t, wsURL(ts))
	for _, msg := range []string{"hello", strings.Repeat("x", 30000), ""} {
		if err := c.Send(msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		got, err := c.Receive(ctx)
		cancel()
		if err != nil || got != msg {
			t.Fatalf("Receive = %d bytes, %v; want %d bytes", len(got), err, len(msg))
		}
	}
}

func TestReceiveAnswersPing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		ctx = c.CloseRead(ctx)
		if err := c.Ping(ctx); err != nil {
			return
		}
		c.Write(ctx, websocket.MessageText, []byte("pinged"))
		c.Close(websocket.StatusNormalClosure, "")
	}))
	defer ts.Close()

	c := dial(t, wsURL(ts))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got, err := c.Receive(ctx)
	if err != nil || got != "pinged" {
		t.Fatalf("Receive = %q, %v", got, err)
	}
	if _, err := c.Receive(ctx); !errors.Is(err, client.ErrClosed) {
		t.Errorf("after server close err = %v, want ErrClosed", err)
	}
	if err := c.Send("late"); !errors.Is(err, client.ErrClosed) {
		t.Errorf("Send after close = %v", err)
	}
}

func TestReceiveHonoursContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		c.Read(r.Context())
	}))
	defer ts.Close()

	c := dial(t, wsURL(ts))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestDialRejectsNonUpgrade(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain http"))
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Dial(ctx, wsURL(ts), nil); err == nil {
		t.Error("Dial accepted a non-upgrade response")
	}
	if _, err := client.Dial(ctx, "wss://example.invalid/", nil); err == nil {
		t.Error("Dial accepted wss scheme")
	}
}
