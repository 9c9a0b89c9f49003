package proxy_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-gate/control"
	"github.com/momentics/hioload-gate/proxy"
)

// fakeBridge answers every exchange through reply; a nil reply blocks
// until the context ends.
type fakeBridge struct {
	mu         sync.Mutex
	peers      int
	broadcasts []string
	requests   int
	reply      func(msg string) string
}

func (b *fakeBridge) Broadcast(msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, msg)
	return b.peers
}

func (b *fakeBridge) AwaitResponse(ctx context.Context) (string, error) {
	b.mu.Lock()
	last := b.broadcasts[len(b.broadcasts)-1]
	b.mu.Unlock()
	return b.answer(ctx, last)
}

func (b *fakeBridge) Request(ctx context.Context, msg string) (string, error) {
	b.mu.Lock()
	b.requests++
	b.mu.Unlock()
	return b.answer(ctx, msg)
}

func (b *fakeBridge) Peers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peers
}

func (b *fakeBridge) answer(ctx context.Context, msg string) (string, error) {
	if b.reply == nil {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return b.reply(msg), nil
}

func newFrontend(t *testing.T, cfg *proxy.Config, b proxy.Bridge, opts ...proxy.Option) *httptest.Server {
	t.Helper()
	opts = append([]proxy.Option{proxy.WithLogger(zaptest.NewLogger(t))}, opts...)
	f, err := proxy.New(cfg, b, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(f.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestNoPeersIsBadGateway(t *testing.T) {
	ts := newFrontend(t, proxy.DefaultConfig(), &fakeBridge{})
	resp, _ := get(t, ts.URL+"/x")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestPlainReplyBecomesTextBody(t *testing.T) {
	b := &fakeBridge{peers: 1, reply: func(string) string { return "hello back" }}
	ts := newFrontend(t, proxy.DefaultConfig(), b)

	resp, body := get(t, ts.URL+"/hello?q=1")
	if resp.StatusCode != http.StatusOK || body != "hello back" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if len(b.broadcasts) != 1 || !strings.HasPrefix(b.broadcasts[0], "GET /hello?q=1 HTTP/1.1\r\n") {
		t.Fatalf("broadcasts = %q", b.broadcasts)
	}
	if !strings.HasSuffix(b.broadcasts[0], "\r\n\r\n") {
		t.Errorf("broadcast request not terminated: %q", b.broadcasts[0])
	}
}

func TestHTTPReplyIsRelayed(t *testing.T) {
	b := &fakeBridge{peers: 1, reply: func(string) string {
		return "HTTP/1.1 201 Created\r\nX-Test: yes\r\nContent-Length: 2\r\n\r\nok"
	}}
	ts := newFrontend(t, proxy.DefaultConfig(), b)
	resp, body := get(t, ts.URL+"/")
	if resp.StatusCode != http.StatusCreated || body != "ok" || resp.Header.Get("X-Test") != "yes" {
		t.Errorf("got %d %q %v", resp.StatusCode, body, resp.Header)
	}
}

func TestResponseTimeout(t *testing.T) {
	cfg := proxy.DefaultConfig()
	cfg.ResponseTimeout = 50 * time.Millisecond
	metrics := control.NewMetricsRegistry()
	ts := newFrontend(t, cfg, &fakeBridge{peers: 1}, proxy.WithMetrics(metrics))

	resp, _ := get(t, ts.URL+"/slow")
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
	if metrics.Counter(control.MetricProxyTimeouts) != 1 {
		t.Errorf("timeouts = %d", metrics.Counter(control.MetricProxyTimeouts))
	}
}

func TestCorrelatedModeUsesRequest(t *testing.T) {
	cfg := proxy.DefaultConfig()
	cfg.Correlate = true
	b := &fakeBridge{peers: 1, reply: func(msg string) string { return "echo:" + msg[:3] }}
	ts := newFrontend(t, cfg, b)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, body := get(t, ts.URL+"/")
			if body != "echo:GET" {
				t.Errorf("body = %q", body)
			}
		}()
	}
	wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.requests != 5 || len(b.broadcasts) != 0 {
		t.Errorf("requests=%d broadcasts=%d", b.requests, len(b.broadcasts))
	}
}

func TestRateLimit(t *testing.T) {
	cfg := proxy.DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.Burst = 1
	ts := newFrontend(t, cfg, &fakeBridge{peers: 1, reply: func(string) string { return "ok" }})

	if resp, _ := get(t, ts.URL+"/"); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status %d", resp.StatusCode)
	}
	resp, _ := get(t, ts.URL+"/")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status %d, want 429", resp.StatusCode)
	}
	// The state endpoint is not limited.
	if resp, _ := get(t, ts.URL+"/_gateway/state"); resp.StatusCode != http.StatusOK {
		t.Errorf("state status %d", resp.StatusCode)
	}
}

func TestStateAndMetricsEndpoints(t *testing.T) {
	metrics := control.NewMetricsRegistry()
	probes := control.NewDebugProbes()
	probes.RegisterProbe("custom", func() any { return "value" })
	ts := newFrontend(t, proxy.DefaultConfig(), &fakeBridge{peers: 2, reply: func(string) string { return "ok" }},
		proxy.WithMetrics(metrics), proxy.WithProbes(probes))

	get(t, ts.URL+"/anything")

	resp, body := get(t, ts.URL+"/_gateway/state")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status %d", resp.StatusCode)
	}
	var st struct {
		Peers   int            `json:"peers"`
		Metrics map[string]any `json:"metrics"`
		Probes  map[string]any `json:"probes"`
	}
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("state body %q: %v", body, err)
	}
	if st.Peers != 2 || st.Probes["custom"] != "value" {
		t.Errorf("state = %+v", st)
	}
	if st.Metrics[control.MetricProxyRequests] != float64(1) {
		t.Errorf("metrics = %v", st.Metrics)
	}

	_, text := get(t, ts.URL+"/_gateway/metrics")
	if !strings.Contains(text, "hioload_gate_proxy_requests_total 1") {
		t.Errorf("metrics endpoint missing counter:\n%s", text)
	}
}

func TestStartAndShutdown(t *testing.T) {
	cfg := proxy.DefaultConfig()
	cfg.Ports = []int{0, 0}
	f, err := proxy.New(cfg, &fakeBridge{peers: 1, reply: func(string) string { return "pong" }})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addrs := f.Addrs()
	if len(addrs) != 2 {
		t.Fatalf("addrs = %v", addrs)
	}
	for _, a := range addrs {
		_, body := get(t, fmt.Sprintf("http://%s/", a))
		if body != "pong" {
			t.Errorf("%s answered %q", a, body)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewRequiresBridge(t *testing.T) {
	if _, err := proxy.New(nil, nil); err == nil {
		t.Error("nil bridge accepted")
	}
}

func TestPacketExport(t *testing.T) {
	p := proxy.NewPacket(200)
	p.Content = "hi"
	want := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\nhi"
	if got := p.Export(true); got != want {
		t.Errorf("Export = %q", got)
	}
	p = proxy.NewPacket(404).AddHeader("Connection: close")
	if got := p.Export(true); got != "HTTP/1.1 404 Not Found\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\n" {
		t.Errorf("Export = %q", got)
	}
}
