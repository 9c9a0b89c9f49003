// File: client/agent.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Agent is the peer side of the gateway: it stays connected to the
// gateway's WebSocket port, replays every broadcast HTTP request against an
// upstream server and sends the upstream response back.

package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/bridge"
	"github.com/momentics/hioload-gate/proxy"
)

// AgentConfig configures an Agent.
type AgentConfig struct {
	GatewayURL   string        // ws:// URL of the gateway engine
	Upstream     string        // base URL requests are replayed against
	MinBackoff   time.Duration // first reconnect delay
	MaxBackoff   time.Duration // reconnect delay ceiling
	HTTPClient   *http.Client
	ClientConfig Config
	Logger       *zap.Logger
}

// Agent forwards gateway requests to an upstream HTTP server.
type Agent struct {
	cfg      AgentConfig
	upstream *url.URL
	log      *zap.Logger
}

// NewAgent validates cfg and fills defaults.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	u, err := url.Parse(cfg.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q", cfg.Upstream)
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ClientConfig.Logger == nil {
		cfg.ClientConfig.Logger = cfg.Logger
	}
	return &Agent{cfg: cfg, upstream: u, log: cfg.Logger}, nil
}

// Run keeps the agent connected until ctx is done, reconnecting with
// exponential backoff.
func (a *Agent) Run(ctx context.Context) error {
	backoff := a.cfg.MinBackoff
	for {
		c, err := Dial(ctx, a.cfg.GatewayURL, &a.cfg.ClientConfig)
		if err == nil {
			a.log.Info("agent connected", zap.String("gateway", a.cfg.GatewayURL))
			backoff = a.cfg.MinBackoff
			err = a.serve(ctx, c)
			c.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		a.log.Warn("agent disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > a.cfg.MaxBackoff {
			backoff = a.cfg.MaxBackoff
		}
	}
}

func (a *Agent) serve(ctx context.Context, c *Client) error {
	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			return err
		}
		var reply string
		if env, ok := bridge.ParseEnvelope(msg); ok {
			reply = bridge.Envelope{ID: env.ID, Body: a.Forward(ctx, env.Body)}.Marshal()
		} else {
			reply = a.Forward(ctx, msg)
		}
		if err := c.Send(reply); err != nil {
			return err
		}
	}
}

// Forward replays one raw HTTP request against the upstream and returns
// the response in wire form. Failures become a 502 packet.
func (a *Agent) Forward(ctx context.Context, raw string) string {
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		return errorPacket(http.StatusBadRequest, err)
	}
	target := *a.upstream
	target.Path = strings.TrimSuffix(a.upstream.Path, "/") + req.URL.Path
	target.RawQuery = req.URL.RawQuery

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return errorPacket(http.StatusBadRequest, err)
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return errorPacket(http.StatusBadRequest, err)
	}
	for k, vv := range req.Header {
		out.Header[k] = append([]string(nil), vv...)
	}
	out.Header.Del("Connection")
	// Replies travel as text frames, so the body must come back decoded.
	// Without a caller-set Accept-Encoding the transport decompresses gzip.
	out.Header.Del("Accept-Encoding")

	resp, err := a.cfg.HTTPClient.Do(out)
	if err != nil {
		a.log.Warn("upstream request failed", zap.String("url", target.String()), zap.Error(err))
		return errorPacket(http.StatusBadGateway, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorPacket(http.StatusBadGateway, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(payload))
	resp.ContentLength = int64(len(payload))
	resp.TransferEncoding = nil
	resp.Header.Del("Transfer-Encoding")
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return errorPacket(http.StatusBadGateway, err)
	}
	return string(dump)
}

func errorPacket(status int, err error) string {
	p := proxy.NewPacket(status).AddHeader("Connection: close")
	if err != nil {
		p.Content = err.Error()
	} else {
		p.Content = http.StatusText(status)
	}
	return p.Export(true)
}

