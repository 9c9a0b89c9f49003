// File: client/client.go
// Package client provides the outbound WebSocket client role.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The client dials a ws:// URL over plain TCP, performs the RFC6455
// handshake, sends masked text frames and receives text messages, answering
// pings on the way. An optional heartbeat pings the server periodically.

package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/protocol"
)

// ErrClosed is returned after the connection has been closed by either side.
var ErrClosed = errors.New("websocket client closed")

// Config holds all configurable parameters for the client.
type Config struct {
	WriteTimeout      time.Duration // per-frame write deadline (0 = none)
	HeartbeatInterval time.Duration // send ping every interval (0 = disabled)
	Logger            *zap.Logger
}

// Client is one outbound WebSocket connection. Send and Receive may be used
// from different goroutines; concurrent Receive calls are serialized.
type Client struct {
	cfg  Config
	conn net.Conn
	br   *bufio.Reader
	log  *zap.Logger

	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
}

// Dial connects to rawURL ("ws://host[:port]/path") and completes the
// handshake within ctx.
func Dial(ctx context.Context, rawURL string, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "ws" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	hostport := u.Host
	if u.Port() == "" {
		hostport = net.JoinHostPort(u.Hostname(), "80")
	}
	path := u.RequestURI()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", hostport, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	key, err := protocol.NewClientKey()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(protocol.ClientRequest(u.Host, path, key)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send handshake: %w", err)
	}
	hdr, rest, err := protocol.ReadHeader(conn, protocol.MaxHandshakeHeadersSize)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	if err := protocol.VerifyServerResponse(hdr, key); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		cfg:  *cfg,
		conn: conn,
		br:   bufio.NewReader(io.MultiReader(bytes.NewReader(rest), conn)),
		log:  log.With(zap.String("url", rawURL)),
		done: make(chan struct{}),
	}
	if cfg.HeartbeatInterval > 0 {
		go c.heartbeat(cfg.HeartbeatInterval)
	}
	c.log.Debug("websocket client connected")
	return c, nil
}

// Send writes text as one masked text frame.
func (c *Client) Send(text string) error {
	return c.writeFrame(protocol.OpcodeText, []byte(text))
}

// Ping sends a ping control frame.
func (c *Client) Ping(payload []byte) error {
	return c.writeFrame(protocol.OpcodePing, payload)
}

// Receive returns the next text message. Pings are answered and pongs are
// skipped. A close frame from the server is echoed and reported as
// ErrClosed. Cancelling ctx interrupts the read.
func (c *Client) Receive(ctx context.Context) (string, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.closed.Load() {
		return "", ErrClosed
	}
	stop := context.AfterFunc(ctx, func() { c.conn.SetReadDeadline(time.Now()) })
	defer func() {
		if stop() {
			return
		}
		c.conn.SetReadDeadline(time.Time{})
	}()

	for {
		frame, err := c.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if c.closed.Load() || errors.Is(err, io.EOF) {
				return "", ErrClosed
			}
			return "", err
		}
		switch frame.Opcode {
		case protocol.OpcodePing:
			if err := c.writeFrame(protocol.OpcodePong, frame.Payload); err != nil {
				return "", err
			}
		case protocol.OpcodePong:
		case protocol.OpcodeClose:
			c.log.Debug("close frame from server")
			c.shutdown()
			return "", ErrClosed
		default:
			return frame.Text(), nil
		}
	}
}

// Close sends a normal close frame and releases the connection.
func (c *Client) Close() error {
	return c.shutdown()
}

func (c *Client) shutdown() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	_ = c.writeFrameLocked(protocol.OpcodeClose, protocol.ClosePayload(protocol.CloseNormalClosure, ""))
	return c.conn.Close()
}

// readFrame reads exactly one frame: the fixed header first, then the
// extended length and mask, then the payload.
func (c *Client) readFrame() (*protocol.Frame, error) {
	buf := make([]byte, 2, protocol.MaxFrameHeaderLen)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, err
	}
	extra := 0
	switch buf[1] & protocol.LenMask {
	case protocol.PayloadLen16:
		extra = 2
	case protocol.PayloadLen64:
		extra = 8
	}
	if buf[1]&protocol.MaskBit != 0 {
		extra += 4
	}
	buf = buf[:2+extra]
	if _, err := io.ReadFull(c.br, buf[2:]); err != nil {
		return nil, err
	}
	size, err := protocol.FrameSize(buf)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, size)
	copy(frame, buf)
	if _, err := io.ReadFull(c.br, frame[len(buf):]); err != nil {
		return nil, err
	}
	return protocol.Decode(frame)
}

func (c *Client) writeFrame(opcode byte, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.writeFrameLocked(opcode, payload)
}

func (c *Client) writeFrameLocked(opcode byte, payload []byte) error {
	var mask [4]byte
	if _, err := rand.Read(mask[:]); err != nil {
		return fmt.Errorf("mask key: %w", err)
	}
	frame := protocol.AppendFrame(nil, opcode, payload, &mask)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Client) heartbeat(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.Ping(nil); err != nil {
				c.log.Warn("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}
