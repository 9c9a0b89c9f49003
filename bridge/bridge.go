// File: bridge/bridge.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Broadcast, inbound message routing and response waiting.

package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/control"
	"github.com/momentics/hioload-gate/internal/session"
	"github.com/momentics/hioload-gate/protocol"
)

var (
	// ErrClosed is returned by waits interrupted by Close.
	ErrClosed = errors.New("bridge closed")
	// ErrNoPeers means a request found no open connection to send to.
	ErrNoPeers = errors.New("no open websocket peers")
)

// DefaultWriteTimeout bounds one broadcast write to one peer.
const DefaultWriteTimeout = 5 * time.Second

// Bridge connects HTTP callers to the set of open WebSocket connections.
type Bridge struct {
	reg          *session.Registry
	responses    *ResponseQueue
	writeTimeout time.Duration
	log          *zap.Logger
	metrics      *control.MetricsRegistry

	mu      sync.Mutex
	pending map[string]chan string

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithWriteTimeout bounds each per-peer write.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.writeTimeout = d
		}
	}
}

// WithMetrics records broadcast and response counters.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New creates a bridge over reg.
func New(reg *session.Registry, opts ...Option) *Bridge {
	b := &Bridge{
		reg:          reg,
		responses:    NewResponseQueue(),
		writeTimeout: DefaultWriteTimeout,
		log:          zap.NewNop(),
		pending:      make(map[string]chan string),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast encodes msg once and writes it to every open connection. A
// failed write closes that connection only. It returns the number of peers
// that received the frame.
func (b *Bridge) Broadcast(msg string) int {
	frame := protocol.Encode([]byte(msg))
	peers := b.reg.OpenSnapshot()
	sent := 0
	for _, c := range peers {
		if c.State() != api.StateOpen || b.reg.IsClosed(c.FD()) {
			continue
		}
		if err := c.Write(frame, b.writeTimeout); err != nil {
			b.metrics.Inc(control.MetricBroadcastFailed)
			b.log.Warn("broadcast write failed", zap.Int("fd", c.FD()), zap.Error(err))
			if !errors.Is(err, api.ErrConnClosed) {
				b.reg.Close(c.FD())
			}
			continue
		}
		sent++
	}
	b.metrics.Inc(control.MetricBroadcasts)
	b.metrics.Add(control.MetricBroadcastSent, int64(sent))
	b.log.Debug("broadcast", zap.Int("peers", len(peers)), zap.Int("sent", sent))
	return sent
}

// SendTo writes msg to the single connection id.
func (b *Bridge) SendTo(id int, msg string) error {
	c, ok := b.reg.Get(id)
	if !ok || c.State() != api.StateOpen {
		return api.ErrConnClosed
	}
	if err := c.Write(protocol.Encode([]byte(msg)), b.writeTimeout); err != nil {
		if !errors.Is(err, api.ErrConnClosed) {
			b.reg.Close(id)
		}
		return err
	}
	return nil
}

// OnMessage is the default inbound handler. A reply echoing the token of an
// outstanding Request goes to that request; anything else, including
// envelopes whose token is not outstanding, joins the shared response queue
// verbatim and wakes the oldest AwaitResponse caller.
func (b *Bridge) OnMessage(id int, text string) {
	b.metrics.Inc(control.MetricResponses)
	if env, ok := ParseEnvelope(text); ok {
		b.mu.Lock()
		ch, found := b.pending[env.ID]
		delete(b.pending, env.ID)
		b.mu.Unlock()
		if found {
			ch <- env.Body
			return
		}
		b.log.Debug("envelope without outstanding request queued", zap.Int("fd", id), zap.String("token", env.ID))
	}
	if !b.responses.Push(text) {
		b.log.Debug("message after close dropped", zap.Int("fd", id))
	}
}

// AwaitResponse blocks until any peer delivers a message and returns it.
// Each message is returned to exactly one caller.
func (b *Bridge) AwaitResponse(ctx context.Context) (string, error) {
	return b.responses.Pop(ctx)
}

// Request broadcasts msg under a fresh correlation token and waits for the
// reply carrying that token.
func (b *Bridge) Request(ctx context.Context, msg string) (string, error) {
	select {
	case <-b.done:
		return "", ErrClosed
	default:
	}
	if b.reg.Len() == 0 {
		return "", ErrNoPeers
	}

	token := uuid.NewString()
	ch := make(chan string, 1)
	b.mu.Lock()
	b.pending[token] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, token)
		b.mu.Unlock()
	}()

	if b.Broadcast(Envelope{ID: token, Body: msg}.Marshal()) == 0 {
		return "", ErrNoPeers
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		b.log.Debug("correlated request abandoned", zap.String("token", token), zap.Error(ctx.Err()))
		return "", ctx.Err()
	case <-b.done:
		return "", ErrClosed
	}
}

// Peers returns the number of open connections.
func (b *Bridge) Peers() int { return b.reg.Len() }

// Pending reports buffered shared responses, blocked shared waiters and
// outstanding correlated requests.
func (b *Bridge) Pending() map[string]int {
	b.mu.Lock()
	correlated := len(b.pending)
	b.mu.Unlock()
	return map[string]int{
		"buffered":   b.responses.Len(),
		"waiting":    b.responses.Waiting(),
		"correlated": correlated,
	}
}

// Close wakes every waiter with ErrClosed.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.responses.Close()
	})
}
