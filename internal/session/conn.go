// File: internal/session/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state: lifecycle, read buffer and write serialization.

package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/internal/transport"
)

// Conn is one accepted socket.
type Conn struct {
	fd     int
	poller api.Poller
	state  atomic.Int32
	opened time.Time

	// readMu is held by the worker processing the connection.
	readMu  sync.Mutex
	pending []byte

	writeMu sync.Mutex

	// life guards descriptor ownership between the reader and release.
	life     sync.Mutex
	reading  bool
	released bool
	fdClosed bool
}

// NewConn wraps an accepted descriptor. poller may be nil when the
// connection is not registered with a multiplexer.
func NewConn(fd int, poller api.Poller) *Conn {
	c := &Conn{fd: fd, poller: poller, opened: time.Now()}
	c.state.Store(int32(api.StateAccepted))
	return c
}

// FD returns the socket descriptor, which is also the connection id.
func (c *Conn) FD() int { return c.fd }

// Poller returns the multiplexer the connection is registered with.
func (c *Conn) Poller() api.Poller { return c.poller }

// State returns the current lifecycle state.
func (c *Conn) State() api.ConnState { return api.ConnState(c.state.Load()) }

// SetState moves the connection to s. Closed is terminal.
func (c *Conn) SetState(s api.ConnState) {
	for {
		cur := c.state.Load()
		if api.ConnState(cur) == api.StateClosed {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Since reports how long the connection has been open.
func (c *Conn) Since() time.Duration { return time.Since(c.opened) }

// LockRead acquires exclusive access to the read side. While it is held the
// descriptor stays allocated even if the connection is closed, so its
// number cannot be reused under the reader.
func (c *Conn) LockRead() {
	c.readMu.Lock()
	c.life.Lock()
	c.reading = true
	c.life.Unlock()
}

// UnlockRead releases the read side, closing the descriptor if the
// connection was released meanwhile.
func (c *Conn) UnlockRead() {
	c.life.Lock()
	c.reading = false
	closeNow := c.released && !c.fdClosed
	if closeNow {
		c.fdClosed = true
	}
	c.life.Unlock()
	if closeNow {
		_ = transport.Close(c.fd)
	}
	c.readMu.Unlock()
}

// Pending returns bytes read but not yet decoded. Callers hold the read lock.
func (c *Conn) Pending() []byte { return c.pending }

// SetPending replaces the undecoded buffer. Callers hold the read lock.
func (c *Conn) SetPending(b []byte) {
	if len(b) == 0 {
		c.pending = c.pending[:0]
		return
	}
	c.pending = b
}

// Write sends b in full. Writes on one connection never interleave.
func (c *Conn) Write(b []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() == api.StateClosed {
		return api.ErrConnClosed
	}
	if err := transport.WriteAll(c.fd, b, timeout); err != nil {
		return api.NewError(api.ErrCodeWrite, "write failed").
			WithContext("fd", c.fd).
			Wrap(fmt.Errorf("%w: %w", api.ErrWriteFailed, err))
	}
	return nil
}

// release marks the connection closed and frees the descriptor. It waits for
// an in-flight write so the descriptor is never written after reuse. With a
// reader in flight the socket is only shut down; the reader closes the
// descriptor in UnlockRead.
func (c *Conn) release() error {
	c.writeMu.Lock()
	c.state.Store(int32(api.StateClosed))
	c.writeMu.Unlock()

	c.life.Lock()
	defer c.life.Unlock()
	c.released = true
	if c.fdClosed {
		return nil
	}
	if c.reading {
		// The reader may not close the descriptor until life is released.
		return transport.Shutdown(c.fd)
	}
	c.fdClosed = true
	return transport.Close(c.fd)
}
