// File: internal/session/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry of open connections plus the set of ids already torn down.

package session

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/api"
)

// Registry tracks open connections and closed ids. An id is never in both
// sets at once. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	open   map[int]*Conn
	closed map[int]struct{}
	log    *zap.Logger
}

// NewRegistry returns an empty registry. A nil logger disables logging.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		open:   make(map[int]*Conn),
		closed: make(map[int]struct{}),
		log:    log,
	}
}

// Purge forgets a closed id. The acceptor calls it for every new descriptor
// because the kernel reuses descriptor numbers.
func (r *Registry) Purge(fd int) {
	r.mu.Lock()
	delete(r.closed, fd)
	r.mu.Unlock()
}

// Open registers c as open.
func (r *Registry) Open(c *Conn) {
	c.SetState(api.StateOpen)
	r.mu.Lock()
	delete(r.closed, c.fd)
	r.open[c.fd] = c
	r.mu.Unlock()
}

// Get returns the open connection with id fd.
func (r *Registry) Get(fd int) (*Conn, bool) {
	r.mu.RLock()
	c, ok := r.open[fd]
	r.mu.RUnlock()
	return c, ok
}

// IsClosed reports whether fd has been closed and not since reused.
func (r *Registry) IsClosed(fd int) bool {
	r.mu.RLock()
	_, ok := r.closed[fd]
	r.mu.RUnlock()
	return ok
}

// Close tears down the connection fd: it is removed from its multiplexer,
// its descriptor is released and the id moves from the open set to the
// closed set. Closing an id that is not open is reported and ignored.
// Close returns true when this call performed the teardown.
func (r *Registry) Close(fd int) bool {
	r.mu.Lock()
	c, ok := r.open[fd]
	if !ok {
		_, already := r.closed[fd]
		r.mu.Unlock()
		if already {
			r.log.Warn("connection already closed", zap.Int("fd", fd))
		} else {
			r.log.Warn("close of unknown connection", zap.Int("fd", fd))
		}
		return false
	}
	delete(r.open, fd)
	r.closed[fd] = struct{}{}
	c.SetState(api.StateClosing)
	r.mu.Unlock()

	if p := c.poller; p != nil {
		if err := p.Remove(fd); err != nil {
			r.log.Debug("multiplexer remove failed", zap.Int("fd", fd), zap.Error(err))
		}
	}
	if err := c.release(); err != nil {
		r.log.Error("descriptor close failed", zap.Int("fd", fd), zap.Error(err))
	}
	r.log.Debug("connection closed", zap.Int("fd", fd), zap.Duration("lifetime", c.Since()))
	return true
}

// OpenSnapshot copies the open set under the lock.
func (r *Registry) OpenSnapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.open))
	for _, c := range r.open {
		out = append(out, c)
	}
	return out
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.open)
}

// ClosedLen returns the size of the closed set.
func (r *Registry) ClosedLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.closed)
}

// ClearClosed empties the closed set.
func (r *Registry) ClearClosed() {
	r.mu.Lock()
	r.closed = make(map[int]struct{})
	r.mu.Unlock()
}

// CloseAll closes every open connection and returns the combined errors of
// releasing their descriptors.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.open))
	for fd, c := range r.open {
		conns = append(conns, c)
		delete(r.open, fd)
		r.closed[fd] = struct{}{}
	}
	r.mu.Unlock()

	var err error
	for _, c := range conns {
		if p := c.poller; p != nil {
			_ = p.Remove(c.fd)
		}
		err = multierr.Append(err, c.release())
	}
	return err
}
