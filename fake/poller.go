// Package fake
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fake implementations for testing.
// Provides predictable, controllable behavior for the multiplexer and sockets.

package fake

import (
	"sync"

	"github.com/momentics/hioload-gate/api"
)

// Poller is an in-memory api.Poller that records registrations. Ready ids
// are injected with Signal and returned by Wait.
type Poller struct {
	mu       sync.Mutex
	watched  map[int]bool
	added    map[int]bool
	removed  []int
	rearmed  []int
	ready    []int
	notify   chan struct{}
	closed   bool
	closeErr error
}

// NewPoller returns an empty fake poller.
func NewPoller() *Poller {
	return &Poller{
		watched: make(map[int]bool),
		added:   make(map[int]bool),
		notify:  make(chan struct{}, 1),
	}
}

var _ api.Poller = (*Poller)(nil)

func (p *Poller) Watch(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched[fd] = true
	return nil
}

func (p *Poller) Add(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added[fd] = true
	return nil
}

func (p *Poller) Rearm(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rearmed = append(p.rearmed, fd)
	return nil
}

func (p *Poller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.added, fd)
	p.removed = append(p.removed, fd)
	return nil
}

// Signal marks fds ready for the next Wait.
func (p *Poller) Signal(fds ...int) {
	p.mu.Lock()
	p.ready = append(p.ready, fds...)
	p.mu.Unlock()
	p.Wake()
}

func (p *Poller) Wait(fds []int) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, api.ErrServerClosed
	}
	if len(p.ready) > 0 {
		n := copy(fds, p.ready)
		p.ready = p.ready[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()
	<-p.notify
	return 0, nil
}

func (p *Poller) Wake() error {
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// SetCloseError makes Close return err.
func (p *Poller) SetCloseError(err error) {
	p.mu.Lock()
	p.closeErr = err
	p.mu.Unlock()
}

func (p *Poller) Close() error {
	p.mu.Lock()
	p.closed = true
	err := p.closeErr
	p.mu.Unlock()
	p.Wake()
	return err
}

// Added reports whether fd is registered for reads.
func (p *Poller) Added(fd int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.added[fd]
}

// Removed returns the ids passed to Remove, in order.
func (p *Poller) Removed() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.removed...)
}

// Rearmed returns the ids passed to Rearm, in order.
func (p *Poller) Rearmed() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.rearmed...)
}
