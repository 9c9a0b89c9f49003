// File: bridge/response_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared FIFO of inbound messages with FIFO waiters.

package bridge

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

type waiter struct {
	ch        chan string // buffered 1; closed on shutdown
	delivered bool
	cancelled bool
}

// ResponseQueue hands each pushed message to exactly one consumer. When
// consumers are waiting the oldest one receives it; otherwise the message
// is buffered until the next Pop.
type ResponseQueue struct {
	mu      sync.Mutex
	items   *queue.Queue // string
	waiters *queue.Queue // *waiter
	closed  bool
}

// NewResponseQueue returns an empty queue.
func NewResponseQueue() *ResponseQueue {
	return &ResponseQueue{items: queue.New(), waiters: queue.New()}
}

// Push delivers msg to the oldest live waiter or buffers it. It returns
// false after Close.
func (q *ResponseQueue) Push(msg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	for q.waiters.Length() > 0 {
		w := q.waiters.Remove().(*waiter)
		if w.cancelled {
			continue
		}
		w.delivered = true
		w.ch <- msg
		return true
	}
	q.items.Add(msg)
	return true
}

// Pop blocks until a message is available, ctx is done or the queue is
// closed.
func (q *ResponseQueue) Pop(ctx context.Context) (string, error) {
	q.mu.Lock()
	if q.items.Length() > 0 {
		msg := q.items.Remove().(string)
		q.mu.Unlock()
		return msg, nil
	}
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	w := &waiter{ch: make(chan string, 1)}
	q.waiters.Add(w)
	q.mu.Unlock()

	select {
	case msg, ok := <-w.ch:
		if !ok {
			return "", ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		q.mu.Lock()
		if w.delivered {
			q.mu.Unlock()
			// Lost the race with Push or Close; the outcome is already in ch.
			if msg, ok := <-w.ch; ok {
				return msg, nil
			}
			return "", ErrClosed
		}
		w.cancelled = true
		q.mu.Unlock()
		return "", ctx.Err()
	}
}

// Len returns the number of buffered messages.
func (q *ResponseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Waiting returns the number of blocked consumers.
func (q *ResponseQueue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := 0; i < q.waiters.Length(); i++ {
		if !q.waiters.Get(i).(*waiter).cancelled {
			n++
		}
	}
	return n
}

// Close releases every waiter with ErrClosed. Buffered messages can still
// be popped.
func (q *ResponseQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for q.waiters.Length() > 0 {
		w := q.waiters.Remove().(*waiter)
		if !w.cancelled {
			w.delivered = true
			close(w.ch)
		}
	}
}
