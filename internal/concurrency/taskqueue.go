// File: internal/concurrency/taskqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FIFO of connection ids awaiting a worker.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// TaskQueue is a blocking FIFO of connection ids. An id is held at most once
// at a time: pushing an id that is still queued is a no-op.
type TaskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	queued map[int]struct{}
	closed bool
}

// NewTaskQueue returns an empty, open queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{
		items:  queue.New(),
		queued: make(map[int]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends id and wakes one waiting consumer. It returns false when the
// id is already queued or the queue is closed.
func (q *TaskQueue) Push(id int) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if _, dup := q.queued[id]; dup {
		q.mu.Unlock()
		return false
	}
	q.queued[id] = struct{}{}
	q.items.Add(id)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// Pop blocks until an id is available or the queue is closed. ok is false
// once the queue has been closed; ids still queued at that point are dropped.
func (q *TaskQueue) Pop() (id int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.items.Length() == 0 {
		q.cond.Wait()
	}
	if q.closed {
		return 0, false
	}
	id = q.items.Remove().(int)
	delete(q.queued, id)
	return id, true
}

// Len returns the number of queued ids.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Close wakes every consumer. Further pushes are rejected.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
