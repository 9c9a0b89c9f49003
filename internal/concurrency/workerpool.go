// File: internal/concurrency/workerpool.go
// Package concurrency implements the fixed worker pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WorkerPool runs N long-lived goroutines over a shared TaskQueue. Each
// worker pops one connection id, hands it to the handler and goes back to
// waiting.

package concurrency

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/internal/normalize"
)

// Handler processes one ready connection id.
type Handler func(id int)

// PoolConfig configures a WorkerPool.
type PoolConfig struct {
	Workers int         // number of workers; <= 0 means GOMAXPROCS
	PinCPUs bool        // lock each worker to an OS thread pinned to one CPU
	Logger  *zap.Logger // nil disables logging
}

// WorkerPool manages a fixed set of worker goroutines.
type WorkerPool struct {
	queue   *TaskQueue
	handler Handler
	log     *zap.Logger
	pin     bool
	workers int

	wg     sync.WaitGroup
	start  sync.Once
	closed atomic.Bool

	// statistics
	submitted atomic.Int64
	processed atomic.Int64
	panics    atomic.Int64
}

// NewWorkerPool creates a pool that feeds ids from q to h. Workers start on
// Start.
func NewWorkerPool(cfg PoolConfig, q *TaskQueue, h Handler) *WorkerPool {
	cfg.Workers = normalize.Workers(cfg.Workers)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &WorkerPool{
		queue:   q,
		handler: h,
		log:     cfg.Logger,
		pin:     cfg.PinCPUs,
		workers: cfg.Workers,
	}
}

// Start launches the workers. Calls after the first are no-ops.
func (p *WorkerPool) Start() {
	p.start.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
		p.log.Debug("worker pool started", zap.Int("workers", p.workers))
	})
}

// Submit enqueues id for processing. An id already waiting in the queue is
// not queued twice.
func (p *WorkerPool) Submit(id int) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.queue.Push(id) {
		p.submitted.Add(1)
	}
	return nil
}

// NumWorkers returns the configured number of workers.
func (p *WorkerPool) NumWorkers() int { return p.workers }

// Close wakes all workers and waits for them to finish their current task.
func (p *WorkerPool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.queue.Close()
	p.wg.Wait()
	p.log.Debug("worker pool stopped")
}

// Stats returns basic pool metrics.
func (p *WorkerPool) Stats() map[string]int64 {
	return map[string]int64{
		"submitted":   p.submitted.Load(),
		"processed":   p.processed.Load(),
		"queued":      int64(p.queue.Len()),
		"panics":      p.panics.Load(),
		"num_workers": int64(p.workers),
	}
}

func (p *WorkerPool) run(idx int) {
	defer p.wg.Done()
	if p.pin {
		restore, err := PinCurrentThread(idx)
		if err != nil {
			p.log.Warn("worker pinning failed", zap.Int("worker", idx), zap.Error(err))
		} else {
			defer restore()
		}
	}
	for {
		id, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.execute(idx, id)
	}
}

// execute runs the handler, recovering from panics so one connection cannot
// take a worker down.
func (p *WorkerPool) execute(idx, id int) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("worker panic", zap.Int("worker", idx), zap.Int("fd", id), zap.Any("panic", r))
		}
		p.processed.Add(1)
	}()
	p.handler(id)
}
