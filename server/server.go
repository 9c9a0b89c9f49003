// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server lifecycle: construction, run and graceful shutdown.

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/bridge"
	"github.com/momentics/hioload-gate/control"
	"github.com/momentics/hioload-gate/internal/concurrency"
	"github.com/momentics/hioload-gate/internal/session"
	"github.com/momentics/hioload-gate/internal/transport"
	"github.com/momentics/hioload-gate/reactor"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("server already running")

// Server is the WebSocket engine.
type Server struct {
	cfg      *Config
	log      *zap.Logger
	handler  api.MessageHandler
	validate api.HandshakeValidator
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes

	reg       *session.Registry
	tasks     *concurrency.TaskQueue
	pool      *concurrency.WorkerPool
	bridge    *bridge.Bridge
	acceptors []*acceptor

	running  atomic.Bool
	started  atomic.Bool
	loops    sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New binds every configured port and creates one multiplexer per port.
// Failure to do either aborts construction.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:  cfg.clone(),
		log:  zap.NewNop(),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	s.reg = session.NewRegistry(s.log.Named("registry"))
	s.tasks = concurrency.NewTaskQueue()
	s.bridge = bridge.New(s.reg,
		bridge.WithLogger(s.log.Named("bridge")),
		bridge.WithWriteTimeout(s.cfg.WriteTimeout),
		bridge.WithMetrics(s.metrics))
	if s.handler == nil {
		s.handler = s.bridge.OnMessage
	}
	if s.validate == nil {
		s.validate = api.AcceptAll
	}
	s.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Workers: s.cfg.Workers,
		PinCPUs: s.cfg.PinWorkers,
		Logger:  s.log.Named("worker"),
	}, s.tasks, s.process)

	for _, port := range s.cfg.Ports {
		a, err := s.newAcceptor(port)
		if err != nil {
			s.closeAcceptors()
			return nil, err
		}
		s.acceptors = append(s.acceptors, a)
	}
	s.registerProbes()
	return s, nil
}

func (s *Server) newAcceptor(port int) (*acceptor, error) {
	lfd, bound, err := transport.Listen(port)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	poller, err := reactor.New(s.cfg.MaxEvents)
	if err != nil {
		transport.Close(lfd)
		return nil, fmt.Errorf("create multiplexer: %w", err)
	}
	if err := poller.Watch(lfd); err != nil {
		poller.Close()
		transport.Close(lfd)
		return nil, fmt.Errorf("watch listener: %w", err)
	}
	return &acceptor{
		srv:    s,
		port:   bound,
		lfd:    lfd,
		poller: poller,
		log:    s.log.Named("acceptor").With(zap.Int("port", bound)),
	}, nil
}

// Run starts the workers and the event loops and blocks until ctx is done
// or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-s.done:
		return api.ErrServerClosed
	default:
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.running.Store(true)
	s.pool.Start()
	for _, a := range s.acceptors {
		s.loops.Add(1)
		go a.loop()
		s.log.Info("websocket listener started", zap.Int("port", a.port))
	}

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case <-s.done:
		return nil
	}
}

// Shutdown stops the event loops, releases listening sockets and
// multiplexers, clears the closed set, wakes every worker and closes the
// remaining connections. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.done)
		for _, a := range s.acceptors {
			_ = a.poller.Wake()
		}
		s.loops.Wait()

		err := s.closeAcceptors()
		s.reg.ClearClosed()
		s.pool.Close()
		s.bridge.Close()
		err = multierr.Append(err, s.reg.CloseAll())
		s.stopErr = err
		s.log.Info("websocket engine stopped", zap.Error(err))
	})
	return s.stopErr
}

func (s *Server) closeAcceptors() error {
	var err error
	for _, a := range s.acceptors {
		err = multierr.Append(err, a.poller.Close())
		err = multierr.Append(err, transport.Close(a.lfd))
	}
	return err
}

// Ports returns the bound port of every listener, in configuration order.
func (s *Server) Ports() []int {
	out := make([]int, len(s.acceptors))
	for i, a := range s.acceptors {
		out[i] = a.port
	}
	return out
}

// Bridge returns the broadcast bridge fed by the default handler.
func (s *Server) Bridge() *bridge.Bridge { return s.bridge }

// Registry returns the connection registry.
func (s *Server) Registry() *session.Registry { return s.reg }

func (s *Server) registerProbes() {
	if s.probes == nil {
		return
	}
	s.probes.RegisterProbe("ws.open_connections", func() any { return s.reg.Len() })
	s.probes.RegisterProbe("ws.closed_ids", func() any { return s.reg.ClosedLen() })
	s.probes.RegisterProbe("ws.queued_tasks", func() any { return s.tasks.Len() })
	s.probes.RegisterProbe("ws.workers", func() any { return s.pool.Stats() })
	s.probes.RegisterProbe("ws.ports", func() any { return s.Ports() })
	s.probes.RegisterProbe("bridge.pending", func() any { return s.bridge.Pending() })
}

// closeConn closes fd through the registry and counts the teardown.
func (s *Server) closeConn(fd int) {
	if s.reg.Close(fd) {
		s.metrics.Inc(control.MetricClosed)
	}
}

// dispatch queues a readable connection for the worker pool.
func (s *Server) dispatch(fd int) {
	if s.reg.IsClosed(fd) {
		return
	}
	if err := s.pool.Submit(fd); err != nil {
		s.log.Debug("dispatch after shutdown", zap.Int("fd", fd))
	}
}
