// File: server/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-port event loop: accept, inline handshake, readiness dispatch.

package server

import (
	"errors"

	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/control"
	"github.com/momentics/hioload-gate/internal/session"
	"github.com/momentics/hioload-gate/internal/transport"
	"github.com/momentics/hioload-gate/protocol"
)

type acceptor struct {
	srv    *Server
	port   int
	lfd    int
	poller api.Poller
	log    *zap.Logger
}

// loop waits for readiness until the server stops. It never reads payload
// bytes itself; readable connections go to the worker pool.
func (a *acceptor) loop() {
	defer a.srv.loops.Done()
	fds := make([]int, a.srv.cfg.MaxEvents)
	for a.srv.running.Load() {
		n, err := a.poller.Wait(fds)
		if err != nil {
			if a.srv.running.Load() {
				a.log.Error("multiplexer wait failed", zap.Error(err))
			}
			return
		}
		for _, fd := range fds[:n] {
			if fd == a.lfd {
				a.acceptPending()
				continue
			}
			a.srv.dispatch(fd)
		}
	}
}

// acceptPending accepts every queued connection on the listener.
func (a *acceptor) acceptPending() {
	for a.srv.running.Load() {
		fd, err := transport.Accept(a.lfd)
		if errors.Is(err, api.ErrWouldBlock) {
			return
		}
		if err != nil {
			a.log.Error("accept failed", zap.Error(err))
			return
		}
		a.srv.metrics.Inc(control.MetricAccepted)
		a.srv.reg.Purge(fd)
		a.upgrade(fd)
	}
}

// upgrade performs the handshake on a freshly accepted descriptor. On
// success the connection is registered as open and armed for reads; on any
// failure it is closed without a response.
func (a *acceptor) upgrade(fd int) {
	s := a.srv
	c := session.NewConn(fd, a.poller)
	c.SetState(api.StateHandshakePending)

	hdr, rest, err := protocol.ReadHeader(transport.NewDeadlineReader(fd, s.cfg.HandshakeTimeout), protocol.MaxHandshakeHeadersSize)
	var up *protocol.Upgrade
	if err == nil {
		up, err = protocol.ParseHandshake(hdr, s.validate)
	}
	if err == nil {
		err = transport.WriteAll(fd, up.Response(), s.cfg.WriteTimeout)
	}
	if err != nil {
		s.metrics.Inc(control.MetricHandshakeRejected)
		herr := api.NewError(api.ErrCodeHandshake, "handshake rejected").WithContext("fd", fd).Wrap(err)
		a.log.Info("handshake rejected", zap.Int("fd", fd), zap.Stringer("code", api.CodeOf(herr)), zap.Error(herr))
		c.SetState(api.StateClosed)
		transport.Close(fd)
		return
	}

	if len(rest) > 0 {
		c.SetPending(append([]byte(nil), rest...))
	}
	s.reg.Open(c)
	if err := a.poller.Add(fd); err != nil {
		a.log.Error("multiplexer add failed", zap.Int("fd", fd), zap.Error(err))
		s.closeConn(fd)
		return
	}
	a.log.Debug("connection open", zap.Int("fd", fd), zap.String("path", up.Path))
	if len(rest) > 0 {
		s.dispatch(fd)
	}
}
