// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/control"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the logger for the engine and its components.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMessageHandler replaces the default handler, which feeds the bridge.
func WithMessageHandler(h api.MessageHandler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithHandshakeValidator installs a hook that may reject upgrade requests.
func WithHandshakeValidator(v api.HandshakeValidator) Option {
	return func(s *Server) {
		s.validate = v
	}
}

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(s *Server) {
		s.cfg.Workers = n
	}
}

// WithMetrics records engine counters into m.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithProbes registers engine state probes on dp.
func WithProbes(dp *control.DebugProbes) Option {
	return func(s *Server) {
		s.probes = dp
	}
}
