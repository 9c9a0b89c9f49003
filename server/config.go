// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/reactor"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Ports            []int         // listening ports; 0 binds an ephemeral port
	Workers          int           // worker pool size
	HandshakeTimeout time.Duration // bound on reading the upgrade request
	WriteTimeout     time.Duration // bound on a single frame write
	MaxEvents        int           // epoll batch size per wait
	RequireMask      bool          // close connections that send unmasked frames
	PinWorkers       bool          // pin worker threads to CPUs
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Ports:            []int{8081},
		Workers:          4,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxEvents:        reactor.DefaultMaxEvents,
	}
}

// Validate checks the configuration. Port 0 is accepted for ephemeral
// listeners.
func (c *Config) Validate() error {
	if len(c.Ports) == 0 {
		return fmt.Errorf("%w: at least one port is required", api.ErrInvalidArgument)
	}
	for _, p := range c.Ports {
		if p < 0 || p > 65535 {
			return fmt.Errorf("%w: port %d", api.ErrInvalidArgument, p)
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be greater than zero, got %d", api.ErrInvalidArgument, c.Workers)
	}
	if c.HandshakeTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", api.ErrInvalidArgument)
	}
	return nil
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Ports = append([]int(nil), c.Ports...)
	if cp.MaxEvents <= 0 {
		cp.MaxEvents = reactor.DefaultMaxEvents
	}
	return &cp
}
