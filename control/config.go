// control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// YAML configuration file for the gateway process.

package control

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration. Durations are Go duration strings
// ("5s", "250ms").
type File struct {
	WebSocket WebSocketSection `yaml:"websocket"`
	Proxy     ProxySection     `yaml:"proxy"`
	Log       LogSection       `yaml:"log"`
}

// WebSocketSection configures the connection engine.
type WebSocketSection struct {
	Ports            []int         `yaml:"ports"`
	Workers          int           `yaml:"workers"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	RequireMask      bool          `yaml:"require_mask"`
	PinWorkers       bool          `yaml:"pin_workers"`
	MaxEvents        int           `yaml:"max_events"`
}

// ProxySection configures the HTTP front end.
type ProxySection struct {
	Ports           []int         `yaml:"ports"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	Correlate       bool          `yaml:"correlate"`
	RateLimit       float64       `yaml:"rate_limit"`
	Burst           int           `yaml:"burst"`
	StatePath       string        `yaml:"state_path"`
	MetricsPath     string        `yaml:"metrics_path"`
}

// LogSection configures the process logger.
type LogSection struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultFile returns the configuration used when no file is given.
func DefaultFile() *File {
	return &File{
		WebSocket: WebSocketSection{
			Ports:            []int{8081},
			Workers:          4,
			HandshakeTimeout: 5 * time.Second,
			WriteTimeout:     5 * time.Second,
			MaxEvents:        128,
		},
		Proxy: ProxySection{
			Ports:           []int{8080},
			ResponseTimeout: 30 * time.Second,
			StatePath:       "/_gateway/state",
			MetricsPath:     "/_gateway/metrics",
		},
		Log: LogSection{Level: "info"},
	}
}

// LoadFile reads path over the defaults and validates the result.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*File, error) {
	cfg := DefaultFile()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that ports and worker counts are positive.
func (f *File) Validate() error {
	if len(f.WebSocket.Ports) == 0 {
		return fmt.Errorf("websocket: at least one port is required")
	}
	for _, p := range f.WebSocket.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("websocket: invalid port: %d", p)
		}
	}
	for _, p := range f.Proxy.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("proxy: invalid port: %d", p)
		}
	}
	if f.WebSocket.Workers <= 0 {
		return fmt.Errorf("websocket: workers must be greater than zero")
	}
	if f.WebSocket.HandshakeTimeout < 0 || f.WebSocket.WriteTimeout < 0 || f.Proxy.ResponseTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if f.Proxy.RateLimit < 0 || f.Proxy.Burst < 0 {
		return fmt.Errorf("proxy: rate limit and burst must not be negative")
	}
	return nil
}
