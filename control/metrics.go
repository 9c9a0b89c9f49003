// control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime metrics collector. Counters are created on first use and are
// updated without taking the registry lock.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metric names shared by the engine, the bridge and the proxy.
const (
	MetricAccepted          = "ws.accepted"
	MetricHandshakeRejected = "ws.handshake_rejected"
	MetricFramesDecoded     = "ws.frames_decoded"
	MetricDecodeErrors      = "ws.decode_errors"
	MetricClosed            = "ws.closed"
	MetricBroadcasts        = "bridge.broadcasts"
	MetricBroadcastSent     = "bridge.sent"
	MetricBroadcastFailed   = "bridge.failed"
	MetricResponses         = "bridge.responses"
	MetricProxyRequests     = "proxy.requests"
	MetricProxyTimeouts     = "proxy.timeouts"
	MetricProxyRejected     = "proxy.rejected"
)

// MetricsRegistry holds counters and gauges.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	gauges   map[string]any
	updated  atomic.Int64
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*atomic.Int64),
		gauges:   make(map[string]any),
	}
}

// Add increments the counter key by delta. A nil registry ignores updates,
// so components can run without metrics.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	if mr == nil {
		return
	}
	mr.counter(key).Add(delta)
	mr.updated.Store(time.Now().UnixNano())
}

// Inc increments the counter key by one.
func (mr *MetricsRegistry) Inc(key string) { mr.Add(key, 1) }

// Counter returns the current value of key.
func (mr *MetricsRegistry) Counter(key string) int64 {
	if mr == nil {
		return 0
	}
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// Set sets or updates a gauge.
func (mr *MetricsRegistry) Set(key string, value any) {
	if mr == nil {
		return
	}
	mr.mu.Lock()
	mr.gauges[key] = value
	mr.mu.Unlock()
	mr.updated.Store(time.Now().UnixNano())
}

// Updated returns the time of the last change.
func (mr *MetricsRegistry) Updated() time.Time {
	if mr == nil {
		return time.Time{}
	}
	ns := mr.updated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// GetSnapshot returns the latest counters and gauges in one map.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	if mr == nil {
		return map[string]any{}
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.counters)+len(mr.gauges))
	for k, v := range mr.gauges {
		out[k] = v
	}
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	return out
}

func (mr *MetricsRegistry) counter(key string) *atomic.Int64 {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[key]; !ok {
		c = new(atomic.Int64)
		mr.counters[key] = c
	}
	return c
}
