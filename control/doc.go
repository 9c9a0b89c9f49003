// Package control
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime metrics, debug probes and configuration control for the gateway.
//
// Provides concurrent-safe state handling primitives including:
//   - YAML configuration files and reload listeners
//   - Counters and gauges for the connection engine and the proxy
//   - Debug probes rendered by the proxy state endpoint
package control
