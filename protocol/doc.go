// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the WebSocket wire protocol (RFC 6455) used by hioload-gate.
//
// Includes:
//   - Frame decoding from a byte buffer with strict bounds checks
//   - Server (unmasked) and client (masked) frame encoding
//   - HTTP Upgrade handshake parsing and Sec-WebSocket-Accept computation
//   - Client-side handshake request/response helpers
//
// Everything here is free of I/O state; callers own sockets and buffers.
package protocol
