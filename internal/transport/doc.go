// Package transport
// Author: momentics <momentics@gmail.com>
//
// Raw socket plumbing for the gateway: non-blocking listen/accept, draining
// reads, bounded writes and a deadline-bounded reader for handshake headers.
// Linux only; other platforms get api.ErrNotSupported.
package transport
