// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket connection engine. One event loop per listening port owns the
// listening socket and an epoll instance; it accepts connections, performs
// the upgrade handshake inline and hands readable connections to a shared
// worker pool. Workers decode frames and dispatch text messages to the
// configured handler, which defaults to the broadcast bridge.
package server
