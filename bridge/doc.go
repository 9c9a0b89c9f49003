// Package bridge
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Broadcast bridge between the HTTP front end and the WebSocket engine.
//
// Broadcast fans one text message out to every open connection. Inbound
// messages land in a shared FIFO read by AwaitResponse, so any peer's reply
// satisfies the oldest waiting caller. That pairing is only correct while a
// single request is in flight. Request adds a correlated mode: each call
// wraps its message in an envelope carrying a fresh token and waits on a
// channel of its own for a reply that echoes the token.
package bridge
