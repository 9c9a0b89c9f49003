// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection state and the connection registry. A Conn is owned by the
// Registry from the moment the handshake succeeds until it is closed; the
// registry keeps the open set used for broadcast and the closed set used to
// reject stale readiness events and repeated closes.

package session
