// Package proxy
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reverse-proxy front end. Plain HTTP requests are rendered in wire form,
// broadcast to the connected WebSocket peers and answered with the first
// reply. In shared mode requests are serialized because replies carry no
// request identity; in correlated mode every request waits for the reply
// that echoes its own token.
package proxy
