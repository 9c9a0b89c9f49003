// File: api/handler.go
// Package api defines the pluggable hook signatures.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// MessageHandler receives every decoded text message together with the
// identifier of the connection it arrived on.
type MessageHandler func(connID int, text string)

// HandshakeValidator inspects the raw upgrade request before it is accepted.
// Returning false rejects the connection.
type HandshakeValidator func(rawRequest []byte) bool

// AcceptAll is the default HandshakeValidator.
func AcceptAll([]byte) bool { return true }
