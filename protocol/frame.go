// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Frame type, decode errors and UTF-8 policy.

package protocol

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Decode errors.
var (
	ErrFrameTooShort     = errors.New("frame too short")
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	ErrPayloadTooLarge   = errors.New("payload length out of bounds")
)

// Frame represents a decoded WebSocket frame.
type Frame struct {
	Fin        bool   // FIN bit
	Opcode     byte   // Operation code
	Masked     bool   // Whether the frame was masked
	PayloadLen uint64 // Declared payload length
	Payload    []byte // Unmasked payload, owned by the frame
}

// IsClose reports whether the frame asks for an orderly shutdown.
func (f *Frame) IsClose() bool { return f.Opcode == OpcodeClose }

// IsControl reports whether the frame is a close, ping or pong frame.
func (f *Frame) IsControl() bool { return f.Opcode&0x8 != 0 }

// Text returns the payload as a string, replacing invalid UTF-8 sequences
// with ReplacementChar.
func (f *Frame) Text() string {
	return SanitizeUTF8(f.Payload)
}

// SanitizeUTF8 converts b to a string, substituting ReplacementChar for every
// run of invalid UTF-8 bytes.
func SanitizeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), ReplacementChar)
}

// OpcodeName returns a human-readable opcode name for logs.
func OpcodeName(op byte) string {
	switch op {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return "reserved"
	}
}
