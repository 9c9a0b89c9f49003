// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

const (
	// Data opcodes
	OpcodeContinuation = 0x0
	OpcodeText         = 0x1
	OpcodeBinary       = 0x2

	// Control opcodes (>= 0x8)
	OpcodeClose = 0x8
	OpcodePing  = 0x9
	OpcodePong  = 0xA

	// Frame limit settings
	MaxControlPayloadLen = 125
	MaxFrameHeaderLen    = 14 // for extended payloads with masking

	// Bit masks
	FinBit    = 0x80
	MaskBit   = 0x80
	OpcodeMsk = 0x0F
	LenMask   = 0x7F

	// Length markers
	PayloadLen16 = 126
	PayloadLen64 = 127

	// Close codes
	CloseNormalClosure      = 1000
	CloseGoingAway          = 1001
	CloseProtocolError      = 1002
	CloseUnsupportedData    = 1003
	CloseInvalidPayloadData = 1007
	CloseMessageTooBig      = 1009
)

// MaxFramePayload defines the maximum allowed payload size for a single frame.
const MaxFramePayload = 1 << 20 // 1 MiB

// ReplacementChar is substituted for invalid UTF-8 sequences in text payloads.
// Messages are still delivered; only the offending bytes are replaced.
const ReplacementChar = "\uFFFD"
