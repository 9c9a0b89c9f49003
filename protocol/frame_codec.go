// File: protocol/frame_codec.go
// Package protocol implements the frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Decode never reads past the end of the supplied buffer: every length field
// is checked against the bytes actually present before it is used.

package protocol

import (
	"encoding/binary"
	"fmt"
)

// parseHeader returns the header length (including the mask key) and the
// declared payload length of the frame at the head of buf.
func parseHeader(buf []byte) (hdrLen int, payloadLen uint64, err error) {
	if len(buf) < 2 {
		return 0, 0, ErrFrameTooShort
	}
	masked := buf[1]&MaskBit != 0
	payloadLen = uint64(buf[1] & LenMask)
	hdrLen = 2

	switch payloadLen {
	case PayloadLen16:
		if len(buf) < 4 {
			return 0, 0, fmt.Errorf("%w: need 4 bytes for 16-bit length", ErrFrameTooShort)
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[2:4]))
		hdrLen = 4
	case PayloadLen64:
		if len(buf) < 10 {
			return 0, 0, fmt.Errorf("%w: need 10 bytes for 64-bit length", ErrFrameTooShort)
		}
		payloadLen = binary.BigEndian.Uint64(buf[2:10])
		hdrLen = 10
	}

	if masked {
		if len(buf) < hdrLen+4 {
			return 0, 0, fmt.Errorf("%w: mask key missing", ErrFrameTooShort)
		}
		hdrLen += 4
	}
	return hdrLen, payloadLen, nil
}

// FrameSize reports the total wire size of the frame at the head of buf.
// It returns ErrFrameTooShort while the header itself is incomplete and
// ErrPayloadTooLarge when the declared payload exceeds MaxFramePayload.
// A result larger than len(buf) means the payload has not fully arrived.
func FrameSize(buf []byte) (int, error) {
	hdrLen, payloadLen, err := parseHeader(buf)
	if err != nil {
		return 0, err
	}
	if payloadLen > MaxFramePayload {
		return 0, fmt.Errorf("%w: %d exceeds %d", ErrPayloadTooLarge, payloadLen, MaxFramePayload)
	}
	return hdrLen + int(payloadLen), nil
}

// Decode parses exactly one frame from buf.
//
// Accepted opcodes are text, close, ping and pong; anything else is
// ErrUnsupportedOpcode. Unmasked frames are accepted permissively, the
// caller decides whether to enforce client masking.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < 2 {
		return nil, ErrFrameTooShort
	}
	opcode := buf[0] & OpcodeMsk
	switch opcode {
	case OpcodeText, OpcodeClose, OpcodePing, OpcodePong:
	default:
		return nil, fmt.Errorf("%w: 0x%X", ErrUnsupportedOpcode, opcode)
	}

	hdrLen, payloadLen, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	available := uint64(len(buf) - hdrLen)
	if payloadLen > available {
		return nil, fmt.Errorf("%w: declared %d, available %d", ErrPayloadTooLarge, payloadLen, available)
	}
	if payloadLen > MaxFramePayload {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrPayloadTooLarge, payloadLen, MaxFramePayload)
	}
	if opcode&0x8 != 0 && payloadLen > MaxControlPayloadLen {
		return nil, fmt.Errorf("%w: control payload %d", ErrPayloadTooLarge, payloadLen)
	}

	masked := buf[1]&MaskBit != 0
	payload := make([]byte, payloadLen)
	copy(payload, buf[hdrLen:hdrLen+int(payloadLen)])
	if masked {
		var key [4]byte
		copy(key[:], buf[hdrLen-4:hdrLen])
		maskBytes(payload, key)
	}

	return &Frame{
		Fin:        buf[0]&FinBit != 0,
		Opcode:     opcode,
		Masked:     masked,
		PayloadLen: payloadLen,
		Payload:    payload,
	}, nil
}

// Encode serializes payload as a final, unmasked server-to-client text frame.
func Encode(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, len(payload)+10), OpcodeText, payload, nil)
}

// AppendFrame appends a final frame with the given opcode to dst.
// When mask is non-nil the mask bit is set and the payload is XOR-ed with
// the key (client-to-server framing); payload itself is left untouched.
func AppendFrame(dst []byte, opcode byte, payload []byte, mask *[4]byte) []byte {
	b0 := byte(FinBit) | (opcode & OpcodeMsk)
	var maskBit byte
	if mask != nil {
		maskBit = MaskBit
	}

	plen := len(payload)
	switch {
	case plen <= 125:
		dst = append(dst, b0, byte(plen)|maskBit)
	case plen <= 0xFFFF:
		dst = append(dst, b0, PayloadLen16|maskBit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, PayloadLen64|maskBit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if mask == nil {
		return append(dst, payload...)
	}
	dst = append(dst, mask[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(dst[start:], *mask)
	return dst
}

// ClosePayload builds the body of a close frame: status code then reason.
func ClosePayload(code uint16, reason string) []byte {
	b := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), code)
	return append(b, reason...)
}

// maskBytes applies XOR on buf using key, in place.
func maskBytes(buf []byte, key [4]byte) {
	for i := range buf {
		buf[i] ^= key[i%4]
	}
}
