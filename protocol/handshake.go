// File: protocol/handshake.go
// Package protocol implements the WebSocket handshake logic for hioload-gate.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server-side and client-side handshake routines: bounded header assembly,
// Sec-WebSocket-Key extraction, Sec-WebSocket-Accept computation and the
// literal 101 response.

package protocol

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/momentics/hioload-gate/api"
)

// Constants used for handshake processing.
const (
	WebSocketGUID           = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderSecWebSocketKey   = "Sec-WebSocket-Key"
	HeaderSecWebSocketAcc   = "Sec-WebSocket-Accept"
	MaxHandshakeHeadersSize = 8192
)

var headerTerminator = []byte("\r\n\r\n")

// Errors for handshake validation.
var (
	ErrMissingKey        = errors.New("missing Sec-WebSocket-Key header")
	ErrValidationFailed  = errors.New("handshake validation failed")
	ErrMalformedRequest  = errors.New("malformed upgrade request")
	ErrHeaderTooLarge    = errors.New("handshake headers too large")
	ErrHandshakeTimeout  = errors.New("handshake timed out")
	ErrBadServerResponse = errors.New("unexpected handshake response")
)

// Upgrade is an accepted upgrade request.
type Upgrade struct {
	Key    string // client Sec-WebSocket-Key
	Accept string // computed Sec-WebSocket-Accept
	Path   string // request target
	Raw    []byte // raw request header block
}

// ReadHeader reads from r until the blank line terminating an HTTP header
// block. It returns the header block (terminator included) and any bytes
// that arrived after it. At most limit bytes are buffered.
func ReadHeader(r io.Reader, limit int) (header, rest []byte, err error) {
	buf := make([]byte, 0, 1024)
	chunk := make([]byte, 1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			from := len(buf) - (len(headerTerminator) - 1)
			if from < 0 {
				from = 0
			}
			buf = append(buf, chunk[:n]...)
			if i := bytes.Index(buf[from:], headerTerminator); i >= 0 {
				end := from + i + len(headerTerminator)
				return buf[:end], buf[end:], nil
			}
			if len(buf) >= limit {
				return nil, nil, fmt.Errorf("%w: %d bytes without terminator", ErrHeaderTooLarge, len(buf))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, fmt.Errorf("%w: connection closed before end of headers", ErrMalformedRequest)
			}
			return nil, nil, err
		}
	}
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
// This implements the algorithm specified in RFC6455 Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// ParseHandshake validates a raw HTTP/1.1 upgrade request.
// The Sec-WebSocket-Key lookup is case-insensitive. validate may be nil.
func ParseHandshake(raw []byte, validate api.HandshakeValidator) (*Upgrade, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	key := req.Header.Get(HeaderSecWebSocketKey)
	if key == "" {
		return nil, ErrMissingKey
	}
	if validate != nil && !validate(raw) {
		return nil, ErrValidationFailed
	}
	return &Upgrade{
		Key:    key,
		Accept: ComputeAcceptKey(key),
		Path:   req.URL.RequestURI(),
		Raw:    raw,
	}, nil
}

// Response renders the literal 101 Switching Protocols response.
func (u *Upgrade) Response() []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		HeaderSecWebSocketAcc + ": " + u.Accept + "\r\n\r\n")
}

// NewClientKey returns a fresh random Sec-WebSocket-Key.
func NewClientKey() (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("client key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// ClientRequest renders the client upgrade request for host and path.
func ClientRequest(host, path, key string) []byte {
	if path == "" {
		path = "/"
	}
	return []byte("GET " + path + " HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		HeaderSecWebSocketKey + ": " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n")
}

// VerifyServerResponse checks that header is a 101 response carrying the
// accept value expected for key.
func VerifyServerResponse(header []byte, key string) error {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(header)), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadServerResponse, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("%w: status %d", ErrBadServerResponse, resp.StatusCode)
	}
	if got, want := resp.Header.Get(HeaderSecWebSocketAcc), ComputeAcceptKey(key); got != want {
		return fmt.Errorf("%w: accept %q, want %q", ErrBadServerResponse, got, want)
	}
	return nil
}
