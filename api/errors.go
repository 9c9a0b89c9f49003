// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-gate.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the gateway.
var (
	ErrWouldBlock      = errors.New("socket would block")
	ErrConnClosed      = errors.New("connection is closed")
	ErrWriteFailed     = errors.New("write failed")
	ErrServerClosed    = errors.New("server is closed")
	ErrNotSupported    = errors.New("operation not supported on this platform")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorCode represents specific error conditions in the gateway.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeDecode
	ErrCodeHandshake
	ErrCodeSocket
	ErrCodeWrite
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeDecode:
		return "decode"
	case ErrCodeHandshake:
		return "handshake"
	case ErrCodeSocket:
		return "socket"
	case ErrCodeWrite:
		return "write"
	default:
		return "internal"
	}
}

// Error represents a structured error with code, context and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap attaches the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// CodeOf extracts the ErrorCode carried by err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
