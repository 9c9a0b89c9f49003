//go:build !linux
// +build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub socket operations for unsupported platforms.

package transport

import (
	"time"

	"github.com/momentics/hioload-gate/api"
)

func Listen(int) (int, int, error) { return -1, 0, api.ErrNotSupported }
func Accept(int) (int, error) { return -1, api.ErrNotSupported }
func Read(int, []byte) (int, error) { return 0, api.ErrNotSupported }
func Drain(_ int, dst []byte, _ int) ([]byte, error) { return dst, api.ErrNotSupported }
func WriteAll(int, []byte, time.Duration) error { return api.ErrNotSupported }
func Close(int) error { return api.ErrNotSupported }
func Shutdown(int) error { return api.ErrNotSupported }

// DeadlineReader is unavailable on this platform.
type DeadlineReader struct{}

func NewDeadlineReader(int, time.Duration) *DeadlineReader { return &DeadlineReader{} }
func (*DeadlineReader) Read([]byte) (int, error) { return 0, api.ErrNotSupported }
