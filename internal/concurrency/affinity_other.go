// File: internal/concurrency/affinity_other.go
//go:build !linux
// +build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "github.com/momentics/hioload-gate/api"

// PinCurrentThread is not supported on this platform.
func PinCurrentThread(int) (func(), error) { return nil, api.ErrNotSupported }
