// File: internal/concurrency/affinity_linux.go
//go:build linux
// +build linux

//
// Linux CPU affinity via sched_setaffinity.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-gate/internal/normalize"
)

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to the slot-th CPU (modulo the count) of the process's
// allowed set. The returned func restores the previous mask and releases
// the thread.
func PinCurrentThread(slot int) (restore func(), err error) {
	runtime.LockOSThread()
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	allowed := make([]int, 0, prev.Count())
	for cpu := 0; len(allowed) < prev.Count(); cpu++ {
		if prev.IsSet(cpu) {
			allowed = append(allowed, cpu)
		}
	}
	if len(allowed) == 0 {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("empty affinity mask")
	}
	cpu := allowed[normalize.CPUIndex(slot, len(allowed))]

	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("sched_setaffinity cpu=%d: %w", cpu, err)
	}
	return func() {
		_ = unix.SchedSetaffinity(0, &prev)
		runtime.UnlockOSThread()
	}, nil
}
