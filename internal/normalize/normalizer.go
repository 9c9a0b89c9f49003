// File: internal/normalize/normalizer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Index normalization for CPU slots and pool sizes. Callers pass whatever
// the configuration asked for and get back a value that is valid for the
// current topology.

package normalize

import "runtime"

// CPUIndex maps requested onto [0, maxCPUs). Out-of-range values wrap;
// negative values and an empty topology yield 0.
func CPUIndex(requested, maxCPUs int) int {
	if maxCPUs < 1 || requested < 0 {
		return 0
	}
	return requested % maxCPUs
}

// Workers returns requested, or the number of usable CPUs when requested
// is not positive.
func Workers(requested int) int {
	if requested > 0 {
		return requested
	}
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}
