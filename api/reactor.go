// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for readiness multiplexers used by the
// acceptor loop and the connection registry.

package api

// Poller is the OS readiness multiplexer contract.
type Poller interface {
	// Watch registers a listening descriptor for level-triggered readiness.
	Watch(fd int) error

	// Add registers fd for one-shot read readiness.
	Add(fd int) error

	// Rearm re-enables read readiness on fd after its event was consumed.
	Rearm(fd int) error

	// Remove deregisters fd.
	Remove(fd int) error

	// Wait blocks until at least one descriptor is ready and writes the ready
	// descriptors into fds. Wake() makes a blocked Wait return with n == 0.
	Wait(fds []int) (n int, err error)

	// Wake interrupts a blocked Wait.
	Wake() error

	// Close releases the multiplexer.
	Close() error
}
