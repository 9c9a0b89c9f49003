// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral constructor contract.

package reactor

import "github.com/momentics/hioload-gate/api"

// DefaultMaxEvents bounds the number of readiness events returned per Wait.
const DefaultMaxEvents = 128

// Compile-time check that the platform poller satisfies the API contract.
var _ func(int) (api.Poller, error) = New
