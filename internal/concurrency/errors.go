// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "errors"

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool is closed")
