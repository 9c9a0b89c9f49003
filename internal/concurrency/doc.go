// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the gateway: the task queue of ready
// connection ids and the fixed worker pool that drains it. Workers may be
// pinned to CPUs on Linux.
package concurrency
