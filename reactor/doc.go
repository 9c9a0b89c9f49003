// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness multiplexer behind the acceptor
// loop: epoll on Linux, an explicit "not supported" stub elsewhere.
package reactor
