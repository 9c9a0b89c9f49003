// control/hotreload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Holds the active configuration and notifies listeners when a reload
// replaces it.

package control

import (
	"sync"
)

// Store keeps the current configuration file and its reload listeners.
type Store struct {
	mu        sync.RWMutex
	path      string
	current   *File
	listeners []func(*File)
}

// NewStore wraps an already loaded configuration. path may be empty, in
// which case Reload only re-notifies listeners.
func NewStore(path string, cfg *File) *Store {
	if cfg == nil {
		cfg = DefaultFile()
	}
	return &Store{path: path, current: cfg}
}

// Current returns the active configuration.
func (s *Store) Current() *File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnReload registers a listener invoked synchronously after each reload.
func (s *Store) OnReload(fn func(*File)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads the file and notifies listeners. On error the active
// configuration is kept.
func (s *Store) Reload() error {
	s.mu.Lock()
	cfg := s.current
	if s.path != "" {
		next, err := LoadFile(s.path)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.current = next
		cfg = next
	}
	listeners := append([]func(*File){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}
