// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package listener

import (
	"sync"
	"sync/atomic"
)

// Set is a copy-on-write set of listeners. Iteration works on a snapshot,
// so listeners may be added or removed while an event is being delivered.
// Elements must have comparable dynamic types (use pointers).
type Set[T comparable] struct {
	mu    sync.Mutex
	items atomic.Pointer[[]T]
}

// Add registers l. It reports false if l was already present.
func (s *Set[T]) Add(l T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load()
	for _, existing := range current {
		if existing == l {
			return false
		}
	}

	next := make([]T, len(current), len(current)+1)
	copy(next, current)
	next = append(next, l)
	s.items.Store(&next)
	return true
}

// Remove unregisters l. It reports false if l was not present.
func (s *Set[T]) Remove(l T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load()
	for i, existing := range current {
		if existing != l {
			continue
		}
		next := make([]T, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		s.items.Store(&next)
		return true
	}
	return false
}

// Snapshot returns the listeners registered at the time of the call
func (s *Set[T]) Snapshot() []T {
	return s.load()
}

func (s *Set[T]) Len() int {
	return len(s.load())
}

func (s *Set[T]) load() []T {
	if p := s.items.Load(); p != nil {
		return *p
	}
	return nil
}
