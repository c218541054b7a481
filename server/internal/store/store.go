package store

import (
	"iter"
	"sync"
)

// Series is an append-only sequence capped at a fixed capacity. Appending past
// the capacity evicts the oldest entries first and keeps the insertion order of
// the remainder.
//
// Series is safe for concurrent use.
type Series[T any] struct {
	mu    sync.RWMutex
	items []T
	cap   int
}

// NewSeries returns an empty Series holding at most capacity items.
// A capacity below 1 is treated as 1.
func NewSeries[T any](capacity int) *Series[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Series[T]{cap: capacity}
}

// Append adds v to the end of the series, evicting from the front when the
// series would exceed its capacity.
func (s *Series[T]) Append(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, v)
	if over := len(s.items) - s.cap; over > 0 {
		// Copy down instead of reslicing so the backing array does not grow forever.
		n := copy(s.items, s.items[over:])
		clear(s.items[n:])
		s.items = s.items[:n]
	}
}

// Query returns the items matching pred in insertion order. A nil pred matches
// everything. The sequence is lazy and restartable: every range over it reads
// a fresh snapshot, so appends racing with a query may or may not be seen.
func (s *Series[T]) Query(pred func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range s.Snapshot() {
			if pred != nil && !pred(v) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Snapshot returns a copy of all items in insertion order.
func (s *Series[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Last returns the most recently appended item and whether one exists.
func (s *Series[T]) Last() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.items) == 0 {
		var zero T
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

// Len returns the number of items currently held.
func (s *Series[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Cap returns the configured capacity.
func (s *Series[T]) Cap() int { return s.cap }

// Retain keeps only the items for which keep returns true, preserving order,
// and returns the number of items removed.
func (s *Series[T]) Retain(keep func(T) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.items {
		if keep(v) {
			s.items[n] = v
			n++
		}
	}
	removed := len(s.items) - n
	clear(s.items[n:])
	s.items = s.items[:n]
	return removed
}
