package store

import (
	"iter"
	"sort"
	"sync"
)

// Keyed maps a name to its own Series. Each series is created on first append
// and the capacity applies to every name independently.
//
// Keyed is safe for concurrent use.
type Keyed[T any] struct {
	mu     sync.RWMutex
	series map[string]*Series[T]
	cap    int
}

// NewKeyed returns an empty Keyed store with the given per-name capacity.
func NewKeyed[T any](capacity int) *Keyed[T] {
	return &Keyed[T]{series: make(map[string]*Series[T]), cap: capacity}
}

// Append adds v to the series for name, creating the series if needed.
// The map lock is held across the append so Retain cannot drop a series
// that is being written to.
func (k *Keyed[T]) Append(name string, v T) {
	k.mu.RLock()
	if s, ok := k.series[name]; ok {
		s.Append(v)
		k.mu.RUnlock()
		return
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.series[name]
	if !ok {
		s = NewSeries[T](k.cap)
		k.series[name] = s
	}
	s.Append(v)
}

// Query returns the items of the named series matching pred. An unknown name
// yields an empty sequence.
func (k *Keyed[T]) Query(name string, pred func(T) bool) iter.Seq[T] {
	s := k.get(name)
	if s == nil {
		return func(func(T) bool) {}
	}
	return s.Query(pred)
}

// Last returns the newest item of the named series.
func (k *Keyed[T]) Last(name string) (T, bool) {
	if s := k.get(name); s != nil {
		return s.Last()
	}
	var zero T
	return zero, false
}

// Len returns the number of items held for name.
func (k *Keyed[T]) Len(name string) int {
	if s := k.get(name); s != nil {
		return s.Len()
	}
	return 0
}

// Names returns all series names in lexical order.
func (k *Keyed[T]) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.series))
	for name := range k.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Retain applies keep to every series and drops series left empty.
// It returns the total number of items removed.
func (k *Keyed[T]) Retain(keep func(T) bool) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	removed := 0
	for name, s := range k.series {
		removed += s.Retain(keep)
		if s.Len() == 0 {
			delete(k.series, name)
		}
	}
	return removed
}

func (k *Keyed[T]) get(name string) *Series[T] {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.series[name]
}
