package structs

import (
	"iter"
	"slices"

	"golang.org/x/exp/constraints"
)

type empty = struct{}

// Set is a plain set of comparable values.
type Set[T comparable] map[T]empty

// NewSet returns a set holding values.
func NewSet[T comparable](values ...T) Set[T] {
	res := make(Set[T], len(values))
	for _, v := range values {
		res[v] = empty{}
	}
	return res
}

func (s Set[T]) Add(value T) {
	s[value] = empty{}
}

func (s Set[T]) Remove(value T) {
	delete(s, value)
}

func (s Set[T]) Contains(value T) bool {
	_, exists := s[value]
	return exists
}

func (s Set[T]) Size() int {
	return len(s)
}

func (s Set[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range s {
			if !yield(v) {
				return
			}
		}
	}
}

// Clone returns an independent copy of s.
func (s Set[T]) Clone() Set[T] {
	clone := make(Set[T], len(s))
	for v := range s {
		clone[v] = empty{}
	}
	return clone
}

// SortedKeys returns the keys of m in ascending order, so that map-backed
// state can be walked deterministically.
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
