// Package reservoir implements fixed-capacity uniform sampling over a stream
// of unknown length (Vitter's Algorithm R).
//
// After n offers to a reservoir of capacity c (n >= c) every offered item is
// held with probability exactly c/n, and every size-c subset of the offered
// items is equally likely to be the final contents.
package reservoir

import (
	"math/rand/v2"
)

// Reservoir holds a uniform random sample of the items offered to it.
// A Reservoir is not safe for concurrent use.
type Reservoir[T any] struct {
	items    []T
	capacity int
	seen     int64
	rng      *rand.Rand
}

// New creates an empty reservoir. A capacity of zero or less keeps no items
// and only counts offers. A nil rng draws from an unseeded source.
func New[T any](capacity int, rng *rand.Rand) *Reservoir[T] {
	if capacity < 0 {
		capacity = 0
	}
	if rng == nil {
		rng = Unseeded()
	}
	return &Reservoir[T]{
		items:    make([]T, 0, min(capacity, 4096)),
		capacity: capacity,
		rng:      rng,
	}
}

// Offer presents one item to the reservoir and reports whether it was kept.
func (r *Reservoir[T]) Offer(item T) bool {
	r.seen++
	if len(r.items) < r.capacity {
		r.items = append(r.items, item)
		return true
	}
	if r.capacity == 0 {
		return false
	}
	// j is uniform in [0, seen-1], seen being the 1-indexed position of item.
	j := r.rng.Int64N(r.seen)
	if j < int64(r.capacity) {
		r.items[j] = item
		return true
	}
	return false
}

// Items returns the current sample. The slice is owned by the reservoir and
// is overwritten by later offers.
func (r *Reservoir[T]) Items() []T {
	return r.items
}

// Seen returns the number of items offered so far.
func (r *Reservoir[T]) Seen() int64 {
	return r.seen
}

// Len returns the number of items held, min(Seen, Cap).
func (r *Reservoir[T]) Len() int {
	return len(r.items)
}

// Cap returns the reservoir capacity.
func (r *Reservoir[T]) Cap() int {
	return r.capacity
}
