package pool

import "sync"

// SlicePool recycles slices of T.
type SlicePool[T any] struct {
	pool sync.Pool
}

// NewSlicePool creates an empty slice pool.
func NewSlicePool[T any]() *SlicePool[T] {
	return &SlicePool[T]{
		pool: sync.Pool{New: func() any { return &[]T{} }},
	}
}

// Get retrieves an empty slice with at least the given capacity.
//
// The caller must call the returned cleanup function to return the slice to the pool.
//
// Example:
//
//	targets, cleanup := subs.Get(8)
//	defer cleanup()
//	targets = append(targets, ...)
func (p *SlicePool[T]) Get(capacity int) ([]T, func()) {
	ptr, _ := p.pool.Get().(*[]T)
	slice := (*ptr)[:0]
	if cap(slice) < capacity {
		slice = make([]T, 0, capacity)
	}
	*ptr = slice

	return slice, func() {
		clear((*ptr)[:cap(*ptr)])
		p.pool.Put(ptr)
	}
}
