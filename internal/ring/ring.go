// Package ring provides a fixed-capacity ring buffer. Once full, each push
// overwrites the oldest element, so the buffer always holds the most recent
// Cap() values in insertion order.
package ring

// Buffer is a fixed-capacity circular buffer. The zero value is not usable;
// create one with New.
type Buffer[T any] struct {
	data  []T
	head  int // index of the oldest element
	count int
}

// New returns a buffer holding at most capacity elements.
// A capacity below 1 is raised to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{data: make([]T, capacity)}
}

// Push appends v, overwriting the oldest element when full.
// It reports whether an element was overwritten.
func (b *Buffer[T]) Push(v T) bool {
	if b.count < len(b.data) {
		b.data[(b.head+b.count)%len(b.data)] = v
		b.count++
		return false
	}
	b.data[b.head] = v
	b.head = (b.head + 1) % len(b.data)
	return true
}

// Pop removes and returns the oldest element.
func (b *Buffer[T]) Pop() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}
	v := b.data[b.head]
	b.data[b.head] = zero
	b.head = (b.head + 1) % len(b.data)
	b.count--
	return v, true
}

// At returns the element at position i, where 0 is the oldest.
func (b *Buffer[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= b.count {
		return zero, false
	}
	return b.data[(b.head+i)%len(b.data)], true
}

// Last returns the most recently pushed element.
func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}
	return b.data[(b.head+b.count-1)%len(b.data)], true
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.count }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.data) }

// Snapshot returns a copy of the contents, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	return out
}

// Clear removes all elements. Capacity is unchanged.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.data {
		b.data[i] = zero
	}
	b.head = 0
	b.count = 0
}
