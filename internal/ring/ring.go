// Package ring provides a fixed-capacity history buffer, newest first.
package ring

import "sync"

// Buffer keeps the most recent N values appended to it. Appending beyond
// capacity evicts the oldest value. Recent returns newest-first copies, so
// callers never alias internal storage.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	size  int
}

// New creates a buffer with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Append adds v, evicting the oldest value if the buffer is full.
func (b *Buffer[T]) Append(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Recent returns up to limit values, newest first. A non-positive limit
// returns everything.
func (b *Buffer[T]) Recent(limit int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.size
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]T, 0, n)
	for i := 1; i <= n; i++ {
		idx := (b.head - i + len(b.items)) % len(b.items)
		out = append(out, b.items[idx])
	}
	return out
}

// Len returns the number of stored values.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}
