package wasihttp

import "sync"

// Table maps integer handles to host-side resources. Handles start at 1;
// 0 is never a valid handle.
type Table[T any] struct {
	mu    sync.Mutex
	next  uint32
	items map[uint32]T
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{items: make(map[uint32]T)}
}

// Add inserts a value and returns its handle.
func (t *Table[T]) Add(v T) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.items[t.next] = v
	return t.next
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(h uint32) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[h]
	return v, ok
}

// Remove drops a resource and returns it if present.
func (t *Table[T]) Remove(h uint32) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[h]
	if ok {
		delete(t.items, h)
	}
	return v, ok
}
