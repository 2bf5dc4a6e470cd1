package rotation

import "sync"

// Pool is a round-robin cursor over a fixed snapshot of items.
// Pools are never mutated in place; rebuild with New to change the set.
type Pool[T any] struct {
	mu     sync.Mutex
	items  []T
	cursor int
}

// New builds a pool over a copy of items
func New[T any](items []T) *Pool[T] {
	snapshot := make([]T, len(items))
	copy(snapshot, items)
	return &Pool[T]{items: snapshot}
}

// Next returns the item under the cursor and advances it.
// ok is false when the pool is empty.
func (p *Pool[T]) Next() (item T, ok bool) {
	if p == nil {
		return item, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) == 0 {
		return item, false
	}

	item = p.items[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.items)
	return item, true
}

// Len returns the number of items in the pool
func (p *Pool[T]) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// Items returns a copy of the pooled items in rotation order
func (p *Pool[T]) Items() []T {
	if p == nil {
		return nil
	}
	out := make([]T, len(p.items))
	copy(out, p.items)
	return out
}
