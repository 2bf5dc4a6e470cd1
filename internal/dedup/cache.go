package dedup

import "sync"

// Cache is a bounded set of handled item ids with FIFO eviction.
// Lookups never refresh an entry's age.
type Cache struct {
	mu       sync.RWMutex
	set      map[string]struct{}
	queue    []string // insertion order, head at index 0
	capacity int
}

// New creates a cache holding at most capacity ids
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		set:      make(map[string]struct{}, capacity),
		queue:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Insert adds id, evicting the oldest inserted id when full.
// Inserting an id already present is a no-op.
func (c *Cache) Insert(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.set[id]; exists {
		return
	}

	if len(c.set) >= c.capacity {
		oldest := c.queue[0]
		c.queue[0] = ""
		c.queue = c.queue[1:]
		delete(c.set, oldest)
	}

	c.set[id] = struct{}{}
	c.queue = append(c.queue, id)
}

// Contains reports whether id is cached
func (c *Cache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.set[id]
	return ok
}

// Len returns the number of cached ids
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.set)
}
