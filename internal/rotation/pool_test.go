package rotation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolCyclesInOrder(t *testing.T) {
	items := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	p := New(items)

	for i := 0; i < len(items); i++ {
		got, ok := p.Next()
		require.True(t, ok)
		assert.Equal(t, items[i], got)
	}

	again, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, items[0], again)
}

func TestPoolEmpty(t *testing.T) {
	p := New[int](nil)

	v, ok := p.Next()
	assert.False(t, ok)
	assert.Zero(t, v)
	assert.Equal(t, 0, p.Len())

	var nilPool *Pool[int]
	_, ok = nilPool.Next()
	assert.False(t, ok)
}

func TestPoolSnapshotIsolation(t *testing.T) {
	items := []int{1, 2}
	p := New(items)
	items[0] = 99

	got, _ := p.Next()
	assert.Equal(t, 1, got)
	assert.Equal(t, []int{1, 2}, p.Items())
}

func TestPoolConcurrentFairness(t *testing.T) {
	const n = 7
	const rounds = 200

	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	p := New(items)

	counts := make([]int, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for g := 0; g < rounds; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				v, ok := p.Next()
				if !ok {
					continue
				}
				mu.Lock()
				counts[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for i, c := range counts {
		assert.Equal(t, rounds, c, "item %d", i)
	}

	// cursor is back at the start after a whole number of rounds
	first, _ := p.Next()
	assert.Equal(t, 0, first)
}
