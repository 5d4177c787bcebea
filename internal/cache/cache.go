package cache

import (
	"sync"
)

// VectorCache stores pooled embeddings by key.
type VectorCache interface {
	// Get returns a copy of the vector stored under key.
	Get(key string) ([]float32, bool)
	// Put stores a copy of vec under key.
	Put(key string, vec []float32)
	// Size returns the number of stored vectors.
	Size() int
}

// MapCache is an in-memory VectorCache. With a positive capacity the oldest
// inserted entries are evicted first.
type MapCache struct {
	mu       sync.RWMutex
	data     map[string][]float32
	order    []string
	capacity int
}

// NewMapCache returns an unbounded cache.
func NewMapCache() *MapCache {
	return NewBoundedMapCache(0)
}

// NewBoundedMapCache returns a cache holding at most capacity vectors.
// capacity <= 0 means unbounded.
func NewBoundedMapCache(capacity int) *MapCache {
	return &MapCache{
		data:     make(map[string][]float32),
		capacity: capacity,
	}
}

func (c *MapCache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.data[key]
	if !ok {
		return nil, false
	}
	dst := make([]float32, len(v))
	copy(dst, v)
	return dst, true
}

func (c *MapCache) Put(key string, vec []float32) {
	dst := make([]float32, len(vec))
	copy(dst, vec)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		c.data[key] = dst
		return
	}

	if _, exists := c.data[key]; !exists {
		c.order = append(c.order, key)
	}
	c.data[key] = dst
	for len(c.data) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.data, oldest)
	}
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
