package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapCache(t *testing.T) {
	c := NewMapCache()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	vec := []float32{1, 2, 3}
	c.Put("a", vec)
	vec[0] = 99

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got, "cache must store a copy")

	got[1] = 99
	again, _ := c.Get("a")
	assert.Equal(t, []float32{1, 2, 3}, again, "cache must return a copy")

	c.Put("a", []float32{4})
	assert.Equal(t, 1, c.Size())
}

func TestBoundedMapCache_EvictsOldest(t *testing.T) {
	c := NewBoundedMapCache(2)

	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("a", []float32{3})
	c.Put("c", []float32{4})

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok)

	got, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, []float32{2}, got)
}

func TestMapCache_Concurrent(t *testing.T) {
	c := NewBoundedMapCache(64)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("%d-%d", w, i)
				c.Put(key, []float32{float32(i)})
				c.Get(key)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 64, c.Size())
}
