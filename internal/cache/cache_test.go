package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	cache := New()
	assert.NotNil(t, cache)
	assert.NotNil(t, cache.items)
	assert.Empty(t, cache.items)
}

func TestCache_SetAndGet(t *testing.T) {
	cache := New()

	cache.Set("conversation:1", "value1", 10*time.Second)
	val, exists := cache.Get("conversation:1")
	assert.True(t, exists)
	assert.Equal(t, "value1", val)

	val, exists = cache.Get("nonexistent")
	assert.False(t, exists)
	assert.Nil(t, val)
}

func TestCache_Expiration(t *testing.T) {
	cache := New()

	cache.Set("short", "gone soon", 10*time.Millisecond)
	val, exists := cache.Get("short")
	assert.True(t, exists)
	assert.Equal(t, "gone soon", val)

	time.Sleep(20 * time.Millisecond)
	val, exists = cache.Get("short")
	assert.False(t, exists)
	assert.Nil(t, val)
}

func TestCache_Delete(t *testing.T) {
	cache := New()

	cache.Set("key", "value", 10*time.Second)
	cache.Delete("key")

	_, exists := cache.Get("key")
	assert.False(t, exists)

	// deleting a missing key is a no-op
	cache.Delete("missing")
}

func TestCache_InvalidatePrefix(t *testing.T) {
	cache := New()

	cache.Set("conversation:1", "a", 10*time.Second)
	cache.Set("conversation:2", "b", 10*time.Second)
	cache.Set("timeline:1", "c", 10*time.Second)

	cache.InvalidatePrefix("conversation:")

	_, exists := cache.Get("conversation:1")
	assert.False(t, exists)
	_, exists = cache.Get("conversation:2")
	assert.False(t, exists)
	val, exists := cache.Get("timeline:1")
	assert.True(t, exists)
	assert.Equal(t, "c", val)
}

func TestCache_Clear(t *testing.T) {
	cache := New()

	cache.Set("a", 1, 10*time.Second)
	cache.Set("b", 2, 10*time.Second)
	cache.Clear()

	_, exists := cache.Get("a")
	assert.False(t, exists)
	_, exists = cache.Get("b")
	assert.False(t, exists)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			cache.Set(fmt.Sprintf("key%d", n), n, time.Second)
		}(i)
		go func(n int) {
			defer wg.Done()
			cache.Get(fmt.Sprintf("key%d", n))
		}(i)
	}

	wg.Wait()
}
