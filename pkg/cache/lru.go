package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCache is a fixed-size in-process cache layer in front of a slower
// Fetcher. Eviction is least-recently-used.
type LRUCache[K comparable, V any] struct {
	entries  *lru.Cache[K, V]
	fallback Fetcher[K, V]
}

// NewLRUCache creates an LRU layer holding at most size entries.
func NewLRUCache[K comparable, V any](size int, fallback Fetcher[K, V]) (*LRUCache[K, V], error) {
	entries, err := lru.New[K, V](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &LRUCache[K, V]{entries: entries, fallback: fallback}, nil
}

// Fetch returns the cached value for key, consulting the fallback and
// populating the cache on a miss.
func (c *LRUCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if value, ok := c.entries.Get(key); ok {
		return value, nil
	}
	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not cached and no fallback configured", key)
	}
	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	c.entries.Add(key, value)
	return value, nil
}

// Invalidate removes key from the cache.
func (c *LRUCache[K, V]) Invalidate(_ context.Context, key K) error {
	c.entries.Remove(key)
	return nil
}

// Close is a no-op for the in-process cache.
func (c *LRUCache[K, V]) Close() error { return nil }
