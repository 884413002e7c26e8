package cache

import (
	"context"
	"io"
)

// Fetcher retrieves a value by key. Cache layers implement it and chain to
// a slower fallback Fetcher on a miss, so a profile lookup can run
// LRU → Redis → SQLite without the caller knowing.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	io.Closer
}

// FetcherFunc adapts a plain function into a Fetcher with a no-op Close.
type FetcherFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Fetch calls the wrapped function.
func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Close is a no-op.
func (f FetcherFunc[K, V]) Close() error { return nil }
