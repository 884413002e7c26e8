package cache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mesh-gateway/pkg/cache"
)

type countingFetcher struct {
	calls int
	data  map[string]string
}

func (f *countingFetcher) Fetch(_ context.Context, key string) (string, error) {
	f.calls++
	v, ok := f.data[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (f *countingFetcher) Close() error { return nil }

func TestLRUCache_ReadThrough(t *testing.T) {
	source := &countingFetcher{data: map[string]string{"node-a": "alpha"}}
	c, err := cache.NewLRUCache[string, string](4, source)
	require.NoError(t, err)

	ctx := context.Background()

	v, err := c.Fetch(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", v)
	assert.Equal(t, 1, source.calls)

	// Second fetch is served from the cache.
	v, err = c.Fetch(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", v)
	assert.Equal(t, 1, source.calls)
}

func TestLRUCache_SourceErrorNotCached(t *testing.T) {
	source := &countingFetcher{data: map[string]string{}}
	c, err := cache.NewLRUCache[string, string](4, source)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "ghost")
	require.Error(t, err)
	_, err = c.Fetch(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, 2, source.calls, "misses must keep hitting the source")
}

func TestLRUCache_InvalidateForcesRefetch(t *testing.T) {
	source := &countingFetcher{data: map[string]string{"node-a": "alpha"}}
	c, err := cache.NewLRUCache[string, string](4, source)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Fetch(ctx, "node-a")
	require.NoError(t, err)

	source.data["node-a"] = "alpha-2"
	require.NoError(t, c.Invalidate(ctx, "node-a"))

	v, err := c.Fetch(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, "alpha-2", v)
	assert.Equal(t, 2, source.calls)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	source := &countingFetcher{data: map[string]string{"a": "1", "b": "2", "c": "3"}}
	c, err := cache.NewLRUCache[string, string](2, source)
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = c.Fetch(ctx, "a")
	_, _ = c.Fetch(ctx, "b")
	_, _ = c.Fetch(ctx, "c") // evicts "a"

	require.Equal(t, 3, source.calls)
	_, _ = c.Fetch(ctx, "a")
	assert.Equal(t, 4, source.calls)
}

func TestLRUCache_NoFallback(t *testing.T) {
	c, err := cache.NewLRUCache[string, string](2, nil)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "anything")
	require.Error(t, err)
}
