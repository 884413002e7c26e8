package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds connection settings for the Redis cache layer.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// RedisCache is a generic read-through cache layer over Redis. On a miss it
// consults the fallback Fetcher and writes the result back in the
// background so the lookup path is never blocked on the cache write.
type RedisCache[K comparable, V any] struct {
	client   *redis.Client
	ttl      time.Duration
	fallback Fetcher[K, V]
	logger   zerolog.Logger
}

// NewRedisCache connects to Redis (verified with a ping) and returns the
// cache layer. The fallback may be nil, in which case a miss is an error.
func NewRedisCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	fallback Fetcher[K, V],
	logger zerolog.Logger,
) (*RedisCache[K, V], error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Connected to Redis.")
	return &RedisCache[K, V]{
		client:   client,
		ttl:      cfg.TTL,
		fallback: fallback,
		logger:   logger.With().Str("component", "RedisCache").Logger(),
	}, nil
}

// Fetch returns the cached value for key, falling back to the source on a
// miss and repopulating the cache in the background.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := fmt.Sprintf("%v", key)

	cached, err := c.client.Get(ctx, stringKey).Result()
	if err == nil {
		var value V
		if err := json.Unmarshal([]byte(cached), &value); err != nil {
			c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to unmarshal cached value.")
			return zero, fmt.Errorf("failed to unmarshal cached value: %w", err)
		}
		return value, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Unexpected Redis error during fetch.")
		return zero, err
	}

	if c.fallback == nil {
		return zero, fmt.Errorf("key %q not cached and no fallback configured", stringKey)
	}

	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.write(writeCtx, stringKey, value); err != nil {
			c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed background cache write.")
		}
	}()
	return value, nil
}

// Invalidate drops the cached entry for key so the next fetch hits the
// source. Call it after persisting an update to the underlying store.
func (c *RedisCache[K, V]) Invalidate(ctx context.Context, key K) error {
	return c.client.Del(ctx, fmt.Sprintf("%v", key)).Err()
}

func (c *RedisCache[K, V]) write(ctx context.Context, stringKey string, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, stringKey, data, c.ttl).Err()
}

// Close closes the Redis connection.
func (c *RedisCache[K, V]) Close() error {
	c.logger.Info().Msg("Closing Redis connection.")
	return c.client.Close()
}
