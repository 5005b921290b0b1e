// Package cache implements the CacheStore port on Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"freight-insights/internal/domain"
)

// Compile-time check.
var _ domain.CacheStore = (*RedisStore)(nil)

const scanBatchSize = 100

// RedisStore is a TTL key/value cache backed by Redis. All errors are
// wrapped as CacheError so callers can treat them as non-fatal.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Connect opens and pings a Redis client.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Get returns the value for key, or (nil, nil) on a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.CacheError{Message: "cache get " + key, Err: err}
	}
	return val, nil
}

// Set stores value under key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &domain.CacheError{Message: "cache set " + key, Err: err}
	}
	return nil
}

// ScanKeys returns all keys matching pattern. SCAN is used instead of KEYS
// so a large keyspace never blocks the server.
func (s *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, &domain.CacheError{Message: "cache scan " + pattern, Err: err}
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Delete removes the given keys. Deleting zero keys is a no-op.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return &domain.CacheError{Message: "cache delete", Err: err}
	}
	return nil
}
