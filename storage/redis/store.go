// Package redis provides a Redis-backed storage adapter. All entries live
// in one hash so multi-instance deployments share the outbox through a
// single key, which is what makes leadership handover work: the new leader
// reads exactly what the old one wrote.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store is a durable key/value store over one Redis hash.
type Store struct {
	client *redis.Client
	hash   string
}

// New wraps client, storing entries in the named hash. An empty name
// defaults to "relay:outbox".
func New(client *redis.Client, hash string) *Store {
	if hash == "" {
		hash = "relay:outbox"
	}
	return &Store{client: client, hash: hash}
}

// Get returns the value for key, reporting presence.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %q: %w", key, err)
	}
	return value, true, nil
}

// Set writes value under key with last-write-wins semantics.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("hset %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.hash, key).Err(); err != nil {
		return fmt.Errorf("hdel %q: %w", key, err)
	}
	return nil
}

// Keys returns a snapshot of all keys in unspecified order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("hkeys: %w", err)
	}
	return keys, nil
}

// Clear removes the whole hash.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.hash).Err(); err != nil {
		return fmt.Errorf("del hash: %w", err)
	}
	return nil
}
