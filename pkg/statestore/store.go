package statestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get, GetSet and SetMembers style lookups when
// the key has no value in the store.
var ErrNotFound = redis.Nil

// Store is a thin TTL-capable key-value layer over a Redis-compatible
// backend. The key layout it is used with (keys.go) is a compatibility
// contract with other systems reading the same keys, so all mutation goes
// through these primitives rather than raw client calls.
type Store struct {
	client *redis.Client
	prefix string
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, s.key(key)).Result()
}

// GetSet atomically swaps in the new value and returns whatever value was
// stored before the swap. Redis drops the TTL on the swapped key, so callers
// owning expiring keys follow up with Expire.
func (s *Store) GetSet(ctx context.Context, key string, value string) (string, error) {
	return s.client.GetSet(ctx, s.key(key), value).Result()
}

// SetWithExpiry writes the value with the given TTL. A zero TTL stores the
// key without expiry.
func (s *Store) SetWithExpiry(ctx context.Context, key string, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.key(key), ttl).Err()
}

// AddToSet adds the member to the set at key and refreshes the set's TTL.
func (s *Store) AddToSet(ctx context.Context, key string, member string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.key(key), member)
	pipe.Expire(ctx, s.key(key), ttl)
	_, err := pipe.Exec(ctx)

	return err
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, s.key(key)).Result()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
