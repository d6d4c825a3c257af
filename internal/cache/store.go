package cache

import (
	"context"
	"errors"
	"time"

	"github.com/golang/snappy"
	redis "github.com/redis/go-redis/v9"
)

// Store is the byte-level backend behind query result caching.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type MemoryStore struct {
	entries *TTLCache[string, []byte]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: NewTTLCache[string, []byte]()}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.entries.Get(key)
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.entries.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// RedisStore keeps snappy-compressed payloads under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, false, err
	}
	return decoded, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, snappy.Encode(nil, value), ttl).Err()
}
