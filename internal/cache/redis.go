package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a Redis instance, the production
// backing store per SPEC_FULL.md §4.B. PutIfAbsent uses SETNX so that
// negative-cache writes racing across replicas do not clobber a real
// response.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "gw:cache:"
	}
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	entry, err := unmarshalEntry(data)
	if err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, entry Entry) error {
	if entry.TTL <= 0 {
		return nil
	}
	data, err := marshalEntry(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, data, entry.TTL).Err()
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, entry Entry) error {
	if entry.TTL <= 0 {
		return nil
	}
	data, err := marshalEntry(entry)
	if err != nil {
		return err
	}
	return s.client.SetNX(ctx, s.prefix+key, data, entry.TTL).Err()
}

func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
