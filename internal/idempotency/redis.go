package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps records in Redis so every API replica sees the same keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a RedisStore that namespaces keys with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

// Begin implements Store.
func (s *RedisStore) Begin(ctx context.Context, key string, ttl time.Duration) (Record, bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), Record{}.encode(), ttl).Result()
	if err != nil {
		return Record{}, false, errors.Wrap(err, "claim key")
	}
	if ok {
		return Record{}, true, nil
	}

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; treat as in flight.
			return Record{}, false, nil
		}
		return Record{}, false, errors.Wrap(err, "get record")
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, false, err
	}
	return rec, false, nil
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	rec.Done = true
	if err := s.client.Set(ctx, s.key(key), rec.encode(), ttl).Err(); err != nil {
		return errors.Wrap(err, "store record")
	}
	return nil
}

// Abort implements Store.
func (s *RedisStore) Abort(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrap(err, "release key")
	}
	return nil
}

// Ping checks connectivity. It is used as a readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
