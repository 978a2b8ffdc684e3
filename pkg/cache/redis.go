package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend shares cache entries across engine instances.
type RedisBackend struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisBackend wraps a redis client. Keys are namespaced with prefix.
func NewRedisBackend(rdb redis.Cmdable, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "dineline:"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.rdb.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.rdb.Set(ctx, b.prefix+key, value, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, b.prefix+key).Err()
}

func (b *RedisBackend) Take(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.rdb.GetDel(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

var _ Backend = (*RedisBackend)(nil)
