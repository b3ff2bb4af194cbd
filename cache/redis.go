package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "eggdash:"

// RedisBackend shares entries between processes through redis. Only keys
// under its own prefix are touched, so the database can be shared.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to redis and checks the connection
func NewRedisBackend(ctx context.Context, addr string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return &RedisBackend{client: client}, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (r *RedisBackend) Flush(ctx context.Context) (int, error) {
	count := 0
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return count, fmt.Errorf("scan error: %w", err)
		}
		if len(keys) > 0 {
			deleted, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return count, fmt.Errorf("delete error: %w", err)
			}
			count += int(deleted)
		}
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// Ensure RedisBackend implements the Backend interface
var _ Backend = (*RedisBackend)(nil)
