package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Store defines the small subset of key-value operations the timer
// registry and the GPS debounce marker need.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]string, error)
}

type redisStore struct{ c *redis.Client }

// NewRedis wraps a go-redis client in the Store interface.
func NewRedis(addr, password string) Store {
	return &redisStore{c: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func (r *redisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *redisStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *redisStore) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

func (r *redisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.c.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
