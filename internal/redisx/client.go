package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Cache.Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Cache is the small key/value surface the services use.
type Cache struct{ RDB *redis.Client }

func (c Cache) Get(ctx context.Context, key string) (string, error) {
	s, err := c.RDB.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return s, err
}

func (c Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.RDB.Exists(ctx, key).Result()
	return n > 0, err
}

func (c Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.RDB.Set(ctx, key, value, ttl).Err()
}

func (c Cache) Del(ctx context.Context, key string) error {
	return c.RDB.Del(ctx, key).Err()
}
