// Package cachesvc implements core.Cache on Redis, with an in-process fallback.
package cachesvc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/ampayon/gradebook/core"
)

const keyPrefix = "gradebook:"

type RedisCache struct {
	client *redis.Client
}

var _ core.Cache = (*RedisCache)(nil)

// New returns a Redis cache when an address is configured, an in-process cache otherwise.
func New(conf *core.Config, logger core.Logger) core.Cache {
	if conf.Redis.Address == "" {
		return NewMemoryCache()
	}
	c, err := NewRedisCache(context.Background(), conf)
	if err != nil {
		logger.Warn("redis unavailable, using the in-process cache", err)
		return NewMemoryCache()
	}
	return c
}

func NewRedisCache(ctx context.Context, conf *core.Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         conf.Redis.Address,
		Password:     conf.Redis.Password,
		DB:           conf.Redis.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, core.ErrCacheMiss
	}
	return val, errors.Wrap(err, "redis get")
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errors.Wrap(c.client.Set(ctx, keyPrefix+key, val, ttl).Err(), "redis set")
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, k := range keys {
		prefixed = append(prefixed, keyPrefix+k)
	}
	return errors.Wrap(c.client.Del(ctx, prefixed...).Err(), "redis del")
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
