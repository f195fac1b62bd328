package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/prn-tf/sendme/internal/repository"
)

// Cache implements repository.Cache.
type Cache struct {
	client goredis.UniversalClient
}

// NewCache wraps client.
func NewCache(client goredis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Get implements repository.Cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: get %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return data, nil
}

// Set implements repository.Cache.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return nil
}

// SetNX implements repository.Cache.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return ok, nil
}

// Delete implements repository.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return nil
}

// Exists implements repository.Cache.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return n > 0, nil
}

// TTL implements repository.Cache.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return ttl, nil
}

// Increment implements repository.Cache.
// INCRBY and the conditional EXPIRE run in one MULTI block.
func (c *Cache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, key, delta)
		if ttl > 0 {
			pipe.ExpireNX(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: incrby %s: %v", repository.ErrCacheUnavailable, key, err)
	}
	return incr.Val(), nil
}

var _ repository.Cache = (*Cache)(nil)
