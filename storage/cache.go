package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

type backend interface {
	Load(ctx context.Context, key string) (domain.AppState, error)
	Save(ctx context.Context, key string, s domain.AppState) error
}

// Cache wraps a store with a Redis read-through, write-through snapshot cache.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Load(ctx context.Context, key string) (domain.AppState, error) {
	if s, ok := c.loadFromCache(ctx, key); ok {
		return s, nil
	}
	s, err := c.base.Load(ctx, key)
	if err != nil {
		return domain.AppState{}, err
	}
	c.store(ctx, key, s)
	return s, nil
}

func (c *Cache) Save(ctx context.Context, key string, s domain.AppState) error {
	if err := c.base.Save(ctx, key, s); err != nil {
		c.Evict(ctx, key)
		return err
	}
	c.store(ctx, key, s)
	return nil
}

// Refresh reloads key from the backing store into the cache. A key with no
// stored state is evicted.
func (c *Cache) Refresh(ctx context.Context, key string) error {
	s, err := c.base.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		c.Evict(ctx, key)
		return nil
	}
	if err != nil {
		return err
	}
	c.store(ctx, key, s)
	return nil
}

func (c *Cache) Evict(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, stateCacheKey(key)).Err()
}

func (c *Cache) loadFromCache(ctx context.Context, key string) (domain.AppState, bool) {
	if c.redis == nil {
		return domain.AppState{}, false
	}
	data, err := c.redis.Get(ctx, stateCacheKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, stateCacheKey(key)).Err()
		}
		return domain.AppState{}, false
	}
	s, err := Decode(data)
	if err != nil {
		_ = c.redis.Del(ctx, stateCacheKey(key)).Err()
		return domain.AppState{}, false
	}
	return s, true
}

func (c *Cache) store(ctx context.Context, key string, s domain.AppState) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := Encode(s)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, stateCacheKey(key), data, c.ttl).Err()
}

func stateCacheKey(key string) string {
	return "board-state:" + key
}
