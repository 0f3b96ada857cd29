package cache

import (
	"context"
	"time"
)

// Observer is told about every lookup outcome.
type Observer interface {
	CacheHit()
	CacheMiss()
}

// MultiLevelConfig configures a MultiLevel cache.
type MultiLevelConfig struct {
	L1MaxSize int
	L1TTL     time.Duration
	L2TTL     time.Duration

	// OnStoreError is called when GetOrLoad loaded a value but could not
	// store it. The value is still returned to the caller.
	OnStoreError func(key string, err error)
}

// DefaultMultiLevelConfig keeps identity links briefly: they change on every
// claim and completion.
func DefaultMultiLevelConfig() MultiLevelConfig {
	return MultiLevelConfig{
		L1MaxSize: 10000,
		L1TTL:     30 * time.Second,
		L2TTL:     2 * time.Minute,
	}
}

// MultiLevel reads through an in-process LRU (L1) to an optional shared cache
// (L2). L2 hits are copied into L1.
type MultiLevel struct {
	l1       *LRU
	l2       Cache
	l1TTL    time.Duration
	l2TTL    time.Duration
	observer Observer

	onStoreError func(key string, err error)
}

// NewMultiLevel creates the cache. l2 and observer may be nil.
func NewMultiLevel(cfg MultiLevelConfig, l2 Cache, observer Observer) *MultiLevel {
	return &MultiLevel{
		l1:       NewLRU(cfg.L1MaxSize),
		l2:       l2,
		l1TTL:    cfg.L1TTL,
		l2TTL:    cfg.L2TTL,
		observer: observer,

		onStoreError: cfg.OnStoreError,
	}
}

func (c *MultiLevel) hit() {
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *MultiLevel) miss() {
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}

func (c *MultiLevel) Get(ctx context.Context, key string) ([]byte, error) {
	if value, err := c.l1.Get(key); err == nil {
		c.hit()
		return value, nil
	}

	if c.l2 != nil {
		value, err := c.l2.Get(ctx, key)
		if err == nil {
			c.l1.Set(key, value, c.l1TTL)
			c.hit()
			return value, nil
		}
		if !IsMiss(err) {
			c.miss()
			return nil, err
		}
	}

	c.miss()
	return nil, ErrNotFound
}

// Set stores value in both levels. Each level caps ttl at its own TTL; zero
// means the level's TTL.
func (c *MultiLevel) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.l1.Set(key, value, capTTL(ttl, c.l1TTL))
	if c.l2 != nil {
		return c.l2.Set(ctx, key, value, capTTL(ttl, c.l2TTL))
	}
	return nil
}

func capTTL(ttl, limit time.Duration) time.Duration {
	if ttl <= 0 || (limit > 0 && ttl > limit) {
		return limit
	}
	return ttl
}

func (c *MultiLevel) Delete(ctx context.Context, key string) error {
	c.l1.Delete(key)
	if c.l2 != nil {
		return c.l2.Delete(ctx, key)
	}
	return nil
}

func (c *MultiLevel) Clear(ctx context.Context) error {
	c.l1.Clear()
	if c.l2 != nil {
		return c.l2.Clear(ctx)
	}
	return nil
}

// GetOrLoad returns the cached value or stores and returns the loader's.
// Loader errors are returned as is and nothing is cached.
func (c *MultiLevel) GetOrLoad(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if value, err := c.Get(ctx, key); err == nil {
		return value, nil
	}

	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, key, value, 0); err != nil && c.onStoreError != nil {
		c.onStoreError(key, err)
	}
	return value, nil
}
