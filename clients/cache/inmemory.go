package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type InMemoryCache struct {
	data  map[string]cacheItem
	mutex sync.RWMutex
}

var _ Cache = (*InMemoryCache)(nil)

type cacheItem struct {
	data []byte
	// zero means no expiration
	expiration time.Time
}

func (i cacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheItem),
	}
}

func (c *InMemoryCache) Set(ctx context.Context, key string, data []byte, expiration time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var expiry time.Time
	if expiration > 0 {
		expiry = time.Now().Add(expiration)
	}

	// callers may reuse their slice
	stored := make([]byte, len(data))
	copy(stored, data)

	c.data[key] = cacheItem{
		data:       stored,
		expiration: expiry,
	}

	return nil
}

func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, ok := c.data[key]
	if !ok || item.expired(time.Now()) {
		return nil, ErrNotFound
	}

	return item.data, nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.data, key)
	return nil
}

func (c *InMemoryCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := time.Now()
	var keys []string
	for key, item := range c.data {
		if strings.HasPrefix(key, prefix) && !item.expired(now) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (c *InMemoryCache) Healthcheck(ctx context.Context) error {
	return nil
}
