package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// expired entries are swept once this many keys are held
const memorySweepSize = 10000

type memoryItem struct {
	value     string
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryCache is the single-process fallback used when no redis address is configured.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lookup(key)
	if !ok {
		return "", ErrMiss
	}
	return item.value, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store(key, memoryItem{value: value, expiresAt: c.deadline(ttl)})
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}

func (c *MemoryCache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lookup(key)
	if !ok {
		item = memoryItem{value: "0", expiresAt: c.deadline(ttl)}
	}

	current, err := strconv.ParseInt(item.value, 10, 64)
	if err != nil {
		return 0, err
	}
	current++
	item.value = strconv.FormatInt(current, 10)
	c.store(key, item)

	return current, nil
}

func (c *MemoryCache) Decr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lookup(key)
	if !ok {
		return 0, nil
	}
	current, err := strconv.ParseInt(item.value, 10, 64)
	if err != nil {
		return 0, err
	}
	current = max(current-1, 0)
	item.value = strconv.FormatInt(current, 10)
	c.items[key] = item

	return current, nil
}

func (c *MemoryCache) Take(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lookup(key)
	if !ok {
		return "", ErrMiss
	}
	delete(c.items, key)
	return item.value, nil
}

func (c *MemoryCache) Ping(context.Context) error {
	return nil
}

// store writes item, sweeping expired keys first when the map is large. Callers hold mu.
func (c *MemoryCache) store(key string, item memoryItem) {
	if _, exists := c.items[key]; !exists && len(c.items) >= memorySweepSize {
		c.sweep()
	}
	c.items[key] = item
}

// sweep removes every expired key. Callers hold mu.
func (c *MemoryCache) sweep() {
	now := c.now()
	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
		}
	}
}

// lookup drops expired keys on read. Callers hold mu.
func (c *MemoryCache) lookup(key string) (memoryItem, bool) {
	item, ok := c.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if item.expired(c.now()) {
		delete(c.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (c *MemoryCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}
