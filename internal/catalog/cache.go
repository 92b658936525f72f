package catalog

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	product   *Product // nil caches a miss
	fetchedAt time.Time
}

// Cache is a read-through TTL cache in front of a Snapshot. Entries are
// served until the TTL lapses, then refetched on demand. Callers must treat
// every read as stale: the cache exists to keep catalog reads off the hot
// path, not to make stock decisions.
type Cache struct {
	src     Snapshot
	ttl     time.Duration
	nowFunc func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCache(src Snapshot, ttl time.Duration) *Cache {
	return &Cache{
		src:     src,
		ttl:     ttl,
		nowFunc: time.Now,
		entries: map[string]cacheEntry{},
	}
}

func (c *Cache) Product(ctx context.Context, id string) (*Product, error) {
	now := c.nowFunc()

	c.mu.Lock()
	if e, ok := c.entries[id]; ok && now.Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.product, nil
	}
	c.mu.Unlock()

	p, err := c.src.Product(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[id] = cacheEntry{product: p, fetchedAt: now}
	c.mu.Unlock()
	return p, nil
}

func (c *Cache) Products(ctx context.Context, ids []string) (map[string]*Product, error) {
	now := c.nowFunc()
	result := make(map[string]*Product, len(ids))
	var missing []string

	c.mu.Lock()
	for _, id := range ids {
		if e, ok := c.entries[id]; ok && now.Sub(e.fetchedAt) < c.ttl {
			if e.product != nil {
				result[id] = e.product
			}
		} else {
			missing = append(missing, id)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.src.Products(ctx, missing)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for _, id := range missing {
		p := fetched[id] // nil caches the miss
		c.entries[id] = cacheEntry{product: p, fetchedAt: now}
		if p != nil {
			result[id] = p
		}
	}
	c.mu.Unlock()
	return result, nil
}

// Invalidate drops one entry, for admin writes that should surface promptly.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
