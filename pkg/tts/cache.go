package tts

import (
	"container/list"
	"context"
	"sync"
)

// Cache wraps a Provider and remembers recent results by text. Guidance
// repeats a small set of phrases, so most announcements hit.
type Cache struct {
	provider Provider
	size     int

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	text   string
	result *AudioResult
}

var _ Provider = (*Cache)(nil)

// NewCache creates an LRU cache holding up to size results.
func NewCache(provider Provider, size int) *Cache {
	if size < 1 {
		size = 1
	}
	return &Cache{
		provider: provider,
		size:     size,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Synthesize returns a cached result or asks the wrapped provider.
// Failures are not cached.
func (c *Cache) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	c.mu.Lock()
	if el, ok := c.entries[text]; ok {
		c.order.MoveToFront(el)
		c.hits++
		result := el.Value.(*cacheEntry).result
		c.mu.Unlock()
		return result, nil
	}
	c.misses++
	c.mu.Unlock()

	result, err := c.provider.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[text]; ok {
		c.order.MoveToFront(el)
		return result, nil
	}
	c.entries[text] = c.order.PushFront(&cacheEntry{text: text, result: result})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).text)
	}
	return result, nil
}

// Health delegates to the wrapped provider.
func (c *Cache) Health(ctx context.Context) error {
	return c.provider.Health(ctx)
}

// Close closes the wrapped provider.
func (c *Cache) Close() error {
	return c.provider.Close()
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
