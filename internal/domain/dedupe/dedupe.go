// Package dedupe keeps a bounded cache of event ids known to be persisted.
//
// The event store's unique constraint is the authority on idempotency. Event
// rows are never deleted, so an id recorded here after a successful insert
// stays a duplicate forever; the cache only saves the store round trip for
// resubmissions. A miss says nothing and must fall through to the store.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

// Cache records event ids whose rows are known to exist.
type Cache interface {
	// Seen reports whether id was recorded and not yet evicted.
	Seen(ctx context.Context, id string) bool
	// Record remembers id. Only call it once the event row is committed.
	Record(ctx context.Context, id string)
	// Size returns the number of cached ids.
	Size() int64
}

type inMemoryCache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // front = newest
	maxSize int
}

// NewInMemoryCache creates a cache with configuration options. Defaults to
// 50k entries.
func NewInMemoryCache(opts ...Option) Cache {
	c := &inMemoryCache{
		maxSize: 50_000,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.index = make(map[string]*list.Element)
	c.order = list.New()
	return c
}

func (c *inMemoryCache) Seen(_ context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[id]
	return ok
}

func (c *inMemoryCache) Record(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[id]; ok {
		return
	}
	if c.maxSize > 0 && c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(string))
	}
	c.index[id] = c.order.PushFront(id)
}

func (c *inMemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.order.Len())
}
