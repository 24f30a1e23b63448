// Package cache provides an explicit, explicitly-invalidated lookup cache
// for the pull path. Staleness window: entries are served for at most the
// configured TTL after Set; there is no background refresh.
package cache

import (
	"sync"
	"time"
)

type item struct {
	value    map[string]any
	storedAt time.Time
}

// Lookup is a TTL-bounded key→row cache. Safe for concurrent use.
type Lookup struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]item
}

func NewLookup(ttl time.Duration) *Lookup {
	return &Lookup{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]item),
	}
}

// Get returns the cached row for key if it is within the staleness window.
func (c *Lookup) Get(key string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(it.storedAt) > c.ttl {
		delete(c.items, key)
		return nil, false
	}
	return it.value, true
}

// Set stores a row under key, restarting its staleness window.
func (c *Lookup) Set(key string, value map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: value, storedAt: c.now()}
}

// Invalidate drops one key.
func (c *Lookup) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops everything.
func (c *Lookup) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item)
}
