package exitmodel

import "sync"

// CacheKey builds the per-model cache key.
func CacheKey(symbol, timeframe string) string {
	return symbol + "_" + timeframe
}

// ModelCache holds loaded artifacts per purpose keyed by CacheKey.
type ModelCache struct {
	mu      sync.RWMutex
	entries map[Purpose]map[string]*Artifact
}

// NewModelCache creates an empty cache.
func NewModelCache() *ModelCache {
	return &ModelCache{entries: make(map[Purpose]map[string]*Artifact)}
}

func (c *ModelCache) Get(p Purpose, key string) (*Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.entries[p][key]
	return a, ok
}

func (c *ModelCache) Put(p Purpose, key string, a *Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[p]
	if !ok {
		m = make(map[string]*Artifact)
		c.entries[p] = m
	}
	m[key] = a
}

// Evict drops both purposes for key so the next prediction reloads from disk.
func (c *ModelCache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.entries {
		delete(m, key)
	}
}

func (c *ModelCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Purpose]map[string]*Artifact)
}

// Len returns the number of cached artifacts across purposes.
func (c *ModelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.entries {
		n += len(m)
	}
	return n
}
