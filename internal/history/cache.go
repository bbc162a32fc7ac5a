package history

import "sync"

// MemoryCache is an in-process Cache, used by tests and as a fallback when no
// cache file is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

// Get returns the stored replica for identity.
func (c *MemoryCache) Get(identity string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[identity]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

// Set stores the replica for identity.
func (c *MemoryCache) Set(identity string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.entries[identity] = cp
	return nil
}

// Remove deletes the replica for identity.
func (c *MemoryCache) Remove(identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, identity)
	return nil
}
