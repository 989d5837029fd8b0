package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store with per-entry expiry. Expired entries are
// dropped lazily on read and swept when the map grows past sweepThreshold.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

const sweepThreshold = 4096

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Get returns the entry for key if present and not expired.
func (c *Memory) Get(_ context.Context, key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if time.Now().After(e.expires) {
		c.mu.Lock()
		// Re-check under the write lock; another Set may have refreshed it.
		if cur, still := c.entries[key]; still && time.Now().After(cur.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	if len(e.entry.Body) > 0 && ETag(e.entry.Body) != e.entry.ETag {
		// Corrupt entry. Treat as a miss.
		c.Delete(context.Background(), key)
		return Entry{}, false
	}
	return e.entry, true
}

// Set stores entry under key for ttl.
func (c *Memory) Set(_ context.Context, key string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= sweepThreshold {
		c.sweepLocked()
	}
	c.entries[key] = memoryEntry{entry: entry, expires: time.Now().Add(ttl)}
}

// Delete removes the entry for key.
func (c *Memory) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, including not-yet-swept expired
// ones.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Memory) sweepLocked() {
	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, key)
		}
	}
}
