package cache

import (
	"sync"

	"github.com/astromechza/geochat/pkg/anchor"
)

// Cache is the local mirror of the store used for proximity searches. It is a
// point-in-time snapshot: Replace swaps the whole mapping in one step, so a
// concurrent reader sees either the old snapshot or the new one, never a mix.
// Readers must tolerate staleness of up to one round trip.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]anchor.Anchor
}

func New() *Cache {
	return &Cache{entries: make(map[string]anchor.Anchor)}
}

// Replace installs a new snapshot, discarding the previous one entirely.
// Incremental patching is deliberately unsupported: the synchronization model
// is read everything, replace everything. The input is copied so later
// mutation by the caller cannot leak in.
func (c *Cache) Replace(entries map[string]anchor.Anchor) {
	copied := make(map[string]anchor.Anchor, len(entries))
	for id, a := range entries {
		copied[id] = a.Clone()
	}
	c.mu.Lock()
	c.entries = copied
	c.mu.Unlock()
}

// Snapshot returns the mapping as of the last completed Replace. The returned
// map is shared between all readers of that snapshot and must not be modified.
func (c *Cache) Snapshot() map[string]anchor.Anchor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries
}

// Len reports the number of anchors in the current snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
