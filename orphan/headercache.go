// Package orphan holds headers and blocks that arrived before the
// chain had anywhere to put them: a header or block whose parent
// isn't known yet. Both caches are bounded and evict the
// least-recently-added entry, a deliberate tightening of the
// reference implementation's unbounded orphan pool so a peer can't
// grow either cache without limit just by sending disconnected data.
package orphan

import (
	"container/list"

	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/pkg/hash"
)

// DefaultHeaderCacheCapacity caps the number of orphan headers held at
// once, mirroring the bound already used for the sync-header batch
// window.
const DefaultHeaderCacheCapacity = 64

type headerEntry struct {
	hash   hash.Hash
	header *core.BlockHeader
}

// HeaderCache is a bounded, hash-indexed, least-recently-added cache
// of headers whose parent has not yet been seen.
type HeaderCache struct {
	capacity int
	order    *list.List
	entries  map[hash.Hash]*list.Element
}

// NewHeaderCache returns an empty cache holding at most capacity
// entries.
func NewHeaderCache(capacity int) *HeaderCache {
	return &HeaderCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[hash.Hash]*list.Element),
	}
}

// Add records header, evicting the oldest entry first if the cache is
// already at capacity. Re-adding an already-cached header is a no-op.
func (c *HeaderCache) Add(header *core.BlockHeader) {
	h := header.Hash()
	if _, ok := c.entries[h]; ok {
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			delete(c.entries, oldest.Value.(headerEntry).hash)
			c.order.Remove(oldest)
		}
	}
	elem := c.order.PushBack(headerEntry{hash: h, header: header})
	c.entries[h] = elem
}

// Get returns the cached header for h, if present.
func (c *HeaderCache) Get(h hash.Hash) (*core.BlockHeader, bool) {
	elem, ok := c.entries[h]
	if !ok {
		return nil, false
	}
	return elem.Value.(headerEntry).header, true
}

// Remove discards the cached header for h, if present.
func (c *HeaderCache) Remove(h hash.Hash) {
	elem, ok := c.entries[h]
	if !ok {
		return
	}
	c.order.Remove(elem)
	delete(c.entries, h)
}

// Len returns the number of headers currently cached.
func (c *HeaderCache) Len() int { return c.order.Len() }
