package orphan

import (
	"container/list"

	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/pkg/hash"
)

// DefaultBlockPoolCapacity caps the number of orphan blocks held at
// once; a full block body is far larger than a bare header, so this
// is deliberately smaller than DefaultHeaderCacheCapacity.
const DefaultBlockPoolCapacity = 32

type blockEntry struct {
	hash   hash.Hash
	height uint64
	block  *core.FullBlock
}

// BlockPool is a bounded, least-recently-added cache of full block
// bodies whose parent has not yet been connected to any tracked
// chain, indexed by hash for lookup and by height for the chain
// processor's "is everything between the fork point and here already
// in hand" scan during a reorg.
type BlockPool struct {
	capacity int
	order    *list.List
	byHash   map[hash.Hash]*list.Element
	byHeight map[uint64]map[hash.Hash]bool
}

// NewBlockPool returns an empty pool holding at most capacity blocks.
func NewBlockPool(capacity int) *BlockPool {
	return &BlockPool{
		capacity: capacity,
		order:    list.New(),
		byHash:   make(map[hash.Hash]*list.Element),
		byHeight: make(map[uint64]map[hash.Hash]bool),
	}
}

// Add records block, evicting the oldest entry first if the pool is
// already at capacity. Re-adding an already-pooled block is a no-op.
func (p *BlockPool) Add(block *core.FullBlock) {
	h := block.Header.Hash()
	if _, ok := p.byHash[h]; ok {
		return
	}
	if p.order.Len() >= p.capacity {
		oldest := p.order.Front()
		if oldest != nil {
			entry := oldest.Value.(blockEntry)
			p.removeLocked(entry.height, entry.hash)
		}
	}

	elem := p.order.PushBack(blockEntry{hash: h, height: block.Header.Height, block: block})
	p.byHash[h] = elem
	if p.byHeight[block.Header.Height] == nil {
		p.byHeight[block.Header.Height] = make(map[hash.Hash]bool)
	}
	p.byHeight[block.Header.Height][h] = true
}

// Contains reports whether a block at height with hash h is pooled.
func (p *BlockPool) Contains(height uint64, h hash.Hash) bool {
	return p.byHeight[height][h]
}

// GetByHash returns the pooled block for h, if present.
func (p *BlockPool) GetByHash(h hash.Hash) (*core.FullBlock, bool) {
	elem, ok := p.byHash[h]
	if !ok {
		return nil, false
	}
	return elem.Value.(blockEntry).block, true
}

// Remove discards the pooled block at height with hash h, if present.
func (p *BlockPool) Remove(height uint64, h hash.Hash) {
	p.removeLocked(height, h)
}

func (p *BlockPool) removeLocked(height uint64, h hash.Hash) {
	elem, ok := p.byHash[h]
	if !ok {
		return
	}
	p.order.Remove(elem)
	delete(p.byHash, h)
	if set, ok := p.byHeight[height]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(p.byHeight, height)
		}
	}
}

// Len returns the number of blocks currently pooled.
func (p *BlockPool) Len() int { return p.order.Len() }
