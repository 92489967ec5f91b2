package chain

import "github.com/mwgrin/node/pkg/hash"

// Pool is the shared arena of BlockIndex handles behind every chain.
// Looking a hash up twice returns the same *BlockIndex, so adding the
// same block to two chains never duplicates its bookkeeping.
type Pool struct {
	byHash map[hash.Hash]*BlockIndex
}

// NewPool returns an empty index pool.
func NewPool() *Pool {
	return &Pool{byHash: make(map[hash.Hash]*BlockIndex)}
}

// Get returns the index for h, if the pool has one.
func (p *Pool) Get(h hash.Hash) (*BlockIndex, bool) {
	idx, ok := p.byHash[h]
	return idx, ok
}

// GetOrCreate returns the existing index for h, or allocates and
// registers a new one with the given height and previous hash.
func (p *Pool) GetOrCreate(h hash.Hash, height uint64, previousHash hash.Hash) *BlockIndex {
	if idx, ok := p.byHash[h]; ok {
		return idx
	}
	idx := &BlockIndex{Hash: h, Height: height, PreviousHash: previousHash}
	p.byHash[h] = idx
	return idx
}

// setMembership marks idx as belonging to chain t. Unconditionally
// reinserts idx into the pool, since Chain.Discard calls this to
// restore entries an unflushed Rewind dropped, and the index may
// already have been fully evicted by that Rewind's clearMembership
// call.
func (p *Pool) setMembership(idx *BlockIndex, t Type) {
	idx.membership |= t.bit()
	p.byHash[idx.Hash] = idx
}

// clearMembership unmarks idx as belonging to chain t, reclaiming it
// from the pool once no chain references it any longer.
func (p *Pool) clearMembership(idx *BlockIndex, t Type) {
	idx.membership &^= t.bit()
	if idx.SafeToDelete() {
		delete(p.byHash, idx.Hash)
	}
}

// Len returns the number of distinct blocks currently tracked by any
// chain drawing from this pool.
func (p *Pool) Len() int { return len(p.byHash) }
