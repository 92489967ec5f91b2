package chain

import "fmt"

// Chain is one named, strictly contiguous sequence of BlockIndex
// entries drawn from a shared Pool. Like pmmrfile's AppendFile, it
// keeps a working copy that every Add/Rewind mutates immediately and a
// durable baseline that Flush advances to match and Discard reverts
// to — except here the "data" being rolled back is which chain a
// shared BlockIndex belongs to, not a byte slice, so Discard must also
// undo the Pool membership bits Add/Rewind flipped along the way.
type Chain struct {
	pool *Pool
	kind Type

	byHeight map[uint64]*BlockIndex
	hasTip   bool
	tipHeight uint64

	durable          map[uint64]*BlockIndex
	durableHasTip    bool
	durableTipHeight uint64
}

// NewChain returns an empty chain of the given kind backed by pool.
func NewChain(pool *Pool, kind Type) *Chain {
	return &Chain{
		pool:     pool,
		kind:     kind,
		byHeight: make(map[uint64]*BlockIndex),
		durable:  make(map[uint64]*BlockIndex),
	}
}

// Kind returns which of the three chains this is.
func (c *Chain) Kind() Type { return c.kind }

// Tip returns the highest index on the chain.
func (c *Chain) Tip() (*BlockIndex, bool) {
	if !c.hasTip {
		return nil, false
	}
	return c.byHeight[c.tipHeight], true
}

// Height returns the chain's tip height, or false if the chain is
// still empty.
func (c *Chain) Height() (uint64, bool) { return c.tipHeight, c.hasTip }

// HeightOrZero returns the tip height, or 0 for an empty chain.
func (c *Chain) HeightOrZero() uint64 {
	if !c.hasTip {
		return 0
	}
	return c.tipHeight
}

// GetByHeight returns the index at height, if the chain reaches that
// far.
func (c *Chain) GetByHeight(height uint64) (*BlockIndex, bool) {
	idx, ok := c.byHeight[height]
	return idx, ok
}

// Add extends the chain by one block. idx must continue the current
// tip (height+1, previous hash matching), or be a height-0 genesis
// index if the chain is still empty.
func (c *Chain) Add(idx *BlockIndex) error {
	if c.hasTip {
		tip := c.byHeight[c.tipHeight]
		if idx.Height != tip.Height+1 {
			return fmt.Errorf("chain: %s: cannot add height %d onto tip at height %d", c.kind, idx.Height, tip.Height)
		}
		if idx.PreviousHash != tip.Hash {
			return fmt.Errorf("chain: %s: index at height %d does not extend tip hash %s", c.kind, idx.Height, tip.Hash)
		}
	} else if idx.Height != 0 {
		return fmt.Errorf("chain: %s: first index added to an empty chain must be height 0, got %d", c.kind, idx.Height)
	}

	c.byHeight[idx.Height] = idx
	c.pool.setMembership(idx, c.kind)
	c.hasTip = true
	c.tipHeight = idx.Height
	return nil
}

// Rewind drops every index above targetHeight, clearing this chain's
// membership bit on each as it goes.
func (c *Chain) Rewind(targetHeight uint64) error {
	if !c.hasTip {
		return fmt.Errorf("chain: %s: cannot rewind an empty chain", c.kind)
	}
	if targetHeight > c.tipHeight {
		return fmt.Errorf("chain: %s: cannot rewind to height %d above tip %d", c.kind, targetHeight, c.tipHeight)
	}

	for h := c.tipHeight; h > targetHeight; h-- {
		if idx, ok := c.byHeight[h]; ok {
			c.pool.clearMembership(idx, c.kind)
			delete(c.byHeight, h)
		}
	}

	if _, ok := c.byHeight[targetHeight]; ok {
		c.hasTip = true
		c.tipHeight = targetHeight
	} else {
		c.hasTip = false
		c.tipHeight = 0
	}
	return nil
}

// Flush advances the durable baseline to match the current working
// state, making it survive a later Discard.
func (c *Chain) Flush() error {
	c.durable = cloneByHeight(c.byHeight)
	c.durableHasTip = c.hasTip
	c.durableTipHeight = c.tipHeight
	return nil
}

// Discard reverts the chain to its state as of the last Flush,
// restoring Pool membership bits for anything that changed along the
// way.
func (c *Chain) Discard() {
	for height, idx := range c.byHeight {
		durableIdx, ok := c.durable[height]
		if !ok || durableIdx.Hash != idx.Hash {
			c.pool.clearMembership(idx, c.kind)
		}
	}
	for height, idx := range c.durable {
		curIdx, ok := c.byHeight[height]
		if !ok || curIdx.Hash != idx.Hash {
			c.pool.setMembership(idx, c.kind)
		}
	}

	c.byHeight = cloneByHeight(c.durable)
	c.hasTip = c.durableHasTip
	c.tipHeight = c.durableTipHeight
}

func cloneByHeight(m map[uint64]*BlockIndex) map[uint64]*BlockIndex {
	clone := make(map[uint64]*BlockIndex, len(m))
	for h, idx := range m {
		clone[h] = idx
	}
	return clone
}
