package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwgrin/node/pkg/hash"
)

func testHash(b byte) hash.Hash {
	var h hash.Hash
	h[0] = b
	return h
}

func TestBlockIndexMembership(t *testing.T) {
	idx := &BlockIndex{Hash: testHash(1)}
	require.False(t, idx.InChain(Sync))
	require.True(t, idx.SafeToDelete())

	idx.membership |= Sync.bit()
	require.True(t, idx.InChain(Sync))
	require.False(t, idx.InChain(Candidate))
	require.False(t, idx.InAllChains())
	require.False(t, idx.SafeToDelete())

	idx.membership |= Candidate.bit() | Confirmed.bit()
	require.True(t, idx.InAllChains())
}

func TestPoolGetOrCreateDedupsByHash(t *testing.T) {
	p := NewPool()
	h := testHash(1)

	first := p.GetOrCreate(h, 5, testHash(0))
	second := p.GetOrCreate(h, 99, testHash(7))

	require.Same(t, first, second)
	require.Equal(t, uint64(5), second.Height, "GetOrCreate must not overwrite an existing index")
	require.Equal(t, 1, p.Len())
}

func TestPoolMembershipReclaimsWhenSafeToDelete(t *testing.T) {
	p := NewPool()
	idx := p.GetOrCreate(testHash(1), 0, hash.Zero)

	p.setMembership(idx, Sync)
	p.setMembership(idx, Candidate)
	require.Equal(t, 1, p.Len())

	p.clearMembership(idx, Sync)
	_, stillThere := p.Get(testHash(1))
	require.True(t, stillThere, "index referenced by Candidate must survive")

	p.clearMembership(idx, Candidate)
	_, stillThere = p.Get(testHash(1))
	require.False(t, stillThere, "index with no remaining chain membership must be reclaimed")
}

func genesisIdx(pool *Pool) *BlockIndex {
	return pool.GetOrCreate(testHash(0), 0, hash.Zero)
}

func chainWithHeights(t *testing.T, pool *Pool, kind Type, n int) *Chain {
	t.Helper()
	c := NewChain(pool, kind)
	require.NoError(t, c.Add(genesisIdx(pool)))
	prev := testHash(0)
	for h := 1; h < n; h++ {
		idx := pool.GetOrCreate(testHash(byte(h)), uint64(h), prev)
		require.NoError(t, c.Add(idx))
		prev = testHash(byte(h))
	}
	return c
}

func TestChainAddRejectsNonContiguousOrMismatchedPrevious(t *testing.T) {
	pool := NewPool()
	c := NewChain(pool, Sync)

	require.Error(t, c.Add(pool.GetOrCreate(testHash(1), 1, hash.Zero)), "first index must be height 0")
	require.NoError(t, c.Add(genesisIdx(pool)))

	wrongHeight := pool.GetOrCreate(testHash(9), 5, testHash(0))
	require.Error(t, c.Add(wrongHeight))

	wrongPrev := pool.GetOrCreate(testHash(2), 1, testHash(99))
	require.Error(t, c.Add(wrongPrev))

	ok := pool.GetOrCreate(testHash(3), 1, testHash(0))
	require.NoError(t, c.Add(ok))
	height, present := c.Height()
	require.True(t, present)
	require.Equal(t, uint64(1), height)
}

func TestChainRewindDropsAboveTargetAndClearsMembership(t *testing.T) {
	pool := NewPool()
	c := chainWithHeights(t, pool, Sync, 5)

	height, _ := c.Height()
	require.Equal(t, uint64(4), height)

	idxAtHeight3, _ := c.GetByHeight(3)

	require.NoError(t, c.Rewind(2))
	height, ok := c.Height()
	require.True(t, ok)
	require.Equal(t, uint64(2), height)

	_, stillPresent := c.GetByHeight(3)
	require.False(t, stillPresent)

	require.False(t, idxAtHeight3.InChain(Sync))
}

func TestChainRewindToZeroKeepsGenesisTip(t *testing.T) {
	pool := NewPool()
	c := chainWithHeights(t, pool, Sync, 3)

	require.NoError(t, c.Rewind(0))
	_, ok := c.Height()
	require.True(t, ok, "height 0 (genesis) still present after rewinding to 0")

	idx, ok := c.GetByHeight(0)
	require.True(t, ok)
	require.Equal(t, testHash(0), idx.Hash)
}

func TestChainFlushDiscardRoundTrip(t *testing.T) {
	pool := NewPool()
	c := chainWithHeights(t, pool, Sync, 3)
	require.NoError(t, c.Flush())

	next := pool.GetOrCreate(testHash(3), 3, testHash(2))
	require.NoError(t, c.Add(next))
	height, _ := c.Height()
	require.Equal(t, uint64(3), height)

	c.Discard()
	height, _ = c.Height()
	require.Equal(t, uint64(2), height, "Discard must revert to the last Flush")

	require.False(t, next.InChain(Sync), "membership granted after the last Flush must be undone by Discard")
}

func TestChainDiscardRestoresMembershipLostToAnUnflushedRewind(t *testing.T) {
	pool := NewPool()
	c := chainWithHeights(t, pool, Sync, 3)
	require.NoError(t, c.Flush())

	require.NoError(t, c.Rewind(0))
	c.Discard()

	height, ok := c.Height()
	require.True(t, ok)
	require.Equal(t, uint64(2), height)

	idx, _ := pool.Get(testHash(2))
	require.True(t, idx.InChain(Sync), "membership cleared by the unflushed rewind must be restored by Discard")
}
