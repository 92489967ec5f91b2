package processor

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/require"

	"github.com/mwgrin/node/chain"
	"github.com/mwgrin/node/consensus"
	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/crypto"
	"github.com/mwgrin/node/headermmr"
	"github.com/mwgrin/node/mempool"
	"github.com/mwgrin/node/orphan"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pkg/status"
	"github.com/mwgrin/node/pmmr"
	"github.com/mwgrin/node/txhashset"
)

type fakePositionIndex struct {
	locations map[core.Commitment]core.OutputLocation
}

func newFakePositionIndex() *fakePositionIndex {
	return &fakePositionIndex{locations: map[core.Commitment]core.OutputLocation{}}
}

func (f *fakePositionIndex) GetOutputLocation(c core.Commitment) (core.OutputLocation, bool, error) {
	loc, found := f.locations[c]
	return loc, found, nil
}

func (f *fakePositionIndex) PutOutputLocation(c core.Commitment, loc core.OutputLocation) error {
	f.locations[c] = loc
	return nil
}

func (f *fakePositionIndex) DeleteOutputLocation(c core.Commitment) error {
	delete(f.locations, c)
	return nil
}

type fakeInputBitmapStore struct {
	bitmaps map[hash.Hash]*roaring.Bitmap
}

func newFakeInputBitmapStore() *fakeInputBitmapStore {
	return &fakeInputBitmapStore{bitmaps: map[hash.Hash]*roaring.Bitmap{}}
}

func (f *fakeInputBitmapStore) PutInputBitmap(blockHash hash.Hash, bitmap *roaring.Bitmap) error {
	f.bitmaps[blockHash] = bitmap
	return nil
}

func (f *fakeInputBitmapStore) GetInputBitmap(blockHash hash.Hash) (*roaring.Bitmap, bool, error) {
	bitmap, found := f.bitmaps[blockHash]
	return bitmap, found, nil
}

type fakeBlockStore struct {
	blocks map[hash.Hash]*core.FullBlock
	sums   map[hash.Hash]core.BlockSums
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{blocks: map[hash.Hash]*core.FullBlock{}, sums: map[hash.Hash]core.BlockSums{}}
}

func (f *fakeBlockStore) GetBlock(h hash.Hash) (*core.FullBlock, bool, error) {
	b, ok := f.blocks[h]
	return b, ok, nil
}

func (f *fakeBlockStore) PutBlock(block *core.FullBlock) error {
	f.blocks[block.Header.Hash()] = block
	return nil
}

func (f *fakeBlockStore) DeleteBlock(h hash.Hash) error {
	delete(f.blocks, h)
	return nil
}

func (f *fakeBlockStore) GetBlockSums(h hash.Hash) (core.BlockSums, bool, error) {
	s, ok := f.sums[h]
	return s, ok, nil
}

func (f *fakeBlockStore) PutBlockSums(h hash.Hash, sums core.BlockSums) error {
	f.sums[h] = sums
	return nil
}

const testBlockReward = 10

// blockHarness wires a BlockProcessor against a genesis-seeded chain
// store and a fresh, empty txhashset, the way chainstate.Open does
// once InitializeGenesis has run.
type blockHarness struct {
	proc    *BlockProcessor
	chains  *chain.Store
	headers *fakeHeaderStore
	blocks  *fakeBlockStore
	mmr     *headermmr.HeaderMMR
	set     *txhashset.TxHashSet
	genesis *core.BlockHeader
}

func newBlockHarness(t *testing.T) *blockHarness {
	t.Helper()
	dir := t.TempDir()

	mmrInst, err := headermmr.Open(dir)
	require.NoError(t, err)

	genesis := &core.BlockHeader{
		Version:     consensus.HeaderVersion(0),
		Height:      0,
		Timestamp:   1000,
		ProofOfWork: core.ProofOfWork{TotalDifficulty: 1},
	}
	genesisHash := genesis.Hash()

	_, err = mmrInst.Append(genesisHash)
	require.NoError(t, err)
	require.NoError(t, mmrInst.Flush())

	chainStore, err := chain.OpenStore(filepath.Join(dir, "chain.dat"))
	require.NoError(t, err)
	idx := chainStore.Pool.GetOrCreate(genesisHash, 0, hash.Zero)
	require.NoError(t, chainStore.Chain(chain.Sync).Add(idx))
	require.NoError(t, chainStore.Chain(chain.Candidate).Add(idx))
	require.NoError(t, chainStore.Chain(chain.Confirmed).Add(idx))
	require.NoError(t, chainStore.Flush())

	headers := newFakeHeaderStore()
	require.NoError(t, headers.PutHeader(genesis))

	kernels, err := pmmr.OpenKernelMMR(t.TempDir())
	require.NoError(t, err)
	outputs, err := pmmr.OpenOutputPMMR(t.TempDir())
	require.NoError(t, err)
	rangeProofs, err := pmmr.OpenRangeProofPMMR(t.TempDir())
	require.NoError(t, err)
	positions := newFakePositionIndex()
	set := txhashset.Open(kernels, outputs, rangeProofs, positions, newFakeInputBitmapStore(), genesis)

	headerProc := NewHeaderProcessor(chainStore, headers, mmrInst, orphan.NewHeaderCache(8), crypto.FakePoWVerifier{})
	blocks := newFakeBlockStore()

	proc := NewBlockProcessor(chainStore, headers, blocks, positions, set, headerProc,
		orphan.NewBlockPool(8), mempool.New(crypto.FakeCommitter{}), crypto.FakeCommitter{}, testBlockReward)

	return &blockHarness{proc: proc, chains: chainStore, headers: headers, blocks: blocks, mmr: mmrInst, set: set, genesis: genesis}
}

// coinbaseChild builds a block extending parent with a single coinbase
// output/kernel pair whose commitments are computed so the FakeCommitter
// kernel-sum identity balances regardless of the block reward's value,
// with every MMR root the new block declares computed against a scratch
// set of MMRs that replay the identical append sequence.
func coinbaseChild(t *testing.T, parent *core.BlockHeader, parentMMR *headermmr.HeaderMMR) *core.FullBlock {
	t.Helper()

	committer := crypto.FakeCommitter{}
	rewardCommit, err := committer.Commit(testBlockReward, [32]byte{})
	require.NoError(t, err)

	output := core.TransactionOutput{Features: core.OutputCoinbase, Commitment: rewardCommit, RangeProof: core.RangeProof{0: 1}}
	kernel := core.TransactionKernel{Features: core.KernelCoinbase, Excess: core.Commitment{}}

	scratchOutputs, err := pmmr.OpenOutputPMMR(t.TempDir())
	require.NoError(t, err)
	scratchRange, err := pmmr.OpenRangeProofPMMR(t.TempDir())
	require.NoError(t, err)
	scratchKernels, err := pmmr.OpenKernelMMR(t.TempDir())
	require.NoError(t, err)

	identifierBytes, err := output.Identifier().MarshalBinary()
	require.NoError(t, err)
	_, err = scratchOutputs.Append(identifierBytes)
	require.NoError(t, err)

	proofBytes, err := output.RangeProof.MarshalBinary()
	require.NoError(t, err)
	_, err = scratchRange.Append(proofBytes)
	require.NoError(t, err)

	kernelBytes, err := kernel.MarshalBinary()
	require.NoError(t, err)
	_, err = scratchKernels.Append(kernelBytes)
	require.NoError(t, err)

	outputRoot, err := scratchOutputs.Root(scratchOutputs.Size())
	require.NoError(t, err)
	rangeProofRoot, err := scratchRange.Root(scratchRange.Size())
	require.NoError(t, err)
	kernelRoot, err := scratchKernels.Root(scratchKernels.Size())
	require.NoError(t, err)

	previousRoot, err := parentMMR.RootAtHeight(parent.Height)
	require.NoError(t, err)

	header := core.BlockHeader{
		Version:        consensus.HeaderVersion(parent.Height + 1),
		Height:         parent.Height + 1,
		Timestamp:      parent.Timestamp + 60,
		PreviousHash:   parent.Hash(),
		PreviousRoot:   previousRoot,
		OutputRoot:     outputRoot,
		RangeProofRoot: rangeProofRoot,
		KernelRoot:     kernelRoot,
		OutputMMRSize:  scratchOutputs.Size(),
		KernelMMRSize:  scratchKernels.Size(),
		ProofOfWork:    core.ProofOfWork{TotalDifficulty: parent.ProofOfWork.TotalDifficulty + 1},
	}

	return &core.FullBlock{Header: header, Outputs: []core.TransactionOutput{output}, Kernels: []core.TransactionKernel{kernel}}
}

func TestProcessBlockAcceptsNextBlockExtendingConfirmedChain(t *testing.T) {
	h := newBlockHarness(t)
	block1 := coinbaseChild(t, h.genesis, h.mmr)

	st, err := h.proc.ProcessBlock(block1)
	require.NoError(t, err)
	require.Equal(t, status.Success, st)

	tip, ok := h.chains.Chain(chain.Confirmed).Tip()
	require.True(t, ok)
	require.Equal(t, block1.Header.Hash(), tip.Hash)

	stored, found, err := h.blocks.GetBlock(block1.Header.Hash())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, block1.Header.Height, stored.Header.Height)

	_, found, err = h.blocks.GetBlockSums(block1.Header.Hash())
	require.NoError(t, err)
	require.True(t, found)
}

func hashForHeight(height uint64) hash.Hash {
	var h hash.Hash
	binary.BigEndian.PutUint64(h[:8], height)
	return h
}

// TestProcessBlockRejectsBlockBeyondCutThroughHorizon pushes the
// candidate chain far enough ahead that a block as old as genesis
// falls outside the reorg horizon, and checks it's rejected before
// any header or txhashset work happens.
func TestProcessBlockRejectsBlockBeyondCutThroughHorizon(t *testing.T) {
	h := newBlockHarness(t)
	candidate := h.chains.Chain(chain.Candidate)

	prev := h.genesis.Hash()
	for height := uint64(1); height <= consensus.CutThroughHorizon+1; height++ {
		hh := hashForHeight(height)
		idx := h.chains.Pool.GetOrCreate(hh, height, prev)
		require.NoError(t, candidate.Add(idx))
		prev = hh
	}

	block := &core.FullBlock{Header: core.BlockHeader{Height: 0}}
	st, err := h.proc.ProcessBlock(block)
	require.Error(t, err)
	require.Equal(t, status.Invalid, st)
}

// forkCoinbaseBlock builds a block extending parent with a single
// coinbase output/kernel pair, the way coinbaseChild does, but replays
// parent's own outputs and kernels into the scratch MMRs first so it
// can extend genesis or a block whose own parent carries no outputs or
// kernels (no earlier ancestor is replayed), and gives the
// output a seed-varied blind (and the kernel a matching seed-varied
// excess byte) so distinct forks never collide on the same output
// commitment in the shared position index.
func forkCoinbaseBlock(t *testing.T, parent *core.FullBlock, previousRoot hash.Hash, difficulty uint64, seed byte) *core.FullBlock {
	t.Helper()

	committer := crypto.FakeCommitter{}
	var blind [32]byte
	blind[0] = seed
	outputCommit, err := committer.Commit(testBlockReward, blind)
	require.NoError(t, err)

	output := core.TransactionOutput{Features: core.OutputCoinbase, Commitment: outputCommit, RangeProof: core.RangeProof{0: 1}}
	kernel := core.TransactionKernel{Features: core.KernelCoinbase, Excess: core.Commitment{1: seed}}

	scratchOutputs, err := pmmr.OpenOutputPMMR(t.TempDir())
	require.NoError(t, err)
	scratchRange, err := pmmr.OpenRangeProofPMMR(t.TempDir())
	require.NoError(t, err)
	scratchKernels, err := pmmr.OpenKernelMMR(t.TempDir())
	require.NoError(t, err)

	for _, o := range parent.Outputs {
		identifierBytes, err := o.Identifier().MarshalBinary()
		require.NoError(t, err)
		_, err = scratchOutputs.Append(identifierBytes)
		require.NoError(t, err)
		proofBytes, err := o.RangeProof.MarshalBinary()
		require.NoError(t, err)
		_, err = scratchRange.Append(proofBytes)
		require.NoError(t, err)
	}
	for _, k := range parent.Kernels {
		kernelBytes, err := k.MarshalBinary()
		require.NoError(t, err)
		_, err = scratchKernels.Append(kernelBytes)
		require.NoError(t, err)
	}

	identifierBytes, err := output.Identifier().MarshalBinary()
	require.NoError(t, err)
	_, err = scratchOutputs.Append(identifierBytes)
	require.NoError(t, err)
	proofBytes, err := output.RangeProof.MarshalBinary()
	require.NoError(t, err)
	_, err = scratchRange.Append(proofBytes)
	require.NoError(t, err)
	kernelBytes, err := kernel.MarshalBinary()
	require.NoError(t, err)
	_, err = scratchKernels.Append(kernelBytes)
	require.NoError(t, err)

	outputRoot, err := scratchOutputs.Root(scratchOutputs.Size())
	require.NoError(t, err)
	rangeProofRoot, err := scratchRange.Root(scratchRange.Size())
	require.NoError(t, err)
	kernelRoot, err := scratchKernels.Root(scratchKernels.Size())
	require.NoError(t, err)

	header := core.BlockHeader{
		Version:        consensus.HeaderVersion(parent.Header.Height + 1),
		Height:         parent.Header.Height + 1,
		Timestamp:      parent.Header.Timestamp + 60,
		PreviousHash:   parent.Header.Hash(),
		PreviousRoot:   previousRoot,
		OutputRoot:     outputRoot,
		RangeProofRoot: rangeProofRoot,
		KernelRoot:     kernelRoot,
		OutputMMRSize:  scratchOutputs.Size(),
		KernelMMRSize:  scratchKernels.Size(),
		ProofOfWork:    core.ProofOfWork{TotalDifficulty: difficulty},
	}

	return &core.FullBlock{Header: header, Outputs: []core.TransactionOutput{output}, Kernels: []core.TransactionKernel{kernel}}
}

// TestProcessBlockReorgsConfirmedChainOntoHeavierFork builds three
// forks off genesis: A (the initial confirmed chain), a lighter fork B
// whose body arrives after B's headers already beat A into the
// candidate chain, and a heavier fork C. Submitting B's block body
// exercises handleReorg's no-increase branch, where the replayed
// txhashset state must be discarded rather than flushed since the
// confirmed chain stays on A. Submitting C's block body exercises the
// accepted branch, where confirmed moves onto C and the txhashset's
// flushed state follows it.
func TestProcessBlockReorgsConfirmedChainOntoHeavierFork(t *testing.T) {
	h := newBlockHarness(t)
	genesisBlock := &core.FullBlock{Header: *h.genesis}

	rootAt0, err := h.mmr.RootAtHeight(0)
	require.NoError(t, err)

	a1 := forkCoinbaseBlock(t, genesisBlock, rootAt0, 2, 1)
	st, err := h.proc.ProcessBlock(a1)
	require.NoError(t, err)
	require.Equal(t, status.Success, st)

	rootAt1, err := h.mmr.RootAtHeight(1)
	require.NoError(t, err)
	a2 := forkCoinbaseBlock(t, a1, rootAt1, 4, 2)
	st, err = h.proc.ProcessBlock(a2)
	require.NoError(t, err)
	require.Equal(t, status.Success, st)

	confirmedTip, ok := h.chains.Chain(chain.Confirmed).Tip()
	require.True(t, ok)
	require.Equal(t, a2.Header.Hash(), confirmedTip.Hash)

	// Fork B forks at genesis with lower per-step difficulty than A,
	// but its two headers are pushed as one sync batch so the batch's
	// own tip (b2, difficulty 10) is what's compared against candidate
	// before b1's body is ever seen.
	b1 := forkCoinbaseBlock(t, genesisBlock, rootAt0, 2, 3)

	require.NoError(t, h.mmr.Rewind(headermmr.SizeAtHeight(0)))
	_, err = h.mmr.Append(b1.Header.Hash())
	require.NoError(t, err)
	b2PreviousRoot, err := h.mmr.RootAtHeight(1)
	require.NoError(t, err)
	h.mmr.Discard()

	b2 := &core.BlockHeader{
		Version:      consensus.HeaderVersion(b1.Header.Height + 1),
		Height:       b1.Header.Height + 1,
		Timestamp:    b1.Header.Timestamp + 60,
		PreviousHash: b1.Header.Hash(),
		PreviousRoot: b2PreviousRoot,
		ProofOfWork:  core.ProofOfWork{TotalDifficulty: 10},
	}

	st, err = h.proc.headerProc.ProcessSyncHeaders([]*core.BlockHeader{&b1.Header, b2})
	require.NoError(t, err)
	require.Equal(t, status.Success, st)

	candidateTip, ok := h.chains.Chain(chain.Candidate).Tip()
	require.True(t, ok)
	require.Equal(t, b2.Hash(), candidateTip.Hash)

	st, err = h.proc.ProcessBlock(b1)
	require.NoError(t, err)
	require.Equal(t, status.Success, st)

	// The fork replayed by handleReorg never overtook A's total
	// difficulty, so confirmed must still describe A2 and the
	// txhashset's tracked header and PMMR sizes must match it.
	confirmedTip, ok = h.chains.Chain(chain.Confirmed).Tip()
	require.True(t, ok)
	require.Equal(t, a2.Header.Hash(), confirmedTip.Hash)
	require.Equal(t, a2.Header.Hash(), h.set.Header().Hash())
	require.Equal(t, a2.Header.OutputMMRSize, h.set.Header().OutputMMRSize)
	require.Equal(t, a2.Header.KernelMMRSize, h.set.Header().KernelMMRSize)

	// Fork C forks at genesis with difficulty comfortably above both
	// A2's and candidate's current tip (B2), so its block both drags
	// candidate onto itself and overtakes confirmed.
	c1 := forkCoinbaseBlock(t, genesisBlock, rootAt0, 20, 4)
	st, err = h.proc.ProcessBlock(c1)
	require.NoError(t, err)
	require.Equal(t, status.Success, st)

	confirmedTip, ok = h.chains.Chain(chain.Confirmed).Tip()
	require.True(t, ok)
	require.Equal(t, c1.Header.Hash(), confirmedTip.Hash)
	require.Equal(t, c1.Header.Hash(), h.set.Header().Hash())
	require.Equal(t, c1.Header.OutputMMRSize, h.set.Header().OutputMMRSize)
	require.Equal(t, c1.Header.KernelMMRSize, h.set.Header().KernelMMRSize)
}

func TestProcessBlockOrphansBlockWithUnknownParent(t *testing.T) {
	h := newBlockHarness(t)

	var unknownParent hash.Hash
	unknownParent[0] = 0xaa
	block := &core.FullBlock{
		Header: core.BlockHeader{
			Version:      consensus.HeaderVersion(1),
			Height:       1,
			Timestamp:    h.genesis.Timestamp + 60,
			PreviousHash: unknownParent,
			ProofOfWork:  core.ProofOfWork{TotalDifficulty: 1}, // not heavier than the candidate tip
		},
	}

	st, err := h.proc.ProcessBlock(block)
	require.NoError(t, err)
	require.Equal(t, status.Orphaned, st)
}
