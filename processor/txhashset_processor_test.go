package processor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwgrin/node/chain"
	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/crypto"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pkg/status"
	"github.com/mwgrin/node/pmmr"
	"github.com/mwgrin/node/txhashset"
)

// snapshotHarness builds a TxHashSet holding exactly one genesis-level
// coinbase output and kernel, and a matching header, the shape a
// fast-sync snapshot at height 0 takes.
type snapshotHarness struct {
	proc    *TxHashSetProcessor
	chains  *chain.Store
	headers *fakeHeaderStore
	blocks  *fakeBlockStore
	header  *core.BlockHeader
}

func newSnapshotHarness(t *testing.T) *snapshotHarness {
	t.Helper()

	committer := crypto.FakeCommitter{}
	rewardCommit, err := committer.Commit(testBlockReward, [32]byte{})
	require.NoError(t, err)

	output := core.TransactionOutput{Features: core.OutputCoinbase, Commitment: rewardCommit, RangeProof: core.RangeProof{0: 1}}
	kernel := core.TransactionKernel{Features: core.KernelCoinbase, Excess: core.Commitment{}}
	kernel.ExcessSig[0] = 1

	outputs, err := pmmr.OpenOutputPMMR(t.TempDir())
	require.NoError(t, err)
	rangeProofs, err := pmmr.OpenRangeProofPMMR(t.TempDir())
	require.NoError(t, err)
	kernels, err := pmmr.OpenKernelMMR(t.TempDir())
	require.NoError(t, err)

	identifierBytes, err := output.Identifier().MarshalBinary()
	require.NoError(t, err)
	_, err = outputs.Append(identifierBytes)
	require.NoError(t, err)

	proofBytes, err := output.RangeProof.MarshalBinary()
	require.NoError(t, err)
	_, err = rangeProofs.Append(proofBytes)
	require.NoError(t, err)

	kernelBytes, err := kernel.MarshalBinary()
	require.NoError(t, err)
	_, err = kernels.Append(kernelBytes)
	require.NoError(t, err)

	outputRoot, err := outputs.Root(outputs.Size())
	require.NoError(t, err)
	rangeProofRoot, err := rangeProofs.Root(rangeProofs.Size())
	require.NoError(t, err)
	kernelRoot, err := kernels.Root(kernels.Size())
	require.NoError(t, err)

	header := &core.BlockHeader{
		Height:         0,
		PreviousHash:   hash.Zero,
		OutputRoot:     outputRoot,
		RangeProofRoot: rangeProofRoot,
		KernelRoot:     kernelRoot,
		OutputMMRSize:  outputs.Size(),
		KernelMMRSize:  kernels.Size(),
	}

	set := txhashset.Open(kernels, outputs, rangeProofs, newFakePositionIndex(), newFakeInputBitmapStore(), header)

	headers := newFakeHeaderStore()
	require.NoError(t, headers.PutHeader(header))

	chainStore, err := chain.OpenStore(filepath.Join(t.TempDir(), "chain.dat"))
	require.NoError(t, err)

	blocks := newFakeBlockStore()

	proc := NewTxHashSetProcessor(chainStore, headers, blocks, set, committer,
		crypto.FakeBulletproofVerifier{}, crypto.FakeAggSigVerifier{}, testBlockReward, nil)

	return &snapshotHarness{proc: proc, chains: chainStore, headers: headers, blocks: blocks, header: header}
}

func TestProcessTxHashSetAdoptsValidSnapshot(t *testing.T) {
	h := newSnapshotHarness(t)

	st, err := h.proc.ProcessTxHashSet(h.header)
	require.NoError(t, err)
	require.Equal(t, status.Success, st)

	for _, kind := range []chain.Type{chain.Sync, chain.Candidate, chain.Confirmed} {
		tip, ok := h.chains.Chain(kind).Tip()
		require.True(t, ok)
		require.Equal(t, h.header.Hash(), tip.Hash)
	}

	_, found, err := h.blocks.GetBlockSums(h.header.Hash())
	require.NoError(t, err)
	require.True(t, found)
}

func TestProcessTxHashSetRejectsRootMismatch(t *testing.T) {
	h := newSnapshotHarness(t)
	bad := *h.header
	bad.OutputRoot[0] ^= 0xff

	st, err := h.proc.ProcessTxHashSet(&bad)
	require.Error(t, err)
	require.Equal(t, status.Invalid, st)
}

func TestProcessTxHashSetRejectsMissingAncestorHeader(t *testing.T) {
	h := newSnapshotHarness(t)
	bad := *h.header
	bad.Height = 1 // the header store only knows about height 0

	st, err := h.proc.ProcessTxHashSet(&bad)
	require.Error(t, err)
	require.Equal(t, status.Invalid, st)
}
