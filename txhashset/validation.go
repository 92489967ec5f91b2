package txhashset

import (
	"fmt"

	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/crypto"
	"github.com/mwgrin/node/mmr"
	"github.com/mwgrin/node/pkg/hash"
)

// HeaderByHeight looks up a previously committed ancestor header, used
// by FullValidation to replay kernel-root history.
type HeaderByHeight interface {
	GetHeaderAtHeight(height uint64) (*core.BlockHeader, bool, error)
}

// ProgressFunc reports batch-verification progress during
// FullValidation; it may be nil.
type ProgressFunc func(phase string, done, total int)

// rangeProofBatchSize and kernelBatchSize match spec.md's fast-sync
// batch sizes for Bulletproof and Schnorr verification.
const (
	rangeProofBatchSize = 1000
	kernelBatchSize     = 2000
)

// FullValidation recomputes every internal MMR node from its children,
// checks the three roots against header, replays kernel-root history
// against every ancestor, and verifies the block's kernel-sum identity
// and every range proof and kernel signature. It returns the resulting
// BlockSums only if every step succeeds.
func (t *TxHashSet) FullValidation(
	header *core.BlockHeader,
	headers HeaderByHeight,
	committer crypto.PedersenCommitter,
	bpVerifier crypto.BulletproofVerifier,
	sigVerifier crypto.AggSigVerifier,
	blockReward uint64,
	progress ProgressFunc,
) (*core.BlockSums, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.outputs.Size() != header.OutputMMRSize {
		return nil, fmt.Errorf("txhashset: output MMR size %d does not match header size %d", t.outputs.Size(), header.OutputMMRSize)
	}
	if t.rangeProofs.Size() != header.OutputMMRSize {
		return nil, fmt.Errorf("txhashset: range proof MMR size %d does not match header size %d", t.rangeProofs.Size(), header.OutputMMRSize)
	}
	if t.kernels.Size() != header.KernelMMRSize {
		return nil, fmt.Errorf("txhashset: kernel MMR size %d does not match header size %d", t.kernels.Size(), header.KernelMMRSize)
	}

	if err := verifyInternalNodes(t.outputs.Size(), t.outputs.GetHashAt); err != nil {
		return nil, fmt.Errorf("txhashset: output MMR: %w", err)
	}
	if err := verifyInternalNodes(t.rangeProofs.Size(), t.rangeProofs.GetHashAt); err != nil {
		return nil, fmt.Errorf("txhashset: range proof MMR: %w", err)
	}
	if err := verifyInternalNodes(t.kernels.Size(), t.kernels.GetHashAt); err != nil {
		return nil, fmt.Errorf("txhashset: kernel MMR: %w", err)
	}

	if err := t.validateRootsLocked(header); err != nil {
		return nil, err
	}

	for height := uint64(0); height <= header.Height; height++ {
		ancestor, found, err := headers.GetHeaderAtHeight(height)
		if err != nil {
			return nil, fmt.Errorf("txhashset: looking up header at height %d: %w", height, err)
		}
		if !found {
			return nil, fmt.Errorf("txhashset: missing header at height %d", height)
		}
		root, err := t.kernels.Root(ancestor.KernelMMRSize)
		if err != nil {
			return nil, fmt.Errorf("txhashset: computing kernel root at height %d: %w", height, err)
		}
		if root != ancestor.KernelRoot {
			return nil, fmt.Errorf("txhashset: kernel root mismatch at height %d", height)
		}
	}

	outputCommitments, err := t.liveOutputCommitments()
	if err != nil {
		return nil, err
	}
	kernels, err := t.allKernels()
	if err != nil {
		return nil, err
	}

	var kernelExcesses []core.Commitment
	for _, k := range kernels {
		kernelExcesses = append(kernelExcesses, k.Excess)
	}

	outputSum, err := committer.CommitSum(outputCommitments, nil)
	if err != nil {
		return nil, fmt.Errorf("txhashset: summing outputs: %w", err)
	}
	kernelSum, err := committer.CommitSum(kernelExcesses, nil)
	if err != nil {
		return nil, fmt.Errorf("txhashset: summing kernel excesses: %w", err)
	}

	overage := blockReward * (header.Height + 1)
	overageCommit, err := committer.Commit(overage, [32]byte{})
	if err != nil {
		return nil, fmt.Errorf("txhashset: committing overage: %w", err)
	}
	offsetCommit, err := committer.Commit(0, header.TotalKernelOffset)
	if err != nil {
		return nil, fmt.Errorf("txhashset: committing kernel offset: %w", err)
	}

	identity, err := committer.CommitSum(
		[]core.Commitment{outputSum},
		[]core.Commitment{kernelSum, overageCommit, offsetCommit},
	)
	if err != nil {
		return nil, fmt.Errorf("txhashset: computing kernel-sum identity: %w", err)
	}
	if identity != (core.Commitment{}) {
		return nil, fmt.Errorf("txhashset: kernel-sum identity does not balance")
	}

	if err := t.batchVerifyRangeProofs(bpVerifier, progress); err != nil {
		return nil, err
	}
	if err := t.batchVerifyKernelSignatures(kernels, sigVerifier, progress); err != nil {
		return nil, err
	}

	return &core.BlockSums{OutputSum: outputSum, KernelSum: kernelSum}, nil
}

// verifyInternalNodes recomputes every non-leaf node in [0, size) from
// its two children and checks it against the stored hash. Positions
// whose stored hash is hash.Zero are compacted away and are skipped:
// their correctness was attested when they were pruned.
func verifyInternalNodes(size uint64, getHashAt func(uint64) (hash.Hash, error)) error {
	for pos := uint64(0); pos < size; pos++ {
		if mmr.IsLeaf(pos) {
			continue
		}
		stored, err := getHashAt(pos)
		if err != nil {
			return fmt.Errorf("reading hash at %d: %w", pos, err)
		}
		if stored.IsZero() {
			continue
		}

		left, err := getHashAt(mmr.LeftChild(pos, mmr.Height(pos)))
		if err != nil {
			return fmt.Errorf("reading left child of %d: %w", pos, err)
		}
		right, err := getHashAt(mmr.RightChild(pos))
		if err != nil {
			return fmt.Errorf("reading right child of %d: %w", pos, err)
		}
		if left.IsZero() || right.IsZero() {
			continue
		}

		recomputed := hash.HashParentWithIndex(pos, left, right)
		if recomputed != stored {
			return fmt.Errorf("node %d does not match its recomputed children", pos)
		}
	}
	return nil
}

func (t *TxHashSet) validateRootsLocked(header *core.BlockHeader) error {
	outputRoot, err := t.outputs.Root(header.OutputMMRSize)
	if err != nil {
		return fmt.Errorf("txhashset: computing output root: %w", err)
	}
	if outputRoot != header.OutputRoot {
		return fmt.Errorf("txhashset: output root mismatch at height %d", header.Height)
	}
	rangeProofRoot, err := t.rangeProofs.Root(header.OutputMMRSize)
	if err != nil {
		return fmt.Errorf("txhashset: computing range proof root: %w", err)
	}
	if rangeProofRoot != header.RangeProofRoot {
		return fmt.Errorf("txhashset: range proof root mismatch at height %d", header.Height)
	}
	kernelRoot, err := t.kernels.Root(header.KernelMMRSize)
	if err != nil {
		return fmt.Errorf("txhashset: computing kernel root: %w", err)
	}
	if kernelRoot != header.KernelRoot {
		return fmt.Errorf("txhashset: kernel root mismatch at height %d", header.Height)
	}
	return nil
}

func (t *TxHashSet) liveOutputCommitments() ([]core.Commitment, error) {
	var commitments []core.Commitment
	size := t.outputs.Size()
	for pos := uint64(0); pos < size; pos++ {
		if !mmr.IsLeaf(pos) || !t.outputs.IsUnspent(pos) {
			continue
		}
		data, found, err := t.outputs.GetOutputAt(pos)
		if err != nil {
			return nil, fmt.Errorf("txhashset: reading output at %d: %w", pos, err)
		}
		if !found {
			continue
		}
		var id core.OutputIdentifier
		if err := id.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("txhashset: decoding output at %d: %w", pos, err)
		}
		commitments = append(commitments, id.Commitment)
	}
	return commitments, nil
}

func (t *TxHashSet) allKernels() ([]core.TransactionKernel, error) {
	var kernels []core.TransactionKernel
	size := t.kernels.Size()
	for pos := uint64(0); pos < size; pos++ {
		if !mmr.IsLeaf(pos) {
			continue
		}
		data, found, err := t.kernels.GetKernelAt(pos)
		if err != nil {
			return nil, fmt.Errorf("txhashset: reading kernel at %d: %w", pos, err)
		}
		if !found {
			continue
		}
		var k core.TransactionKernel
		if err := k.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("txhashset: decoding kernel at %d: %w", pos, err)
		}
		kernels = append(kernels, k)
	}
	return kernels, nil
}

func (t *TxHashSet) batchVerifyRangeProofs(verifier crypto.BulletproofVerifier, progress ProgressFunc) error {
	size := t.rangeProofs.Size()
	var batch []crypto.RangeProofCommitment
	done, total := 0, 0

	for pos := uint64(0); pos < size; pos++ {
		if !mmr.IsLeaf(pos) || !t.outputs.IsUnspent(pos) {
			continue
		}
		total++
	}

	for pos := uint64(0); pos < size; pos++ {
		if !mmr.IsLeaf(pos) || !t.outputs.IsUnspent(pos) {
			continue
		}
		outputData, found, err := t.outputs.GetOutputAt(pos)
		if err != nil || !found {
			continue
		}
		var id core.OutputIdentifier
		if err := id.UnmarshalBinary(outputData); err != nil {
			return fmt.Errorf("txhashset: decoding output at %d: %w", pos, err)
		}
		proofData, found, err := t.rangeProofs.GetRangeProofAt(pos)
		if err != nil {
			return fmt.Errorf("txhashset: reading range proof at %d: %w", pos, err)
		}
		if !found {
			return fmt.Errorf("txhashset: missing range proof at %d for unspent output", pos)
		}
		var proof core.RangeProof
		if err := proof.UnmarshalBinary(proofData); err != nil {
			return fmt.Errorf("txhashset: decoding range proof at %d: %w", pos, err)
		}

		batch = append(batch, crypto.RangeProofCommitment{Commitment: id.Commitment, Proof: proof})
		if len(batch) == rangeProofBatchSize {
			if err := verifier.VerifyBatch(batch); err != nil {
				return fmt.Errorf("txhashset: range proof batch failed: %w", err)
			}
			done += len(batch)
			if progress != nil {
				progress("range_proofs", done, total)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := verifier.VerifyBatch(batch); err != nil {
			return fmt.Errorf("txhashset: range proof batch failed: %w", err)
		}
		done += len(batch)
		if progress != nil {
			progress("range_proofs", done, total)
		}
	}
	return nil
}

func (t *TxHashSet) batchVerifyKernelSignatures(kernels []core.TransactionKernel, verifier crypto.AggSigVerifier, progress ProgressFunc) error {
	total := len(kernels)
	for start := 0; start < total; start += kernelBatchSize {
		end := start + kernelBatchSize
		if end > total {
			end = total
		}
		if err := verifier.VerifyBatch(kernels[start:end]); err != nil {
			return fmt.Errorf("txhashset: kernel signature batch failed: %w", err)
		}
		if progress != nil {
			progress("kernel_signatures", end, total)
		}
	}
	return nil
}
