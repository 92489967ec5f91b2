// Package txhashset composes the kernel, output, and range-proof
// MMRs into the single guarded structure a chain validates blocks
// against: applying a block's effects, rewinding to an earlier block,
// and checking a header's declared roots and sums against the MMRs'
// actual contents.
package txhashset

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pmmr"
)

// PositionIndex maps an output's commitment to where it lives in the
// output and range-proof PMMRs, so an input can find the position it
// spends in O(1) rather than scanning the MMR.
type PositionIndex interface {
	GetOutputLocation(commitment core.Commitment) (core.OutputLocation, bool, error)
	PutOutputLocation(commitment core.Commitment, loc core.OutputLocation) error
	DeleteOutputLocation(commitment core.Commitment) error
}

// InputBitmapStore persists, per block, the bitmap of output positions
// that block's inputs spent — the record rewind needs to know which
// leaves to resurrect when undoing that block.
type InputBitmapStore interface {
	PutInputBitmap(blockHash hash.Hash, bitmap *roaring.Bitmap) error
	GetInputBitmap(blockHash hash.Hash) (*roaring.Bitmap, bool, error)
}

// TxHashSet is the composite authenticated state of every output,
// range proof, and kernel ever committed to the chain, tracked
// alongside the header of the block it currently reflects.
type TxHashSet struct {
	mu sync.RWMutex

	kernels     *pmmr.KernelMMR
	outputs     *pmmr.OutputPMMR
	rangeProofs *pmmr.RangeProofPMMR

	positions PositionIndex
	inputs    InputBitmapStore

	header *core.BlockHeader
}

// Open composes already-opened MMR engines and store dependencies into
// a TxHashSet tracking header as its current block.
func Open(kernels *pmmr.KernelMMR, outputs *pmmr.OutputPMMR, rangeProofs *pmmr.RangeProofPMMR,
	positions PositionIndex, inputs InputBitmapStore, header *core.BlockHeader) *TxHashSet {
	return &TxHashSet{
		kernels:     kernels,
		outputs:     outputs,
		rangeProofs: rangeProofs,
		positions:   positions,
		inputs:      inputs,
		header:      header,
	}
}

// Header returns the header of the block this TxHashSet currently
// reflects.
func (t *TxHashSet) Header() *core.BlockHeader {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.header
}

// ApplyBlock spends each input's output, appends each new output and
// kernel, and advances the tracked header to the block's own.
func (t *TxHashSet) ApplyBlock(block *core.FullBlock) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	spent := roaring.New()
	for _, input := range block.Inputs {
		loc, found, err := t.positions.GetOutputLocation(input.Commitment)
		if err != nil {
			return fmt.Errorf("txhashset: looking up spent output %s: %w", input.Commitment, err)
		}
		if !found {
			return fmt.Errorf("txhashset: input spends unknown output %s", input.Commitment)
		}
		if err := t.outputs.Remove(loc.MMRPosition); err != nil {
			return fmt.Errorf("txhashset: spending output at %d: %w", loc.MMRPosition, err)
		}
		if err := t.rangeProofs.Remove(loc.MMRPosition); err != nil {
			return fmt.Errorf("txhashset: spending range proof at %d: %w", loc.MMRPosition, err)
		}
		spent.Add(uint32(loc.MMRPosition))
		if err := t.positions.DeleteOutputLocation(input.Commitment); err != nil {
			return fmt.Errorf("txhashset: deleting spent output location: %w", err)
		}
	}

	for _, output := range block.Outputs {
		if _, found, err := t.positions.GetOutputLocation(output.Commitment); err != nil {
			return fmt.Errorf("txhashset: checking output duplication: %w", err)
		} else if found {
			return fmt.Errorf("txhashset: duplicate output commitment %s", output.Commitment)
		}

		identifier, err := output.Identifier().MarshalBinary()
		if err != nil {
			return err
		}
		position, err := t.outputs.Append(identifier)
		if err != nil {
			return fmt.Errorf("txhashset: appending output: %w", err)
		}

		proofBytes, err := output.RangeProof.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := t.rangeProofs.Append(proofBytes); err != nil {
			return fmt.Errorf("txhashset: appending range proof: %w", err)
		}

		loc := core.OutputLocation{MMRPosition: position, Height: block.Header.Height}
		if err := t.positions.PutOutputLocation(output.Commitment, loc); err != nil {
			return fmt.Errorf("txhashset: recording output location: %w", err)
		}
	}

	for _, kernel := range block.Kernels {
		encoded, err := kernel.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := t.kernels.Append(encoded); err != nil {
			return fmt.Errorf("txhashset: appending kernel: %w", err)
		}
	}

	blockHash := block.Header.Hash()
	if err := t.inputs.PutInputBitmap(blockHash, spent); err != nil {
		return fmt.Errorf("txhashset: persisting input bitmap: %w", err)
	}

	header := block.Header
	t.header = &header
	return nil
}

// Flush persists every pending mutation made by ApplyBlock calls since
// the last Flush or Discard.
func (t *TxHashSet) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.kernels.Flush(); err != nil {
		return err
	}
	if err := t.outputs.Flush(); err != nil {
		return err
	}
	return t.rangeProofs.Flush()
}

// Discard abandons every mutation made since the last Flush.
func (t *TxHashSet) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.kernels.Discard()
	t.outputs.Discard()
	t.rangeProofs.Discard()
}

// Rewind walks the TxHashSet back to the state it had at targetHeader,
// given the hashes of every block applied since then (in any order).
// Each of those blocks' recorded input bitmaps is unioned into
// leavesToAdd so outputs they spent become unspent again.
func (t *TxHashSet) Rewind(targetHeader *core.BlockHeader, blocksSinceTarget []hash.Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	leavesToAdd := roaring.New()
	for _, blockHash := range blocksSinceTarget {
		bitmap, found, err := t.inputs.GetInputBitmap(blockHash)
		if err != nil {
			return fmt.Errorf("txhashset: loading input bitmap for %s: %w", blockHash, err)
		}
		if found {
			leavesToAdd.Or(bitmap)
		}
	}

	if err := t.outputs.Rewind(targetHeader.OutputMMRSize, leavesToAdd); err != nil {
		return fmt.Errorf("txhashset: rewinding output PMMR: %w", err)
	}
	if err := t.rangeProofs.Rewind(targetHeader.OutputMMRSize, leavesToAdd); err != nil {
		return fmt.Errorf("txhashset: rewinding range proof PMMR: %w", err)
	}
	if err := t.kernels.Rewind(targetHeader.KernelMMRSize); err != nil {
		return fmt.Errorf("txhashset: rewinding kernel MMR: %w", err)
	}

	t.header = targetHeader
	return nil
}

// ValidateRoots checks that the three MMR roots at the sizes header
// declares match the roots header itself carries.
func (t *TxHashSet) ValidateRoots(header *core.BlockHeader) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.validateRootsLocked(header)
}
