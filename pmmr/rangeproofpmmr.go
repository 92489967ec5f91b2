package pmmr

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/mwgrin/node/leafset"
	"github.com/mwgrin/node/mmr"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pmmrfile"
	"github.com/mwgrin/node/prunelist"
)

// RangeProofRecordSize is the serialized length of one Bulletproof
// range-proof leaf record.
const RangeProofRecordSize = 683

// RangeProofPMMR is the pruneable range-proof MMR, one leaf per output
// (in lockstep with OutputPMMR: the same mmrIndex identifies an output's
// commitment and its range proof). Structure and semantics mirror
// OutputPMMR exactly; only the record size and the leaf payload differ.
type RangeProofPMMR struct {
	hashFile  *pmmrfile.HashFile
	leafSet   *leafset.LeafSet
	pruneList *prunelist.PruneList
	dataFile  *pmmrfile.DataFile[[]byte]
	store     *shiftedStore
}

// OpenRangeProofPMMR opens, or creates, the files backing a range-proof
// PMMR rooted at dir.
func OpenRangeProofPMMR(dir string) (*RangeProofPMMR, error) {
	hashFile, err := pmmrfile.OpenHashFile(dir + "/pmmr_hash.bin")
	if err != nil {
		return nil, fmt.Errorf("opening range proof hash file: %w", err)
	}
	leaves, err := leafset.Load(dir + "/pmmr_leaf.bin")
	if err != nil {
		return nil, fmt.Errorf("opening range proof leaf set: %w", err)
	}
	pruneList, err := prunelist.Load(dir + "/pmmr_prun.bin")
	if err != nil {
		return nil, fmt.Errorf("opening range proof prune list: %w", err)
	}
	dataFile, err := pmmrfile.OpenDataFile[[]byte](dir+"/pmmr_data.bin", RangeProofRecordSize, identityMarshal, identityUnmarshal)
	if err != nil {
		return nil, fmt.Errorf("opening range proof data file: %w", err)
	}

	return &RangeProofPMMR{
		hashFile:  hashFile,
		leafSet:   leaves,
		pruneList: pruneList,
		dataFile:  dataFile,
		store:     &shiftedStore{hashFile: hashFile, pruneList: pruneList},
	}, nil
}

// Append adds a new range-proof leaf and returns the logical MMR
// position it was written at. serialized must be exactly
// RangeProofRecordSize bytes.
func (r *RangeProofPMMR) Append(serialized []byte) (uint64, error) {
	if len(serialized) != RangeProofRecordSize {
		return 0, fmt.Errorf("pmmr: range proof record must be %d bytes, got %d", RangeProofRecordSize, len(serialized))
	}

	totalShift := r.pruneList.GetTotalShift()
	mmrIndex := r.hashFile.Size() + totalShift

	r.leafSet.Add(mmrIndex)

	if _, err := r.dataFile.AddData(serialized); err != nil {
		return 0, err
	}

	leafHash := hash.HashLeafWithIndex(mmrIndex, serialized)
	if _, err := mmr.AppendLeafHash(r.store, leafHash); err != nil {
		return 0, err
	}

	if !mmr.IsLeaf(mmrIndex) {
		return 0, errors.New("pmmr: computed range proof position is not a leaf")
	}

	return mmrIndex, nil
}

// Remove marks the range proof at mmrIndex spent.
func (r *RangeProofPMMR) Remove(mmrIndex uint64) error {
	if !mmr.IsLeaf(mmrIndex) {
		return fmt.Errorf("pmmr: position %d is not a leaf", mmrIndex)
	}
	if !r.leafSet.Contains(mmrIndex) {
		return fmt.Errorf("pmmr: range proof at %d is not in the unspent leaf set", mmrIndex)
	}
	r.leafSet.Remove(mmrIndex)
	return nil
}

// Root computes the MMR root for the first size nodes.
func (r *RangeProofPMMR) Root(size uint64) (hash.Hash, error) {
	return mmr.Root(r.store, size)
}

// GetHashAt returns the hash at mmrIndex, or hash.Zero if that position
// has been compacted away.
func (r *RangeProofPMMR) GetHashAt(mmrIndex uint64) (hash.Hash, error) {
	return r.store.GetHashAt(mmrIndex)
}

// GetLastLeafHashes returns the hashes of up to numHashes unspent
// range-proof leaves, most recently appended first.
func (r *RangeProofPMMR) GetLastLeafHashes(numHashes int) ([]hash.Hash, error) {
	return lastUnspentLeafHashes(r.store, r.leafSet, r.Size(), numHashes)
}

// GetRangeProofAt returns the serialized range proof at mmrIndex, if it
// is a currently unspent leaf.
func (r *RangeProofPMMR) GetRangeProofAt(mmrIndex uint64) ([]byte, bool, error) {
	if !mmr.IsLeaf(mmrIndex) || !r.leafSet.Contains(mmrIndex) {
		return nil, false, nil
	}
	shift := r.pruneList.GetLeafShift(mmrIndex)
	numLeaves := mmr.NumLeaves(mmr.FirstSize(mmrIndex))
	data, found, err := r.dataFile.GetDataAt(numLeaves - 1 - shift)
	if err != nil || !found {
		return nil, found, err
	}
	return data, true, nil
}

// Size returns the logical MMR size: the total number of nodes that
// have ever existed, including any since compacted away.
func (r *RangeProofPMMR) Size() uint64 {
	return r.pruneList.GetTotalShift() + r.hashFile.Size()
}

// Rewind truncates the MMR back to size, restoring leavesToAdd — leaves
// spent at or after size — into the leaf set.
func (r *RangeProofPMMR) Rewind(size uint64, leavesToAdd *roaring.Bitmap) error {
	if size == 0 {
		if err := r.hashFile.Rewind(0); err != nil {
			return err
		}
		if err := r.dataFile.Rewind(0); err != nil {
			return err
		}
		r.leafSet.Rewind(0, leavesToAdd)
		return nil
	}

	if err := r.hashFile.Rewind(size - r.pruneList.GetShift(size-1)); err != nil {
		return err
	}
	numLeaves := mmr.NumLeaves(mmr.FirstSize(size - 1))
	if err := r.dataFile.Rewind(numLeaves - r.pruneList.GetLeafShift(size-1)); err != nil {
		return err
	}
	r.leafSet.Rewind(size, leavesToAdd)
	return nil
}

// Flush persists the hash file, data file, and leaf set. The prune list
// is flushed separately, only as part of an explicit compaction.
func (r *RangeProofPMMR) Flush() error {
	if err := r.hashFile.Flush(); err != nil {
		return err
	}
	if err := r.dataFile.Flush(); err != nil {
		return err
	}
	return r.leafSet.Flush()
}

// Discard abandons every mutation made since the last Flush.
func (r *RangeProofPMMR) Discard() {
	r.hashFile.Discard()
	r.dataFile.Discard()
	r.leafSet.Discard()
}

// DetermineLeavesToRemove computes the range-proof leaf positions that a
// compaction pass may fold into the prune list.
func (r *RangeProofPMMR) DetermineLeavesToRemove(cutoffSize uint64, rewindRmPos *roaring.Bitmap) *roaring.Bitmap {
	return r.leafSet.CalculatePrunedPositions(cutoffSize, rewindRmPos, r.pruneList)
}

// DetermineNodesToRemove expands a set of leaves slated for pruning into
// every node position that can actually be reclaimed.
func (r *RangeProofPMMR) DetermineNodesToRemove(leavesToRemove *roaring.Bitmap) *roaring.Bitmap {
	return determineNodesToRemove(leavesToRemove, r.pruneList)
}

// PruneList exposes the prune list so a compaction pass can add newly
// reclaimed node positions and flush it.
func (r *RangeProofPMMR) PruneList() *prunelist.PruneList { return r.pruneList }
