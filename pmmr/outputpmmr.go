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

// OutputRecordSize is the serialized length of one output leaf record.
const OutputRecordSize = 34

func identityMarshal(b []byte) []byte   { return b }
func identityUnmarshal(b []byte) []byte { return append([]byte(nil), b...) }

// OutputPMMR is the pruneable output commitment MMR: one leaf per
// transaction output ever created. A spent output is removed from the
// leaf set immediately, but its hash stays in place until a later
// compaction pass folds its now fully-spent subtree into the prune list.
type OutputPMMR struct {
	hashFile  *pmmrfile.HashFile
	leafSet   *leafset.LeafSet
	pruneList *prunelist.PruneList
	dataFile  *pmmrfile.DataFile[[]byte]
	store     *shiftedStore
}

// OpenOutputPMMR opens, or creates, the files backing an output PMMR
// rooted at dir.
func OpenOutputPMMR(dir string) (*OutputPMMR, error) {
	hashFile, err := pmmrfile.OpenHashFile(dir + "/pmmr_hash.bin")
	if err != nil {
		return nil, fmt.Errorf("opening output hash file: %w", err)
	}
	leaves, err := leafset.Load(dir + "/pmmr_leaf.bin")
	if err != nil {
		return nil, fmt.Errorf("opening output leaf set: %w", err)
	}
	pruneList, err := prunelist.Load(dir + "/pmmr_prun.bin")
	if err != nil {
		return nil, fmt.Errorf("opening output prune list: %w", err)
	}
	dataFile, err := pmmrfile.OpenDataFile[[]byte](dir+"/pmmr_data.bin", OutputRecordSize, identityMarshal, identityUnmarshal)
	if err != nil {
		return nil, fmt.Errorf("opening output data file: %w", err)
	}

	return &OutputPMMR{
		hashFile:  hashFile,
		leafSet:   leaves,
		pruneList: pruneList,
		dataFile:  dataFile,
		store:     &shiftedStore{hashFile: hashFile, pruneList: pruneList},
	}, nil
}

// Append adds a new output leaf, marking it unspent, and returns the
// logical MMR position it was written at. serialized must be exactly
// OutputRecordSize bytes.
func (o *OutputPMMR) Append(serialized []byte) (uint64, error) {
	if len(serialized) != OutputRecordSize {
		return 0, fmt.Errorf("pmmr: output record must be %d bytes, got %d", OutputRecordSize, len(serialized))
	}

	totalShift := o.pruneList.GetTotalShift()
	mmrIndex := o.hashFile.Size() + totalShift

	o.leafSet.Add(mmrIndex)

	if _, err := o.dataFile.AddData(serialized); err != nil {
		return 0, err
	}

	leafHash := hash.HashLeafWithIndex(mmrIndex, serialized)
	if _, err := mmr.AppendLeafHash(o.store, leafHash); err != nil {
		return 0, err
	}

	if !mmr.IsLeaf(mmrIndex) {
		return 0, errors.New("pmmr: computed output position is not a leaf")
	}

	return mmrIndex, nil
}

// Remove marks the output at mmrIndex spent.
func (o *OutputPMMR) Remove(mmrIndex uint64) error {
	if !mmr.IsLeaf(mmrIndex) {
		return fmt.Errorf("pmmr: position %d is not a leaf", mmrIndex)
	}
	if !o.leafSet.Contains(mmrIndex) {
		return fmt.Errorf("pmmr: output at %d is not in the unspent leaf set", mmrIndex)
	}
	o.leafSet.Remove(mmrIndex)
	return nil
}

// Root computes the MMR root for the first size nodes.
func (o *OutputPMMR) Root(size uint64) (hash.Hash, error) {
	return mmr.Root(o.store, size)
}

// GetHashAt returns the hash at mmrIndex, or hash.Zero if that position
// has been compacted away.
func (o *OutputPMMR) GetHashAt(mmrIndex uint64) (hash.Hash, error) {
	return o.store.GetHashAt(mmrIndex)
}

// GetLastLeafHashes returns the hashes of up to numHashes unspent
// output leaves, most recently appended first.
func (o *OutputPMMR) GetLastLeafHashes(numHashes int) ([]hash.Hash, error) {
	return lastUnspentLeafHashes(o.store, o.leafSet, o.Size(), numHashes)
}

// IsUnspent reports whether mmrIndex is a leaf, within range, and still
// present in the unspent leaf set.
func (o *OutputPMMR) IsUnspent(mmrIndex uint64) bool {
	if !mmr.IsLeaf(mmrIndex) || mmrIndex >= o.Size() {
		return false
	}
	return o.leafSet.Contains(mmrIndex)
}

// GetOutputAt returns the serialized output record at mmrIndex, if it
// is a currently unspent leaf.
func (o *OutputPMMR) GetOutputAt(mmrIndex uint64) ([]byte, bool, error) {
	if !o.IsUnspent(mmrIndex) {
		return nil, false, nil
	}
	shift := o.pruneList.GetLeafShift(mmrIndex)
	numLeaves := mmr.NumLeaves(mmr.FirstSize(mmrIndex))
	data, found, err := o.dataFile.GetDataAt(numLeaves - 1 - shift)
	if err != nil || !found {
		return nil, found, err
	}
	return data, true, nil
}

// Size returns the logical MMR size: the total number of nodes that
// have ever existed, including any since compacted away.
func (o *OutputPMMR) Size() uint64 {
	return o.pruneList.GetTotalShift() + o.hashFile.Size()
}

// Rewind truncates the MMR back to size, restoring leavesToAdd — leaves
// that were spent at or after size and so must become unspent again —
// into the leaf set.
func (o *OutputPMMR) Rewind(size uint64, leavesToAdd *roaring.Bitmap) error {
	if size == 0 {
		if err := o.hashFile.Rewind(0); err != nil {
			return err
		}
		if err := o.dataFile.Rewind(0); err != nil {
			return err
		}
		o.leafSet.Rewind(0, leavesToAdd)
		return nil
	}

	if err := o.hashFile.Rewind(size - o.pruneList.GetShift(size-1)); err != nil {
		return err
	}
	numLeaves := mmr.NumLeaves(mmr.FirstSize(size - 1))
	if err := o.dataFile.Rewind(numLeaves - o.pruneList.GetLeafShift(size-1)); err != nil {
		return err
	}
	o.leafSet.Rewind(size, leavesToAdd)
	return nil
}

// Flush persists the hash file, data file, and leaf set. The prune list
// is flushed separately, only as part of an explicit compaction.
func (o *OutputPMMR) Flush() error {
	if err := o.hashFile.Flush(); err != nil {
		return err
	}
	if err := o.dataFile.Flush(); err != nil {
		return err
	}
	return o.leafSet.Flush()
}

// Discard abandons every mutation made since the last Flush.
func (o *OutputPMMR) Discard() {
	o.hashFile.Discard()
	o.dataFile.Discard()
	o.leafSet.Discard()
}

// DetermineLeavesToRemove computes the output leaf positions that a
// compaction pass may fold into the prune list: spent as of cutoffSize,
// and not already pruned. rewindRmPos gives positions removed between
// cutoffSize and the leaf set's current state, which must be treated as
// still live at cutoffSize.
func (o *OutputPMMR) DetermineLeavesToRemove(cutoffSize uint64, rewindRmPos *roaring.Bitmap) *roaring.Bitmap {
	return o.leafSet.CalculatePrunedPositions(cutoffSize, rewindRmPos, o.pruneList)
}

// DetermineNodesToRemove expands a set of leaves slated for pruning into
// every node position that can actually be reclaimed, cascading through
// parents whose sibling subtree is also gone.
func (o *OutputPMMR) DetermineNodesToRemove(leavesToRemove *roaring.Bitmap) *roaring.Bitmap {
	return determineNodesToRemove(leavesToRemove, o.pruneList)
}

// PruneList exposes the prune list so a compaction pass can add newly
// reclaimed node positions and flush it.
func (o *OutputPMMR) PruneList() *prunelist.PruneList { return o.pruneList }
