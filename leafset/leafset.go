// Package leafset tracks which leaf positions of a pruneable MMR are
// currently live (unspent). Pruning an output is a two-step process: its
// leaf is first removed from the leaf set (marking it spent, but its
// hash still occupies storage so in-flight proofs keep working), and
// only later, once it falls behind the cut-through horizon, does the
// prune list (package prunelist) reclaim its storage entirely.
package leafset

import (
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"

	"github.com/mwgrin/node/mmr"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/prunelist"
)

// LeafSet is the live/unspent bitmap for one pruneable MMR (outputs or
// range proofs). A backup copy is kept alongside the working bitmap so
// an in-flight batch can be discarded without reloading from disk.
type LeafSet struct {
	path   string
	bitmap *roaring.Bitmap
	backup *roaring.Bitmap
}

// New returns an empty leaf set that will persist to path.
func New(path string) *LeafSet {
	return &LeafSet{path: path, bitmap: roaring.NewBitmap(), backup: roaring.NewBitmap()}
}

// Load reads the leaf set from disk. A missing file is treated as an
// empty leaf set.
func Load(path string) (*LeafSet, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(path), nil
	}
	if err != nil {
		return nil, err
	}

	bitmap := roaring.NewBitmap()
	if _, err := bitmap.FromBuffer(data); err != nil {
		return nil, err
	}

	return &LeafSet{path: path, bitmap: bitmap, backup: bitmap.Clone()}, nil
}

// Add marks pos live.
func (l *LeafSet) Add(pos uint64) {
	l.bitmap.Add(uint32(pos))
}

// Remove marks pos spent.
func (l *LeafSet) Remove(pos uint64) {
	l.bitmap.Remove(uint32(pos))
}

// Contains reports whether pos is currently live.
func (l *LeafSet) Contains(pos uint64) bool {
	return l.bitmap.Contains(uint32(pos))
}

// Rewind restores the leaf set to the state it had when the MMR had the
// given size: positionsToAdd (leaves spent since that point) are added
// back, and anything added to the MMR after that point is dropped.
func (l *LeafSet) Rewind(size uint64, positionsToAdd *roaring.Bitmap) {
	l.bitmap.Or(positionsToAdd)

	if l.bitmap.IsEmpty() {
		return
	}
	max := uint64(l.bitmap.Maximum())
	if size <= max {
		l.bitmap.RemoveRange(size, max+1)
	}
}

// Flush writes the leaf set to disk, replacing the file atomically, and
// refreshes the discard backup to the just-flushed state.
func (l *LeafSet) Flush() error {
	if err := writeBitmap(l.path, l.bitmap); err != nil {
		return err
	}
	l.backup = l.bitmap.Clone()
	return nil
}

// Discard reverts the working bitmap to the last flushed state,
// abandoning any Add/Remove/Rewind calls made since.
func (l *LeafSet) Discard() {
	l.bitmap = l.backup.Clone()
}

// Snapshot writes the current bitmap to a side file named after
// blockHash, without disturbing the working bitmap or its backup. Used
// when serving a fast-sync archive for a block that isn't the chain
// head, so the archive reflects the leaf set as of that block.
func (l *LeafSet) Snapshot(blockHash hash.Hash) error {
	path := l.path + "." + blockHash.String()
	return writeBitmap(path, l.bitmap)
}

func writeBitmap(path string, bitmap *roaring.Bitmap) error {
	bitmap.RunOptimize()

	data, err := bitmap.ToBytes()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// CalculatePrunedPositions computes the leaf positions that are both
// unpruned (per pruneList) and spent as of cutoffSize — the set a
// compaction pass may safely fold into the prune list. rewindRmPos gives
// the positions removed between cutoffSize and the leaf set's current
// state, which must be treated as still-live at cutoffSize.
func (l *LeafSet) CalculatePrunedPositions(cutoffSize uint64, rewindRmPos *roaring.Bitmap, pruneList *prunelist.PruneList) *roaring.Bitmap {
	bitmap := l.bitmap.Clone()
	if !bitmap.IsEmpty() {
		if max := uint64(bitmap.Maximum()); max+1 > cutoffSize {
			bitmap.RemoveRange(cutoffSize, max+1)
		}
	}
	bitmap.Or(rewindRmPos)

	unpruned := l.calculateUnprunedPositions(cutoffSize, pruneList)
	result := unpruned.Clone()
	result.AndNot(bitmap)
	return result
}

// calculateUnprunedPositions returns every leaf position below
// cutoffSize that the prune list has not already reclaimed.
func (l *LeafSet) calculateUnprunedPositions(cutoffSize uint64, pruneList *prunelist.PruneList) *roaring.Bitmap {
	var positions []uint32
	for pos := uint64(0); pos < cutoffSize; pos++ {
		if mmr.IsLeaf(pos) && !pruneList.IsPruned(pos) {
			positions = append(positions, uint32(pos))
		}
	}

	result := roaring.NewBitmap()
	result.AddMany(positions)
	return result
}
