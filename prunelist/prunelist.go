// Package prunelist tracks which Merkle Mountain Range positions have
// been pruned, and by how much file-backed node storage has shrunk as a
// result, so a pruneable MMR can translate logical positions into their
// current on-disk offsets.
//
// A pruned position is added to the list as a "pruned root" — the
// highest ancestor whose entire subtree has been spent. Adding a node
// whose sibling is already a pruned root (or falls under one) merges the
// pair into their parent, which becomes the new root; this keeps the
// list to O(log n) roots no matter how many leaves underneath have been
// pruned.
package prunelist

import (
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"

	"github.com/mwgrin/node/mmr"
)

// PruneList records pruned-root positions and the cumulative node/leaf
// shift implied by compacting everything below them out of storage.
type PruneList struct {
	prunedRoots    *roaring.Bitmap
	prunedCache    *roaring.Bitmap
	shiftCache     []uint64
	leafShiftCache []uint64
}

// New returns an empty prune list.
func New() *PruneList {
	return &PruneList{
		prunedRoots: roaring.NewBitmap(),
		prunedCache: roaring.NewBitmap(),
	}
}

// Load reads a prune list previously written by Flush. A missing file is
// not an error; it's treated as an empty prune list, matching a brand
// new chain.
func Load(path string) (*PruneList, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}

	roots := roaring.NewBitmap()
	if _, err := roots.FromBuffer(data); err != nil {
		return nil, err
	}

	pl := &PruneList{prunedRoots: roots, prunedCache: roaring.NewBitmap()}
	pl.buildPrunedCache()
	pl.buildShiftCaches()
	return pl, nil
}

// Flush writes the prune list to path, replacing the existing file
// atomically, and rebuilds the derived caches to reflect anything added
// since the last flush.
func (p *PruneList) Flush(path string) error {
	p.prunedRoots.RunOptimize()

	data, err := p.prunedRoots.ToBytes()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	p.buildPrunedCache()
	p.buildShiftCaches()
	return nil
}

// Add records pos as pruned, cascading up to the parent whenever the
// sibling subtree has already been fully pruned.
func (p *PruneList) Add(pos uint64) {
	current := pos
	for {
		sibling := mmr.Sibling(current)
		if p.prunedRoots.Contains(uint32(sibling)) || p.prunedCache.Contains(uint32(sibling)) {
			p.prunedCache.Add(uint32(current))
			p.prunedRoots.Remove(uint32(sibling))
			current = mmr.Parent(current)
			continue
		}
		p.prunedCache.Add(uint32(current))
		p.prunedRoots.Add(uint32(current))
		return
	}
}

// IsPruned reports whether pos falls under some pruned root (including
// being one itself).
func (p *PruneList) IsPruned(pos uint64) bool {
	return p.prunedCache.Contains(uint32(pos))
}

// IsPrunedRoot reports whether pos is itself a pruned root — the
// highest position of an entirely pruned subtree.
func (p *PruneList) IsPrunedRoot(pos uint64) bool {
	return p.prunedRoots.Contains(uint32(pos))
}

// IsCompacted reports whether pos has been pruned and has also had its
// storage reclaimed (it falls strictly under a pruned root rather than
// being one).
func (p *PruneList) IsCompacted(pos uint64) bool {
	return p.IsPruned(pos) && !p.IsPrunedRoot(pos)
}

// GetTotalShift returns the total number of storage slots reclaimed by
// pruning so far.
func (p *PruneList) GetTotalShift() uint64 {
	if p.prunedRoots.IsEmpty() {
		return 0
	}
	return p.GetShift(uint64(p.prunedRoots.Maximum()))
}

// GetShift returns the number of node positions at or before pos that
// have been removed from storage, for translating a logical MMR
// position into its physical file offset.
func (p *PruneList) GetShift(pos uint64) uint64 {
	if p.prunedRoots.IsEmpty() || len(p.shiftCache) == 0 {
		return 0
	}

	index := p.prunedRoots.Rank(uint32(pos))
	if index == 0 {
		return 0
	}
	if int(index) > len(p.shiftCache) {
		return p.shiftCache[len(p.shiftCache)-1]
	}
	return p.shiftCache[index-1]
}

// GetLeafShift returns the number of leaf positions at or before pos
// that have been removed from storage, for translating a leaf index
// into its physical offset in a leaf-only file (e.g. the leaf set).
func (p *PruneList) GetLeafShift(pos uint64) uint64 {
	if p.prunedRoots.IsEmpty() {
		return 0
	}

	index := p.prunedRoots.Rank(uint32(pos))
	if index == 0 || len(p.leafShiftCache) == 0 {
		return 0
	}
	if int(index) > len(p.leafShiftCache) {
		return p.leafShiftCache[len(p.leafShiftCache)-1]
	}
	return p.leafShiftCache[index-1]
}

// buildPrunedCache recomputes, for every position at or below the
// highest pruned root, whether it falls under some pruned root.
func (p *PruneList) buildPrunedCache() {
	p.prunedCache = roaring.NewBitmap()
	if p.prunedRoots.IsEmpty() {
		return
	}

	maximum := uint64(p.prunedRoots.Maximum())
	for pos := uint64(0); pos <= maximum; pos++ {
		parent := pos
		for parent <= maximum {
			if p.prunedRoots.Contains(uint32(parent)) {
				p.prunedCache.Add(uint32(pos))
				break
			}
			parent = mmr.Parent(parent)
		}
	}
	p.prunedCache.RunOptimize()
}

// buildShiftCaches recomputes the cumulative node-shift and leaf-shift
// tables, one entry per pruned root in ascending position order.
func (p *PruneList) buildShiftCaches() {
	p.shiftCache = nil
	p.leafShiftCache = nil
	if p.prunedRoots.IsEmpty() {
		return
	}

	maximum := uint64(p.prunedRoots.Maximum())
	var runningShift, runningLeafShift uint64
	for pos := uint64(0); pos <= maximum; pos++ {
		if !p.prunedRoots.Contains(uint32(pos)) {
			continue
		}

		height := mmr.Height(pos)
		runningShift += 2 * ((uint64(1) << height) - 1)
		p.shiftCache = append(p.shiftCache, runningShift)

		if height > 0 {
			runningLeafShift += uint64(1) << height
		}
		p.leafShiftCache = append(p.leafShiftCache, runningLeafShift)
	}
}
