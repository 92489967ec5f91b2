// Package pmmr provides the three pruneable-MMR engines that sit on top
// of a flat hash file: an append-only kernel MMR, and pruneable output
// and range-proof MMRs backed by a leaf set and a prune list.
package pmmr

import (
	"github.com/mwgrin/node/mmr"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pmmrfile"
	"github.com/mwgrin/node/prunelist"
)

// shiftedStore adapts a flat HashFile, whose records are packed
// contiguously as pruned subtrees get compacted out from under it, into
// the logical MMR position space that mmr.AppendLeafHash and mmr.Root
// operate in. A logical position's physical slot in the hash file is
// always logicalPos - pruneList.GetShift(logicalPos); a fresh append
// always lands at the next free physical slot, so its logical position
// is just that physical slot plus the current total shift (compaction
// never happens in the middle of a single append).
type shiftedStore struct {
	hashFile  *pmmrfile.HashFile
	pruneList *prunelist.PruneList
}

func (s *shiftedStore) GetHashAt(pos uint64) (hash.Hash, error) {
	if s.pruneList.IsCompacted(pos) {
		return hash.Zero, nil
	}
	shift := s.pruneList.GetShift(pos)
	return s.hashFile.GetHashAt(pos - shift)
}

func (s *shiftedStore) AppendHash(h hash.Hash) (uint64, error) {
	physicalPos, err := s.hashFile.AppendHash(h)
	if err != nil {
		return 0, err
	}
	return physicalPos + s.pruneList.GetTotalShift(), nil
}

var _ mmr.NodeAppender = (*shiftedStore)(nil)
