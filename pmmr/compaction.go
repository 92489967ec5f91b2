package pmmr

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/mwgrin/node/mmr"
	"github.com/mwgrin/node/prunelist"
)

// determineNodesToRemove expands a set of leaf positions that compaction
// is about to prune into the full set of positions that can actually be
// reclaimed: a node can join the prune list only once its sibling is
// also gone (either already a pruned root, or itself newly expanded in
// this same pass), since pruning is always recorded at the highest
// fully-pruned ancestor.
func determineNodesToRemove(leavesToRemove *roaring.Bitmap, pruneList *prunelist.PruneList) *roaring.Bitmap {
	expanded := roaring.NewBitmap()

	it := leavesToRemove.Iterator()
	for it.HasNext() {
		leaf := uint64(it.Next())
		expanded.Add(uint32(leaf))

		current := leaf
		for {
			sibling := mmr.Sibling(current)
			siblingPruned := pruneList.IsPrunedRoot(sibling)
			if siblingPruned {
				expanded.Add(uint32(sibling))
			}

			if !siblingPruned && !expanded.Contains(uint32(sibling)) {
				break
			}

			parent := mmr.Parent(current)
			expanded.Add(uint32(parent))
			current = parent
		}
	}

	return expanded
}
