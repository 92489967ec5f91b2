package mmr

import "github.com/mwgrin/node/pkg/hash"

// NodeAppender both reads existing node hashes (honoring prune-list
// shifts, via the shift-aware accessor an engine provides) and appends
// new ones, each call growing the backing hash file by exactly one node.
// AppendHash returns the position the new node was written at.
type NodeAppender interface {
	NodeReader
	AppendHash(h hash.Hash) (uint64, error)
}

// AppendLeafHash appends an already-hashed leaf to the MMR and backfills
// any interior nodes that the addition completes, returning the final
// position written (the leaf's position if no parent was completed,
// otherwise the highest backfilled parent's position). See spec.md §4.4
// step 4.
//
// Because of the MMR's structure, whenever the position immediately
// after the one just written would have greater height, that means the
// append just completed a perfect subtree, and its parent hash must be
// appended too — possibly cascading through several levels when a long
// run of same-sized peaks merges.
func AppendLeafHash(store NodeAppender, leafHash hash.Hash) (uint64, error) {
	leafPos, err := store.AppendHash(leafHash)
	if err != nil {
		return 0, err
	}

	size := leafPos + 1
	height := uint64(0)
	for Height(size) > height {
		nodePos := size
		leftPos := nodePos - (uint64(2) << height)
		rightPos := nodePos - 1

		left, err := store.GetHashAt(leftPos)
		if err != nil {
			return 0, err
		}
		right, err := store.GetHashAt(rightPos)
		if err != nil {
			return 0, err
		}

		parentHash := hash.HashParentWithIndex(nodePos, left, right)

		written, err := store.AppendHash(parentHash)
		if err != nil {
			return 0, err
		}

		size = written + 1
		height++
	}

	return size - 1, nil
}
