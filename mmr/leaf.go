package mmr

import "math/bits"

// LeafToPos converts a zero-based leaf index to its post-order MMR
// position: leaf_to_position(i) = 2i - popcount(i) (spec.md §4.1).
func LeafToPos(leafIndex uint64) uint64 {
	return 2*leafIndex - uint64(bits.OnesCount64(leafIndex))
}

// PosToLeaf converts a leaf position back to its zero-based leaf index.
// For a pos that is not a leaf it returns the index of the last leaf
// before pos; callers should check IsLeaf first when the position is
// untrusted.
func PosToLeaf(pos uint64) uint64 {
	size := FirstSize(pos)
	return NumLeaves(size) - 1
}

// FirstSize returns the smallest valid MMR size that contains pos as a
// node (i.e. the size immediately after pos, and any nodes backfilled as
// a consequence of appending it, were added).
func FirstSize(pos uint64) uint64 {
	i := pos
	h0 := Height(i)
	h1 := Height(i + 1)
	for h0 < h1 {
		i++
		h0 = h1
		h1 = Height(i + 1)
	}
	return i + 1
}
