package pmmr

import (
	"github.com/mwgrin/node/leafset"
	"github.com/mwgrin/node/mmr"
	"github.com/mwgrin/node/pkg/hash"
)

// lastUnspentLeafHashes walks leaf indices backward from the last one an
// MMR of the given size actually contains, collecting the hashes of up
// to numHashes leaves still present in leaves, most recent first. Used
// to seed peer sync requests with a recent horizon of live hashes.
func lastUnspentLeafHashes(r mmr.NodeReader, leaves *leafset.LeafSet, size uint64, numHashes int) ([]hash.Hash, error) {
	if size == 0 || numHashes <= 0 {
		return nil, nil
	}

	numLeaves := mmr.NumLeaves(mmr.FirstSize(size - 1))

	hashes := make([]hash.Hash, 0, numHashes)
	for leafIndex := numLeaves; leafIndex > 0 && len(hashes) < numHashes; {
		leafIndex--

		pos := mmr.LeafToPos(leafIndex)
		if leaves != nil && !leaves.Contains(pos) {
			continue
		}

		h, err := r.GetHashAt(pos)
		if err != nil {
			return nil, err
		}
		if !h.IsZero() {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}
