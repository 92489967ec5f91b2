package mmr

import "github.com/mwgrin/node/pkg/hash"

// NodeReader reads a node hash at an absolute MMR position. Implementations
// are expected to return hash.Zero for pruned-and-compacted positions.
type NodeReader interface {
	GetHashAt(pos uint64) (hash.Hash, error)
}

// Root computes the MMR root for the given size by hashing the peaks
// right-to-left, each combined with the running hash as if it were the
// left child of a virtual parent indexed by the MMR size (spec.md §4.1).
// The empty MMR's root is the all-zero hash.
func Root(r NodeReader, size uint64) (hash.Hash, error) {
	if size == 0 {
		return hash.Zero, nil
	}

	peaks := PeakPositions(size)
	if peaks == nil {
		return hash.Zero, ErrInvalidSize(size)
	}

	running := hash.Zero
	for i := len(peaks) - 1; i >= 0; i-- {
		peakHash, err := r.GetHashAt(peaks[i])
		if err != nil {
			return hash.Zero, err
		}
		if running.IsZero() {
			running = peakHash
		} else {
			running = hash.HashParentWithIndex(size, peakHash, running)
		}
	}
	return running, nil
}

// ErrInvalidSize reports that a value is not a legal MMR size.
type ErrInvalidSize uint64

func (e ErrInvalidSize) Error() string {
	return "mmr: not a valid mmr size"
}
