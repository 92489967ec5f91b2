// Package chain holds the three named chains (sync, candidate,
// confirmed) a node tracks simultaneously, backed by a shared pool of
// BlockIndex handles so the same block is never represented twice in
// memory just because more than one chain currently references it.
package chain

import "github.com/mwgrin/node/pkg/hash"

// Type names one of the three chains a ChainStore tracks.
type Type int

const (
	Sync Type = iota
	Candidate
	Confirmed
)

func (t Type) String() string {
	switch t {
	case Sync:
		return "sync"
	case Candidate:
		return "candidate"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

func (t Type) bit() uint8 { return 1 << uint(t) }

const allChainsMask = uint8(1)<<3 - 1

// BlockIndex is the lightweight (hash, height) handle a chain stores at
// each position. The same BlockIndex is shared by every chain that
// currently includes this block; membership is a bitmask rather than
// three separate owning lists, matching the original's shared-pointer
// scheme translated to an arena-of-handles with reference-count bits.
type BlockIndex struct {
	Hash         hash.Hash
	Height       uint64
	PreviousHash hash.Hash

	membership uint8
}

// InChain reports whether this index is currently part of chain t.
func (b *BlockIndex) InChain(t Type) bool { return b.membership&t.bit() != 0 }

// InAllChains reports whether this index is part of the sync,
// candidate, and confirmed chains simultaneously.
func (b *BlockIndex) InAllChains() bool { return b.membership == allChainsMask }

// SafeToDelete reports whether no chain references this index any
// longer, so the pool may reclaim it.
func (b *BlockIndex) SafeToDelete() bool { return b.membership == 0 }
