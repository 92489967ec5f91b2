// Package processor implements the validation and chain-mutation
// pipelines that turn a received header, block, or txhashset archive
// into either an accepted extension of a tracked chain, an orphan
// waiting on a missing parent, or a rejected piece of bad data. Every
// exported entry point returns a pkg/status.Status alongside an error,
// the same two-value contract chainstate exposes to its own callers.
package processor

import (
	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/pkg/hash"
)

// HeaderStore is the subset of blockdb.DB a processor needs to read
// and persist headers.
type HeaderStore interface {
	GetHeader(h hash.Hash) (*core.BlockHeader, bool, error)
	PutHeader(header *core.BlockHeader) error
	GetHeaderAtHeight(height uint64) (*core.BlockHeader, bool, error)
}

// BlockStore is the subset of blockdb.DB a processor needs to read,
// persist, and evict full block bodies and their cumulative sums.
type BlockStore interface {
	GetBlock(h hash.Hash) (*core.FullBlock, bool, error)
	PutBlock(block *core.FullBlock) error
	DeleteBlock(h hash.Hash) error
	GetBlockSums(h hash.Hash) (core.BlockSums, bool, error)
	PutBlockSums(h hash.Hash, sums core.BlockSums) error
}
