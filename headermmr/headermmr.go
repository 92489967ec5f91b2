// Package headermmr is the append-only Merkle Mountain Range over
// block header hashes: one leaf per header, by height, used to check
// that a header's declared previous-root matches the actual root of
// every header that came before it.
package headermmr

import (
	"fmt"

	"github.com/mwgrin/node/mmr"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pmmrfile"
)

// HeaderMMR tracks one leaf hash per block header. Headers are never
// pruned individually — the cut-through horizon only ever deletes a
// whole sync or candidate chain's indices, never a single header's
// MMR entry — so, like KernelMMR, this needs no leaf set or prune
// list.
type HeaderMMR struct {
	hashFile *pmmrfile.HashFile
}

// Open opens, or creates, the file backing a header MMR rooted at dir.
func Open(dir string) (*HeaderMMR, error) {
	hashFile, err := pmmrfile.OpenHashFile(dir + "/header_mmr_hash.bin")
	if err != nil {
		return nil, fmt.Errorf("opening header MMR hash file: %w", err)
	}
	return &HeaderMMR{hashFile: hashFile}, nil
}

// Append adds headerHash as the next leaf and returns the MMR position
// it was written at.
func (h *HeaderMMR) Append(headerHash hash.Hash) (uint64, error) {
	position := h.hashFile.Size()
	leafHash := hash.HashLeafWithIndex(position, headerHash.Bytes())
	return mmr.AppendLeafHash(h.hashFile, leafHash)
}

// Root computes the MMR root over the first size nodes.
func (h *HeaderMMR) Root(size uint64) (hash.Hash, error) {
	return mmr.Root(h.hashFile, size)
}

// SizeAtHeight returns the MMR size immediately after the header at
// height was appended — the size a later header's declared
// previous_root/previous_mmr_size should be checked against.
func SizeAtHeight(height uint64) uint64 {
	return mmr.FirstSize(mmr.LeafToPos(height))
}

// RootAtHeight computes the header MMR's root as of the header at
// height: `header_mmr.root(h.height - 1)` in spec form is
// `RootAtHeight(h.Height - 1)`.
func (h *HeaderMMR) RootAtHeight(height uint64) (hash.Hash, error) {
	return h.Root(SizeAtHeight(height))
}

// GetHashAt returns the hash at mmrIndex.
func (h *HeaderMMR) GetHashAt(mmrIndex uint64) (hash.Hash, error) {
	return h.hashFile.GetHashAt(mmrIndex)
}

// Size returns the current number of nodes in the MMR.
func (h *HeaderMMR) Size() uint64 { return h.hashFile.Size() }

// Rewind truncates the MMR back to the state it had when it contained
// size nodes.
func (h *HeaderMMR) Rewind(size uint64) error {
	return h.hashFile.Rewind(size)
}

// Flush persists the hash file.
func (h *HeaderMMR) Flush() error { return h.hashFile.Flush() }

// Discard abandons every mutation made since the last Flush.
func (h *HeaderMMR) Discard() { h.hashFile.Discard() }
