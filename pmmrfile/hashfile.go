package pmmrfile

import (
	"errors"

	"github.com/mwgrin/node/mmr"
	"github.com/mwgrin/node/pkg/hash"
)

// HashFile is an AppendFile of hash.Size-byte node hashes. It satisfies
// mmr.NodeAppender, so mmr.AppendLeafHash and mmr.Root can operate on it
// directly.
type HashFile struct {
	file *AppendFile
}

// OpenHashFile opens or creates the hash file at path.
func OpenHashFile(path string) (*HashFile, error) {
	f, err := Open(path, hash.Size)
	if err != nil {
		return nil, err
	}
	return &HashFile{file: f}, nil
}

// Size returns the number of nodes (the MMR size) currently stored.
func (h *HashFile) Size() uint64 { return h.file.Size() }

// GetHashAt returns the node hash at pos, or hash.Zero for a position
// that has been pruned and compacted out of storage (pos beyond the
// file's current size, after a prune-list shift has been applied by the
// caller).
func (h *HashFile) GetHashAt(pos uint64) (hash.Hash, error) {
	data, err := h.file.ReadAt(pos)
	if errors.Is(err, ErrOutOfRange) {
		return hash.Zero, nil
	}
	if err != nil {
		return hash.Zero, err
	}
	return hash.FromBytes(data), nil
}

// AppendHash appends h to the file, returning the position it was
// written at.
func (h *HashFile) AppendHash(node hash.Hash) (uint64, error) {
	return h.file.Append(node.Bytes())
}

// AppendHashes appends a batch of hashes in order.
func (h *HashFile) AppendHashes(nodes []hash.Hash) error {
	records := make([][]byte, len(nodes))
	for i, n := range nodes {
		records[i] = n.Bytes()
	}
	_, err := h.file.AppendMany(records)
	return err
}

// Root computes the MMR root over the first size nodes.
func (h *HashFile) Root(size uint64) (hash.Hash, error) {
	return mmr.Root(h, size)
}

// Rewind truncates the file down to size nodes.
func (h *HashFile) Rewind(size uint64) error { return h.file.Rewind(size) }

// Flush persists the file to disk.
func (h *HashFile) Flush() error { return h.file.Flush() }

// Discard abandons unflushed mutations.
func (h *HashFile) Discard() { h.file.Discard() }
