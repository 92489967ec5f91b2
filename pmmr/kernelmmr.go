package pmmr

import (
	"fmt"

	"github.com/mwgrin/node/mmr"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pmmrfile"
)

// KernelRecordSize is the serialized length of one transaction kernel
// leaf record.
const KernelRecordSize = 114

// KernelMMR is the append-only transaction kernel MMR. Kernels are never
// pruned individually — they're the cut-through horizon's unit of
// wholesale truncation instead — so this engine needs no leaf set or
// prune list, just a plain hash file and data file in lockstep.
type KernelMMR struct {
	hashFile *pmmrfile.HashFile
	dataFile *pmmrfile.DataFile[[]byte]
}

// OpenKernelMMR opens, or creates, the files backing a kernel MMR rooted
// at dir.
func OpenKernelMMR(dir string) (*KernelMMR, error) {
	hashFile, err := pmmrfile.OpenHashFile(dir + "/pmmr_hash.bin")
	if err != nil {
		return nil, fmt.Errorf("opening kernel hash file: %w", err)
	}
	dataFile, err := pmmrfile.OpenDataFile[[]byte](dir+"/pmmr_data.bin", KernelRecordSize, identityMarshal, identityUnmarshal)
	if err != nil {
		return nil, fmt.Errorf("opening kernel data file: %w", err)
	}

	return &KernelMMR{hashFile: hashFile, dataFile: dataFile}, nil
}

// Append adds a new kernel leaf and returns the MMR position it was
// written at. serialized must be exactly KernelRecordSize bytes.
func (k *KernelMMR) Append(serialized []byte) (uint64, error) {
	if len(serialized) != KernelRecordSize {
		return 0, fmt.Errorf("pmmr: kernel record must be %d bytes, got %d", KernelRecordSize, len(serialized))
	}

	position := k.hashFile.Size()

	if _, err := k.dataFile.AddData(serialized); err != nil {
		return 0, err
	}

	leafHash := hash.HashLeafWithIndex(position, serialized)
	return mmr.AppendLeafHash(k.hashFile, leafHash)
}

// GetKernelAt returns the serialized kernel record at mmrIndex, if
// mmrIndex is a leaf.
func (k *KernelMMR) GetKernelAt(mmrIndex uint64) ([]byte, bool, error) {
	if !mmr.IsLeaf(mmrIndex) {
		return nil, false, nil
	}
	numLeaves := mmr.NumLeaves(mmr.FirstSize(mmrIndex))
	return k.dataFile.GetDataAt(numLeaves - 1)
}

// Root computes the MMR root for the first size nodes.
func (k *KernelMMR) Root(size uint64) (hash.Hash, error) {
	return mmr.Root(k.hashFile, size)
}

// GetHashAt returns the hash at mmrIndex.
func (k *KernelMMR) GetHashAt(mmrIndex uint64) (hash.Hash, error) {
	return k.hashFile.GetHashAt(mmrIndex)
}

// Size returns the current number of nodes in the MMR.
func (k *KernelMMR) Size() uint64 { return k.hashFile.Size() }

// Rewind truncates the MMR back to the state it had when it contained
// size nodes.
func (k *KernelMMR) Rewind(size uint64) error {
	if err := k.hashFile.Rewind(size); err != nil {
		return err
	}
	numLeaves := uint64(0)
	if size > 0 {
		numLeaves = mmr.NumLeaves(mmr.FirstSize(size - 1))
	}
	return k.dataFile.Rewind(numLeaves)
}

// Flush persists the hash file and data file.
func (k *KernelMMR) Flush() error {
	if err := k.hashFile.Flush(); err != nil {
		return err
	}
	return k.dataFile.Flush()
}

// Discard abandons every mutation made since the last Flush.
func (k *KernelMMR) Discard() {
	k.hashFile.Discard()
	k.dataFile.Discard()
}
