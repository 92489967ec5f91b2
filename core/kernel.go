package core

import (
	"encoding/binary"
	"fmt"

	"github.com/mwgrin/node/pkg/hash"
)

// ExcessSigSize is the length of a kernel's aggregate Schnorr signature.
const ExcessSigSize = 64

// KernelRecordSize is the fixed width of a serialized TransactionKernel
// (pmmr.KernelRecordSize mirrors this on the storage side):
// features(1) + fee(8) + lockHeight(8) + excess(33) + signature(64).
const KernelRecordSize = 1 + 8 + 8 + CommitmentSize + ExcessSigSize

// TransactionKernel proves knowledge of a transaction's blinding factor
// via an aggregate Schnorr signature over its excess commitment.
type TransactionKernel struct {
	Features   KernelFeatures
	Fee        uint64
	LockHeight uint64
	Excess     Commitment
	ExcessSig  [ExcessSigSize]byte
}

// MarshalBinary encodes the kernel in its fixed-width on-disk form.
func (k TransactionKernel) MarshalBinary() ([]byte, error) {
	buf := make([]byte, KernelRecordSize)
	buf[0] = byte(k.Features)
	binary.BigEndian.PutUint64(buf[1:9], k.Fee)
	binary.BigEndian.PutUint64(buf[9:17], k.LockHeight)
	copy(buf[17:17+CommitmentSize], k.Excess[:])
	copy(buf[17+CommitmentSize:], k.ExcessSig[:])
	return buf, nil
}

// UnmarshalBinary decodes a kernel from its fixed-width on-disk form.
func (k *TransactionKernel) UnmarshalBinary(data []byte) error {
	if len(data) != KernelRecordSize {
		return fmt.Errorf("core: kernel record must be %d bytes, got %d", KernelRecordSize, len(data))
	}
	k.Features = KernelFeatures(data[0])
	k.Fee = binary.BigEndian.Uint64(data[1:9])
	k.LockHeight = binary.BigEndian.Uint64(data[9:17])
	copy(k.Excess[:], data[17:17+CommitmentSize])
	copy(k.ExcessSig[:], data[17+CommitmentSize:])
	return nil
}

// Hash derives the kernel's identity from its encoded fields, used to
// key the compact-block short-id scheme.
func (k TransactionKernel) Hash() hash.Hash {
	encoded, _ := k.MarshalBinary()
	return hash.Sum256(encoded)
}
