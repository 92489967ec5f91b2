// Package core defines the on-wire data model: block headers,
// transaction inputs/outputs/kernels, full and compact blocks, and the
// cumulative sums a chain tracks alongside them.
package core

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/mwgrin/node/pkg/hash"
)

// BlockHeader is the immutable, fixed-shape header every block carries.
// Its hash is derived deterministically from its fields; two headers
// with identical field values always hash identically.
type BlockHeader struct {
	Version           uint16      `cbor:"1,keyasint"`
	Height            uint64      `cbor:"2,keyasint"`
	Timestamp         int64       `cbor:"3,keyasint"`
	PreviousHash      hash.Hash   `cbor:"4,keyasint"`
	PreviousRoot      hash.Hash   `cbor:"5,keyasint"`
	OutputRoot        hash.Hash   `cbor:"6,keyasint"`
	RangeProofRoot    hash.Hash   `cbor:"7,keyasint"`
	KernelRoot        hash.Hash   `cbor:"8,keyasint"`
	TotalKernelOffset [32]byte    `cbor:"9,keyasint"`
	OutputMMRSize     uint64      `cbor:"10,keyasint"`
	KernelMMRSize     uint64      `cbor:"11,keyasint"`
	ProofOfWork       ProofOfWork `cbor:"12,keyasint"`
}

// Hash deterministically derives this header's identity from its
// fields. Returns hash.Zero if the header cannot be encoded (never
// happens for a correctly constructed BlockHeader).
func (h *BlockHeader) Hash() hash.Hash {
	encoded, err := cbor.Marshal(h)
	if err != nil {
		return hash.Zero
	}
	return hash.Sum256(encoded)
}
