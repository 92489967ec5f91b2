package core

// CycleProofSize is the number of 32-bit indices in a Cuckatoo cycle
// proof.
const CycleProofSize = 42

// ProofOfWork is a header's embedded proof-of-work solution: a Cuckatoo
// cycle proof plus the difficulty it was mined against.
type ProofOfWork struct {
	Nonce             uint64                 `cbor:"1,keyasint"`
	EdgeBits          uint8                  `cbor:"2,keyasint"`
	ProofNonces       [CycleProofSize]uint32 `cbor:"3,keyasint"`
	TotalDifficulty   uint64                 `cbor:"4,keyasint"`
	ScalingDifficulty uint32                 `cbor:"5,keyasint"`
}
