package core

import "encoding/hex"

// CommitmentSize is the length in bytes of a Pedersen commitment.
const CommitmentSize = 33

// Commitment is an opaque Pedersen commitment to a value and blinding
// factor. Its cryptographic properties (homomorphic sum, binding,
// hiding) live behind the crypto package's verifier interfaces; here
// it's just a fixed-width identifier and wire value.
type Commitment [CommitmentSize]byte

func (c Commitment) String() string { return hex.EncodeToString(c[:]) }

func (c Commitment) Bytes() []byte {
	b := make([]byte, CommitmentSize)
	copy(b, c[:])
	return b
}

func (c Commitment) MarshalBinary() ([]byte, error) { return c.Bytes(), nil }

func (c *Commitment) UnmarshalBinary(data []byte) error {
	if len(data) != CommitmentSize {
		return errCommitmentLength(len(data))
	}
	copy(c[:], data)
	return nil
}

type errCommitmentLength int

func (e errCommitmentLength) Error() string { return "core: invalid commitment length" }
