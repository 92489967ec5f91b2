// Package hash defines the 32-byte node hash used by the MMR system and
// the position-keyed Blake2b-256 hashing scheme from spec.md §4.1.
package hash

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of a node hash.
const Size = 32

// Hash is a 32-byte Blake2b-256 digest.
type Hash [Size]byte

// Zero is the canonical empty hash, used as the root of an empty MMR and
// as the placeholder returned for compacted (pruned, non-root) positions.
var Zero = Hash{}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Bytes returns a copy of the underlying bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Zero }

// MarshalBinary and UnmarshalBinary let Hash round-trip through CBOR
// (and any other encoding that honors encoding.BinaryMarshaler) as a
// plain byte string rather than an array of integers.
func (h Hash) MarshalBinary() ([]byte, error) { return h.Bytes(), nil }

func (h *Hash) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return errInvalidLength(len(data))
	}
	*h = FromBytes(data)
	return nil
}

type errInvalidLength int

func (e errInvalidLength) Error() string {
	return "hash: invalid encoded length"
}

// FromBytes copies b (which must be exactly Size bytes) into a Hash.
func FromBytes(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}

// FromHex parses a hex-encoded hash.
func FromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	return FromBytes(b), nil
}

// HashLeafWithIndex hashes (position || serializedLeaf) with Blake2b-256.
// Position inclusion defends against second-preimage attacks (spec.md §4.1).
func HashLeafWithIndex(pos uint64, serializedLeaf []byte) Hash {
	h, _ := blake2b.New256(nil)
	var posBuf [8]byte
	binary.BigEndian.PutUint64(posBuf[:], pos)
	h.Write(posBuf[:])
	h.Write(serializedLeaf)
	return FromBytes(h.Sum(nil))
}

// HashParentWithIndex hashes (position || left || right) with Blake2b-256.
func HashParentWithIndex(parentPos uint64, left, right Hash) Hash {
	h, _ := blake2b.New256(nil)
	var posBuf [8]byte
	binary.BigEndian.PutUint64(posBuf[:], parentPos)
	h.Write(posBuf[:])
	h.Write(left[:])
	h.Write(right[:])
	return FromBytes(h.Sum(nil))
}

// Sum256 is a convenience Blake2b-256 digest of arbitrary data, used for
// header hashing and other non-MMR digests.
func Sum256(data ...[]byte) Hash {
	h, _ := blake2b.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	return FromBytes(h.Sum(nil))
}
