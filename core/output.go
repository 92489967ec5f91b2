package core

import "fmt"

// OutputIdentifierSize is the fixed width of an OutputIdentifier's
// binary encoding — the record stored in the output PMMR's data file
// (pmmr.OutputRecordSize mirrors this on the storage side).
const OutputIdentifierSize = 34

// OutputIdentifier is the leaf payload of the output PMMR: just enough
// to identify and re-derive the commitment an output's hash commits to.
// The range proof that accompanies it lives in the parallel range-proof
// PMMR, addressed by the same MMR position.
type OutputIdentifier struct {
	Features   OutputFeatures
	Commitment Commitment
}

// MarshalBinary encodes the identifier as features||commitment, exactly
// OutputIdentifierSize bytes.
func (o OutputIdentifier) MarshalBinary() ([]byte, error) {
	buf := make([]byte, OutputIdentifierSize)
	buf[0] = byte(o.Features)
	copy(buf[1:], o.Commitment[:])
	return buf, nil
}

// UnmarshalBinary decodes an OutputIdentifier from exactly
// OutputIdentifierSize bytes.
func (o *OutputIdentifier) UnmarshalBinary(data []byte) error {
	if len(data) != OutputIdentifierSize {
		return fmt.Errorf("core: output identifier must be %d bytes, got %d", OutputIdentifierSize, len(data))
	}
	o.Features = OutputFeatures(data[0])
	copy(o.Commitment[:], data[1:])
	return nil
}

// TransactionOutput is a full output as it appears in a FullBlock: the
// identifier plus its range proof.
type TransactionOutput struct {
	Features   OutputFeatures `cbor:"1,keyasint"`
	Commitment Commitment     `cbor:"2,keyasint"`
	RangeProof RangeProof     `cbor:"3,keyasint"`
}

// Identifier extracts the OutputIdentifier half of a full output — what
// the output PMMR's leaf actually stores.
func (o TransactionOutput) Identifier() OutputIdentifier {
	return OutputIdentifier{Features: o.Features, Commitment: o.Commitment}
}
