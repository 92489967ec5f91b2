package core

// TransactionInput spends a single output by commitment; it carries no
// proof of its own beyond membership in a block's sorted input list
// checked against the live output set.
type TransactionInput struct {
	Features   OutputFeatures `cbor:"1,keyasint"`
	Commitment Commitment     `cbor:"2,keyasint"`
}
