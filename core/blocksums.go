package core

// BlockSums is the cumulative output-commitment sum and kernel-excess
// sum as of a given block, stored per committed block so a later
// block's kernel-sum validation only has to verify the delta since its
// parent rather than resumming the entire chain.
type BlockSums struct {
	OutputSum Commitment `cbor:"1,keyasint"`
	KernelSum Commitment `cbor:"2,keyasint"`
}

// OutputLocation pins an output's commitment to where it lives: its
// position in the output/range-proof PMMRs and the height it was mined
// at (needed to enforce coinbase maturity on the input that spends it).
type OutputLocation struct {
	MMRPosition uint64 `cbor:"1,keyasint"`
	Height      uint64 `cbor:"2,keyasint"`
}
