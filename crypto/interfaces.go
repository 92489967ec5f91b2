// Package crypto narrows every cryptographic operation the chain core
// needs down to small verification interfaces. Nothing here implements
// real secp256k1/Bulletproof/Schnorr math: that lives behind whichever
// concrete adapter a deployment wires in. This package only defines
// the contracts and, for tests, deterministic fakes that satisfy the
// same group-homomorphism properties the real primitives guarantee.
package crypto

import (
	"github.com/mwgrin/node/consensus"
	"github.com/mwgrin/node/core"
)

// PedersenCommitter performs the homomorphic commitment arithmetic
// kernel-sum validation needs: summing a set of positive commitments
// (outputs, or a kernel's excess) against a set of negative ones
// (inputs) and reducing to a single commitment.
type PedersenCommitter interface {
	CommitSum(positive, negative []core.Commitment) (core.Commitment, error)
	// Commit produces a commitment to value under blinding factor
	// blind, used only to construct the reward/fee commitment that
	// kernel-sum validation subtracts out.
	Commit(value uint64, blind [32]byte) (core.Commitment, error)
}

// BulletproofVerifier batch-verifies range proofs. Implementations are
// expected to exploit whatever internal parallelism the underlying
// library offers; callers chunk the input themselves (spec.md's
// full-validation batches of ~1,000).
type BulletproofVerifier interface {
	VerifyBatch(proofs []RangeProofCommitment) error
}

// RangeProofCommitment pairs a range proof with the commitment it
// claims to bound, the unit Bulletproof verification operates on.
type RangeProofCommitment struct {
	Commitment core.Commitment
	Proof      core.RangeProof
}

// AggSigVerifier batch-verifies kernel excess signatures: each
// kernel's excess commitment stands in for the Schnorr public key its
// signature was produced under.
type AggSigVerifier interface {
	VerifyBatch(kernels []core.TransactionKernel) error
}

// PoWVerifier checks a header's embedded Cuckoo-cycle proof reaches
// its declared difficulty and that the declared difficulty itself
// follows from the preceding difficulty window.
type PoWVerifier interface {
	Verify(header *core.BlockHeader, window []consensus.DifficultyData) error
}
