package crypto

import (
	"fmt"

	"github.com/mwgrin/node/consensus"
	"github.com/mwgrin/node/core"
)

// FakeCommitter is a deterministic stand-in for a real Pedersen
// commitment scheme: it treats a Commitment's 33 bytes as a little
// Z/256 vector and commits/sums by byte-wise addition modulo 256.
// That's enough of an abelian group to exercise kernel-sum validation
// (sum of outputs minus sum of inputs minus the reward commitment
// equals the kernel excess sum) without any real curve arithmetic.
type FakeCommitter struct{}

func (FakeCommitter) CommitSum(positive, negative []core.Commitment) (core.Commitment, error) {
	var sum core.Commitment
	for _, c := range positive {
		addInto(&sum, c)
	}
	for _, c := range negative {
		subFrom(&sum, c)
	}
	return sum, nil
}

func (FakeCommitter) Commit(value uint64, blind [32]byte) (core.Commitment, error) {
	var c core.Commitment
	copy(c[1:], blind[:])
	c[0] = byte(value)
	c[32] ^= byte(value >> 8)
	return c, nil
}

func addInto(sum *core.Commitment, c core.Commitment) {
	for i := range sum {
		sum[i] += c[i]
	}
}

func subFrom(sum *core.Commitment, c core.Commitment) {
	for i := range sum {
		sum[i] -= c[i]
	}
}

var _ PedersenCommitter = FakeCommitter{}

// FakeBulletproofVerifier accepts every proof whose bytes are not all
// zero, standing in for "was actually generated by something" without
// checking any real range-proof math.
type FakeBulletproofVerifier struct{}

func (FakeBulletproofVerifier) VerifyBatch(proofs []RangeProofCommitment) error {
	for i, rp := range proofs {
		if rp.Proof == (core.RangeProof{}) {
			return fmt.Errorf("crypto: range proof %d is empty", i)
		}
	}
	return nil
}

var _ BulletproofVerifier = FakeBulletproofVerifier{}

// FakeAggSigVerifier accepts every kernel whose excess signature is
// not all zero.
type FakeAggSigVerifier struct{}

func (FakeAggSigVerifier) VerifyBatch(kernels []core.TransactionKernel) error {
	for i, k := range kernels {
		if k.ExcessSig == ([core.ExcessSigSize]byte{}) {
			return fmt.Errorf("crypto: kernel %d has an empty excess signature", i)
		}
	}
	return nil
}

var _ AggSigVerifier = FakeAggSigVerifier{}

// FakePoWVerifier accepts any header whose declared total difficulty
// is at least consensus.NextDifficulty over the supplied window. It
// does not compare against the previous header's difficulty and does
// not check any actual Cuckoo-cycle proof.
type FakePoWVerifier struct{}

func (FakePoWVerifier) Verify(header *core.BlockHeader, window []consensus.DifficultyData) error {
	target := consensus.NextDifficulty(window)
	if header.ProofOfWork.TotalDifficulty < target {
		return fmt.Errorf("crypto: declared difficulty %d below window target %d",
			header.ProofOfWork.TotalDifficulty, target)
	}
	return nil
}

var _ PoWVerifier = FakePoWVerifier{}
