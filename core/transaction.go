package core

import (
	"bytes"

	"github.com/mwgrin/node/pkg/hash"
)

// Transaction is an unconfirmed set of inputs, outputs, and kernels
// circulating through the mempool before a miner folds it into a
// block body. It carries the same three slices as FullBlock, minus
// the header, plus the kernel offset this transaction alone
// contributes.
type Transaction struct {
	Inputs       []TransactionInput  `cbor:"1,keyasint"`
	Outputs      []TransactionOutput `cbor:"2,keyasint"`
	Kernels      []TransactionKernel `cbor:"3,keyasint"`
	KernelOffset [32]byte            `cbor:"4,keyasint"`
}

// Hash derives a transaction's identity from its kernels, inputs,
// outputs, and offset, used to key the mempool and to dedupe
// resubmission of an already-pooled transaction.
func (t *Transaction) Hash() hash.Hash {
	var parts [][]byte
	for _, in := range t.Inputs {
		parts = append(parts, in.Commitment.Bytes())
	}
	for _, out := range t.Outputs {
		parts = append(parts, out.Commitment.Bytes())
	}
	for _, k := range t.Kernels {
		kh := k.Hash()
		parts = append(parts, kh.Bytes())
	}
	parts = append(parts, t.KernelOffset[:])
	return hash.Sum256(parts...)
}

// Fee returns the sum of every kernel's fee.
func (t *Transaction) Fee() uint64 {
	var total uint64
	for _, k := range t.Kernels {
		total += k.Fee
	}
	return total
}

// SpendsCommitment reports whether any input in t spends commitment.
func (t *Transaction) SpendsCommitment(commitment Commitment) bool {
	for _, in := range t.Inputs {
		if in.Commitment == commitment {
			return true
		}
	}
	return false
}

// CutThrough removes every input/output pair in t that spends its own
// output within the same transaction, returning the reduced
// transaction. A transaction built by naively concatenating others'
// inputs and outputs (as mempool aggregation does) carries exactly
// this kind of redundant pair.
func (t *Transaction) CutThrough() Transaction {
	spent := make(map[Commitment]bool, len(t.Inputs))
	for _, in := range t.Inputs {
		spent[in.Commitment] = true
	}

	var inputs []TransactionInput
	for _, in := range t.Inputs {
		keep := true
		for _, out := range t.Outputs {
			if out.Commitment == in.Commitment {
				keep = false
				break
			}
		}
		if keep {
			inputs = append(inputs, in)
		}
	}

	var outputs []TransactionOutput
	for _, out := range t.Outputs {
		if !spent[out.Commitment] {
			outputs = append(outputs, out)
		}
	}

	return Transaction{
		Inputs:       inputs,
		Outputs:      outputs,
		Kernels:      append([]TransactionKernel(nil), t.Kernels...),
		KernelOffset: t.KernelOffset,
	}
}

// SortCommitments sorts inputs and outputs by commitment and kernels
// by hash, the canonical ordering a block body and a cut-through
// transaction both need before their MMR positions or weight limits
// are checked.
func (t *Transaction) SortCommitments() {
	sortInputs(t.Inputs)
	sortOutputs(t.Outputs)
	sortKernels(t.Kernels)
}

func sortInputs(inputs []TransactionInput) {
	bubbleSortBy(len(inputs), func(i, j int) bool {
		return bytes.Compare(inputs[i].Commitment.Bytes(), inputs[j].Commitment.Bytes()) > 0
	}, func(i, j int) { inputs[i], inputs[j] = inputs[j], inputs[i] })
}

func sortOutputs(outputs []TransactionOutput) {
	bubbleSortBy(len(outputs), func(i, j int) bool {
		return bytes.Compare(outputs[i].Commitment.Bytes(), outputs[j].Commitment.Bytes()) > 0
	}, func(i, j int) { outputs[i], outputs[j] = outputs[j], outputs[i] })
}

func sortKernels(kernels []TransactionKernel) {
	hashes := make([]hash.Hash, len(kernels))
	for i, k := range kernels {
		hashes[i] = k.Hash()
	}
	bubbleSortBy(len(kernels), func(i, j int) bool {
		return bytes.Compare(hashes[i].Bytes(), hashes[j].Bytes()) > 0
	}, func(i, j int) {
		kernels[i], kernels[j] = kernels[j], kernels[i]
		hashes[i], hashes[j] = hashes[j], hashes[i]
	})
}

// bubbleSortBy is a tiny in-place sort shared by the three commitment
// orderings above; none of these slices are large enough in practice
// (a block's body) to need anything smarter.
func bubbleSortBy(n int, less func(i, j int) bool, swap func(i, j int)) {
	for i := 0; i < n; i++ {
		for j := 0; j < n-i-1; j++ {
			if less(j, j+1) {
				swap(j, j+1)
			}
		}
	}
}
