package core

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dchest/siphash"

	"github.com/mwgrin/node/consensus"
	"github.com/mwgrin/node/pkg/hash"
)

// FullBlock is a complete block body: header plus its sorted inputs,
// outputs, kernels, and the aggregate kernel offset tying them all
// together into a single zero-sum transaction.
type FullBlock struct {
	Header       BlockHeader         `cbor:"1,keyasint"`
	Inputs       []TransactionInput  `cbor:"2,keyasint"`
	Outputs      []TransactionOutput `cbor:"3,keyasint"`
	Kernels      []TransactionKernel `cbor:"4,keyasint"`
	KernelOffset [32]byte            `cbor:"5,keyasint"`
}

// SelfConsistent checks everything about a block body that can be
// verified without consulting chain state: commitments are sorted and
// unique, cut-through has actually been applied, the block's weight is
// under the network limit, no kernel locks past the block's own
// height, and coinbase outputs and coinbase kernels are paired one for
// one.
func (b *FullBlock) SelfConsistent() error {
	if !inputsSortedUnique(b.Inputs) {
		return fmt.Errorf("core: inputs are not sorted or contain a duplicate commitment")
	}
	if !outputsSortedUnique(b.Outputs) {
		return fmt.Errorf("core: outputs are not sorted or contain a duplicate commitment")
	}
	if !kernelsSortedUnique(b.Kernels) {
		return fmt.Errorf("core: kernels are not sorted or contain a duplicate hash")
	}

	spent := make(map[Commitment]bool, len(b.Inputs))
	for _, in := range b.Inputs {
		spent[in.Commitment] = true
	}
	for _, out := range b.Outputs {
		if spent[out.Commitment] {
			return fmt.Errorf("core: output %s is also spent by an input in the same block; cut-through was not applied", out.Commitment)
		}
	}

	weight := consensus.BlockWeight(len(b.Inputs), len(b.Outputs), len(b.Kernels))
	if weight > consensus.MaxBlockWeight {
		return fmt.Errorf("core: block weight %d exceeds the maximum of %d", weight, consensus.MaxBlockWeight)
	}

	for _, k := range b.Kernels {
		if k.LockHeight > b.Header.Height {
			return fmt.Errorf("core: kernel locked until height %d included in block at height %d", k.LockHeight, b.Header.Height)
		}
	}

	coinbaseOutputs, coinbaseKernels := 0, 0
	for _, out := range b.Outputs {
		if out.Features.IsCoinbase() {
			coinbaseOutputs++
		}
	}
	for _, k := range b.Kernels {
		if k.Features.IsCoinbase() {
			coinbaseKernels++
		}
	}
	if coinbaseOutputs != coinbaseKernels {
		return fmt.Errorf("core: block has %d coinbase outputs but %d coinbase kernels", coinbaseOutputs, coinbaseKernels)
	}

	return nil
}

func inputsSortedUnique(inputs []TransactionInput) bool {
	for i := 1; i < len(inputs); i++ {
		if bytes.Compare(inputs[i-1].Commitment.Bytes(), inputs[i].Commitment.Bytes()) >= 0 {
			return false
		}
	}
	return true
}

func outputsSortedUnique(outputs []TransactionOutput) bool {
	for i := 1; i < len(outputs); i++ {
		if bytes.Compare(outputs[i-1].Commitment.Bytes(), outputs[i].Commitment.Bytes()) >= 0 {
			return false
		}
	}
	return true
}

func kernelsSortedUnique(kernels []TransactionKernel) bool {
	for i := 1; i < len(kernels); i++ {
		a, b := kernels[i-1].Hash(), kernels[i].Hash()
		if bytes.Compare(a.Bytes(), b.Bytes()) >= 0 {
			return false
		}
	}
	return true
}

// ShortIDSize is the length in bytes of a compact block's truncated
// SipHash-24 kernel identifiers.
const ShortIDSize = 6

// ShortID is a SipHash-24 digest of a kernel's hash, keyed by the block
// it appears in and a per-block nonce, truncated to ShortIDSize bytes —
// enough to reconcile against a mempool with negligible collision risk
// for a single block's kernel count.
type ShortID [ShortIDSize]byte

// ComputeShortID derives the short-id a CompactBlock uses to reference
// a non-coinbase kernel, keyed by the block hash and nonce so a given
// kernel hashes differently in every block it might appear in.
func ComputeShortID(blockHash hash.Hash, nonce uint64, kernelHash hash.Hash) ShortID {
	var nonceBuf [8]byte
	binary.LittleEndian.PutUint64(nonceBuf[:], nonce)
	key := hash.Sum256(blockHash.Bytes(), nonceBuf[:])

	k0 := binary.LittleEndian.Uint64(key[0:8])
	k1 := binary.LittleEndian.Uint64(key[8:16])
	digest := siphash.Hash(k0, k1, kernelHash.Bytes())

	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], digest)

	var id ShortID
	copy(id[:], full[:ShortIDSize])
	return id
}

// CompactBlock carries a block's header, mining nonce, coinbase outputs
// and kernels in full (they're always freshly minted, so no peer could
// already have them), and short-ids for every other kernel so a peer
// that already holds most of the mempool can reconstruct the block
// without a second round trip.
type CompactBlock struct {
	Header          BlockHeader         `cbor:"1,keyasint"`
	Nonce           uint64              `cbor:"2,keyasint"`
	CoinbaseOutputs []TransactionOutput `cbor:"3,keyasint"`
	CoinbaseKernels []TransactionKernel `cbor:"4,keyasint"`
	KernelShortIDs  []ShortID           `cbor:"5,keyasint"`
}

// NewCompactBlock builds a CompactBlock from a full block, splitting its
// body into coinbase parts (carried in full) and short-ids for the rest.
func NewCompactBlock(block FullBlock, nonce uint64) CompactBlock {
	cb := CompactBlock{
		Header: block.Header,
		Nonce:  nonce,
	}
	blockHash := block.Header.Hash()
	for _, out := range block.Outputs {
		if out.Features.IsCoinbase() {
			cb.CoinbaseOutputs = append(cb.CoinbaseOutputs, out)
		}
	}
	for _, k := range block.Kernels {
		if k.Features.IsCoinbase() {
			cb.CoinbaseKernels = append(cb.CoinbaseKernels, k)
			continue
		}
		cb.KernelShortIDs = append(cb.KernelShortIDs, ComputeShortID(blockHash, nonce, k.Hash()))
	}
	return cb
}
