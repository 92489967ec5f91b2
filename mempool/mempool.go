// Package mempool tracks unconfirmed transactions waiting to be mined,
// keyed so a compact block's kernel short-ids can be hydrated back
// into full transactions without a round trip to the sender.
package mempool

import (
	"fmt"
	"sync"

	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/crypto"
	"github.com/mwgrin/node/pkg/chainerr"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pkg/status"
)

// PoolType distinguishes a transaction broadcast normally from one
// still moving through Dandelion stem relay, waiting to either fluff
// into the public pool or be aggregated into someone else's stem
// transaction.
type PoolType int

const (
	Memory PoolType = iota
	Stem
)

func (t PoolType) String() string {
	if t == Stem {
		return "stem"
	}
	return "memory"
}

type entry struct {
	tx       core.Transaction
	poolType PoolType
}

// Pool holds every transaction currently known to the node but not
// yet mined, indexed by transaction hash and, for short-id
// reconciliation, by kernel hash.
type Pool struct {
	mu sync.RWMutex

	txs      map[hash.Hash]*entry
	byKernel map[hash.Hash]hash.Hash

	committer crypto.PedersenCommitter
}

// New returns an empty pool that checks a submitted transaction's
// kernel-sum balance using committer.
func New(committer crypto.PedersenCommitter) *Pool {
	return &Pool{
		txs:       make(map[hash.Hash]*entry),
		byKernel:  make(map[hash.Hash]hash.Hash),
		committer: committer,
	}
}

// AddTransaction cut-throughs and sorts tx, checks that it balances on
// its own (no chain context needed: a transaction's own kernel offset
// and excesses must already net to zero), and pools it under
// poolType. Resubmitting an already-pooled transaction, or one whose
// kernel is already claimed by a different pooled transaction,
// returns AlreadyExists rather than an error.
func (p *Pool) AddTransaction(tx core.Transaction, poolType PoolType) (status.Status, error) {
	reduced := tx.CutThrough()
	reduced.SortCommitments()
	txHash := reduced.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.txs[txHash]; ok {
		return status.AlreadyExists, nil
	}
	for _, k := range reduced.Kernels {
		if _, ok := p.byKernel[k.Hash()]; ok {
			return status.AlreadyExists, nil
		}
	}

	if err := p.validateBalance(&reduced); err != nil {
		return status.Invalid, chainerr.NewBadData(chainerr.BanBadKernel, err.Error())
	}

	p.txs[txHash] = &entry{tx: reduced, poolType: poolType}
	for _, k := range reduced.Kernels {
		p.byKernel[k.Hash()] = txHash
	}
	return status.Success, nil
}

func (p *Pool) validateBalance(tx *core.Transaction) error {
	var outputs []core.Commitment
	for _, o := range tx.Outputs {
		outputs = append(outputs, o.Commitment)
	}

	var negatives []core.Commitment
	var fee uint64
	for _, in := range tx.Inputs {
		negatives = append(negatives, in.Commitment)
	}
	for _, k := range tx.Kernels {
		negatives = append(negatives, k.Excess)
		fee += k.Fee
	}

	feeCommit, err := p.committer.Commit(fee, [32]byte{})
	if err != nil {
		return err
	}
	offsetCommit, err := p.committer.Commit(0, tx.KernelOffset)
	if err != nil {
		return err
	}
	negatives = append(negatives, feeCommit, offsetCommit)

	identity, err := p.committer.CommitSum(outputs, negatives)
	if err != nil {
		return err
	}
	if identity != (core.Commitment{}) {
		return fmt.Errorf("mempool: transaction %s does not balance", tx.Hash())
	}
	return nil
}

// RetrieveTransactions looks up every pooled transaction contributing
// a kernel matched by shortIDs, computed against blockHash and nonce
// the way NewCompactBlock derived them. Returns the matched
// transactions plus any short-ids that couldn't be resolved locally,
// which the caller must then request in full from a peer.
func (p *Pool) RetrieveTransactions(blockHash hash.Hash, nonce uint64, shortIDs []core.ShortID) (matched []core.Transaction, missing []core.ShortID) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	want := make(map[core.ShortID]bool, len(shortIDs))
	for _, id := range shortIDs {
		want[id] = true
	}

	resolved := make(map[core.ShortID]bool, len(shortIDs))
	seen := make(map[hash.Hash]bool)
	for kernelHash, txHash := range p.byKernel {
		id := core.ComputeShortID(blockHash, nonce, kernelHash)
		if !want[id] {
			continue
		}
		resolved[id] = true
		if !seen[txHash] {
			seen[txHash] = true
			matched = append(matched, p.txs[txHash].tx)
		}
	}

	for _, id := range shortIDs {
		if !resolved[id] {
			missing = append(missing, id)
		}
	}
	return matched, missing
}

// ReconcileBlock drops every pooled transaction that block just mined
// (by kernel) or that now conflicts with it (spends an input block
// already spent), after a block has been accepted onto the confirmed
// chain.
func (p *Pool) ReconcileBlock(block *core.FullBlock) {
	p.mu.Lock()
	defer p.mu.Unlock()

	minedKernels := make(map[hash.Hash]bool, len(block.Kernels))
	for _, k := range block.Kernels {
		minedKernels[k.Hash()] = true
	}
	spent := make(map[core.Commitment]bool, len(block.Inputs))
	for _, in := range block.Inputs {
		spent[in.Commitment] = true
	}

	for txHash, e := range p.txs {
		remove := false
		for _, k := range e.tx.Kernels {
			if minedKernels[k.Hash()] {
				remove = true
				break
			}
		}
		if !remove {
			for _, in := range e.tx.Inputs {
				if spent[in.Commitment] {
					remove = true
					break
				}
			}
		}
		if remove {
			p.removeLocked(txHash)
		}
	}
}

func (p *Pool) removeLocked(txHash hash.Hash) {
	e, ok := p.txs[txHash]
	if !ok {
		return
	}
	delete(p.txs, txHash)
	for _, k := range e.tx.Kernels {
		delete(p.byKernel, k.Hash())
	}
}

// Len returns the number of distinct transactions currently pooled.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}
