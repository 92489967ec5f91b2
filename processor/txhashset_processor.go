package processor

import (
	"fmt"

	"github.com/mwgrin/node/chain"
	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/crypto"
	"github.com/mwgrin/node/pkg/chainerr"
	"github.com/mwgrin/node/pkg/status"
	"github.com/mwgrin/node/txhashset"
)

// TxHashSetProcessor ingests a fast-sync txhashset snapshot: a
// node that trusts a header chain up to some horizon height can skip
// downloading and replaying every block body below it by instead
// downloading the output/range-proof/kernel MMR state as of that
// height and fully revalidating it in place.
type TxHashSetProcessor struct {
	chains      *chain.Store
	headers     HeaderStore
	blocks      BlockStore
	txHashSet   *txhashset.TxHashSet
	committer   crypto.PedersenCommitter
	bpVerifier  crypto.BulletproofVerifier
	sigVerifier crypto.AggSigVerifier
	blockReward uint64
	progress    txhashset.ProgressFunc
}

// NewTxHashSetProcessor composes a TxHashSetProcessor from its
// dependencies. progress may be nil.
func NewTxHashSetProcessor(
	chains *chain.Store,
	headers HeaderStore,
	blocks BlockStore,
	txHashSet *txhashset.TxHashSet,
	committer crypto.PedersenCommitter,
	bpVerifier crypto.BulletproofVerifier,
	sigVerifier crypto.AggSigVerifier,
	blockReward uint64,
	progress txhashset.ProgressFunc,
) *TxHashSetProcessor {
	return &TxHashSetProcessor{
		chains:      chains,
		headers:     headers,
		blocks:      blocks,
		txHashSet:   txHashSet,
		committer:   committer,
		bpVerifier:  bpVerifier,
		sigVerifier: sigVerifier,
		blockReward: blockReward,
		progress:    progress,
	}
}

// ProcessTxHashSet fully validates a loaded snapshot against header —
// every internal MMR node, every root, the whole kernel-root history
// back to genesis, every range proof and kernel signature — and, only
// once all of that passes, adopts it as the node's confirmed chain
// state.
func (p *TxHashSetProcessor) ProcessTxHashSet(header *core.BlockHeader) (status.Status, error) {
	sums, err := p.txHashSet.FullValidation(header, p.headers, p.committer, p.bpVerifier, p.sigVerifier, p.blockReward, p.progress)
	if err != nil {
		return status.Invalid, chainerr.NewBadData(chainerr.BanFraudulentBlock, err.Error())
	}

	if err := p.blocks.PutBlockSums(header.Hash(), *sums); err != nil {
		return status.StoreError, chainerr.NewStore("persisting snapshot block sums", err)
	}

	if err := p.updateConfirmedChain(header); err != nil {
		return status.StoreError, chainerr.NewInternal("rebuilding confirmed chain from snapshot", err)
	}

	if err := p.txHashSet.Flush(); err != nil {
		return status.StoreError, chainerr.NewStore("flushing txhashset", err)
	}
	if err := p.chains.Flush(); err != nil {
		return status.StoreError, chainerr.NewStore("flushing chain store", err)
	}
	return status.Success, nil
}

// updateConfirmedChain walks header's ancestry back to genesis through
// the header store — already fully synced by the time a txhashset
// snapshot is accepted — and replays it onto the confirmed chain.
// Nothing below header's height needs its full block body: the
// snapshot itself is the attestation that the chain's state at that
// height is correct.
func (p *TxHashSetProcessor) updateConfirmedChain(header *core.BlockHeader) error {
	var ancestry []*core.BlockHeader
	current := header
	for {
		ancestry = append(ancestry, current)
		if current.Height == 0 {
			break
		}
		prev, found, err := p.headers.GetHeader(current.PreviousHash)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("missing ancestor header at height %d", current.Height-1)
		}
		current = prev
	}

	for i, j := 0, len(ancestry)-1; i < j; i, j = i+1, j-1 {
		ancestry[i], ancestry[j] = ancestry[j], ancestry[i]
	}

	confirmed := p.chains.Chain(chain.Confirmed)
	for _, h := range ancestry {
		idx := p.chains.Pool.GetOrCreate(h.Hash(), h.Height, h.PreviousHash)
		if idxAt, ok := confirmed.GetByHeight(h.Height); ok && idxAt.Hash == idx.Hash {
			continue
		}
		if err := confirmed.Add(idx); err != nil {
			return err
		}
	}

	for _, t := range []chain.Type{chain.Sync, chain.Candidate} {
		c := p.chains.Chain(t)
		if tip, ok := c.Tip(); !ok || tip.Height < header.Height {
			for _, h := range ancestry {
				idx, _ := p.chains.Pool.Get(h.Hash())
				if idxAt, ok := c.GetByHeight(h.Height); ok && idxAt.Hash == idx.Hash {
					continue
				}
				if err := c.Add(idx); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
