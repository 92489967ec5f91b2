package processor

import (
	"fmt"

	"github.com/mwgrin/node/chain"
	"github.com/mwgrin/node/consensus"
	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/crypto"
	"github.com/mwgrin/node/mempool"
	"github.com/mwgrin/node/orphan"
	"github.com/mwgrin/node/pkg/chainerr"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pkg/status"
	"github.com/mwgrin/node/txhashset"
)

// blockStatusKind is DetermineBlockStatus's private classification of
// how a block relates to the chains currently tracked; it never
// escapes this package (status.Status, the public return type, has no
// REORG value of its own — a successful reorg is just status.Success).
type blockStatusKind int

const (
	blockStatusNext blockStatusKind = iota
	blockStatusOrphan
	blockStatusReorg
)

// BlockProcessor validates and accepts full block bodies: extending
// the confirmed chain directly, triggering a reorg when a heavier
// fork completes, or caching the block as an orphan when its parent
// hasn't been seen yet.
type BlockProcessor struct {
	chains        *chain.Store
	headers       HeaderStore
	blocks        BlockStore
	positions     txhashset.PositionIndex
	txHashSet     *txhashset.TxHashSet
	headerProc    *HeaderProcessor
	orphanBlocks  *orphan.BlockPool
	mempool       *mempool.Pool
	committer     crypto.PedersenCommitter
	blockReward   uint64
}

// NewBlockProcessor composes a BlockProcessor from its dependencies.
func NewBlockProcessor(
	chains *chain.Store,
	headers HeaderStore,
	blocks BlockStore,
	positions txhashset.PositionIndex,
	txHashSet *txhashset.TxHashSet,
	headerProc *HeaderProcessor,
	orphanBlocks *orphan.BlockPool,
	pool *mempool.Pool,
	committer crypto.PedersenCommitter,
	blockReward uint64,
) *BlockProcessor {
	return &BlockProcessor{
		chains:       chains,
		headers:      headers,
		blocks:       blocks,
		positions:    positions,
		txHashSet:    txHashSet,
		headerProc:   headerProc,
		orphanBlocks: orphanBlocks,
		mempool:      pool,
		committer:    committer,
		blockReward:  blockReward,
	}
}

// ProcessBlock is the entry point for a block received from a peer or
// produced locally by mining: it enforces the cut-through horizon,
// feeds the header through HeaderProcessor so the candidate chain
// always knows about this block's header even if the body can't be
// validated yet, checks the block's self-consistency, and dispatches
// to the next/orphan/reorg path.
func (p *BlockProcessor) ProcessBlock(block *core.FullBlock) (status.Status, error) {
	candidateHeight := p.chains.Chain(chain.Candidate).HeightOrZero()
	if !consensus.WithinCutThroughHorizon(block.Header.Height, candidateHeight) {
		return status.Invalid, chainerr.NewBadData(chainerr.BanBadCutThrough, "block height is beyond the cut-through horizon")
	}

	headerStatus, err := p.headerProc.ProcessSingleHeader(&block.Header)
	if headerStatus != status.Success && headerStatus != status.AlreadyExists && headerStatus != status.Orphaned {
		return headerStatus, err
	}

	if err := block.SelfConsistent(); err != nil {
		return status.Invalid, chainerr.NewBadData(chainerr.BanBadBlock, err.Error())
	}

	return p.processBlockInternal(block)
}

func (p *BlockProcessor) processBlockInternal(block *core.FullBlock) (status.Status, error) {
	header := &block.Header
	blockHash := header.Hash()

	confirmedChain := p.chains.Chain(chain.Confirmed)
	if idx, ok := confirmedChain.GetByHeight(header.Height); ok && idx.Hash == blockHash {
		return status.AlreadyExists, nil
	}

	blockStatus, err := p.determineBlockStatus(block)
	if err != nil {
		return status.StoreError, err
	}

	switch blockStatus {
	case blockStatusOrphan:
		return p.processOrphanBlock(block)
	case blockStatusReorg:
		return p.handleReorg(block)
	default:
		return p.processNextBlock(block)
	}
}

// determineBlockStatus classifies block against the candidate and
// confirmed chains: it's the next block if the candidate chain agrees
// with its header and the confirmed chain is exactly caught up to its
// parent; a reorg if candidate agrees but confirmed has drifted onto a
// different branch (and every intervening block body is already in
// hand, locally or in the orphan pool); an orphan otherwise.
func (p *BlockProcessor) determineBlockStatus(block *core.FullBlock) (blockStatusKind, error) {
	header := &block.Header
	candidateChain := p.chains.Chain(chain.Candidate)

	idx, ok := candidateChain.GetByHeight(header.Height)
	if !ok || idx.Hash != header.Hash() {
		return blockStatusOrphan, nil
	}

	confirmedChain := p.chains.Chain(chain.Confirmed)
	if header.Height == 0 {
		return blockStatusNext, nil
	}

	prevConfirmed, ok := confirmedChain.GetByHeight(header.Height - 1)
	if !ok {
		return blockStatusOrphan, nil
	}

	if prevConfirmed.Hash != header.PreviousHash {
		commonHeight, found := p.chains.FindCommonIndex(chain.Candidate, chain.Confirmed)
		if !found {
			return blockStatusOrphan, nil
		}
		for h := commonHeight + 1; h < header.Height; h++ {
			forkIdx, ok := candidateChain.GetByHeight(h)
			if !ok {
				return blockStatusOrphan, nil
			}
			if p.orphanBlocks.Contains(h, forkIdx.Hash) {
				continue
			}
			_, found, err := p.blocks.GetBlock(forkIdx.Hash)
			if err != nil {
				return blockStatusOrphan, err
			}
			if !found {
				return blockStatusOrphan, nil
			}
		}
		return blockStatusReorg, nil
	}

	if confirmedIdx, ok := confirmedChain.GetByHeight(header.Height); ok && confirmedIdx.Hash != header.Hash() {
		return blockStatusReorg, nil
	}

	return blockStatusNext, nil
}

func (p *BlockProcessor) processNextBlock(block *core.FullBlock) (status.Status, error) {
	st, err := p.validateAndAddBlock(block)
	if st != status.Success {
		p.txHashSet.Discard()
		return st, err
	}
	if err := p.txHashSet.Flush(); err != nil {
		return status.StoreError, chainerr.NewStore("flushing txhashset", err)
	}

	idx := p.chains.Pool.GetOrCreate(block.Header.Hash(), block.Header.Height, block.Header.PreviousHash)
	if err := p.chains.Chain(chain.Confirmed).Add(idx); err != nil {
		return status.UnknownError, chainerr.NewInternal("extending confirmed chain", err)
	}
	if err := p.chains.Flush(); err != nil {
		return status.StoreError, chainerr.NewStore("flushing chain store", err)
	}
	return status.Success, nil
}

func (p *BlockProcessor) processOrphanBlock(block *core.FullBlock) (status.Status, error) {
	header := &block.Header
	if p.orphanBlocks.Contains(header.Height, header.Hash()) {
		return status.AlreadyExists, nil
	}
	p.orphanBlocks.Add(block)
	return status.Orphaned, nil
}

// handleReorg rewinds the txhashset to the fork point shared by the
// candidate and confirmed chains, replays every candidate block
// between that point and the new block (pulling bodies from the
// orphan pool or the block store), and — only if the new chain's total
// difficulty actually exceeds the current confirmed tip's — commits
// the confirmed chain's pointer onto the candidate branch. A
// successfully-validated-but-not-yet-heavier-than-confirmed branch
// still has its blocks persisted, so it need not be re-validated the
// next time a block extends it past the confirmed tip's difficulty.
func (p *BlockProcessor) handleReorg(block *core.FullBlock) (status.Status, error) {
	commonHeight, found := p.chains.FindCommonIndex(chain.Candidate, chain.Confirmed)
	if !found {
		return status.StoreError, chainerr.NewInternal("no common ancestor between candidate and confirmed chains", nil)
	}

	candidateChain := p.chains.Chain(chain.Candidate)
	confirmedChain := p.chains.Chain(chain.Confirmed)

	commonIdx, ok := candidateChain.GetByHeight(commonHeight)
	if !ok {
		return status.StoreError, chainerr.NewInternal("missing common ancestor on candidate chain", nil)
	}
	commonHeader, found, err := p.headers.GetHeader(commonIdx.Hash)
	if err != nil {
		return status.StoreError, chainerr.NewStore("reading common ancestor header", err)
	}
	if !found {
		return status.StoreError, chainerr.NewInternal("missing common ancestor header", nil)
	}

	confirmedTip, ok := confirmedChain.Tip()
	if !ok {
		return status.StoreError, chainerr.NewInternal("confirmed chain has no tip", nil)
	}

	var blocksSinceTarget []hash.Hash
	for h := commonHeight + 1; h <= confirmedTip.Height; h++ {
		idx, ok := confirmedChain.GetByHeight(h)
		if !ok {
			return status.StoreError, chainerr.NewInternal(fmt.Sprintf("confirmed chain missing height %d", h), nil)
		}
		blocksSinceTarget = append(blocksSinceTarget, idx.Hash)
	}

	if err := p.txHashSet.Rewind(commonHeader, blocksSinceTarget); err != nil {
		p.txHashSet.Discard()
		return status.UnknownError, chainerr.NewInternal("rewinding txhashset to fork point", err)
	}

	for h := commonHeight + 1; h < block.Header.Height; h++ {
		idx, ok := candidateChain.GetByHeight(h)
		if !ok {
			p.txHashSet.Discard()
			return status.Invalid, chainerr.NewInternal("missing candidate index during reorg replay", nil)
		}
		forkBlock, ok := p.orphanBlocks.GetByHash(idx.Hash)
		if !ok {
			stored, found, err := p.blocks.GetBlock(idx.Hash)
			if err != nil {
				p.txHashSet.Discard()
				return status.StoreError, chainerr.NewStore("reading fork block body", err)
			}
			if !found {
				p.txHashSet.Discard()
				return status.Invalid, chainerr.NewInternal("missing fork block body during reorg replay", nil)
			}
			forkBlock = stored
		}
		if st, err := p.validateAndAddBlock(forkBlock); st != status.Success {
			p.txHashSet.Discard()
			return status.Invalid, err
		}
	}

	if st, err := p.validateAndAddBlock(block); st != status.Success {
		p.txHashSet.Discard()
		return status.Invalid, err
	}

	confirmedHeadHeader, found, err := p.headers.GetHeader(confirmedTip.Hash)
	if err != nil {
		return status.StoreError, chainerr.NewStore("reading confirmed tip header", err)
	}
	var currentDifficulty uint64
	if found {
		currentDifficulty = confirmedHeadHeader.ProofOfWork.TotalDifficulty
	}

	if block.Header.ProofOfWork.TotalDifficulty > currentDifficulty {
		if err := p.txHashSet.Flush(); err != nil {
			return status.StoreError, chainerr.NewStore("flushing txhashset", err)
		}
		if err := p.chains.Reorg(chain.Candidate, chain.Confirmed, block.Header.Height); err != nil {
			return status.StoreError, chainerr.NewInternal("reorging confirmed chain onto candidate", err)
		}
		if err := p.chains.Flush(); err != nil {
			return status.StoreError, chainerr.NewStore("flushing chain store", err)
		}
		return status.Success, nil
	}

	// The replayed fork never overtook the confirmed chain's existing
	// work: the block bodies and sums validateAndAddBlock just
	// persisted stay on disk, but the txhashset's in-memory state and
	// PMMR growth along this fork must not be committed, since
	// chain.Confirmed's tip still describes the old branch.
	p.txHashSet.Discard()
	return status.Success, nil
}

// validateAndAddBlock applies a block's effects to the txhashset,
// checks its declared roots, verifies coinbase maturity and the
// kernel-sum identity against the previous block's cumulative sums,
// and persists the block body and its own resulting sums. It does not
// flush or discard the txhashset itself — the caller decides that once
// it knows whether the whole sequence (a single block, or a run of
// reorg replay blocks) succeeded.
func (p *BlockProcessor) validateAndAddBlock(block *core.FullBlock) (status.Status, error) {
	header := &block.Header

	previousHeader, found, err := p.headers.GetHeader(header.PreviousHash)
	if err != nil {
		return status.StoreError, chainerr.NewStore("reading previous header", err)
	}
	if !found {
		return status.StoreError, chainerr.NewInternal("missing previous header", nil)
	}

	if err := p.validateCoinbaseMaturity(block); err != nil {
		return status.Invalid, chainerr.NewBadData(chainerr.BanBadCoinbase, err.Error())
	}

	if err := p.txHashSet.ApplyBlock(block); err != nil {
		return status.Invalid, chainerr.NewBadData(chainerr.BanBadBlock, err.Error())
	}
	if err := p.txHashSet.ValidateRoots(header); err != nil {
		return status.Invalid, chainerr.NewBadData(chainerr.BanFraudulentBlock, err.Error())
	}

	previousSums, found, err := p.blocks.GetBlockSums(previousHeader.Hash())
	if err != nil {
		return status.StoreError, chainerr.NewStore("reading previous block sums", err)
	}
	if !found && previousHeader.Height != 0 {
		return status.StoreError, chainerr.NewInternal("missing previous block sums", nil)
	}

	sums, err := p.validateKernelSums(block, previousSums)
	if err != nil {
		return status.Invalid, chainerr.NewBadData(chainerr.BanBadKernel, err.Error())
	}

	if err := p.blocks.PutBlockSums(header.Hash(), sums); err != nil {
		return status.StoreError, chainerr.NewStore("persisting block sums", err)
	}
	if err := p.blocks.PutBlock(block); err != nil {
		return status.StoreError, chainerr.NewStore("persisting block", err)
	}

	p.orphanBlocks.Remove(header.Height, header.Hash())
	p.mempool.ReconcileBlock(block)

	return status.Success, nil
}

// validateCoinbaseMaturity checks, before the txhashset spends
// anything, that every input claiming to spend a coinbase output
// actually does so at or past its maturity height. This must run
// before ApplyBlock: once an input is spent its output location entry
// is deleted, losing the mint height this check needs.
func (p *BlockProcessor) validateCoinbaseMaturity(block *core.FullBlock) error {
	for _, in := range block.Inputs {
		if !in.Features.IsCoinbase() {
			continue
		}
		loc, found, err := p.positions.GetOutputLocation(in.Commitment)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("coinbase input spends unknown output %s", in.Commitment)
		}
		if !consensus.IsMature(loc.Height, block.Header.Height) {
			return fmt.Errorf("coinbase input %s spent before reaching maturity", in.Commitment)
		}
	}
	return nil
}

// validateKernelSums checks that this block's own inputs, outputs,
// and kernels balance against the previous block's cumulative sums:
// the new output sum must equal the old output sum plus this block's
// net output delta, the new kernel sum likewise, and the whole thing
// must net to zero once the block reward, fees, and kernel offset are
// subtracted out.
func (p *BlockProcessor) validateKernelSums(block *core.FullBlock, previousSums core.BlockSums) (core.BlockSums, error) {
	var outputCommitments, inputCommitments, kernelExcesses []core.Commitment
	var feeSum uint64

	for _, o := range block.Outputs {
		outputCommitments = append(outputCommitments, o.Commitment)
	}
	for _, in := range block.Inputs {
		inputCommitments = append(inputCommitments, in.Commitment)
	}
	for _, k := range block.Kernels {
		kernelExcesses = append(kernelExcesses, k.Excess)
		feeSum += k.Fee
	}

	outputDelta, err := p.committer.CommitSum(outputCommitments, inputCommitments)
	if err != nil {
		return core.BlockSums{}, err
	}
	newOutputSum, err := p.committer.CommitSum([]core.Commitment{previousSums.OutputSum, outputDelta}, nil)
	if err != nil {
		return core.BlockSums{}, err
	}

	kernelDelta, err := p.committer.CommitSum(kernelExcesses, nil)
	if err != nil {
		return core.BlockSums{}, err
	}
	newKernelSum, err := p.committer.CommitSum([]core.Commitment{previousSums.KernelSum, kernelDelta}, nil)
	if err != nil {
		return core.BlockSums{}, err
	}

	rewardCommit, err := p.committer.Commit(feeSum+p.blockReward, [32]byte{})
	if err != nil {
		return core.BlockSums{}, err
	}
	offsetCommit, err := p.committer.Commit(0, block.KernelOffset)
	if err != nil {
		return core.BlockSums{}, err
	}

	identity, err := p.committer.CommitSum(
		[]core.Commitment{outputDelta},
		[]core.Commitment{kernelDelta, rewardCommit, offsetCommit},
	)
	if err != nil {
		return core.BlockSums{}, err
	}
	if identity != (core.Commitment{}) {
		return core.BlockSums{}, fmt.Errorf("kernel-sum identity does not balance for block at height %d", block.Header.Height)
	}

	return core.BlockSums{OutputSum: newOutputSum, KernelSum: newKernelSum}, nil
}
