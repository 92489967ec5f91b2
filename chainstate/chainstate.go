// Package chainstate composes every other package in this module into
// the single external surface a node's networking and mining layers
// call into: add a header, add a block, submit a transaction, read
// back chain state, and drive fast sync. Every mutating call takes the
// same outer lock, serializing all state changes the way a single
// batch-write transaction would, and commits or rolls back as one
// unit by flushing or discarding every underlying store together.
package chainstate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mwgrin/node/blockdb"
	"github.com/mwgrin/node/chain"
	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/crypto"
	"github.com/mwgrin/node/headermmr"
	"github.com/mwgrin/node/mempool"
	"github.com/mwgrin/node/orphan"
	"github.com/mwgrin/node/pkg/chainerr"
	"github.com/mwgrin/node/pkg/clog"
	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pkg/status"
	"github.com/mwgrin/node/pmmr"
	"github.com/mwgrin/node/processor"
	"github.com/mwgrin/node/syncstatus"
	"github.com/mwgrin/node/txhashset"
)

// Verifiers bundles every cryptographic adapter a ChainState needs. A
// deployment wires in its real secp256k1/Bulletproof/Schnorr/Cuckoo
// implementations here; tests use the crypto package's fakes.
type Verifiers struct {
	Committer   crypto.PedersenCommitter
	Bulletproof crypto.BulletproofVerifier
	AggSig      crypto.AggSigVerifier
	PoW         crypto.PoWVerifier
}

// Config holds the values a ChainState needs beyond its storage
// directory and verifiers: the block subsidy used in kernel-sum
// checks, and an optional sync-status reporter for fast-sync progress.
type Config struct {
	BlockReward uint64
	Reporter    *syncstatus.Reporter
}

// ChainState is the node's single point of entry for mutating or
// reading chain state. Its mu serializes every mutating call; reads
// that only need a consistent snapshot (get_height and friends) don't
// need it, since the underlying chain.Chain/TxHashSet types are
// themselves safe for concurrent readers.
type ChainState struct {
	mu sync.Mutex

	log clog.Logger
	dir string

	db        *blockdb.DB
	chains    *chain.Store
	headerMMR *headermmr.HeaderMMR
	txHashSet *txhashset.TxHashSet

	orphanHeaders *orphan.HeaderCache
	orphanBlocks  *orphan.BlockPool
	mempool       *mempool.Pool

	headerProc    *processor.HeaderProcessor
	blockProc     *processor.BlockProcessor
	txHashSetProc *processor.TxHashSetProcessor

	committer crypto.PedersenCommitter
	reporter  *syncstatus.Reporter
}

// Open opens every on-disk component under dir — the header/block
// store, the header MMR, and the three body MMRs — composes them into
// the processor pipelines, and seeds the three chains from whatever
// confirmed-chain log and headers already exist on disk. A brand-new
// dir produces a ChainState with no chains at all; the caller must
// then call InitializeGenesis before anything else will accept.
func Open(dir string, log clog.Logger, verifiers Verifiers, cfg Config) (*ChainState, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chainstate: creating %s: %w", dir, err)
	}

	db, err := blockdb.Open(filepath.Join(dir, "blockdb"))
	if err != nil {
		return nil, fmt.Errorf("chainstate: opening block store: %w", err)
	}

	headerMMR, err := headermmr.Open(filepath.Join(dir, "header_mmr"))
	if err != nil {
		return nil, fmt.Errorf("chainstate: opening header MMR: %w", err)
	}

	kernels, err := pmmr.OpenKernelMMR(filepath.Join(dir, "txhashset", "kernel"))
	if err != nil {
		return nil, fmt.Errorf("chainstate: opening kernel MMR: %w", err)
	}
	outputs, err := pmmr.OpenOutputPMMR(filepath.Join(dir, "txhashset", "output"))
	if err != nil {
		return nil, fmt.Errorf("chainstate: opening output PMMR: %w", err)
	}
	rangeProofs, err := pmmr.OpenRangeProofPMMR(filepath.Join(dir, "txhashset", "rangeproof"))
	if err != nil {
		return nil, fmt.Errorf("chainstate: opening range proof PMMR: %w", err)
	}

	chains, err := chain.OpenStore(filepath.Join(dir, "confirmed_chain.dat"))
	if err != nil {
		return nil, fmt.Errorf("chainstate: opening chain store: %w", err)
	}
	if err := chains.Load(func(height uint64) (h hash.Hash, previousHash hash.Hash, found bool, err error) {
		header, found, err := db.GetHeaderAtHeight(height)
		if err != nil || !found {
			return hash.Hash{}, hash.Hash{}, found, err
		}
		return header.Hash(), header.PreviousHash, true, nil
	}); err != nil {
		return nil, fmt.Errorf("chainstate: loading chain store: %w", err)
	}

	var txHashSetHeader *core.BlockHeader
	if tip, ok := chains.Chain(chain.Confirmed).Tip(); ok {
		header, found, err := db.GetHeader(tip.Hash)
		if err != nil {
			return nil, fmt.Errorf("chainstate: reading confirmed tip header: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("chainstate: confirmed tip header %s missing from store", tip.Hash)
		}
		txHashSetHeader = header
	}
	txHashSet := txhashset.Open(kernels, outputs, rangeProofs, db, db, txHashSetHeader)

	orphanHeaders := orphan.NewHeaderCache(orphan.DefaultHeaderCacheCapacity)
	orphanBlocks := orphan.NewBlockPool(orphan.DefaultBlockPoolCapacity)
	pool := mempool.New(verifiers.Committer)

	headerProc := processor.NewHeaderProcessor(chains, db, headerMMR, orphanHeaders, verifiers.PoW)
	blockProc := processor.NewBlockProcessor(chains, db, db, db, txHashSet, headerProc, orphanBlocks, pool, verifiers.Committer, cfg.BlockReward)

	var progress txhashset.ProgressFunc
	if cfg.Reporter != nil {
		progress = cfg.Reporter.ValidationProgress
	}
	txHashSetProc := processor.NewTxHashSetProcessor(chains, db, db, txHashSet, verifiers.Committer, verifiers.Bulletproof, verifiers.AggSig, cfg.BlockReward, progress)

	return &ChainState{
		log:           log,
		dir:           dir,
		db:            db,
		chains:        chains,
		headerMMR:     headerMMR,
		txHashSet:     txHashSet,
		orphanHeaders: orphanHeaders,
		orphanBlocks:  orphanBlocks,
		mempool:       pool,
		headerProc:    headerProc,
		blockProc:     blockProc,
		txHashSetProc: txHashSetProc,
		committer:     verifiers.Committer,
		reporter:      cfg.Reporter,
	}, nil
}

// Close releases every underlying file and database handle.
func (c *ChainState) Close() error {
	return c.db.Close()
}

// InitializeGenesis seeds every chain and MMR with a genesis block
// that has not otherwise been validated — there is nothing to validate
// it against. Calling this on a ChainState that already has a
// confirmed tip returns an error.
func (c *ChainState) InitializeGenesis(genesis *core.FullBlock) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.chains.Chain(chain.Confirmed).Tip(); ok {
		return fmt.Errorf("chainstate: chain is already initialized")
	}

	header := genesis.Header
	headerHash := header.Hash()

	if err := c.db.PutHeader(&header); err != nil {
		return chainerr.NewStore("persisting genesis header", err)
	}
	if _, err := c.headerMMR.Append(headerHash); err != nil {
		return chainerr.NewStore("appending genesis to header MMR", err)
	}

	if err := c.txHashSet.ApplyBlock(genesis); err != nil {
		c.headerMMR.Discard()
		return chainerr.NewBadData(chainerr.BanBadBlock, err.Error())
	}

	var outputCommitments, kernelExcesses []core.Commitment
	for _, o := range genesis.Outputs {
		outputCommitments = append(outputCommitments, o.Commitment)
	}
	for _, k := range genesis.Kernels {
		kernelExcesses = append(kernelExcesses, k.Excess)
	}
	outputSum, err := c.committer.CommitSum(outputCommitments, nil)
	if err != nil {
		c.txHashSet.Discard()
		c.headerMMR.Discard()
		return chainerr.NewInternal("summing genesis outputs", err)
	}
	kernelSum, err := c.committer.CommitSum(kernelExcesses, nil)
	if err != nil {
		c.txHashSet.Discard()
		c.headerMMR.Discard()
		return chainerr.NewInternal("summing genesis kernels", err)
	}
	genesisSums := core.BlockSums{OutputSum: outputSum, KernelSum: kernelSum}

	if err := c.db.PutBlockSums(headerHash, genesisSums); err != nil {
		c.txHashSet.Discard()
		c.headerMMR.Discard()
		return chainerr.NewStore("persisting genesis block sums", err)
	}
	if err := c.db.PutBlock(genesis); err != nil {
		c.txHashSet.Discard()
		c.headerMMR.Discard()
		return chainerr.NewStore("persisting genesis block", err)
	}

	idx := c.chains.Pool.GetOrCreate(headerHash, 0, header.PreviousHash)
	for _, t := range []chain.Type{chain.Sync, chain.Candidate, chain.Confirmed} {
		if err := c.chains.Chain(t).Add(idx); err != nil {
			c.txHashSet.Discard()
			c.headerMMR.Discard()
			return chainerr.NewInternal("seeding chains with genesis", err)
		}
	}

	if err := c.txHashSet.Flush(); err != nil {
		return chainerr.NewStore("flushing genesis txhashset", err)
	}
	if err := c.headerMMR.Flush(); err != nil {
		return chainerr.NewStore("flushing genesis header MMR", err)
	}
	if err := c.chains.Flush(); err != nil {
		return chainerr.NewStore("flushing genesis chain store", err)
	}
	return nil
}

// GetHeight returns the confirmed chain's tip height.
func (c *ChainState) GetHeight() (uint64, bool) {
	return c.chains.Chain(chain.Confirmed).Height()
}

// GetTotalDifficulty returns the confirmed tip's cumulative proof of
// work.
func (c *ChainState) GetTotalDifficulty() (uint64, error) {
	tip, ok := c.chains.Chain(chain.Confirmed).Tip()
	if !ok {
		return 0, fmt.Errorf("chainstate: chain is not yet initialized")
	}
	header, found, err := c.db.GetHeader(tip.Hash)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("chainstate: missing header for confirmed tip")
	}
	return header.ProofOfWork.TotalDifficulty, nil
}

// AddHeader submits a single header.
func (c *ChainState) AddHeader(header *core.BlockHeader) (status.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerProc.ProcessSingleHeader(header)
}

// AddHeaders submits a run of headers received during sync.
func (c *ChainState) AddHeaders(headers []*core.BlockHeader) (status.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerProc.ProcessSyncHeaders(headers)
}

// AddBlock submits a full block body.
func (c *ChainState) AddBlock(block *core.FullBlock) (status.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockProc.ProcessBlock(block)
}

// AddCompactBlock attempts to reconstruct a full block from a compact
// block's coinbase parts plus transactions already held in the
// mempool. If any non-coinbase kernel's short-id can't be resolved
// locally, it returns TransactionsMissing without mutating any state,
// so the caller knows to request the full block instead.
func (c *ChainState) AddCompactBlock(cb *core.CompactBlock) (status.Status, error) {
	matched, missing := c.mempool.RetrieveTransactions(cb.Header.Hash(), cb.Nonce, cb.KernelShortIDs)
	if len(missing) > 0 {
		return status.TransactionsMissing, nil
	}

	block := &core.FullBlock{
		Header:  cb.Header,
		Outputs: append([]core.TransactionOutput(nil), cb.CoinbaseOutputs...),
		Kernels: append([]core.TransactionKernel(nil), cb.CoinbaseKernels...),
	}
	for _, tx := range matched {
		block.Inputs = append(block.Inputs, tx.Inputs...)
		block.Outputs = append(block.Outputs, tx.Outputs...)
		block.Kernels = append(block.Kernels, tx.Kernels...)
	}
	reduced := (&core.Transaction{Inputs: block.Inputs, Outputs: block.Outputs, Kernels: block.Kernels}).CutThrough()
	block.Inputs, block.Outputs, block.Kernels = reduced.Inputs, reduced.Outputs, reduced.Kernels

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockProc.ProcessBlock(block)
}

// AddTransaction submits an unconfirmed transaction to the named
// mempool.
func (c *ChainState) AddTransaction(tx core.Transaction, poolType mempool.PoolType) (status.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mempool.AddTransaction(tx, poolType)
}

// ProcessTxHashSet ingests a fast-sync txhashset snapshot claiming to
// represent the state as of header.
func (c *ChainState) ProcessTxHashSet(header *core.BlockHeader) (status.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txHashSetProc.ProcessTxHashSet(header)
}

// GetBlockHeaderByHash looks up a header by its hash.
func (c *ChainState) GetBlockHeaderByHash(h hash.Hash) (*core.BlockHeader, bool, error) {
	return c.db.GetHeader(h)
}

// GetBlockHeaderByHeight looks up the confirmed chain's header at
// height.
func (c *ChainState) GetBlockHeaderByHeight(height uint64) (*core.BlockHeader, bool, error) {
	idx, ok := c.chains.Chain(chain.Confirmed).GetByHeight(height)
	if !ok {
		return nil, false, nil
	}
	return c.db.GetHeader(idx.Hash)
}

// GetBlockByHash looks up a full block body by its header's hash.
func (c *ChainState) GetBlockByHash(h hash.Hash) (*core.FullBlock, bool, error) {
	return c.db.GetBlock(h)
}

// GetBlockByHeight looks up the confirmed chain's full block body at
// height.
func (c *ChainState) GetBlockByHeight(height uint64) (*core.FullBlock, bool, error) {
	idx, ok := c.chains.Chain(chain.Confirmed).GetByHeight(height)
	if !ok {
		return nil, false, nil
	}
	return c.db.GetBlock(idx.Hash)
}

// GetBlocksNeeded returns up to maxCount hashes the node should
// request next to catch its confirmed chain up to the candidate
// chain's tip: the lowest confirmed-chain gap first.
func (c *ChainState) GetBlocksNeeded(maxCount int) ([]hash.Hash, error) {
	confirmed := c.chains.Chain(chain.Confirmed)
	candidate := c.chains.Chain(chain.Candidate)

	candidateHeight, ok := candidate.Height()
	if !ok {
		return nil, nil
	}
	start := uint64(0)
	if height, ok := confirmed.Height(); ok {
		start = height + 1
	}

	var needed []hash.Hash
	for h := start; h <= candidateHeight && len(needed) < maxCount; h++ {
		idx, ok := candidate.GetByHeight(h)
		if !ok {
			break
		}
		if c.orphanBlocks.Contains(h, idx.Hash) {
			continue
		}
		if _, found, err := c.db.GetBlock(idx.Hash); err != nil {
			return nil, err
		} else if found {
			continue
		}
		needed = append(needed, idx.Hash)
	}
	return needed, nil
}

// SnapshotTxHashSet returns the header the txhashset currently
// reflects along with its MMR sizes, the information a fast-sync peer
// needs to know which archive to serve. Extracting the archive bytes
// themselves is the snapshot package's job.
func (c *ChainState) SnapshotTxHashSet() *core.BlockHeader {
	return c.txHashSet.Header()
}

// ResyncChain is the heavyweight recovery path for a node that
// suspects its chain bookkeeping has drifted from the header record it
// actually holds: it rewinds the confirmed chain (and the txhashset
// that tracks it) all the way back to genesis, rebuilds the header MMR
// from scratch by replaying the candidate chain's own headers, and
// trims the sync chain down to the candidate chain's height if it had
// run ahead. Nothing below the candidate chain's headers is
// re-validated by this call alone — the caller is expected to resubmit
// blocks from height 1 onward afterward to rebuild confirmed state.
func (c *ChainState) ResyncChain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	confirmed := c.chains.Chain(chain.Confirmed)
	candidate := c.chains.Chain(chain.Candidate)
	syncChain := c.chains.Chain(chain.Sync)

	if confirmedHeight, ok := confirmed.Height(); ok && confirmedHeight > 0 {
		var blocksSinceGenesis []hash.Hash
		for h := uint64(1); h <= confirmedHeight; h++ {
			idx, ok := confirmed.GetByHeight(h)
			if !ok {
				return fmt.Errorf("chainstate: confirmed chain missing height %d during resync", h)
			}
			blocksSinceGenesis = append(blocksSinceGenesis, idx.Hash)
		}
		genesisHeader, found, err := c.db.GetHeaderAtHeight(0)
		if err != nil {
			return fmt.Errorf("chainstate: reading genesis header during resync: %w", err)
		}
		if !found {
			return fmt.Errorf("chainstate: no genesis header on record, cannot resync")
		}
		if err := c.txHashSet.Rewind(genesisHeader, blocksSinceGenesis); err != nil {
			c.txHashSet.Discard()
			return fmt.Errorf("chainstate: rewinding txhashset to genesis during resync: %w", err)
		}
		if err := confirmed.Rewind(0); err != nil {
			c.txHashSet.Discard()
			return fmt.Errorf("chainstate: rewinding confirmed chain to genesis: %w", err)
		}
	}

	if err := c.headerMMR.Rewind(0); err != nil {
		c.txHashSet.Discard()
		return fmt.Errorf("chainstate: rewinding header MMR during resync: %w", err)
	}
	if candidateHeight, ok := candidate.Height(); ok {
		for h := uint64(0); h <= candidateHeight; h++ {
			idx, ok := candidate.GetByHeight(h)
			if !ok {
				c.headerMMR.Discard()
				c.txHashSet.Discard()
				return fmt.Errorf("chainstate: candidate chain missing height %d during resync", h)
			}
			header, found, err := c.db.GetHeader(idx.Hash)
			if err != nil {
				c.headerMMR.Discard()
				c.txHashSet.Discard()
				return fmt.Errorf("chainstate: reading candidate header during resync: %w", err)
			}
			if !found {
				c.headerMMR.Discard()
				c.txHashSet.Discard()
				return fmt.Errorf("chainstate: candidate header %s missing from store", idx.Hash)
			}
			if _, err := c.headerMMR.Append(header.Hash()); err != nil {
				c.headerMMR.Discard()
				c.txHashSet.Discard()
				return fmt.Errorf("chainstate: rebuilding header MMR during resync: %w", err)
			}
		}

		if syncHeight, ok := syncChain.Height(); ok && syncHeight > candidateHeight {
			if err := syncChain.Rewind(candidateHeight); err != nil {
				c.headerMMR.Discard()
				c.txHashSet.Discard()
				return fmt.Errorf("chainstate: trimming sync chain to candidate height: %w", err)
			}
		}
	}

	if err := c.headerMMR.Flush(); err != nil {
		return fmt.Errorf("chainstate: flushing header MMR after resync: %w", err)
	}
	if err := c.txHashSet.Flush(); err != nil {
		return fmt.Errorf("chainstate: flushing txhashset after resync: %w", err)
	}
	return c.chains.Flush()
}
