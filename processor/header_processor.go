package processor

import (
	"time"

	"github.com/mwgrin/node/chain"
	"github.com/mwgrin/node/consensus"
	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/crypto"
	"github.com/mwgrin/node/headermmr"
	"github.com/mwgrin/node/orphan"
	"github.com/mwgrin/node/pkg/chainerr"
	"github.com/mwgrin/node/pkg/status"
)

// SyncBatchSize is how many headers ProcessSyncHeaders validates and
// commits to the header MMR per internal batch.
const SyncBatchSize = 32

// maxFutureBlockTime bounds how far ahead of wall-clock a header's
// timestamp may be before it's rejected as bad data, rather than
// merely held back.
const maxFutureBlockTime = 12 * consensus.BlockTimeSec

// HeaderProcessor validates and accepts new block headers: a single
// header extending the candidate tip directly, a batch of headers
// arriving during sync, or a header that forks off the candidate
// chain and must walk back to find where the fork began.
type HeaderProcessor struct {
	chains    *chain.Store
	headers   HeaderStore
	headerMMR *headermmr.HeaderMMR
	orphans   *orphan.HeaderCache
	pow       crypto.PoWVerifier
}

// NewHeaderProcessor composes a HeaderProcessor from its dependencies.
func NewHeaderProcessor(chains *chain.Store, headers HeaderStore, headerMMR *headermmr.HeaderMMR, orphans *orphan.HeaderCache, pow crypto.PoWVerifier) *HeaderProcessor {
	return &HeaderProcessor{chains: chains, headers: headers, headerMMR: headerMMR, orphans: orphans, pow: pow}
}

// ProcessSingleHeader validates and, if it extends the candidate tip
// directly, commits a single header. A header that instead forks off
// the candidate chain is routed through handleFork; one whose parent
// isn't known at all is cached as an orphan.
func (p *HeaderProcessor) ProcessSingleHeader(header *core.BlockHeader) (status.Status, error) {
	headerHash := header.Hash()
	candidateChain := p.chains.Chain(chain.Candidate)

	if idx, ok := candidateChain.GetByHeight(header.Height); ok && idx.Hash == headerHash {
		return status.AlreadyExists, nil
	}

	tip, ok := candidateChain.Tip()
	if !ok {
		return status.UnknownError, chainerr.NewInternal("candidate chain has no tip", nil)
	}

	if tip.Hash != header.PreviousHash {
		return p.handleFork(header, tip)
	}

	previousHeader, found, err := p.headers.GetHeader(tip.Hash)
	if err != nil {
		return status.StoreError, chainerr.NewStore("reading previous header", err)
	}
	if !found {
		return status.UnknownError, chainerr.NewInternal("candidate tip header missing from store", nil)
	}

	if err := p.validateHeader(header, previousHeader); err != nil {
		if _, ok := chainerr.AsBadData(err); ok {
			return status.Invalid, err
		}
		return status.UnknownError, err
	}

	if err := p.headers.PutHeader(header); err != nil {
		return status.StoreError, chainerr.NewStore("persisting header", err)
	}
	if _, err := p.headerMMR.Append(headerHash); err != nil {
		return status.StoreError, chainerr.NewStore("appending header MMR leaf", err)
	}
	if err := p.headerMMR.Flush(); err != nil {
		return status.StoreError, chainerr.NewStore("flushing header MMR", err)
	}

	idx := p.chains.Pool.GetOrCreate(headerHash, header.Height, tip.Hash)
	if err := p.chains.Chain(chain.Sync).Add(idx); err != nil {
		return status.UnknownError, chainerr.NewInternal("extending sync chain", err)
	}
	if err := candidateChain.Add(idx); err != nil {
		return status.UnknownError, chainerr.NewInternal("extending candidate chain", err)
	}
	if err := p.chains.Flush(); err != nil {
		return status.StoreError, chainerr.NewStore("flushing chain store", err)
	}

	p.orphans.Remove(headerHash)
	return status.Success, nil
}

// handleFork is reached when a received header's previous hash does
// not match the candidate tip. If the new header carries more total
// difficulty than the candidate tip, it walks backward (through the
// orphan cache, then the header store) looking for the point where
// the fork rejoins the candidate chain; if found, the whole run of
// headers since that point is committed as a reorg. Otherwise — a
// lighter fork, or one whose ancestry can't be traced — the header is
// cached as an orphan.
func (p *HeaderProcessor) handleFork(header *core.BlockHeader, candidateTip *chain.BlockIndex) (status.Status, error) {
	candidateTipHeader, found, err := p.headers.GetHeader(candidateTip.Hash)
	if err != nil {
		return status.StoreError, chainerr.NewStore("reading candidate tip header", err)
	}
	if !found {
		return status.UnknownError, chainerr.NewInternal("candidate tip header missing from store", nil)
	}

	if header.ProofOfWork.TotalDifficulty > candidateTipHeader.ProofOfWork.TotalDifficulty {
		var collected []*core.BlockHeader
		current := header
		candidateChain := p.chains.Chain(chain.Candidate)

		for current != nil {
			collected = append(collected, current)

			if idx, ok := candidateChain.GetByHeight(current.Height); ok && idx.Hash == current.Hash() {
				reversed := make([]*core.BlockHeader, len(collected))
				for i, h := range collected {
					reversed[len(collected)-1-i] = h
				}
				return p.processChunkedSyncHeaders(reversed)
			}

			if next, ok := p.orphans.Get(current.PreviousHash); ok {
				current = next
				continue
			}
			next, found, err := p.headers.GetHeader(current.PreviousHash)
			if err != nil {
				return status.StoreError, chainerr.NewStore("walking fork ancestry", err)
			}
			if !found {
				current = nil
				continue
			}
			current = next
		}
	}

	p.orphans.Add(header)
	return status.Orphaned, nil
}

// ProcessSyncHeaders validates and commits a run of headers received
// during header sync, chunked into batches of SyncBatchSize so a bad
// header partway through a large batch only rolls back its own chunk.
func (p *HeaderProcessor) ProcessSyncHeaders(headers []*core.BlockHeader) (status.Status, error) {
	if len(headers) == 0 {
		return status.Success, nil
	}
	if headers[0].Height == 0 {
		return status.Invalid, chainerr.NewBadData(chainerr.BanBadBlockHeader, "received a header claiming height 0")
	}

	for start := 0; start < len(headers); start += SyncBatchSize {
		end := start + SyncBatchSize
		if end > len(headers) {
			end = len(headers)
		}
		st, err := p.processChunkedSyncHeaders(headers[start:end])
		if st != status.Success && st != status.AlreadyExists {
			return st, err
		}
	}
	return status.Success, nil
}

func (p *HeaderProcessor) processChunkedSyncHeaders(headers []*core.BlockHeader) (status.Status, error) {
	if len(headers) == 0 {
		return status.Success, nil
	}

	syncChain := p.chains.Chain(chain.Sync)

	var newHeaders []*core.BlockHeader
	for _, h := range headers {
		if idx, ok := syncChain.GetByHeight(h.Height); ok && idx.Hash == h.Hash() {
			continue
		}
		newHeaders = append(newHeaders, h)
	}
	if len(newHeaders) == 0 {
		return status.AlreadyExists, nil
	}

	first := newHeaders[0]
	if first.Height == 0 {
		return status.Invalid, chainerr.NewBadData(chainerr.BanBadBlockHeader, "received a header claiming height 0")
	}

	prevIdx, ok := syncChain.GetByHeight(first.Height - 1)
	if !ok || prevIdx.Hash != first.PreviousHash {
		return status.UnknownError, chainerr.NewInternal("sync chain is missing this batch's ancestor; still syncing", nil)
	}

	if err := p.headerMMR.Rewind(headermmr.SizeAtHeight(first.Height - 1)); err != nil {
		return status.StoreError, chainerr.NewStore("rewinding header MMR for batch", err)
	}

	previousHeader, found, err := p.headers.GetHeader(prevIdx.Hash)
	if err != nil {
		p.headerMMR.Discard()
		return status.StoreError, chainerr.NewStore("reading batch ancestor header", err)
	}
	if !found {
		p.headerMMR.Discard()
		return status.UnknownError, chainerr.NewInternal("batch ancestor header missing from store", nil)
	}

	for _, h := range newHeaders {
		if err := p.validateHeader(h, previousHeader); err != nil {
			p.headerMMR.Discard()
			if _, ok := chainerr.AsBadData(err); ok {
				return status.Invalid, err
			}
			return status.UnknownError, err
		}
		if _, err := p.headerMMR.Append(h.Hash()); err != nil {
			p.headerMMR.Discard()
			return status.StoreError, chainerr.NewStore("appending header MMR leaf", err)
		}
		if err := p.headers.PutHeader(h); err != nil {
			p.headerMMR.Discard()
			return status.StoreError, chainerr.NewStore("persisting header", err)
		}
		previousHeader = h
	}

	addStatus, err := p.addSyncHeaders(newHeaders)
	if addStatus != status.Success {
		p.headerMMR.Discard()
		return addStatus, err
	}

	accepted, err := p.checkAndAcceptSyncChain()
	if err != nil {
		p.headerMMR.Discard()
		return status.UnknownError, err
	}
	if !accepted {
		// The candidate chain still carries more work than the sync
		// chain just accumulated: keep the extended sync chain in
		// memory (it may yet overtake candidate once more headers
		// arrive) but don't durably commit this batch's header MMR
		// growth until it does.
		p.headerMMR.Discard()
		return status.Success, nil
	}

	if err := p.headerMMR.Flush(); err != nil {
		return status.StoreError, chainerr.NewStore("flushing header MMR", err)
	}
	if err := p.chains.Flush(); err != nil {
		return status.StoreError, chainerr.NewStore("flushing chain store", err)
	}
	return status.Success, nil
}

func (p *HeaderProcessor) addSyncHeaders(headers []*core.BlockHeader) (status.Status, error) {
	syncChain := p.chains.Chain(chain.Sync)
	first := headers[0]

	prevIdx, ok := syncChain.GetByHeight(first.Height - 1)
	if !ok || prevIdx.Hash != first.PreviousHash {
		return status.UnknownError, chainerr.NewInternal("sync chain fork point mismatch", nil)
	}

	if tip, ok := syncChain.Tip(); !ok || tip.Hash != first.PreviousHash {
		if err := syncChain.Rewind(first.Height - 1); err != nil {
			return status.UnknownError, chainerr.NewInternal("rewinding sync chain to fork point", err)
		}
	}

	previous := prevIdx
	for _, h := range headers {
		idx := p.chains.Pool.GetOrCreate(h.Hash(), h.Height, previous.Hash)
		if err := syncChain.Add(idx); err != nil {
			return status.UnknownError, chainerr.NewInternal("extending sync chain", err)
		}
		previous = idx
	}
	return status.Success, nil
}

// checkAndAcceptSyncChain reorgs the candidate chain onto the sync
// chain if the sync chain now carries more total difficulty, reporting
// whether it did.
func (p *HeaderProcessor) checkAndAcceptSyncChain() (bool, error) {
	syncTip, ok := p.chains.Chain(chain.Sync).Tip()
	if !ok {
		return false, nil
	}
	syncHead, found, err := p.headers.GetHeader(syncTip.Hash)
	if err != nil {
		return false, chainerr.NewStore("reading sync tip header", err)
	}
	if !found {
		return false, nil
	}

	candidateTip, ok := p.chains.Chain(chain.Candidate).Tip()
	if !ok {
		return false, nil
	}
	candidateHead, found, err := p.headers.GetHeader(candidateTip.Hash)
	if err != nil {
		return false, chainerr.NewStore("reading candidate tip header", err)
	}
	if !found {
		return false, nil
	}

	if syncHead.ProofOfWork.TotalDifficulty <= candidateHead.ProofOfWork.TotalDifficulty {
		return false, nil
	}

	if err := p.chains.Reorg(chain.Sync, chain.Candidate, syncTip.Height); err != nil {
		return false, chainerr.NewInternal("reorging candidate chain onto sync chain", err)
	}
	return true, nil
}

// validateHeader checks every context-free and previous-header-context
// rule a header must satisfy: height and timestamp continuity, the
// header-version schedule, proof-of-work against the preceding
// difficulty window, and the declared previous-root against the
// header MMR's actual root as of the parent.
func (p *HeaderProcessor) validateHeader(header, previous *core.BlockHeader) error {
	if header.Height != previous.Height+1 {
		return chainerr.NewBadData(chainerr.BanBadBlockHeader, "header height does not follow its claimed parent")
	}
	if header.Timestamp <= previous.Timestamp {
		return chainerr.NewBadData(chainerr.BanBadBlockHeader, "header timestamp does not advance past its parent")
	}
	if header.Timestamp > time.Now().Unix()+maxFutureBlockTime {
		return chainerr.NewBadData(chainerr.BanBadBlockHeader, "header timestamp too far in the future")
	}
	if header.Version != consensus.HeaderVersion(header.Height) {
		return chainerr.NewBadData(chainerr.BanBadBlockHeader, "header version does not match the schedule for its height")
	}
	if header.ProofOfWork.TotalDifficulty <= previous.ProofOfWork.TotalDifficulty {
		return chainerr.NewBadData(chainerr.BanBadPoW, "total difficulty did not increase over the previous header")
	}

	window, err := collectDifficultyWindow(p.headers, previous.Height)
	if err != nil {
		return chainerr.NewInternal("collecting difficulty window", err)
	}
	if err := p.pow.Verify(header, window); err != nil {
		return chainerr.NewBadData(chainerr.BanBadPoW, err.Error())
	}

	previousRoot, err := p.headerMMR.RootAtHeight(previous.Height)
	if err != nil {
		return chainerr.NewInternal("computing header MMR root", err)
	}
	if previousRoot != header.PreviousRoot {
		return chainerr.NewBadData(chainerr.BanBadBlockHeader, "declared previous-root does not match the header MMR")
	}

	return nil
}

// collectDifficultyWindow gathers the trailing consensus.
// DifficultyAdjustWindow headers ending at uptoHeight, oldest first,
// deriving each one's own (non-cumulative) difficulty from the delta
// between its and its predecessor's stored total difficulty.
func collectDifficultyWindow(headers HeaderStore, uptoHeight uint64) ([]consensus.DifficultyData, error) {
	windowSize := uint64(consensus.DifficultyAdjustWindow)
	start := uint64(0)
	if uptoHeight+1 > windowSize {
		start = uptoHeight + 1 - windowSize
	}

	var prevTotal uint64
	havePrev := false
	if start > 0 {
		prior, found, err := headers.GetHeaderAtHeight(start - 1)
		if err != nil {
			return nil, err
		}
		if found {
			prevTotal = prior.ProofOfWork.TotalDifficulty
			havePrev = true
		}
	}

	var window []consensus.DifficultyData
	for h := start; h <= uptoHeight; h++ {
		header, found, err := headers.GetHeaderAtHeight(h)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		delta := header.ProofOfWork.TotalDifficulty
		if havePrev {
			delta -= prevTotal
		}
		window = append(window, consensus.DifficultyData{Timestamp: header.Timestamp, Difficulty: delta})
		prevTotal = header.ProofOfWork.TotalDifficulty
		havePrev = true
	}
	return window, nil
}
