package chain

import (
	"fmt"

	"github.com/mwgrin/node/pkg/hash"
	"github.com/mwgrin/node/pmmrfile"
)

// confirmedRecordSize is the width of one record in the flat
// height-indexed hash log the confirmed chain persists to disk. The
// sync and candidate chains have no file of their own: Load seeds both
// from the confirmed chain's log.
const confirmedRecordSize = 32

// Store owns the shared Pool and the three named chains drawn from
// it, plus the confirmed chain's durable on-disk record.
type Store struct {
	Pool   *Pool
	chains [3]*Chain

	confirmed *pmmrfile.AppendFile
}

// OpenStore opens (or creates) the confirmed chain's persisted hash
// log at path and returns a Store with empty in-memory chains; call
// Load to repopulate the confirmed chain from a header store.
func OpenStore(path string) (*Store, error) {
	file, err := pmmrfile.Open(path, confirmedRecordSize)
	if err != nil {
		return nil, fmt.Errorf("chain: opening confirmed chain log: %w", err)
	}

	pool := NewPool()
	s := &Store{Pool: pool, confirmed: file}
	for _, t := range []Type{Sync, Candidate, Confirmed} {
		s.chains[t] = NewChain(pool, t)
	}
	return s, nil
}

// Chain returns the named chain.
func (s *Store) Chain(t Type) *Chain { return s.chains[t] }

// Load replays the persisted confirmed-chain hash log through get,
// rebuilding BlockIndex entries for the confirmed chain, and seeds the
// sync and candidate chains to the same tip so all three start
// aligned.
func (s *Store) Load(get func(height uint64) (h hash.Hash, previousHash hash.Hash, found bool, err error)) error {
	size := s.confirmed.Size()
	for height := uint64(0); height < size; height++ {
		record, err := s.confirmed.ReadAt(height)
		if err != nil {
			return fmt.Errorf("chain: reading confirmed chain record at %d: %w", height, err)
		}
		h := hash.FromBytes(record)
		_, previousHash, found, err := get(height)
		if err != nil {
			return fmt.Errorf("chain: looking up header at height %d: %w", height, err)
		}
		if !found {
			return fmt.Errorf("chain: confirmed chain log references unknown header at height %d", height)
		}
		idx := s.Pool.GetOrCreate(h, height, previousHash)
		if err := s.chains[Confirmed].Add(idx); err != nil {
			return err
		}
		if err := s.chains[Sync].Add(idx); err != nil {
			return err
		}
		if err := s.chains[Candidate].Add(idx); err != nil {
			return err
		}
	}
	s.chains[Confirmed].Flush()
	s.chains[Sync].Flush()
	s.chains[Candidate].Flush()
	return nil
}

// FindCommonIndex walks both chains down from whichever has the lower
// tip height until their hashes at the same height agree, returning
// that height. found is false only when the two chains share no
// ancestor at all, which should not happen for chains sharing a
// genesis block.
func (s *Store) FindCommonIndex(a, b Type) (uint64, bool) {
	chainA, chainB := s.chains[a], s.chains[b]
	heightA, okA := chainA.Height()
	heightB, okB := chainB.Height()
	if !okA || !okB {
		return 0, false
	}
	height := heightA
	if heightB < height {
		height = heightB
	}
	for {
		idxA, okA := chainA.GetByHeight(height)
		idxB, okB := chainB.GetByHeight(height)
		if okA && okB && idxA.Hash == idxB.Hash {
			return height, true
		}
		if height == 0 {
			return 0, false
		}
		height--
	}
}

// Reorg rewinds the destination chain to the common ancestor it
// shares with source, then replays source's entries from there up to
// targetHeight onto destination.
func (s *Store) Reorg(source, destination Type, targetHeight uint64) error {
	commonHeight, found := s.FindCommonIndex(source, destination)
	if !found {
		return fmt.Errorf("chain: reorg: %s and %s share no common ancestor", source, destination)
	}

	dest := s.chains[destination]
	if destHeight, ok := dest.Height(); ok && destHeight > commonHeight {
		if err := dest.Rewind(commonHeight); err != nil {
			return fmt.Errorf("chain: reorg: rewinding %s to %d: %w", destination, commonHeight, err)
		}
	}

	src := s.chains[source]
	for height := commonHeight + 1; height <= targetHeight; height++ {
		idx, ok := src.GetByHeight(height)
		if !ok {
			return fmt.Errorf("chain: reorg: %s is missing height %d", source, height)
		}
		if err := dest.Add(idx); err != nil {
			return fmt.Errorf("chain: reorg: extending %s with height %d: %w", destination, height, err)
		}
	}
	return nil
}

// Flush rewrites the confirmed chain's hash log from the current
// working state and advances every chain's durable baseline to match.
func (s *Store) Flush() error {
	if err := s.confirmed.Rewind(0); err != nil {
		return err
	}
	if height, ok := s.chains[Confirmed].Height(); ok {
		for h := uint64(0); h <= height; h++ {
			idx, ok := s.chains[Confirmed].GetByHeight(h)
			if !ok {
				return fmt.Errorf("chain: flushing confirmed chain: missing height %d", h)
			}
			if _, err := s.confirmed.Append(idx.Hash.Bytes()); err != nil {
				return err
			}
		}
	}
	if err := s.confirmed.Flush(); err != nil {
		return fmt.Errorf("chain: flushing confirmed chain log: %w", err)
	}

	for _, t := range []Type{Sync, Candidate, Confirmed} {
		if err := s.chains[t].Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Discard reverts every chain, and the confirmed chain's on-disk log,
// to the state as of the last Flush.
func (s *Store) Discard() {
	s.confirmed.Discard()
	for _, t := range []Type{Sync, Candidate, Confirmed} {
		s.chains[t].Discard()
	}
}
