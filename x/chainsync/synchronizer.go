// Package chainsync replays on-chain block-proposal history into the local
// mirror. The coordinator must be caught up before it resumes proposer or
// challenger duty, and must re-sync whenever a subscription gap is possible.
package chainsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/optimist-network/coordinator/x/chain"
	"github.com/optimist-network/coordinator/x/mirror"
	"github.com/optimist-network/coordinator/x/txpool"
)

// ErrConsistency indicates a fetched block that does not validate against
// the mirror. The local view and the chain disagree about canonical history;
// this halts automated processing and is surfaced to the operator.
var ErrConsistency = errors.New("chainsync: mirror does not match canonical history")

// Synchronizer drives the replay loop.
type Synchronizer struct {
	log    zerolog.Logger
	reader chain.Reader
	mirror *mirror.Mirror
	pool   *txpool.Pool

	mu      sync.Mutex // serializes Sync runs
	ready   atomic.Bool
	faulted atomic.Bool
}

// New creates a Synchronizer over the given mirror and pool.
func New(logger zerolog.Logger, reader chain.Reader, m *mirror.Mirror, pool *txpool.Pool) *Synchronizer {
	return &Synchronizer{
		log:    logger.With().Str("component", "chainsync").Logger(),
		reader: reader,
		mirror: m,
		pool:   pool,
	}
}

// Ready reports whether the mirror matched the authoritative block count at
// the end of the last Sync, with no consistency fault since.
func (s *Synchronizer) Ready() bool {
	return s.ready.Load() && !s.faulted.Load()
}

// Faulted reports whether a consistency fault has been detected.
func (s *Synchronizer) Faulted() bool {
	return s.faulted.Load()
}

// Sync fetches every missing block in ascending order, validates it against
// the mirror's append rule, and applies it. Replay is strictly sequential:
// each block's validation depends on the previous block's root.
//
// Running Sync with no new blocks is a no-op.
func (s *Synchronizer) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faulted.Load() {
		return ErrConsistency
	}

	authoritative, err := s.reader.ProposedBlockCount(ctx)
	if err != nil {
		return fmt.Errorf("chainsync: fetch block count: %w", err)
	}

	mirrored := s.mirror.BlockCount()
	if authoritative < mirrored {
		// The chain dropped blocks we already merged as settled. We cannot
		// tell which pooled transactions the revert released, so this is
		// not recoverable in place; a restart replays the surviving chain
		// from scratch.
		s.faulted.Store(true)
		s.log.Error().
			Uint64("mirrored", mirrored).
			Uint64("authoritative", authoritative).
			Msg("chain reverted below mirrored history")
		return fmt.Errorf("%w: chain has %d blocks, mirror has %d", ErrConsistency, authoritative, mirrored)
	}
	if mirrored < authoritative {
		s.ready.Store(false)
		s.log.Info().
			Uint64("mirrored", mirrored).
			Uint64("authoritative", authoritative).
			Msg("replaying missed blocks")
	}

	for s.mirror.BlockCount() < authoritative {
		// Blocks are numbered from 1; the next missing block follows the
		// last mirrored one.
		next := s.mirror.BlockCount() + 1

		blk, err := s.reader.BlockByNumber(ctx, next)
		if err != nil {
			return fmt.Errorf("chainsync: fetch block %d: %w", next, err)
		}

		expected := s.mirror.ComputeAppend(blk.TxHashes)
		if expected != blk.NewRoot {
			s.faulted.Store(true)
			s.log.Error().
				Uint64("block", next).
				Str("expected_root", expected.Hex()).
				Str("recorded_root", blk.NewRoot.Hex()).
				Msg("replayed block does not validate against mirror")
			return fmt.Errorf("%w: block %d", ErrConsistency, next)
		}

		s.mirror.ApplyBlock(next, blk.TxHashes)
		s.pool.MarkIncluded(blk.TxHashes)

		s.log.Debug().
			Uint64("block", next).
			Int("txs", len(blk.TxHashes)).
			Str("root", blk.NewRoot.Hex()).
			Msg("block replayed")
	}

	s.ready.Store(true)
	return nil
}
