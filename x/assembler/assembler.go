// Package assembler decides when to build a block proposal and produces the
// unsigned payload. Assembly is triggered by pool growth or by an explicit
// "make now" signal; a queue draining only re-evaluates the condition and
// never proposes on its own, so idle ticks cannot produce empty blocks.
package assembler

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/optimist-network/coordinator/x/chain"
	"github.com/optimist-network/coordinator/x/mirror"
	"github.com/optimist-network/coordinator/x/txpool"
)

// DutyChecker reports whether this node currently holds the proposal right.
type DutyChecker interface {
	MayPropose() bool
}

// ProposalSink receives the unsigned proposal payload. The node wires it to
// the transaction submitter under the proposer role.
type ProposalSink interface {
	SubmitProposal(ctx context.Context, p *chain.ProposalPayload) error
}

// Assembler builds block proposals from the pool.
type Assembler struct {
	cfg    Config
	log    zerolog.Logger
	pool   *txpool.Pool
	mirror *mirror.Mirror
	duty   DutyChecker
	sink   ProposalSink

	// mu serializes assembly. Triggers can race in from queue tasks and the
	// drain signal; a trigger that waited here re-reads the pool, so the
	// same transactions are never proposed twice.
	mu sync.Mutex
}

// New creates an Assembler.
func New(cfg Config, logger zerolog.Logger, pool *txpool.Pool, m *mirror.Mirror, duty DutyChecker, sink ProposalSink) *Assembler {
	return &Assembler{
		cfg:    cfg,
		log:    logger.With().Str("component", "assembler").Logger(),
		pool:   pool,
		mirror: m,
		duty:   duty,
		sink:   sink,
	}
}

// MaybeAssemble assembles a block if this node may propose and the pool
// holds at least the target transaction count. Called after pool mutations
// and on queue-drained signals.
func (a *Assembler) MaybeAssemble(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.duty.MayPropose() {
		return nil
	}
	if a.pool.PendingCount() < a.cfg.TargetTxCount {
		return nil
	}
	return a.assemble(ctx)
}

// ForceAssemble assembles whatever is pending, even below the target count.
// An empty pool produces nothing.
func (a *Assembler) ForceAssemble(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.duty.MayPropose() {
		return nil
	}
	if a.pool.PendingCount() == 0 {
		a.log.Debug().Msg("forced assembly with empty pool, nothing to do")
		return nil
	}
	return a.assemble(ctx)
}

// assemble builds the payload from the pool in arrival order and hands it to
// the sink. On submission failure the transactions stay in the pool for the
// next attempt. Caller holds a.mu.
func (a *Assembler) assemble(ctx context.Context) error {
	txs := a.pool.Pending(a.cfg.MaxBlockTxs)
	if len(txs) == 0 {
		return nil
	}

	hashes := make([]common.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}

	payload := &chain.ProposalPayload{
		TxHashes: hashes,
		NewRoot:  a.mirror.ComputeAppend(hashes),
		Stake:    a.cfg.stake(),
	}

	a.log.Info().
		Int("txs", len(hashes)).
		Str("new_root", payload.NewRoot.Hex()).
		Msg("assembling block proposal")

	if err := a.sink.SubmitProposal(ctx, payload); err != nil {
		a.log.Warn().Err(err).Msg("proposal submission failed, transactions stay pooled")
		return fmt.Errorf("assembler: submit proposal: %w", err)
	}

	a.pool.MarkIncluded(hashes)
	return nil
}
