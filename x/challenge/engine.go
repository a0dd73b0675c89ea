// Package challenge inspects newly proposed blocks against the mirrored
// state and disputes invalid ones through a two-phase commit/reveal game.
// Hiding the evidence behind a hash until the commit is locked in prevents a
// rival from copying it to steal the reward; the first commit wins.
package challenge

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/optimist-network/coordinator/x/chain"
	"github.com/optimist-network/coordinator/x/mirror"
	"github.com/optimist-network/coordinator/x/txpool"
)

// Sink submits the two challenge stages. The node wires it to the
// transaction submitter under the challenger role; each call blocks until
// the transaction is confirmed or fails.
type Sink interface {
	SubmitCommit(ctx context.Context, blockNumber uint64, commitHash common.Hash) error
	SubmitReveal(ctx context.Context, blockNumber uint64, evidence []byte, salt common.Hash) error
}

// randSalt is swapped in tests for deterministic salts.
var randSalt = func() (common.Hash, error) {
	var salt common.Hash
	if _, err := rand.Read(salt[:]); err != nil {
		return common.Hash{}, fmt.Errorf("challenge: generate salt: %w", err)
	}
	return salt, nil
}

// Engine validates proposed blocks and drives disputes.
type Engine struct {
	log    zerolog.Logger
	mirror *mirror.Mirror
	pool   *txpool.Pool
	reader chain.Reader
	prover chain.Prover
	sink   Sink
	now    func() time.Time

	mu         sync.RWMutex
	challenges map[uint64]*Challenge
	nullifiers map[common.Hash]struct{}
}

// New creates an Engine over the synchronizer's mirror.
func New(logger zerolog.Logger, m *mirror.Mirror, pool *txpool.Pool, reader chain.Reader, prover chain.Prover, sink Sink) *Engine {
	return &Engine{
		log:        logger.With().Str("component", "challenge").Logger(),
		mirror:     m,
		pool:       pool,
		reader:     reader,
		prover:     prover,
		sink:       sink,
		now:        time.Now,
		challenges: make(map[uint64]*Challenge),
		nullifiers: make(map[common.Hash]struct{}),
	}
}

// NoteFinalized records the commitments spent by a finalized block. A later
// block re-spending any of them is a fault.
func (e *Engine) NoteFinalized(txHashes []common.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range txHashes {
		e.nullifiers[h] = struct{}{}
	}
}

// Challenges returns a snapshot of tracked disputes.
func (e *Engine) Challenges() []Challenge {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Challenge, 0, len(e.challenges))
	for _, c := range e.challenges {
		out = append(out, *c)
	}
	return out
}

// Inspect validates a newly proposed block and, on a fault, runs the
// commit/reveal protocol to completion. A valid block returns nil with no
// side effects.
func (e *Engine) Inspect(ctx context.Context, blk *chain.Block) error {
	fault := e.validate(ctx, blk)
	if fault == "" {
		return nil
	}

	e.log.Warn().
		Uint64("block", blk.Number).
		Str("fault", fault).
		Msg("invalid block detected")

	return e.dispute(ctx, blk, fault)
}

// validate returns a fault description, or "" for a valid block.
func (e *Engine) validate(ctx context.Context, blk *chain.Block) string {
	// (a) the recorded root must be a valid transition from the previous
	// root under the mirror's append rule.
	if expected := e.mirror.ComputeAppend(blk.TxHashes); expected != blk.NewRoot {
		return "root transition mismatch"
	}

	// (b) no double-spend of an already-nullified commitment, and no
	// duplicate spends within the block itself.
	seen := make(map[common.Hash]struct{}, len(blk.TxHashes))
	e.mu.RLock()
	for _, h := range blk.TxHashes {
		if _, spent := e.nullifiers[h]; spent {
			e.mu.RUnlock()
			return "double spend of nullified commitment"
		}
		if _, dup := seen[h]; dup {
			e.mu.RUnlock()
			return "duplicate commitment within block"
		}
		seen[h] = struct{}{}
	}
	e.mu.RUnlock()

	// (c) the attached proof must verify.
	if len(blk.Proof) > 0 || len(blk.PublicInputs) > 0 {
		valid, err := e.prover.VerifyProof(ctx, blk.PublicInputs, blk.Proof)
		if err != nil {
			// Verification errors are not proof of fault. Do not challenge
			// on a prover outage.
			e.log.Error().Err(err).Uint64("block", blk.Number).Msg("proof verification unavailable")
			return ""
		}
		if !valid {
			return "proof does not verify"
		}
	}
	return ""
}

// dispute runs Detected -> Committed -> Revealed -> Resolved for blk.
func (e *Engine) dispute(ctx context.Context, blk *chain.Block, fault string) error {
	e.mu.Lock()
	if _, exists := e.challenges[blk.Number]; exists {
		e.mu.Unlock()
		return nil
	}

	ev, err := json.Marshal(evidence{
		BlockNumber:  blk.Number,
		TxHashes:     blk.TxHashes,
		ExpectedRoot: e.mirror.ComputeAppend(blk.TxHashes),
		RecordedRoot: blk.NewRoot,
		Reason:       fault,
	})
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("challenge: encode evidence: %w", err)
	}

	salt, err := randSalt()
	if err != nil {
		e.mu.Unlock()
		return err
	}

	c := &Challenge{
		BlockNumber: blk.Number,
		CommitHash:  crypto.Keccak256Hash(ev, salt.Bytes()),
		Evidence:    ev,
		Salt:        salt,
		Phase:       Detected,
		DetectedAt:  e.now(),
	}
	e.challenges[blk.Number] = c
	e.mu.Unlock()

	// First commit wins: if a rival already committed against this block,
	// abandon rather than waste gas.
	if exists, err := e.reader.ChallengeCommitExists(ctx, blk.Number); err != nil {
		return fmt.Errorf("challenge: check existing commit: %w", err)
	} else if exists {
		e.abandon(blk.Number, "existing on-chain commit")
		return nil
	}

	if err := e.sink.SubmitCommit(ctx, blk.Number, c.CommitHash); err != nil {
		e.mu.Lock()
		delete(e.challenges, blk.Number)
		e.mu.Unlock()
		return fmt.Errorf("challenge: commit block %d: %w", blk.Number, err)
	}
	e.setPhase(blk.Number, Committed)

	if err := e.reveal(ctx, blk.Number); err != nil {
		return err
	}

	e.resolve(blk)
	return nil
}

// reveal submits the evidence for a challenge this engine previously
// committed. Revealing without a prior commit is a protocol violation and is
// rejected here.
func (e *Engine) reveal(ctx context.Context, blockNumber uint64) error {
	e.mu.RLock()
	c := e.challenges[blockNumber]
	e.mu.RUnlock()

	if c == nil || c.Phase != Committed {
		return fmt.Errorf("challenge: reveal without confirmed commit for block %d", blockNumber)
	}

	if err := e.sink.SubmitReveal(ctx, blockNumber, c.Evidence, c.Salt); err != nil {
		return fmt.Errorf("challenge: reveal block %d: %w", blockNumber, err)
	}
	e.setPhase(blockNumber, Revealed)
	return nil
}

// resolve applies the local side effects of a successful challenge: the
// mirror returns to the pre-fault block and the reverted block's
// transactions go back to the pool.
func (e *Engine) resolve(blk *chain.Block) {
	if blk.Number > 0 {
		if err := e.mirror.RollbackTo(blk.Number - 1); err != nil {
			// The faulty block was never merged into the mirror, so a
			// missing checkpoint just means there is nothing to roll back.
			e.log.Debug().Err(err).Uint64("block", blk.Number).Msg("no mirror rollback needed")
		}
	}
	e.pool.Release(blk.TxHashes)
	e.setPhase(blk.Number, Resolved)

	e.log.Info().Uint64("block", blk.Number).Msg("challenge resolved, block reverted")
}

// OnExternalCommit handles a commit notification from the observer. If it is
// not our own commit and we have not committed yet, the race is lost.
func (e *Engine) OnExternalCommit(blockNumber uint64, commitHash common.Hash) {
	e.mu.RLock()
	c := e.challenges[blockNumber]
	e.mu.RUnlock()

	if c == nil || c.Phase != Detected {
		return
	}
	if bytes.Equal(commitHash.Bytes(), c.CommitHash.Bytes()) {
		return
	}
	e.abandon(blockNumber, "rival commit observed")
}

func (e *Engine) abandon(blockNumber uint64, reason string) {
	e.setPhase(blockNumber, Abandoned)
	e.log.Info().
		Uint64("block", blockNumber).
		Str("reason", reason).
		Msg("challenge abandoned, no reveal will be sent")
}

func (e *Engine) setPhase(blockNumber uint64, p Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.challenges[blockNumber]; c != nil {
		c.Phase = p
	}
}
