package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/optimist-network/coordinator/x/chain"
	"github.com/optimist-network/coordinator/x/challenge"
	"github.com/optimist-network/coordinator/x/eventqueue"
	"github.com/optimist-network/coordinator/x/submitter"
	"github.com/optimist-network/coordinator/x/subscription"
)

// onConnected runs after every (re)connect of the block channel. The bridge
// never replays missed messages, so each reconnect schedules a gap recovery
// ahead of the live notifications that follow it.
func (n *Node) onConnected(context.Context) {
	err := n.queues.Enqueue(eventqueue.QueueGeneral, func(ctx context.Context) error {
		return n.sync.Sync(ctx)
	})
	if err != nil {
		n.log.Error().Err(err).Msg("failed to schedule resynchronization")
	}
}

// onNotification translates one decoded observer message into exactly one
// event on the general queue.
func (n *Node) onNotification(_ context.Context, msg *subscription.Notification) {
	var task eventqueue.Task

	switch msg.Type {
	case chain.NotificationBlock, chain.NotificationChallenge:
		// A challengeable-block notification carries the same block data as
		// a proposal; both paths inspect and track the block.
		var blk chain.Block
		if err := json.Unmarshal(msg.Payload, &blk); err != nil {
			n.log.Warn().Err(err).Str("type", msg.Type).Msg("undecodable block notification")
			return
		}
		task = func(ctx context.Context) error {
			return n.handleBlockProposed(ctx, &blk)
		}

	case chain.NotificationCommit:
		var payload struct {
			BlockNumber uint64      `json:"blockNumber"`
			CommitHash  common.Hash `json:"commitHash"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			n.log.Warn().Err(err).Msg("undecodable commit notification")
			return
		}
		task = func(context.Context) error {
			n.engine.OnExternalCommit(payload.BlockNumber, payload.CommitHash)
			return nil
		}

	case chain.NotificationInstant:
		var w chain.InstantWithdrawal
		if err := json.Unmarshal(msg.Payload, &w); err != nil {
			n.log.Warn().Err(err).Msg("undecodable instant-withdrawal notification")
			return
		}
		task = func(ctx context.Context) error {
			return n.handleInstantWithdrawal(ctx, &w)
		}

	case chain.NotificationRotation:
		var rot chain.Rotation
		if err := json.Unmarshal(msg.Payload, &rot); err != nil {
			n.log.Warn().Err(err).Msg("undecodable rotation notification")
			return
		}
		task = func(ctx context.Context) error {
			n.proposers.ApplyRotation(rot)
			return n.assembler.MaybeAssemble(ctx)
		}

	default:
		n.log.Debug().Str("type", msg.Type).Msg("notification type ignored")
		return
	}

	if err := n.queues.Enqueue(eventqueue.QueueGeneral, task); err != nil {
		n.log.Error().Err(err).Str("type", msg.Type).Msg("failed to enqueue notification")
	}
}

// handleBlockProposed tracks a newly proposed block, inspects it for faults,
// and schedules its finalization for when the challenge window elapses.
func (n *Node) handleBlockProposed(ctx context.Context, blk *chain.Block) error {
	if n.halted.Load() {
		n.log.Warn().Uint64("block", blk.Number).Msg("halted, ignoring proposed block")
		return nil
	}
	if !n.sync.Ready() {
		// Mid-resync; the replay loop will pick this block up from chain
		// history instead.
		return nil
	}
	if blk.Number <= n.mirror.BlockCount() {
		// Already mirrored via replay.
		return nil
	}

	// If an earlier block is still pending, its window has effectively
	// closed unchallenged once a successor builds on it: merge it so this
	// block validates against the right root.
	if prev := n.takePending(blk.Number - 1); prev != nil {
		n.finalizeBlock(prev.block)
	}
	if blk.Number != n.mirror.BlockCount()+1 {
		// At least one proposal was missed; rebuild from chain history
		// instead of inspecting this block against a stale root.
		return n.sync.Sync(ctx)
	}

	n.mu.Lock()
	if _, dup := n.pending[blk.Number]; dup {
		n.mu.Unlock()
		return nil
	}
	p := &pendingBlock{block: blk}
	p.timer = time.AfterFunc(n.cfg.ChallengeWindow, func() { n.onWindowElapsed(blk.Number) })
	n.pending[blk.Number] = p
	n.mu.Unlock()

	n.log.Info().
		Uint64("block", blk.Number).
		Str("proposer", blk.Proposer.Hex()).
		Int("txs", len(blk.TxHashes)).
		Msg("proposed block tracked")

	// Own proposals are not self-challenged.
	if blk.Proposer == n.proposers.Self() {
		return nil
	}
	if err := n.engine.Inspect(ctx, blk); err != nil {
		return err
	}
	if n.challengeSucceeded(blk.Number) {
		if p := n.takePending(blk.Number); p != nil {
			p.timer.Stop()
		}
	}
	return nil
}

// onWindowElapsed moves a pending block into the mirror once its challenge
// window closed without a successful challenge.
func (n *Node) onWindowElapsed(blockNumber uint64) {
	err := n.queues.Enqueue(eventqueue.QueueGeneral, func(ctx context.Context) error {
		p := n.takePending(blockNumber)
		if p == nil {
			return nil
		}
		if n.challengeSucceeded(blockNumber) {
			// Reverted: transactions were already released by the engine.
			return nil
		}
		if blockNumber <= n.mirror.BlockCount() {
			// Already merged by a replay in the meantime.
			return nil
		}
		if !n.finalizeBlock(p.block) {
			// The mirror fell behind the pending block; recover the gap
			// from chain history rather than dropping the block.
			return n.sync.Sync(ctx)
		}
		return nil
	})
	if err != nil {
		n.log.Error().Err(err).Uint64("block", blockNumber).Msg("failed to schedule finalization")
	}
}

// finalizeBlock merges an unchallenged block into the mirror and reports
// whether it was applied. Runs on the general queue worker only.
func (n *Node) finalizeBlock(blk *chain.Block) bool {
	if blk.Number != n.mirror.BlockCount()+1 {
		n.log.Warn().
			Uint64("block", blk.Number).
			Uint64("mirrored", n.mirror.BlockCount()).
			Msg("out-of-order finalization skipped")
		return false
	}
	root := n.mirror.ApplyBlock(blk.Number, blk.TxHashes)
	n.pool.MarkIncluded(blk.TxHashes)
	n.engine.NoteFinalized(blk.TxHashes)

	n.log.Info().
		Uint64("block", blk.Number).
		Str("root", root.Hex()).
		Msg("block finalized into mirror")
	return true
}

// handleInstantWithdrawal advances funds for an unfinalized withdrawal
// under the liquidity-provider role.
func (n *Node) handleInstantWithdrawal(ctx context.Context, w *chain.InstantWithdrawal) error {
	data, err := n.binding.BuildInstantWithdrawalCalldata(w.WithdrawTxHash)
	if err != nil {
		return err
	}
	_, err = n.submitter.Submit(ctx, submitter.RoleLiquidity, &submitter.Payload{
		To:    n.binding.Address(),
		Data:  data,
		Value: w.Amount,
	})
	if err != nil {
		return fmt.Errorf("node: instant withdrawal %s: %w", w.WithdrawTxHash.Hex(), err)
	}
	n.log.Info().
		Str("withdrawal", w.WithdrawTxHash.Hex()).
		Str("amount", w.Amount.String()).
		Msg("instant withdrawal paid")
	return nil
}

func (n *Node) takePending(blockNumber uint64) *pendingBlock {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.pending[blockNumber]
	if p != nil {
		p.timer.Stop()
		delete(n.pending, blockNumber)
	}
	return p
}

func (n *Node) challengeSucceeded(blockNumber uint64) bool {
	for _, c := range n.engine.Challenges() {
		if c.BlockNumber == blockNumber && c.Phase == challenge.Resolved {
			return true
		}
	}
	return false
}
