package node

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/optimist-network/coordinator/x/chain"
	"github.com/optimist-network/coordinator/x/submitter"
)

// txSink turns assembler and challenge-engine outputs into contract calls
// on the role-specific submission queues. It satisfies both
// assembler.ProposalSink and challenge.Sink.
type txSink struct {
	node *Node
}

func (s *txSink) SubmitProposal(ctx context.Context, p *chain.ProposalPayload) error {
	data, err := s.node.binding.BuildProposeCalldata(p)
	if err != nil {
		return err
	}
	receipt, err := s.node.submitter.Submit(ctx, submitter.RoleProposer, &submitter.Payload{
		To:    s.node.binding.Address(),
		Data:  data,
		Value: p.Stake,
	})
	if err != nil {
		return fmt.Errorf("node: propose block: %w", err)
	}
	s.node.log.Info().
		Str("root", p.NewRoot.Hex()).
		Int("txs", len(p.TxHashes)).
		Str("l1Tx", receipt.TxHash.Hex()).
		Msg("block proposal submitted")
	return nil
}

func (s *txSink) SubmitCommit(ctx context.Context, blockNumber uint64, commitHash common.Hash) error {
	data, err := s.node.binding.BuildCommitCalldata(blockNumber, commitHash)
	if err != nil {
		return err
	}
	_, err = s.node.submitter.Submit(ctx, submitter.RoleChallenger, &submitter.Payload{
		To:   s.node.binding.Address(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("node: commit challenge %d: %w", blockNumber, err)
	}
	return nil
}

func (s *txSink) SubmitReveal(ctx context.Context, blockNumber uint64, evidence []byte, salt common.Hash) error {
	data, err := s.node.binding.BuildRevealCalldata(blockNumber, evidence, salt)
	if err != nil {
		return err
	}
	_, err = s.node.submitter.Submit(ctx, submitter.RoleChallenger, &submitter.Payload{
		To:   s.node.binding.Address(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("node: reveal challenge %d: %w", blockNumber, err)
	}
	return nil
}
