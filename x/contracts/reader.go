package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/optimist-network/coordinator/x/chain"
)

// ChainReader answers chain.Reader queries through the rollup contract's
// view methods.
type ChainReader struct {
	client  caller
	binding *RollupBinding
}

var _ chain.Reader = (*ChainReader)(nil)

// NewChainReader wires a caller (usually *ethclient.Client) to the binding.
func NewChainReader(client caller, binding *RollupBinding) *ChainReader {
	return &ChainReader{client: client, binding: binding}
}

func (r *ChainReader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := r.binding.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack %s: %w", method, err)
	}
	to := r.binding.address
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contracts: call %s: %w", method, err)
	}
	out, err := r.binding.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("contracts: unpack %s: %w", method, err)
	}
	return out, nil
}

// ProposedBlockCount returns the chain's authoritative count of proposed blocks.
func (r *ChainReader) ProposedBlockCount(ctx context.Context) (uint64, error) {
	out, err := r.call(ctx, "proposedBlockCount")
	if err != nil {
		return 0, err
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("contracts: proposedBlockCount: unexpected result type %T", out[0])
	}
	return count.Uint64(), nil
}

// BlockByNumber returns the recorded rollup block n.
func (r *ChainReader) BlockByNumber(ctx context.Context, n uint64) (*chain.Block, error) {
	out, err := r.call(ctx, "blockAt", new(big.Int).SetUint64(n))
	if err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("contracts: blockAt: expected 4 results, got %d", len(out))
	}

	proposer, ok1 := out[0].(common.Address)
	newRoot, ok2 := out[1].([32]byte)
	stake, ok3 := out[2].(*big.Int)
	rawHashes, ok4 := out[3].([][32]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("contracts: blockAt: unexpected result types")
	}

	hashes := make([]common.Hash, len(rawHashes))
	for i, h := range rawHashes {
		hashes[i] = h
	}
	return &chain.Block{
		Number:   n,
		Proposer: proposer,
		TxHashes: hashes,
		NewRoot:  newRoot,
		Stake:    stake,
	}, nil
}

// ChallengeCommitExists reports whether a commit is already recorded for block n.
func (r *ChainReader) ChallengeCommitExists(ctx context.Context, n uint64) (bool, error) {
	out, err := r.call(ctx, "challengeCommitExists", new(big.Int).SetUint64(n))
	if err != nil {
		return false, err
	}
	exists, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("contracts: challengeCommitExists: unexpected result type %T", out[0])
	}
	return exists, nil
}
