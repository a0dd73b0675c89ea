// Package contracts holds the ABI binding for the rollup contract. The
// binding only encodes calldata and decodes view results; signing and
// submission live in x/submitter.
package contracts

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/optimist-network/coordinator/x/chain"
)

// Rollup contract ABI JSON embedded at compile time
//
//go:embed abi/rollup.json
var rollupABIJSON string

// caller is the read-only slice of the go-ethereum client needed for view
// calls. *ethclient.Client satisfies it.
type caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RollupBinding encapsulates the rollup contract address and ABI.
type RollupBinding struct {
	address common.Address
	abi     abi.ABI
}

// NewRollupBinding parses the embedded ABI and validates the address.
func NewRollupBinding(contractAddr string) (*RollupBinding, error) {
	if strings.TrimSpace(contractAddr) == "" {
		return nil, fmt.Errorf("contracts: contract address cannot be empty")
	}

	parsedABI, err := abi.JSON(strings.NewReader(rollupABIJSON))
	if err != nil {
		return nil, fmt.Errorf("contracts: parse ABI: %w", err)
	}

	return &RollupBinding{
		address: common.HexToAddress(contractAddr),
		abi:     parsedABI,
	}, nil
}

// Address returns the rollup contract address.
func (b *RollupBinding) Address() common.Address {
	return b.address
}

// ABI returns the parsed contract ABI.
func (b *RollupBinding) ABI() abi.ABI {
	return b.abi
}

// BuildProposeCalldata encodes proposeBlock(newRoot, txHashes). The stake
// rides as the transaction value, not in calldata.
func (b *RollupBinding) BuildProposeCalldata(p *chain.ProposalPayload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("contracts: proposal payload cannot be nil")
	}
	hashes := make([][32]byte, len(p.TxHashes))
	for i, h := range p.TxHashes {
		hashes[i] = h
	}
	data, err := b.abi.Pack("proposeBlock", [32]byte(p.NewRoot), hashes)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack proposeBlock: %w", err)
	}
	return data, nil
}

// BuildCommitCalldata encodes commitChallenge(blockNumber, commitHash).
func (b *RollupBinding) BuildCommitCalldata(blockNumber uint64, commitHash common.Hash) ([]byte, error) {
	data, err := b.abi.Pack("commitChallenge", new(big.Int).SetUint64(blockNumber), [32]byte(commitHash))
	if err != nil {
		return nil, fmt.Errorf("contracts: pack commitChallenge: %w", err)
	}
	return data, nil
}

// BuildRevealCalldata encodes revealChallenge(blockNumber, evidence, salt).
func (b *RollupBinding) BuildRevealCalldata(blockNumber uint64, evidence []byte, salt common.Hash) ([]byte, error) {
	data, err := b.abi.Pack("revealChallenge", new(big.Int).SetUint64(blockNumber), evidence, [32]byte(salt))
	if err != nil {
		return nil, fmt.Errorf("contracts: pack revealChallenge: %w", err)
	}
	return data, nil
}

// BuildInstantWithdrawalCalldata encodes payInstantWithdrawal(withdrawTxHash).
// The advanced amount rides as the transaction value.
func (b *RollupBinding) BuildInstantWithdrawalCalldata(withdrawTxHash common.Hash) ([]byte, error) {
	data, err := b.abi.Pack("payInstantWithdrawal", [32]byte(withdrawTxHash))
	if err != nil {
		return nil, fmt.Errorf("contracts: pack payInstantWithdrawal: %w", err)
	}
	return data, nil
}
