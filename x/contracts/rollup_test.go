package contracts

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimist-network/coordinator/x/chain"
)

const testContractAddr = "0x00000000000000000000000000000000000c0fee"

func newTestBinding(t *testing.T) *RollupBinding {
	t.Helper()
	b, err := NewRollupBinding(testContractAddr)
	require.NoError(t, err)
	return b
}

func TestNewRollupBinding_EmptyAddress(t *testing.T) {
	t.Parallel()

	_, err := NewRollupBinding("   ")
	require.Error(t, err)
}

func TestBuildProposeCalldata_RoundTrips(t *testing.T) {
	t.Parallel()

	b := newTestBinding(t)
	payload := &chain.ProposalPayload{
		TxHashes: []common.Hash{
			crypto.Keccak256Hash([]byte("tx-1")),
			crypto.Keccak256Hash([]byte("tx-2")),
		},
		NewRoot: crypto.Keccak256Hash([]byte("root")),
		Stake:   big.NewInt(1000),
	}

	data, err := b.BuildProposeCalldata(payload)
	require.NoError(t, err)

	method := b.ABI().Methods["proposeBlock"]
	assert.Equal(t, method.ID, data[:4])

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, [32]byte(payload.NewRoot), args[0])
	hashes := args[1].([][32]byte)
	require.Len(t, hashes, 2)
	assert.Equal(t, [32]byte(payload.TxHashes[0]), hashes[0])
}

func TestBuildProposeCalldata_NilPayload(t *testing.T) {
	t.Parallel()

	b := newTestBinding(t)
	_, err := b.BuildProposeCalldata(nil)
	require.Error(t, err)
}

func TestBuildCommitAndRevealCalldata_RoundTrip(t *testing.T) {
	t.Parallel()

	b := newTestBinding(t)
	commitHash := crypto.Keccak256Hash([]byte("commit"))
	salt := crypto.Keccak256Hash([]byte("salt"))
	evidence := []byte(`{"reason":"root transition mismatch"}`)

	commit, err := b.BuildCommitCalldata(42, commitHash)
	require.NoError(t, err)
	args, err := b.ABI().Methods["commitChallenge"].Inputs.Unpack(commit[4:])
	require.NoError(t, err)
	assert.Equal(t, uint64(42), args[0].(*big.Int).Uint64())
	assert.Equal(t, [32]byte(commitHash), args[1])

	reveal, err := b.BuildRevealCalldata(42, evidence, salt)
	require.NoError(t, err)
	args, err = b.ABI().Methods["revealChallenge"].Inputs.Unpack(reveal[4:])
	require.NoError(t, err)
	assert.Equal(t, evidence, args[1].([]byte))
	assert.Equal(t, [32]byte(salt), args[2])
}

func TestBuildInstantWithdrawalCalldata_RoundTrip(t *testing.T) {
	t.Parallel()

	b := newTestBinding(t)
	wtx := crypto.Keccak256Hash([]byte("withdrawal"))

	data, err := b.BuildInstantWithdrawalCalldata(wtx)
	require.NoError(t, err)
	args, err := b.ABI().Methods["payInstantWithdrawal"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, [32]byte(wtx), args[0])
}

// fakeCaller answers view calls with ABI-encoded canned outputs.
type fakeCaller struct {
	binding *RollupBinding
	outputs map[string][]any
}

func (c *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, method := range c.binding.abi.Methods {
		if len(msg.Data) >= 4 && string(method.ID) == string(msg.Data[:4]) {
			return method.Outputs.Pack(c.outputs[name]...)
		}
	}
	return nil, nil
}

func TestChainReader_ProposedBlockCount(t *testing.T) {
	t.Parallel()

	b := newTestBinding(t)
	caller := &fakeCaller{binding: b, outputs: map[string][]any{
		"proposedBlockCount": {big.NewInt(17)},
	}}
	r := NewChainReader(caller, b)

	count, err := r.ProposedBlockCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(17), count)
}

func TestChainReader_BlockByNumber(t *testing.T) {
	t.Parallel()

	b := newTestBinding(t)
	proposer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	root := crypto.Keccak256Hash([]byte("root"))
	txA := crypto.Keccak256Hash([]byte("tx-a"))
	txB := crypto.Keccak256Hash([]byte("tx-b"))

	caller := &fakeCaller{binding: b, outputs: map[string][]any{
		"blockAt": {proposer, [32]byte(root), big.NewInt(5000), [][32]byte{txA, txB}},
	}}
	r := NewChainReader(caller, b)

	blk, err := r.BlockByNumber(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), blk.Number)
	assert.Equal(t, proposer, blk.Proposer)
	assert.Equal(t, root, blk.NewRoot)
	assert.Equal(t, int64(5000), blk.Stake.Int64())
	assert.Equal(t, []common.Hash{txA, txB}, blk.TxHashes)
}

func TestChainReader_ChallengeCommitExists(t *testing.T) {
	t.Parallel()

	b := newTestBinding(t)
	caller := &fakeCaller{binding: b, outputs: map[string][]any{
		"challengeCommitExists": {true},
	}}
	r := NewChainReader(caller, b)

	exists, err := r.ChallengeCommitExists(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, exists)
}
