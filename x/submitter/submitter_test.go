package submitter

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimist-network/coordinator/x/eventqueue"
)

type fakeClient struct {
	mu sync.Mutex

	nonce        uint64
	gasEstimate  uint64
	gasErr       error
	tipCap       *big.Int
	tipErr       error
	gasPrice     *big.Int
	gasPriceErr  error
	sendErr      error
	receiptState uint64
	receiptErr   error

	sent []*types.Transaction
}

func (c *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nonce
	c.nonce++
	return n, nil
}

func (c *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if c.gasErr != nil {
		return 0, c.gasErr
	}
	return c.gasEstimate, nil
}

func (c *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	if c.tipErr != nil {
		return nil, c.tipErr
	}
	return c.tipCap, nil
}

func (c *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	if c.gasPriceErr != nil {
		return nil, c.gasPriceErr
	}
	return c.gasPrice, nil
}

func (c *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, tx)
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}
	return &types.Receipt{Status: c.receiptState, TxHash: txHash}, nil
}

func (c *fakeClient) lastSent() *types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

type fixedEstimator struct {
	price *big.Int
	err   error
}

func (e *fixedEstimator) SuggestGasPrice(context.Context) (*big.Int, error) {
	return e.price, e.err
}

func newHealthyClient() *fakeClient {
	return &fakeClient{
		gasEstimate:  100_000,
		tipCap:       big.NewInt(1_000_000_000),
		gasPrice:     big.NewInt(10_000_000_000),
		receiptState: types.ReceiptStatusSuccessful,
	}
}

func newTestSubmitter(t *testing.T, client Client, estimator PriceEstimator) *Submitter {
	t.Helper()

	queues := eventqueue.New(eventqueue.DefaultConfig(context.Background(), zerolog.Nop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queues.Stop(ctx)
	})

	cfg := DefaultConfig()
	cfg.ChainID = 1337
	cfg.ReceiptPollInterval = time.Millisecond
	cfg.ReceiptTimeout = time.Second
	s := New(cfg, zerolog.Nop(), client, estimator, queues)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewLocalECDSASigner(big.NewInt(1337), key)
	s.SetSigner(RoleProposer, signer)
	s.SetSigner(RoleChallenger, signer)
	return s
}

func TestSubmitter_Submit_SignsAndConfirms(t *testing.T) {
	t.Parallel()

	client := newHealthyClient()
	s := newTestSubmitter(t, client, nil)

	to := common.HexToAddress("0xabc0000000000000000000000000000000000abc")
	receipt, err := s.Submit(context.Background(), RoleProposer, &Payload{
		To:    to,
		Data:  []byte{0x01, 0x02},
		Value: big.NewInt(7),
	})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	sent := client.lastSent()
	require.NotNil(t, sent)
	assert.Equal(t, to, *sent.To())
	assert.Equal(t, big.NewInt(7), sent.Value())
	assert.Equal(t, uint64(1337), sent.ChainId().Uint64())
	assert.Equal(t, types.DynamicFeeTxType, int(sent.Type()))

	// Estimated gas carries the safety multiplier.
	assert.Equal(t, uint64(120_000), sent.Gas())
}

func TestSubmitter_GasEstimationFailure_UsesFallbackLimit(t *testing.T) {
	t.Parallel()

	client := newHealthyClient()
	client.gasErr = errors.New("execution reverted")
	s := newTestSubmitter(t, client, nil)

	_, err := s.Submit(context.Background(), RoleProposer, &Payload{})
	require.NoError(t, err)

	sent := client.lastSent()
	require.NotNil(t, sent)
	assert.Equal(t, uint64(1_500_000), sent.Gas())
}

func TestSubmitter_GasPrice_PrefersExternalEstimator(t *testing.T) {
	t.Parallel()

	client := newHealthyClient()
	est := &fixedEstimator{price: big.NewInt(5_000_000_000)}
	s := newTestSubmitter(t, client, est)

	_, err := s.Submit(context.Background(), RoleProposer, &Payload{})
	require.NoError(t, err)

	sent := client.lastSent()
	require.NotNil(t, sent)
	// 5 gwei * 120%
	assert.Equal(t, big.NewInt(6_000_000_000), sent.GasFeeCap())
}

func TestSubmitter_GasPrice_FallsBackToChainSuggestion(t *testing.T) {
	t.Parallel()

	client := newHealthyClient()
	est := &fixedEstimator{err: errors.New("oracle down")}
	s := newTestSubmitter(t, client, est)

	_, err := s.Submit(context.Background(), RoleProposer, &Payload{})
	require.NoError(t, err)

	sent := client.lastSent()
	require.NotNil(t, sent)
	// chain's 10 gwei * 120%
	assert.Equal(t, big.NewInt(12_000_000_000), sent.GasFeeCap())
}

func TestSubmitter_GasPrice_ConstantFallbackWhenAllSourcesFail(t *testing.T) {
	t.Parallel()

	client := newHealthyClient()
	client.gasPriceErr = errors.New("rpc down")
	client.tipErr = errors.New("rpc down")
	est := &fixedEstimator{err: errors.New("oracle down")}
	s := newTestSubmitter(t, client, est)

	_, err := s.Submit(context.Background(), RoleProposer, &Payload{})
	require.NoError(t, err)

	sent := client.lastSent()
	require.NotNil(t, sent)
	// configured 2 gwei * 120%
	assert.Equal(t, big.NewInt(2_400_000_000), sent.GasFeeCap())
	// tip cap never exceeds the fee cap
	assert.LessOrEqual(t, sent.GasTipCap().Cmp(sent.GasFeeCap()), 0)
}

func TestSubmitter_RevertedReceipt_IsSubmissionError(t *testing.T) {
	t.Parallel()

	client := newHealthyClient()
	client.receiptState = types.ReceiptStatusFailed
	s := newTestSubmitter(t, client, nil)

	_, err := s.Submit(context.Background(), RoleProposer, &Payload{})
	require.ErrorIs(t, err, ErrSubmission)
}

func TestSubmitter_MissingSigner_IsRejected(t *testing.T) {
	t.Parallel()

	s := newTestSubmitter(t, newHealthyClient(), nil)

	_, err := s.Submit(context.Background(), RoleLiquidity, &Payload{})
	require.ErrorIs(t, err, ErrNoSigner)
}

func TestSubmitter_SameRole_SubmissionsAreSerialized(t *testing.T) {
	t.Parallel()

	client := newHealthyClient()
	s := newTestSubmitter(t, client, nil)

	var inFlight, maxInFlight int32
	blocker := &gateClient{fakeClient: client, inFlight: &inFlight, maxInFlight: &maxInFlight}
	s.client = blocker

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), RoleChallenger, &Payload{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

// gateClient counts concurrent submissions around the nonce fetch, the first
// chain access of every submission.
type gateClient struct {
	*fakeClient
	inFlight    *int32
	maxInFlight *int32
}

func (c *gateClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	cur := atomic.AddInt32(c.inFlight, 1)
	for {
		prev := atomic.LoadInt32(c.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(c.maxInFlight, prev, cur) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	defer atomic.AddInt32(c.inFlight, -1)
	return c.fakeClient.PendingNonceAt(ctx, account)
}
