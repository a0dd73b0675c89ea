// Package submitter turns unsigned payloads into confirmed base-chain
// transactions, serialized per logical role. One in-flight transaction per
// role is what prevents nonce races on the role's signing key.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/optimist-network/coordinator/x/eventqueue"
)

// Role identifies the signing identity a submission runs under.
type Role string

const (
	RoleProposer   Role = "proposer"
	RoleChallenger Role = "challenger"
	RoleLiquidity  Role = "liquidity"
)

// queueID maps a role onto its dedicated submission queue.
func (r Role) queueID() string {
	switch r {
	case RoleProposer:
		return eventqueue.QueueProposer
	case RoleChallenger:
		return eventqueue.QueueChallenger
	case RoleLiquidity:
		return eventqueue.QueueLiquidity
	default:
		return string(r)
	}
}

// timeAfter is swapped in tests to avoid real waits.
var timeAfter = time.After

// ErrSubmission indicates a signed transaction reverted or timed out. The
// caller decides whether to rebuild against fresh chain state or drop the job.
var ErrSubmission = errors.New("submitter: transaction failed")

// ErrNoSigner indicates no signer is configured for the role.
var ErrNoSigner = errors.New("submitter: no signer for role")

// Payload is an unsigned submission request.
type Payload struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Submitter signs and submits payloads, one at a time per role.
type Submitter struct {
	cfg       Config
	log       zerolog.Logger
	client    Client
	estimator PriceEstimator
	queues    *eventqueue.Manager

	mu      sync.RWMutex
	signers map[Role]Signer
}

// New creates a Submitter reusing the coordinator's queue manager for role
// serialization. estimator may be nil; the chain's own suggestion is then
// the first price source.
func New(cfg Config, logger zerolog.Logger, client Client, estimator PriceEstimator, queues *eventqueue.Manager) *Submitter {
	return &Submitter{
		cfg:       cfg,
		log:       logger.With().Str("component", "submitter").Logger(),
		client:    client,
		estimator: estimator,
		queues:    queues,
		signers:   make(map[Role]Signer),
	}
}

// SetSigner registers the signer used for a role.
func (s *Submitter) SetSigner(role Role, signer Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signers[role] = signer
}

// Submit enqueues the payload on the role's queue and blocks until the
// transaction is mined, fails, or ctx is done. At most one submission per
// role is in flight at any time.
func (s *Submitter) Submit(ctx context.Context, role Role, payload *Payload) (*types.Receipt, error) {
	type result struct {
		receipt *types.Receipt
		err     error
	}
	done := make(chan result, 1)

	err := s.queues.Enqueue(role.queueID(), func(taskCtx context.Context) error {
		receipt, err := s.submit(taskCtx, role, payload)
		done <- result{receipt: receipt, err: err}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submitter: enqueue %s job: %w", role, err)
	}

	select {
	case res := <-done:
		return res.receipt, res.err
	case <-ctx.Done():
		// The job is not cancelled, only abandoned by this caller.
		return nil, fmt.Errorf("submitter: %s submission abandoned: %w", role, ctx.Err())
	}
}

// submit runs on the role's queue worker.
func (s *Submitter) submit(ctx context.Context, role Role, payload *Payload) (*types.Receipt, error) {
	s.mu.RLock()
	signer := s.signers[role]
	s.mu.RUnlock()
	if signer == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, role)
	}

	from := signer.From()
	value := payload.Value
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("submitter: fetch nonce: %w", err)
	}

	gasLimit := s.estimateGasLimit(ctx, from, payload.To, value, payload.Data)
	tipCap, feeCap := s.resolveGasPrice(ctx)

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(s.cfg.ChainID),
		Nonce:     nonce,
		To:        &payload.To,
		Value:     value,
		Gas:       gasLimit,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      payload.Data,
	})

	signed, err := signer.SignTx(ctx, unsigned)
	if err != nil {
		return nil, fmt.Errorf("submitter: sign tx: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%w: send: %v", ErrSubmission, err)
	}

	s.log.Info().
		Str("role", string(role)).
		Str("tx_hash", signed.Hash().Hex()).
		Uint64("nonce", nonce).
		Uint64("gas_limit", gasLimit).
		Str("gas_fee_cap", feeCap.String()).
		Msg("transaction submitted")

	receipt, err := s.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: reverted: %s", ErrSubmission, signed.Hash().Hex())
	}
	return receipt, nil
}

// estimateGasLimit queries the chain, falling back to the configured
// constant. The fallback is logged but processing continues.
func (s *Submitter) estimateGasLimit(ctx context.Context, from, to common.Address, value *big.Int, data []byte) uint64 {
	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}
	est, err := s.client.EstimateGas(ctx, msg)
	if err != nil {
		s.log.Warn().Err(err).
			Uint64("fallback_gas_limit", s.cfg.GasLimitFallback).
			Msg("gas estimation failed, using fallback")
		return s.cfg.GasLimitFallback
	}
	return applyPct(est, s.cfg.SafetyMultiplierPct)
}

// resolveGasPrice walks the price sources: external estimator, then the
// chain's last-block suggestion, then the configured constant. The safety
// multiplier applies to whichever source won.
func (s *Submitter) resolveGasPrice(ctx context.Context) (tipCap, feeCap *big.Int) {
	var price *big.Int
	if s.estimator != nil {
		if p, err := s.estimator.SuggestGasPrice(ctx); err == nil && p != nil && p.Sign() > 0 {
			price = p
		} else if err != nil {
			s.log.Warn().Err(err).Msg("external gas estimator failed, falling back to chain suggestion")
		}
	}
	if price == nil {
		if p, err := s.client.SuggestGasPrice(ctx); err == nil && p != nil && p.Sign() > 0 {
			price = p
		} else {
			s.log.Warn().
				Uint64("fallback_gas_price_wei", s.cfg.GasPriceFallbackWei).
				Msg("chain gas suggestion failed, using fallback constant")
			price = s.cfg.gasPriceFallback()
		}
	}

	feeCap = applyPctBig(price, s.cfg.SafetyMultiplierPct)

	tipCap, err := s.client.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil || tipCap.Sign() <= 0 {
		tipCap = s.cfg.gasPriceFallback()
	}
	if tipCap.Cmp(feeCap) > 0 {
		tipCap = new(big.Int).Set(feeCap)
	}
	return tipCap, feeCap
}

// waitReceipt polls for the mined receipt until the configured timeout.
func (s *Submitter) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
	defer cancel()

	for {
		receipt, err := s.client.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: timeout waiting for %s", ErrSubmission, txHash.Hex())
		case <-timeAfter(s.cfg.ReceiptPollInterval):
		}
	}
}

func applyPct(v, pct uint64) uint64 {
	if pct == 0 {
		return v
	}
	return v * pct / 100
}

func applyPctBig(v *big.Int, pct uint64) *big.Int {
	if pct == 0 {
		return new(big.Int).Set(v)
	}
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(pct))
	return out.Div(out, big.NewInt(100))
}
