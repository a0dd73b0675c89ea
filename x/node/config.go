package node

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/optimist-network/coordinator/x/assembler"
	"github.com/optimist-network/coordinator/x/chain"
	"github.com/optimist-network/coordinator/x/submitter"
	"github.com/optimist-network/coordinator/x/subscription"
)

// Config wires the coordinator node together.
type Config struct {
	// Context is the execution context for queued tasks.
	Context context.Context
	Logger  zerolog.Logger

	// Self is the local proposer/challenger identity.
	Self common.Address
	// ContractAddress is the rollup contract on the base chain.
	ContractAddress string
	// ChallengeWindow is how long a proposed block stays disputable before
	// it is merged into the mirror.
	ChallengeWindow time.Duration
	// ResubscribeDelay is how long to wait before re-opening a channel
	// whose reconnect budget ran out. Longer than the bridge's own retry
	// delay so a flapping observer is not hammered.
	ResubscribeDelay time.Duration

	Assembler    assembler.Config
	Submitter    submitter.Config
	Subscription subscription.Config

	// Boundaries.
	Reader    chain.Reader
	Prover    chain.Prover
	EthClient submitter.Client
	// Estimator is the external gas-price oracle. Optional.
	Estimator submitter.PriceEstimator
	// Signers maps each role to its signing identity.
	Signers map[submitter.Role]submitter.Signer
	// Dialer overrides the websocket dialer. Optional, used in tests.
	Dialer subscription.Dialer
}

func (c *Config) validate() error {
	if c.Reader == nil {
		return errors.New("node: chain reader is required")
	}
	if c.Prover == nil {
		return errors.New("node: prover boundary is required")
	}
	if c.EthClient == nil {
		return errors.New("node: eth client is required")
	}
	if c.ContractAddress == "" {
		return errors.New("node: contract address is required")
	}
	if c.ChallengeWindow <= 0 {
		c.ChallengeWindow = DefaultChallengeWindow
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = DefaultResubscribeDelay
	}
	if c.Context == nil {
		c.Context = context.Background()
	}
	return nil
}

// DefaultChallengeWindow matches the contract's dispute period.
const DefaultChallengeWindow = 10 * time.Minute

// DefaultResubscribeDelay is the wait before re-opening a faulted channel.
const DefaultResubscribeDelay = time.Minute
