package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Block is a rollup block as recorded by the rollup contract. L1TxHash is
// nil until the proposal transaction has been mined.
type Block struct {
	Number   uint64         `json:"number"`
	Proposer common.Address `json:"proposer"`
	TxHashes []common.Hash  `json:"txHashes"`
	NewRoot  common.Hash    `json:"newRoot"`
	Stake    *big.Int       `json:"stake"`
	L1TxHash *common.Hash   `json:"l1TxHash,omitempty"`

	// PublicInputs and Proof are carried with block-proposed notifications
	// and checked at the prover boundary. Replayed history omits them.
	PublicInputs [][]byte `json:"publicInputs,omitempty"`
	Proof        []byte   `json:"proof,omitempty"`
}

// ProposalPayload is the unsigned block-proposal produced by the assembler.
type ProposalPayload struct {
	TxHashes []common.Hash `json:"txHashes"`
	NewRoot  common.Hash   `json:"newRoot"`
	Stake    *big.Int      `json:"stake"`
}

// Rotation is a confirmed proposer-rotation event.
type Rotation struct {
	Proposer common.Address `json:"proposer"`
	Endpoint string         `json:"endpoint"`
	Bond     *big.Int       `json:"bond"`
}

// InstantWithdrawal is a pre-pay request for an unfinalized withdrawal.
type InstantWithdrawal struct {
	WithdrawTxHash common.Hash    `json:"withdrawTransactionHash"`
	PaidBy         common.Address `json:"paidBy"`
	Amount         *big.Int       `json:"amount"`
}

// Notification type tags on the observer stream.
const (
	NotificationBlock     = "block"
	NotificationChallenge = "challenge"
	NotificationCommit    = "commit"
	NotificationInstant   = "instant"
	NotificationRotation  = "rotation"
)
