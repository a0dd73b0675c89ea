package chain

import (
	"context"
)

// Reader answers the queries the coordinator needs during synchronization
// and challenge handling. The rollup contract on L1 is the ground truth
// behind every method.
type Reader interface {
	// ProposedBlockCount returns how many rollup blocks the chain has
	// recorded so far.
	ProposedBlockCount(ctx context.Context) (uint64, error)
	// BlockByNumber returns the recorded rollup block n.
	BlockByNumber(ctx context.Context, n uint64) (*Block, error)
	// ChallengeCommitExists reports whether any challenger has already
	// committed against block n.
	ChallengeCommitExists(ctx context.Context, n uint64) (bool, error)
}

// Prover is the proof-verification boundary. Verification may be a remote
// service call; from the caller's perspective it is synchronous.
type Prover interface {
	VerifyProof(ctx context.Context, publicInputs [][]byte, proof []byte) (bool, error)
}
