package challenge

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Phase is a challenge's position in the commit/reveal game.
type Phase int

const (
	// Detected means a fault was found but nothing is on-chain yet.
	Detected Phase = iota
	// Committed means our commit transaction is confirmed.
	Committed
	// Revealed means our reveal transaction is confirmed.
	Revealed
	// Resolved means the faulty block was reverted and the reward paid.
	Resolved
	// Abandoned means a rival's commit beat ours; no reveal was sent.
	Abandoned
)

func (p Phase) String() string {
	switch p {
	case Detected:
		return "detected"
	case Committed:
		return "committed"
	case Revealed:
		return "revealed"
	case Resolved:
		return "resolved"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Challenge is a dispute against one proposed block.
type Challenge struct {
	BlockNumber uint64
	CommitHash  common.Hash
	Evidence    []byte
	Salt        common.Hash
	Phase       Phase
	DetectedAt  time.Time
}

// evidence is the reveal payload. The contract re-derives the commit hash
// from its serialized form plus the salt.
type evidence struct {
	BlockNumber  uint64        `json:"blockNumber"`
	TxHashes     []common.Hash `json:"txHashes"`
	ExpectedRoot common.Hash   `json:"expectedRoot"`
	RecordedRoot common.Hash   `json:"recordedRoot"`
	Reason       string        `json:"reason"`
}
