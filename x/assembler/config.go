package assembler

import "math/big"

// Config holds assembly policy parameters.
type Config struct {
	// TargetTxCount is the pool size that triggers assembly.
	TargetTxCount int `mapstructure:"target_tx_count" yaml:"target_tx_count"`
	// MaxBlockTxs caps transactions per block. 0 means no cap.
	MaxBlockTxs int `mapstructure:"max_block_txs" yaml:"max_block_txs"`
	// StakeWei is the stake attached to each proposal.
	StakeWei uint64 `mapstructure:"stake_wei" yaml:"stake_wei"`
}

// DefaultConfig returns the standard assembly policy.
func DefaultConfig() Config {
	return Config{
		TargetTxCount: 32,
		MaxBlockTxs:   512,
		StakeWei:      1_000_000_000_000_000, // 0.001 ether
	}
}

func (c Config) stake() *big.Int {
	return new(big.Int).SetUint64(c.StakeWei)
}
