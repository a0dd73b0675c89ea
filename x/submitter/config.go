package submitter

import (
	"math/big"
	"time"
)

// Config holds submission parameters.
type Config struct {
	// ChainID of the base chain. Required.
	ChainID uint64 `mapstructure:"chain_id"        yaml:"chain_id"`
	// GasLimitFallback is used when EstimateGas fails.
	GasLimitFallback uint64 `mapstructure:"gas_limit_fallback" yaml:"gas_limit_fallback"`
	// GasPriceFallbackWei is used when both the external estimator and the
	// chain's own suggestion fail.
	GasPriceFallbackWei uint64 `mapstructure:"gas_price_fallback_wei" yaml:"gas_price_fallback_wei"`
	// SafetyMultiplierPct is applied to the estimated gas limit and price,
	// e.g. 120 means +20%.
	SafetyMultiplierPct uint64 `mapstructure:"safety_multiplier_pct" yaml:"safety_multiplier_pct"`
	// ReceiptTimeout bounds the wait for a mined receipt.
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout" yaml:"receipt_timeout"`
	// ReceiptPollInterval is the receipt polling cadence.
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval" yaml:"receipt_poll_interval"`
}

// DefaultConfig returns production-ready submission defaults.
func DefaultConfig() Config {
	return Config{
		GasLimitFallback:    1_500_000,
		GasPriceFallbackWei: 2_000_000_000, // 2 gwei
		SafetyMultiplierPct: 120,
		ReceiptTimeout:      2 * time.Minute,
		ReceiptPollInterval: 3 * time.Second,
	}
}

func (c Config) gasPriceFallback() *big.Int {
	return new(big.Int).SetUint64(c.GasPriceFallbackWei)
}
