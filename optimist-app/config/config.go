package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/optimist-network/coordinator/x/assembler"
	"github.com/optimist-network/coordinator/x/submitter"
	"github.com/optimist-network/coordinator/x/subscription"
)

// Config holds the complete coordinator configuration
type Config struct {
	Node      NodeConfig          `mapstructure:"node"      yaml:"node"`
	Chain     ChainConfig         `mapstructure:"chain"     yaml:"chain"`
	Keys      KeysConfig          `mapstructure:"keys"      yaml:"keys"`
	API       APIServerConfig     `mapstructure:"api"       yaml:"api"`
	Metrics   MetricsConfig       `mapstructure:"metrics"   yaml:"metrics"`
	Log       LogConfig           `mapstructure:"log"       yaml:"log"`
	Assembler assembler.Config    `mapstructure:"assembler" yaml:"assembler"`
	Submitter submitter.Config    `mapstructure:"submitter" yaml:"submitter"`
	Observer  subscription.Config `mapstructure:"observer"  yaml:"observer"`
}

// NodeConfig holds the coordinator's identity and dispute policy
type NodeConfig struct {
	Self             string        `mapstructure:"self"              yaml:"self"              env:"NODE_SELF"`
	ChallengeWindow  time.Duration `mapstructure:"challenge_window"  yaml:"challenge_window"  env:"NODE_CHALLENGE_WINDOW"`
	ResubscribeDelay time.Duration `mapstructure:"resubscribe_delay" yaml:"resubscribe_delay" env:"NODE_RESUBSCRIBE_DELAY"`
}

// ChainConfig holds base-chain endpoints and contract addresses
type ChainConfig struct {
	RPCEndpoint    string `mapstructure:"rpc_endpoint"    yaml:"rpc_endpoint"    env:"CHAIN_RPC_ENDPOINT"`
	RollupContract string `mapstructure:"rollup_contract" yaml:"rollup_contract" env:"CHAIN_ROLLUP_CONTRACT"`
	ProverBaseURL  string `mapstructure:"prover_base_url" yaml:"prover_base_url" env:"CHAIN_PROVER_BASE_URL"`
}

// KeysConfig holds the per-role signing keys. A role without a key is
// simply not played by this node.
type KeysConfig struct {
	ProposerPkHex   string `mapstructure:"proposer_pk_hex"   yaml:"proposer_pk_hex"   env:"KEYS_PROPOSER_PK_HEX"`
	ChallengerPkHex string `mapstructure:"challenger_pk_hex" yaml:"challenger_pk_hex" env:"KEYS_CHALLENGER_PK_HEX"`
	LiquidityPkHex  string `mapstructure:"liquidity_pk_hex"  yaml:"liquidity_pk_hex"  env:"KEYS_LIQUIDITY_PK_HEX"`
}

// APIServerConfig holds HTTP API server configuration
type APIServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr"         yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"        yaml:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"    yaml:"max_header_bytes"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Port    int    `mapstructure:"port"    yaml:"port"    env:"METRICS_PORT"`
	Path    string `mapstructure:"path"    yaml:"path"    env:"METRICS_PATH"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fallback env aliases for chain endpoints
	if strings.TrimSpace(cfg.Chain.RPCEndpoint) == "" {
		if val := strings.TrimSpace(os.Getenv("CHAIN_RPC_ENDPOINT")); val != "" {
			cfg.Chain.RPCEndpoint = val
		}
	}
	if strings.TrimSpace(cfg.Observer.URL) == "" {
		if val := strings.TrimSpace(os.Getenv("OBSERVER_URL")); val != "" {
			cfg.Observer.URL = val
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("node.self", "")
	v.SetDefault("node.challenge_window", "10m")
	v.SetDefault("node.resubscribe_delay", "1m")

	v.SetDefault("chain.rpc_endpoint", "")
	v.SetDefault("chain.rollup_contract", "")
	v.SetDefault("chain.prover_base_url", "")

	v.SetDefault("api.listen_addr", ":8091")
	v.SetDefault("api.read_header_timeout", "5s")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")
	v.SetDefault("api.max_header_bytes", 1048576)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9102)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("assembler.target_tx_count", 32)
	v.SetDefault("assembler.max_block_txs", 512)
	v.SetDefault("assembler.stake_wei", 1_000_000_000_000_000)

	v.SetDefault("submitter.chain_id", 0)
	v.SetDefault("submitter.gas_limit_fallback", 1_500_000)
	v.SetDefault("submitter.gas_price_fallback_wei", 2_000_000_000)
	v.SetDefault("submitter.safety_multiplier_pct", 120)
	v.SetDefault("submitter.receipt_timeout", "2m")
	v.SetDefault("submitter.receipt_poll_interval", "3s")

	v.SetDefault("observer.url", "")
	v.SetDefault("observer.reconnect.max_attempts", 10)
	v.SetDefault("observer.reconnect.delay", "5s")
	v.SetDefault("observer.keepalive_interval", "15s")
	v.SetDefault("observer.keepalive_timeout", "10s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateNode(); err != nil {
		return err
	}
	if err := c.validateChain(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNode() error {
	if !common.IsHexAddress(c.Node.Self) {
		return fmt.Errorf("node.self must be a hex address, got %q", c.Node.Self)
	}
	if c.Node.ChallengeWindow <= 0 {
		return fmt.Errorf("node.challenge_window must be positive")
	}
	return nil
}

func (c *Config) validateChain() error {
	if strings.TrimSpace(c.Chain.RPCEndpoint) == "" {
		return fmt.Errorf("chain.rpc_endpoint is required")
	}
	if !common.IsHexAddress(c.Chain.RollupContract) {
		return fmt.Errorf("chain.rollup_contract must be a hex address, got %q", c.Chain.RollupContract)
	}
	if strings.TrimSpace(c.Chain.ProverBaseURL) == "" {
		return fmt.Errorf("chain.prover_base_url is required")
	}
	if strings.TrimSpace(c.Observer.URL) == "" {
		return fmt.Errorf("observer.url is required")
	}
	if c.Submitter.ChainID == 0 {
		return fmt.Errorf("submitter.chain_id is required")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1-65535 when metrics enabled, got %d", c.Metrics.Port)
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ChallengeWindow:  10 * time.Minute,
			ResubscribeDelay: time.Minute,
		},
		API: APIServerConfig{
			ListenAddr:        ":8091",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9102,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
		Assembler: assembler.DefaultConfig(),
		Submitter: submitter.DefaultConfig(),
		Observer:  subscription.DefaultConfig(),
	}
}
