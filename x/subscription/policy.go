package subscription

import "time"

// ReconnectPolicy is the single reusable reconnection policy used by every
// subscription: bounded attempts with a fixed delay between them.
type ReconnectPolicy struct {
	// MaxAttempts bounds consecutive failed connection attempts before the
	// subscription gives up and reports a connectivity fault.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// Delay is the fixed wait between attempts.
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`
}

// DefaultReconnectPolicy returns the standard policy.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 10,
		Delay:       5 * time.Second,
	}
}
