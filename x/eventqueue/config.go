package eventqueue

import (
	"context"

	"github.com/rs/zerolog"
)

// Config configures a Manager.
type Config struct {
	// Context is handed to every task at execution time.
	Context context.Context
	// QueueIDs declares the fixed queue set. Defaults to DefaultQueueIDs.
	QueueIDs []string
	Logger   zerolog.Logger
}

// DefaultQueueIDs returns the coordinator's standard queue set.
func DefaultQueueIDs() []string {
	return []string{QueueGeneral, QueueProposer, QueueChallenger, QueueLiquidity}
}

// DefaultConfig returns a config with the standard queue set.
func DefaultConfig(ctx context.Context, logger zerolog.Logger) Config {
	return Config{
		Context:  ctx,
		QueueIDs: DefaultQueueIDs(),
		Logger:   logger,
	}
}
