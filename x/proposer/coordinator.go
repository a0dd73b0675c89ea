// Package proposer tracks the rotating proposer set and this node's place
// in it. Identity flips only on confirmed on-chain rotation events, never
// speculatively.
package proposer

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/optimist-network/coordinator/x/chain"
)

// State is the node's duty state within the current rotation epoch.
type State int

const (
	// Idle means some other identity holds the proposal right.
	Idle State = iota
	// Active means this node holds the proposal right.
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Proposer is a registered block-proposal right-holder.
type Proposer struct {
	Address  common.Address
	Endpoint string
	Bond     *big.Int
}

// ReadyFunc gates proposing on the synchronizer having caught up.
type ReadyFunc func() bool

// Coordinator maintains the proposer registry and the Idle/Active state
// machine.
type Coordinator struct {
	log   zerolog.Logger
	self  common.Address
	ready ReadyFunc

	mu       sync.RWMutex
	state    State
	current  common.Address
	registry map[common.Address]Proposer
}

// New creates a coordinator for the local identity self. The ready function
// must reflect the synchronizer's caught-up signal.
func New(logger zerolog.Logger, self common.Address, ready ReadyFunc) *Coordinator {
	return &Coordinator{
		log:      logger.With().Str("component", "proposer").Logger(),
		self:     self,
		ready:    ready,
		registry: make(map[common.Address]Proposer),
	}
}

// Self returns the local proposer identity.
func (c *Coordinator) Self() common.Address {
	return c.self
}

// CurrentProposer returns the address named by the last confirmed rotation.
func (c *Coordinator) CurrentProposer() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// State returns the node's duty state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// MayPropose is true only when this node is the current proposer and the
// synchronizer is caught up.
func (c *Coordinator) MayPropose() bool {
	c.mu.RLock()
	active := c.state == Active
	c.mu.RUnlock()
	return active && c.ready != nil && c.ready()
}

// ApplyRotation handles a confirmed rotation event. The named proposer
// becomes current; this node goes Active only if the event names it.
func (c *Coordinator) ApplyRotation(rot chain.Rotation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = rot.Proposer
	c.registry[rot.Proposer] = Proposer{
		Address:  rot.Proposer,
		Endpoint: rot.Endpoint,
		Bond:     rot.Bond,
	}

	prev := c.state
	if rot.Proposer == c.self {
		c.state = Active
	} else {
		c.state = Idle
	}
	if prev != c.state {
		c.log.Info().
			Str("proposer", rot.Proposer.Hex()).
			Str("state", c.state.String()).
			Msg("rotation confirmed")
	}
}

// Deregister handles forced deregistration of a proposer. Deregistering the
// current proposer (including self) returns this node to Idle.
func (c *Coordinator) Deregister(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.registry, addr)
	if addr == c.current {
		c.current = common.Address{}
	}
	if addr == c.self && c.state == Active {
		c.state = Idle
		c.log.Warn().Str("proposer", addr.Hex()).Msg("forced deregistration, returning to idle")
	}
}

// Registered returns a snapshot of the known proposer set.
func (c *Coordinator) Registered() []Proposer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Proposer, 0, len(c.registry))
	for _, p := range c.registry {
		out = append(out, p)
	}
	return out
}
