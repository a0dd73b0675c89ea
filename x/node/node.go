// Package node is the composition root of the optimist coordinator. It owns
// the queue manager and the subscription bridge, routes every notification
// onto the general queue, and hands the serialized role queues to the
// transaction submitter.
//
// Queue discipline: all event processing (pool and mirror mutations
// included) runs on the general queue's single worker; the proposer,
// challenger, and liquidity queues carry only submission jobs. That split
// keeps event handling deadlock-free while preserving one in-flight
// transaction per role.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/optimist-network/coordinator/x/assembler"
	"github.com/optimist-network/coordinator/x/chain"
	"github.com/optimist-network/coordinator/x/chainsync"
	"github.com/optimist-network/coordinator/x/challenge"
	"github.com/optimist-network/coordinator/x/contracts"
	"github.com/optimist-network/coordinator/x/eventqueue"
	"github.com/optimist-network/coordinator/x/mirror"
	"github.com/optimist-network/coordinator/x/proposer"
	"github.com/optimist-network/coordinator/x/submitter"
	"github.com/optimist-network/coordinator/x/subscription"
	"github.com/optimist-network/coordinator/x/txpool"
)

// Node is the running coordinator.
type Node struct {
	cfg Config
	log zerolog.Logger

	queues    *eventqueue.Manager
	bridge    *subscription.Bridge
	pool      *txpool.Pool
	mirror    *mirror.Mirror
	sync      *chainsync.Synchronizer
	proposers *proposer.Coordinator
	assembler *assembler.Assembler
	engine    *challenge.Engine
	submitter *submitter.Submitter
	binding   *contracts.RollupBinding

	halted atomic.Bool

	mu      sync.Mutex
	pending map[uint64]*pendingBlock
	started bool
}

type pendingBlock struct {
	block *chain.Block
	timer *time.Timer
}

// New builds the full component graph.
func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger.With().Str("component", "node").Logger()

	binding, err := contracts.NewRollupBinding(cfg.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("node: contract binding: %w", err)
	}

	queues := eventqueue.New(eventqueue.DefaultConfig(cfg.Context, cfg.Logger))
	pool := txpool.New(cfg.Logger)
	mir := mirror.New()
	sync := chainsync.New(cfg.Logger, cfg.Reader, mir, pool)
	proposers := proposer.New(cfg.Logger, cfg.Self, sync.Ready)
	sub := submitter.New(cfg.Submitter, cfg.Logger, cfg.EthClient, cfg.Estimator, queues)
	for role, signer := range cfg.Signers {
		sub.SetSigner(role, signer)
	}

	n := &Node{
		cfg:       cfg,
		log:       log,
		queues:    queues,
		bridge:    subscription.New(cfg.Subscription, cfg.Logger, cfg.Dialer),
		pool:      pool,
		mirror:    mir,
		sync:      sync,
		proposers: proposers,
		submitter: sub,
		binding:   binding,
		pending:   make(map[uint64]*pendingBlock),
	}

	sink := &txSink{node: n}
	n.assembler = assembler.New(cfg.Assembler, cfg.Logger, pool, mir, proposers, sink)
	n.engine = challenge.New(cfg.Logger, mir, pool, cfg.Reader, cfg.Prover, sink)

	queues.SetFailureHandler(n.onTaskFailure)
	queues.SetDrainHandler(n.onQueueDrained)
	n.bridge.SetFaultHandler(n.onSubscriptionFault)

	return n, nil
}

// Start opens the observer subscriptions. The first task on the general
// queue is the startup resynchronization, so live notifications queue up
// behind the replay and the node never acts on stale state.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = true
	n.mu.Unlock()

	if err := n.bridge.Start(ctx); err != nil {
		return fmt.Errorf("node: start bridge: %w", err)
	}

	channels := []string{
		chain.NotificationBlock,
		chain.NotificationChallenge,
		chain.NotificationInstant,
		chain.NotificationRotation,
	}
	for i, ch := range channels {
		// One gap recovery per (re)connect is enough.
		if err := n.subscribe(ch, i == 0); err != nil {
			return fmt.Errorf("node: subscribe %s: %w", ch, err)
		}
	}

	n.log.Info().Str("self", n.cfg.Self.Hex()).Msg("coordinator started")
	return nil
}

// Stop tears down subscriptions and waits for queue workers.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	for _, p := range n.pending {
		p.timer.Stop()
	}
	n.mu.Unlock()

	var errs []error
	if err := n.bridge.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := n.queues.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AddTransaction ingests a rollup transaction from the local API surface.
// The pool guards itself, so ingestion is synchronous and only the assembly
// check goes through the general queue.
func (n *Node) AddTransaction(tx *txpool.Transaction) error {
	if err := n.pool.Add(tx); err != nil {
		return err
	}
	return n.queues.Enqueue(eventqueue.QueueGeneral, func(ctx context.Context) error {
		return n.assembler.MaybeAssemble(ctx)
	})
}

// ForceAssemble triggers the "make now" path: assemble whatever is pending,
// even below the target count.
func (n *Node) ForceAssemble() error {
	return n.queues.Enqueue(eventqueue.QueueGeneral, func(ctx context.Context) error {
		return n.assembler.ForceAssemble(ctx)
	})
}

// Status is the coordinator's externally visible state.
type Status struct {
	Ready           bool                  `json:"ready"`
	Halted          bool                  `json:"halted"`
	Self            common.Address        `json:"self"`
	CurrentProposer common.Address        `json:"currentProposer"`
	DutyState       string                `json:"dutyState"`
	MirrorRoot      common.Hash           `json:"mirrorRoot"`
	MirrorLeaves    uint64                `json:"mirrorLeaves"`
	MirrorBlocks    uint64                `json:"mirrorBlocks"`
	PendingTxs      int                   `json:"pendingTxs"`
	QueueDepths     map[string]int        `json:"queueDepths"`
	Challenges      []challenge.Challenge `json:"challenges"`
}

// Status snapshots the node for the HTTP API.
func (n *Node) Status() Status {
	depths := make(map[string]int)
	for _, id := range n.queues.QueueIDs() {
		depths[id] = n.queues.Depth(id)
	}
	return Status{
		Ready:           n.sync.Ready(),
		Halted:          n.halted.Load(),
		Self:            n.cfg.Self,
		CurrentProposer: n.proposers.CurrentProposer(),
		DutyState:       n.proposers.State().String(),
		MirrorRoot:      n.mirror.Root(),
		MirrorLeaves:    n.mirror.LeafCount(),
		MirrorBlocks:    n.mirror.BlockCount(),
		PendingTxs:      n.pool.PendingCount(),
		QueueDepths:     depths,
		Challenges:      n.engine.Challenges(),
	}
}

// onTaskFailure is the queue manager's failure handler. A consistency fault
// halts live duty; everything else is logged and retried by its owner.
func (n *Node) onTaskFailure(queueID string, err error) {
	if errors.Is(err, chainsync.ErrConsistency) {
		n.halted.Store(true)
		n.log.Error().Err(err).
			Str("queue", queueID).
			Msg("consistency fault, live block assembly and challenges halted")
		return
	}
	n.log.Error().Err(err).Str("queue", queueID).Msg("task failed")
}

// onQueueDrained re-evaluates the assembly condition once mempool event
// processing has caught up. Draining never proposes by itself.
func (n *Node) onQueueDrained(queueID string) {
	if queueID != eventqueue.QueueGeneral {
		return
	}
	if err := n.assembler.MaybeAssemble(n.cfg.Context); err != nil {
		n.log.Warn().Err(err).Msg("assembly after drain failed")
	}
}

// subscribe opens one observer channel. withRecovery attaches the gap
// recovery callback that re-syncs on every (re)connect.
func (n *Node) subscribe(channel string, withRecovery bool) error {
	onConnected := subscription.OnConnected(nil)
	if withRecovery {
		onConnected = n.onConnected
	}
	return n.bridge.Subscribe(channel, onConnected, n.onNotification)
}

// onSubscriptionFault re-opens a channel whose reconnect budget ran out, on
// a longer timer than the bridge's own retry delay. The fresh subscription
// always gets a gap recovery: messages were missed while the channel was
// down.
func (n *Node) onSubscriptionFault(channel string, err error) {
	n.log.Error().Err(err).
		Str("channel", channel).
		Dur("retry_in", n.cfg.ResubscribeDelay).
		Msg("subscription fault")
	time.AfterFunc(n.cfg.ResubscribeDelay, func() { n.resubscribe(channel) })
}

func (n *Node) resubscribe(channel string) {
	n.mu.Lock()
	started := n.started
	n.mu.Unlock()
	if !started {
		return
	}
	if err := n.subscribe(channel, true); err != nil {
		n.log.Error().Err(err).Str("channel", channel).Msg("resubscribe failed")
		time.AfterFunc(n.cfg.ResubscribeDelay, func() { n.resubscribe(channel) })
	}
}
