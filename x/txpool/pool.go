// Package txpool holds pending rollup transactions awaiting block inclusion.
// The pool is FIFO: assembly takes transactions in arrival order and never
// reorders them.
package txpool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// ErrKnownTransaction indicates the transaction is already pooled.
var ErrKnownTransaction = errors.New("txpool: transaction already known")

// Transaction is a pending, unconfirmed rollup transaction.
type Transaction struct {
	Hash     common.Hash
	Raw      []byte
	Fee      *big.Int
	Included bool
}

// Pool is the coordinator's mempool.
type Pool struct {
	mu    sync.RWMutex
	log   zerolog.Logger
	order []common.Hash
	byID  map[common.Hash]*Transaction
}

// New returns an empty pool.
func New(logger zerolog.Logger) *Pool {
	return &Pool{
		log:  logger.With().Str("component", "txpool").Logger(),
		byID: make(map[common.Hash]*Transaction),
	}
}

// Add appends tx to the pool.
func (p *Pool) Add(tx *Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byID[tx.Hash]; exists {
		return fmt.Errorf("%w: %s", ErrKnownTransaction, tx.Hash.Hex())
	}
	cp := *tx
	cp.Included = false
	p.byID[tx.Hash] = &cp
	p.order = append(p.order, tx.Hash)
	return nil
}

// Pending returns up to limit unincluded transactions in arrival order.
// limit <= 0 means no limit.
func (p *Pool) Pending(limit int) []*Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Transaction, 0, len(p.order))
	for _, h := range p.order {
		tx := p.byID[h]
		if tx == nil || tx.Included {
			continue
		}
		cp := *tx
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// PendingCount returns the number of unincluded transactions.
func (p *Pool) PendingCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, tx := range p.byID {
		if !tx.Included {
			n++
		}
	}
	return n
}

// MarkIncluded flags the given transactions as included in a surviving
// block. Unknown hashes are ignored; replayed history can reference
// transactions this node never pooled.
func (p *Pool) MarkIncluded(hashes []common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range hashes {
		if tx, ok := p.byID[h]; ok {
			tx.Included = true
		}
	}
}

// Release returns the given transactions to the pool unincluded, used after
// a successful challenge reverts their block.
func (p *Pool) Release(hashes []common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	released := 0
	for _, h := range hashes {
		if tx, ok := p.byID[h]; ok && tx.Included {
			tx.Included = false
			released++
		}
	}
	if released > 0 {
		p.log.Info().Int("count", released).Msg("transactions released back to pool")
	}
}

// Drop removes the given transactions entirely.
func (p *Pool) Drop(hashes []common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range hashes {
		delete(p.byID, h)
	}
	kept := p.order[:0]
	for _, h := range p.order {
		if _, ok := p.byID[h]; ok {
			kept = append(kept, h)
		}
	}
	p.order = kept
}
