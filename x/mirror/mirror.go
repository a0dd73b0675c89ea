// Package mirror keeps the coordinator's local reconstruction of the
// rollup's commitment tree. The tree is an append-only Merkle accumulator:
// appending a leaf touches only the frontier (the left siblings on the path
// to the next free slot), so the mirror never holds the full tree.
//
// The mirror advances only for finalized blocks. A checkpoint of the
// frontier is kept per applied block so a successfully challenged block can
// be rolled back.
package mirror

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Depth is the height of the commitment tree. Capacity is 2^Depth leaves.
const Depth = 32

// ErrUnknownBlock indicates a rollback target the mirror has no checkpoint for.
var ErrUnknownBlock = errors.New("mirror: no checkpoint for block")

// zeroHashes[i] is the root of an empty subtree of height i.
var zeroHashes = func() [Depth + 1]common.Hash {
	var zh [Depth + 1]common.Hash
	for i := 1; i <= Depth; i++ {
		zh[i] = hashPair(zh[i-1], zh[i-1])
	}
	return zh
}()

func hashPair(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left.Bytes(), right.Bytes())
}

type checkpoint struct {
	blockNumber uint64
	leafCount   uint64
	frontier    [Depth]common.Hash
	root        common.Hash
}

// Mirror is the local commitment-tree reconstruction.
type Mirror struct {
	mu          sync.RWMutex
	leafCount   uint64
	frontier    [Depth]common.Hash
	root        common.Hash
	checkpoints []checkpoint
}

// New returns an empty mirror.
func New() *Mirror {
	return &Mirror{root: zeroHashes[Depth]}
}

// Root returns the current tree root.
func (m *Mirror) Root() common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// LeafCount returns the number of appended leaves.
func (m *Mirror) LeafCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leafCount
}

// BlockCount returns the number of finalized blocks merged into the mirror.
func (m *Mirror) BlockCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.checkpoints))
}

// ApplyBlock appends the block's transaction hashes and checkpoints the
// resulting state under blockNumber. It returns the new root.
func (m *Mirror) ApplyBlock(blockNumber uint64, txHashes []common.Hash) common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range txHashes {
		m.appendLeaf(h)
	}
	m.checkpoints = append(m.checkpoints, checkpoint{
		blockNumber: blockNumber,
		leafCount:   m.leafCount,
		frontier:    m.frontier,
		root:        m.root,
	})
	return m.root
}

// ComputeAppend returns the root the tree would have after appending
// txHashes, without mutating the mirror. This is the append rule shared by
// block assembly and replay validation.
func (m *Mirror) ComputeAppend(txHashes []common.Hash) common.Hash {
	m.mu.RLock()
	scratch := Mirror{leafCount: m.leafCount, frontier: m.frontier, root: m.root}
	m.mu.RUnlock()

	for _, h := range txHashes {
		scratch.appendLeaf(h)
	}
	return scratch.root
}

// RollbackTo restores the checkpoint taken after blockNumber was applied and
// discards every later block. RollbackTo(n) leaves the mirror exactly as it
// was when block n finalized.
func (m *Mirror) RollbackTo(blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		cp := m.checkpoints[i]
		if cp.blockNumber == blockNumber {
			m.leafCount = cp.leafCount
			m.frontier = cp.frontier
			m.root = cp.root
			m.checkpoints = m.checkpoints[:i+1]
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrUnknownBlock, blockNumber)
}

// appendLeaf inserts leaf at the next free slot and recomputes the root from
// the frontier. Caller must hold m.mu.
func (m *Mirror) appendLeaf(leaf common.Hash) {
	index := m.leafCount
	node := leaf
	for level := 0; level < Depth; level++ {
		if index&1 == 0 {
			m.frontier[level] = node
			break
		}
		node = hashPair(m.frontier[level], node)
		index >>= 1
	}
	m.leafCount++
	m.root = m.computeRoot()
}

// computeRoot folds the frontier with empty-subtree hashes up to the top.
// Caller must hold m.mu.
func (m *Mirror) computeRoot() common.Hash {
	size := m.leafCount
	var node common.Hash
	for level := 0; level < Depth; level++ {
		if size&1 == 1 {
			node = hashPair(m.frontier[level], node)
		} else {
			node = hashPair(node, zeroHashes[level])
		}
		size >>= 1
	}
	return node
}
