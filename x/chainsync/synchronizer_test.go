package chainsync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimist-network/coordinator/x/chain"
	"github.com/optimist-network/coordinator/x/mirror"
	"github.com/optimist-network/coordinator/x/txpool"
)

type stubReader struct {
	blocks []*chain.Block
	countE error
	blockE map[uint64]error
}

func (r *stubReader) ProposedBlockCount(context.Context) (uint64, error) {
	if r.countE != nil {
		return 0, r.countE
	}
	return uint64(len(r.blocks)), nil
}

func (r *stubReader) BlockByNumber(_ context.Context, n uint64) (*chain.Block, error) {
	if err := r.blockE[n]; err != nil {
		return nil, err
	}
	if n == 0 || n > uint64(len(r.blocks)) {
		return nil, fmt.Errorf("no block %d", n)
	}
	return r.blocks[n-1], nil
}

func (r *stubReader) ChallengeCommitExists(context.Context, uint64) (bool, error) {
	return false, nil
}

// buildHistory produces a consistent chain of block proposals whose roots
// follow the mirror's append rule.
func buildHistory(txsPerBlock ...int) []*chain.Block {
	scratch := mirror.New()
	var blocks []*chain.Block
	seq := 0
	for i, n := range txsPerBlock {
		hashes := make([]common.Hash, n)
		for j := range hashes {
			hashes[j] = crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d", seq)))
			seq++
		}
		num := uint64(i + 1)
		root := scratch.ApplyBlock(num, hashes)
		blocks = append(blocks, &chain.Block{
			Number:   num,
			TxHashes: hashes,
			NewRoot:  root,
		})
	}
	return blocks
}

func TestSynchronizer_Sync_ReplaysFullHistory(t *testing.T) {
	t.Parallel()

	blocks := buildHistory(2, 3, 1)
	reader := &stubReader{blocks: blocks}
	m := mirror.New()
	pool := txpool.New(zerolog.Nop())
	s := New(zerolog.Nop(), reader, m, pool)

	require.False(t, s.Ready())
	require.NoError(t, s.Sync(context.Background()))

	assert.True(t, s.Ready())
	assert.Equal(t, uint64(3), m.BlockCount())
	assert.Equal(t, blocks[2].NewRoot, m.Root())
}

func TestSynchronizer_Sync_IsIdempotent(t *testing.T) {
	t.Parallel()

	reader := &stubReader{blocks: buildHistory(2, 2)}
	m := mirror.New()
	s := New(zerolog.Nop(), reader, m, txpool.New(zerolog.Nop()))

	require.NoError(t, s.Sync(context.Background()))
	root := m.Root()

	require.NoError(t, s.Sync(context.Background()))
	assert.Equal(t, root, m.Root())
	assert.Equal(t, uint64(2), m.BlockCount())
}

func TestSynchronizer_Sync_FetchesOnlyMissingBlocks(t *testing.T) {
	t.Parallel()

	blocks := buildHistory(1, 2, 3, 4)
	reader := &stubReader{blocks: blocks}

	// Simulate a restart that had mirrored the first two blocks: fetching
	// them again must not happen.
	m := mirror.New()
	m.ApplyBlock(1, blocks[0].TxHashes)
	m.ApplyBlock(2, blocks[1].TxHashes)
	reader.blockE = map[uint64]error{
		1: errors.New("must not refetch block 1"),
		2: errors.New("must not refetch block 2"),
	}

	s := New(zerolog.Nop(), reader, m, txpool.New(zerolog.Nop()))
	require.NoError(t, s.Sync(context.Background()))

	assert.True(t, s.Ready())
	assert.Equal(t, uint64(4), m.BlockCount())
	assert.Equal(t, blocks[3].NewRoot, m.Root())
}

func TestSynchronizer_Sync_MarksReplayedTransactionsIncluded(t *testing.T) {
	t.Parallel()

	blocks := buildHistory(2)
	reader := &stubReader{blocks: blocks}
	pool := txpool.New(zerolog.Nop())

	// The pool already holds one of the transactions the replayed block
	// includes, plus one unrelated transaction.
	require.NoError(t, pool.Add(&txpool.Transaction{Hash: blocks[0].TxHashes[0]}))
	other := crypto.Keccak256Hash([]byte("unrelated"))
	require.NoError(t, pool.Add(&txpool.Transaction{Hash: other}))

	s := New(zerolog.Nop(), reader, mirror.New(), pool)
	require.NoError(t, s.Sync(context.Background()))

	pending := pool.Pending(0)
	require.Len(t, pending, 1)
	assert.Equal(t, other, pending[0].Hash)
}

func TestSynchronizer_Sync_ConsistencyFaultIsSticky(t *testing.T) {
	t.Parallel()

	blocks := buildHistory(2, 2)
	blocks[1].NewRoot = crypto.Keccak256Hash([]byte("forged-root"))
	reader := &stubReader{blocks: blocks}

	m := mirror.New()
	s := New(zerolog.Nop(), reader, m, txpool.New(zerolog.Nop()))

	err := s.Sync(context.Background())
	require.ErrorIs(t, err, ErrConsistency)
	assert.False(t, s.Ready())
	assert.True(t, s.Faulted())

	// The valid prefix stays applied, the bad block does not.
	assert.Equal(t, uint64(1), m.BlockCount())

	// Further syncs refuse to run.
	err = s.Sync(context.Background())
	require.ErrorIs(t, err, ErrConsistency)
}

func TestSynchronizer_Sync_ReaderErrorIsNotAFault(t *testing.T) {
	t.Parallel()

	boom := errors.New("rpc down")
	reader := &stubReader{blocks: buildHistory(1), countE: boom}
	s := New(zerolog.Nop(), reader, mirror.New(), txpool.New(zerolog.Nop()))

	err := s.Sync(context.Background())
	require.ErrorIs(t, err, boom)
	assert.False(t, s.Faulted())

	// Recovered reader: sync succeeds.
	reader.countE = nil
	require.NoError(t, s.Sync(context.Background()))
	assert.True(t, s.Ready())
}

func TestSynchronizer_ChainRevertedBelowMirror_IsConsistencyFault(t *testing.T) {
	t.Parallel()

	blocks := buildHistory(2, 1)
	reader := &stubReader{blocks: blocks}
	m := mirror.New()
	s := New(zerolog.Nop(), reader, m, txpool.New(zerolog.Nop()))

	require.NoError(t, s.Sync(context.Background()))
	require.True(t, s.Ready())
	require.Equal(t, uint64(2), m.BlockCount())

	// The chain drops a block we already merged as settled.
	reader.blocks = blocks[:1]

	err := s.Sync(context.Background())
	require.ErrorIs(t, err, ErrConsistency)
	assert.False(t, s.Ready())
	assert.True(t, s.Faulted())

	// The fault is sticky across further sync attempts.
	require.ErrorIs(t, s.Sync(context.Background()), ErrConsistency)
}
