package mempool

import (
	"io"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoincandy/candyd/blockchain"
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/ulogger"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()

	return New(ulogger.NewZeroLogger("test", ulogger.WithWriter(io.Discard), ulogger.WithLevel("ERROR")))
}

func spendOf(prev chainhash.Hash, index uint32, marker byte) *model.Tx {
	return &model.Tx{
		Version: 1,
		TxIn: []*model.TxIn{{
			PreviousOutPoint: model.OutPoint{Hash: prev, Index: index},
			SignatureScript:  []byte{0x51, marker},
			Sequence:         model.SequenceFinal,
		}},
		TxOut: []*model.TxOut{{Value: 100, PkScript: []byte{0x51, marker}}},
	}
}

func TestAcceptAndExists(t *testing.T) {
	pool := newTestPool(t)

	tx := spendOf(chainhash.DoubleHashH([]byte("a")), 0, 1)
	require.NoError(t, pool.MaybeAccept(tx))

	assert.True(t, pool.Exists(tx.TxID()))
	assert.Equal(t, 1, pool.Count())

	// Re-offering is a no-op.
	require.NoError(t, pool.MaybeAccept(tx))
	assert.Equal(t, 1, pool.Count())
}

func TestRejectConflicts(t *testing.T) {
	pool := newTestPool(t)

	prev := chainhash.DoubleHashH([]byte("shared"))

	require.NoError(t, pool.MaybeAccept(spendOf(prev, 0, 1)))
	assert.Error(t, pool.MaybeAccept(spendOf(prev, 0, 2)), "double spend of a pooled outpoint")
}

func TestRejectCoinbase(t *testing.T) {
	pool := newTestPool(t)

	coinbase := &model.Tx{
		TxIn: []*model.TxIn{{
			PreviousOutPoint: model.OutPoint{Index: ^uint32(0)},
			SignatureScript:  []byte{0x01, 0x02},
			Sequence:         model.SequenceFinal,
		}},
		TxOut: []*model.TxOut{{Value: 100, PkScript: []byte{0x51}}},
	}

	assert.Error(t, pool.MaybeAccept(coinbase))
}

func TestRemoveForBlockEvictsConflicts(t *testing.T) {
	pool := newTestPool(t)

	prev := chainhash.DoubleHashH([]byte("contested"))

	pooled := spendOf(prev, 0, 1)
	require.NoError(t, pool.MaybeAccept(pooled))

	// The block confirms a different spend of the same outpoint.
	confirmed := spendOf(prev, 0, 2)
	pool.RemoveForBlock([]*model.Tx{confirmed}, 10)

	assert.False(t, pool.Exists(pooled.TxID()))
	assert.Equal(t, 0, pool.Count())
}

func TestRemoveRecursiveDropsDescendants(t *testing.T) {
	pool := newTestPool(t)

	parent := spendOf(chainhash.DoubleHashH([]byte("root")), 0, 1)
	require.NoError(t, pool.MaybeAccept(parent))

	child := spendOf(parent.TxID(), 0, 2)
	require.NoError(t, pool.MaybeAccept(child))

	grandchild := spendOf(child.TxID(), 0, 3)
	require.NoError(t, pool.MaybeAccept(grandchild))

	pool.RemoveRecursive(parent, blockchain.RemovalReorg)

	assert.Equal(t, 0, pool.Count())
}

func TestLimitSizeEvicts(t *testing.T) {
	pool := newTestPool(t)

	for i := byte(0); i < 10; i++ {
		require.NoError(t, pool.MaybeAccept(spendOf(chainhash.DoubleHashH([]byte{i}), 0, i)))
	}
	require.Equal(t, 10, pool.Count())

	pool.LimitSize(1, 3600)
	assert.LessOrEqual(t, pool.Count(), 1)

	pool.Clear()
	assert.Equal(t, 0, pool.Count())
}
