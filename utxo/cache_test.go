package utxo

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoincandy/candyd/model"
)

// memView is a map-backed bottom view for tests.
type memView struct {
	coins map[model.OutPoint]*Coin
	best  chainhash.Hash
}

func newMemView() *memView {
	return &memView{coins: make(map[model.OutPoint]*Coin)}
}

func (m *memView) GetCoin(op model.OutPoint) (*Coin, error) {
	coin, ok := m.coins[op]
	if !ok || coin.IsSpent() {
		return nil, nil
	}

	return coin.Clone(), nil
}

func (m *memView) HaveCoin(op model.OutPoint) (bool, error) {
	coin, err := m.GetCoin(op)
	return coin != nil, err
}

func (m *memView) BestBlock() (chainhash.Hash, error) { return m.best, nil }

func (m *memView) BatchWrite(entries map[model.OutPoint]*CacheEntry, best chainhash.Hash) error {
	for op, entry := range entries {
		if entry.Flags&EntryDirty == 0 {
			continue
		}

		if entry.Coin.IsSpent() {
			delete(m.coins, op)
		} else {
			m.coins[op] = entry.Coin.Clone()
		}
	}

	m.best = best

	return nil
}

func op(n byte) model.OutPoint {
	hash := chainhash.DoubleHashH([]byte{n})
	return model.OutPoint{Hash: hash, Index: uint32(n)}
}

func coinWithValue(value model.Amount) *Coin {
	return NewCoin(model.TxOut{Value: value, PkScript: []byte{0x51}}, 7, false)
}

func TestCacheAddSpendFresh(t *testing.T) {
	base := newMemView()
	cache := NewCache(base)

	// A coin created and spent in the same layer never reaches the base.
	require.NoError(t, cache.AddCoin(op(1), coinWithValue(100), false))

	spent, err := cache.SpendCoin(op(1))
	require.NoError(t, err)
	require.NotNil(t, spent)
	assert.Equal(t, model.Amount(100), spent.Out.Value)

	require.NoError(t, cache.Flush())
	assert.Empty(t, base.coins)
}

func TestCacheSpendFallsThroughToBase(t *testing.T) {
	base := newMemView()
	base.coins[op(2)] = coinWithValue(250)

	cache := NewCache(base)

	spent, err := cache.SpendCoin(op(2))
	require.NoError(t, err)
	require.NotNil(t, spent)
	assert.Equal(t, model.Amount(250), spent.Out.Value)

	// The spend is only visible below after a flush.
	still, err := base.GetCoin(op(2))
	require.NoError(t, err)
	assert.NotNil(t, still)

	require.NoError(t, cache.Flush())

	gone, err := base.GetCoin(op(2))
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCacheOverwriteGuard(t *testing.T) {
	base := newMemView()
	base.coins[op(3)] = coinWithValue(10)

	cache := NewCache(base)

	// Pull the coin into the layer, then try to add it again.
	coin, err := cache.GetCoin(op(3))
	require.NoError(t, err)
	require.NotNil(t, coin)

	err = cache.AddCoin(op(3), coinWithValue(20), false)
	assert.Error(t, err)

	// Restoring from undo data legitimately overwrites.
	require.NoError(t, cache.AddCoin(op(3), coinWithValue(20), true))

	coin, err = cache.GetCoin(op(3))
	require.NoError(t, err)
	require.NotNil(t, coin)
	assert.Equal(t, model.Amount(20), coin.Out.Value)
}

func TestLayeredFlushCombinesEntries(t *testing.T) {
	base := newMemView()
	base.coins[op(4)] = coinWithValue(40)

	parent := NewCache(base)
	child := NewCache(parent)

	// fresh in child, absent in parent: stays fresh after the fold.
	require.NoError(t, child.AddCoin(op(5), coinWithValue(50), false))

	// spend of a base coin in the child: parent learns the spend.
	spent, err := child.SpendCoin(op(4))
	require.NoError(t, err)
	require.NotNil(t, spent)

	best := chainhash.DoubleHashH([]byte("tip"))
	child.SetBestBlock(best)

	require.NoError(t, child.Flush())

	// Parent sees the new coin and the spend without touching the base.
	coin, err := parent.GetCoin(op(5))
	require.NoError(t, err)
	assert.NotNil(t, coin)

	gone, err := parent.GetCoin(op(4))
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.NotEmpty(t, base.coins[op(4)])

	require.NoError(t, parent.Flush())

	assert.Nil(t, base.coins[op(4)])
	assert.NotNil(t, base.coins[op(5)])
	assert.Equal(t, best, base.best)
}

func TestFreshCoinSpentInChildErasedInParent(t *testing.T) {
	base := newMemView()

	parent := NewCache(base)
	require.NoError(t, parent.AddCoin(op(6), coinWithValue(60), false))

	child := NewCache(parent)
	spent, err := child.SpendCoin(op(6))
	require.NoError(t, err)
	require.NotNil(t, spent)

	require.NoError(t, child.Flush())

	// Created in the parent, spent in the child: nothing survives.
	coin, err := parent.GetCoin(op(6))
	require.NoError(t, err)
	assert.Nil(t, coin)
	assert.Equal(t, 0, parent.CacheSize())
}

func TestAccessByTxid(t *testing.T) {
	base := newMemView()

	hash := chainhash.DoubleHashH([]byte("shared tx"))
	base.coins[model.OutPoint{Hash: hash, Index: 2}] = NewCoin(
		model.TxOut{Value: 5, PkScript: []byte{0x51}}, 33, true)

	cache := NewCache(base)

	coin, err := AccessByTxid(cache, &hash)
	require.NoError(t, err)
	require.NotNil(t, coin)
	assert.Equal(t, int32(33), coin.Height)
	assert.True(t, coin.Coinbase)
}
