package blockchain

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoincandy/candyd/chaincfg"
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/pow/equihash"
)

func TestBlockSubsidySchedule(t *testing.T) {
	params := &chaincfg.MainNetParams

	t.Run("pre-fork halvings", func(t *testing.T) {
		assert.Equal(t, 50*model.COIN, GetBlockSubsidy(0, params))
		assert.Equal(t, 50*model.COIN, GetBlockSubsidy(209999, params))
		assert.Equal(t, 25*model.COIN, GetBlockSubsidy(210000, params))
		assert.Equal(t, 1250_000_000*model.Amount(1), GetBlockSubsidy(420000, params))
	})

	t.Run("fork premine", func(t *testing.T) {
		assert.Equal(t, 210_000*model.COIN, GetBlockSubsidy(params.CDYHeight, params))
	})

	t.Run("compensation payout", func(t *testing.T) {
		assert.Equal(t, 1_000_000*model.COIN, GetBlockSubsidy(params.CompenseHeight, params))
	})

	t.Run("post-fork base and slow halving", func(t *testing.T) {
		// Just past the fork: halvings = (512666 + small/5) / 210000 = 2.
		assert.Equal(t, model.Amount(10*model.COIN)>>2, GetBlockSubsidy(params.CDYHeight+1, params))

		// The post-fork height term advances five times slower, so the next
		// halving boundary sits where cdyHeight + (h-cdyHeight)/5 crosses
		// the interval.
		boundary := params.CDYHeight + (3*params.SubsidyHalvingInterval-params.CDYHeight)*5
		assert.Equal(t, model.Amount(10*model.COIN)>>2, GetBlockSubsidy(boundary-1, params))
		assert.Equal(t, model.Amount(10*model.COIN)>>3, GetBlockSubsidy(boundary, params))
	})

	t.Run("exhausted", func(t *testing.T) {
		regtest := chaincfg.RegressionNetParams
		regtest.CDYHeight = 1 << 30
		regtest.CompenseHeight = 1 << 30

		// 61 halvings at interval 150 pre-fork.
		assert.Equal(t, model.Amount(0), GetBlockSubsidy(150*61, &regtest))
	})
}

func coinbaseTx(height int32, value model.Amount) *model.Tx {
	return &model.Tx{
		Version: 1,
		TxIn: []*model.TxIn{{
			PreviousOutPoint: model.OutPoint{Index: ^uint32(0)},
			SignatureScript:  []byte{byte(height), byte(height >> 8), 0x01},
			Sequence:         model.SequenceFinal,
		}},
		TxOut: []*model.TxOut{{Value: value, PkScript: []byte{0x51}}},
	}
}

func regularTx(prev chainhash.Hash, index uint32, value model.Amount) *model.Tx {
	return &model.Tx{
		Version: 1,
		TxIn: []*model.TxIn{{
			PreviousOutPoint: model.OutPoint{Hash: prev, Index: index},
			SignatureScript:  []byte{0x51},
			Sequence:         model.SequenceFinal,
		}},
		TxOut: []*model.TxOut{{Value: value, PkScript: []byte{0x51}}},
	}
}

func TestCheckCoinbase(t *testing.T) {
	assert.NoError(t, CheckCoinbase(coinbaseTx(1, 50*model.COIN)))

	t.Run("not a coinbase", func(t *testing.T) {
		err := CheckCoinbase(regularTx(chainhash.Hash{1}, 0, 1))
		re, ok := AsRuleError(err)
		require.True(t, ok)
		assert.Equal(t, "bad-cb-missing", re.Reason)
	})

	t.Run("script sig length bounds", func(t *testing.T) {
		tx := coinbaseTx(1, 50*model.COIN)
		tx.TxIn[0].SignatureScript = []byte{0x01}

		err := CheckCoinbase(tx)
		re, ok := AsRuleError(err)
		require.True(t, ok)
		assert.Equal(t, "bad-cb-length", re.Reason)

		tx.TxIn[0].SignatureScript = make([]byte, 101)
		err = CheckCoinbase(tx)
		re, ok = AsRuleError(err)
		require.True(t, ok)
		assert.Equal(t, "bad-cb-length", re.Reason)
	})
}

func TestCheckRegularTransaction(t *testing.T) {
	assert.NoError(t, CheckRegularTransaction(regularTx(chainhash.Hash{1}, 0, 1)))

	t.Run("null prevout", func(t *testing.T) {
		tx := regularTx(chainhash.Hash{1}, 0, 1)
		tx.TxIn = append(tx.TxIn, &model.TxIn{
			PreviousOutPoint: model.OutPoint{Index: ^uint32(0)},
			SignatureScript:  []byte{0x51},
			Sequence:         model.SequenceFinal,
		})

		err := CheckRegularTransaction(tx)
		re, ok := AsRuleError(err)
		require.True(t, ok)
		assert.Equal(t, "bad-txns-prevout-null", re.Reason)
	})

	t.Run("duplicate inputs", func(t *testing.T) {
		tx := regularTx(chainhash.Hash{1}, 0, 1)
		tx.TxIn = append(tx.TxIn, &model.TxIn{
			PreviousOutPoint: tx.TxIn[0].PreviousOutPoint,
			SignatureScript:  []byte{0x51},
			Sequence:         model.SequenceFinal,
		})

		err := CheckRegularTransaction(tx)
		re, ok := AsRuleError(err)
		require.True(t, ok)
		assert.Equal(t, "bad-txns-inputs-duplicate", re.Reason)
	})

	t.Run("negative output", func(t *testing.T) {
		tx := regularTx(chainhash.Hash{1}, 0, -1)

		err := CheckRegularTransaction(tx)
		re, ok := AsRuleError(err)
		require.True(t, ok)
		assert.Equal(t, "bad-txns-vout-negative", re.Reason)
	})

	t.Run("output sum overflow", func(t *testing.T) {
		tx := regularTx(chainhash.Hash{1}, 0, model.MaxMoney)
		tx.TxOut = append(tx.TxOut, &model.TxOut{Value: model.MaxMoney, PkScript: []byte{0x51}})

		err := CheckRegularTransaction(tx)
		re, ok := AsRuleError(err)
		require.True(t, ok)
		assert.Equal(t, "bad-txns-txouttotal-toolarge", re.Reason)
	})
}

func TestCheckBlockDetectsMutation(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	verifier := equihash.NewStructuralVerifier()

	coinbase := coinbaseTx(1, 50*model.COIN)
	tx1 := regularTx(chainhash.Hash{1}, 0, 1)
	tx2 := regularTx(chainhash.Hash{2}, 0, 1)

	txs := []*model.Tx{coinbase, tx1, tx2, tx2}
	root, mutated := model.BlockMerkleRoot(txs)
	require.True(t, mutated)

	block := &model.Block{
		Header: model.BlockHeader{
			Version:        1,
			HashMerkleRoot: root,
			Timestamp:      1_300_000_000,
			Bits:           0x207fffff,
		},
		Transactions: txs,
	}

	err := CheckBlock(block, params, verifier, 32_000_000, false, true)
	re, ok := AsRuleError(err)
	require.True(t, ok)
	assert.Equal(t, "bad-txns-duplicate", re.Reason)
	assert.Equal(t, KindCorruptionPossible, re.Kind)
}

func TestCheckBlockRejectsMisplacedCoinbase(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	verifier := equihash.NewStructuralVerifier()

	coinbase := coinbaseTx(1, 50*model.COIN)
	second := coinbaseTx(2, 50*model.COIN)

	txs := []*model.Tx{coinbase, second}
	root, _ := model.BlockMerkleRoot(txs)

	block := &model.Block{
		Header: model.BlockHeader{
			Version:        1,
			HashMerkleRoot: root,
			Timestamp:      1_300_000_000,
			Bits:           0x207fffff,
		},
		Transactions: txs,
	}

	err := CheckBlock(block, params, verifier, 32_000_000, false, true)
	re, ok := AsRuleError(err)
	require.True(t, ok)
	assert.Equal(t, "bad-tx-coinbase", re.Reason)
}

func TestIsFinalTx(t *testing.T) {
	tx := regularTx(chainhash.Hash{1}, 0, 1)

	t.Run("zero locktime is final", func(t *testing.T) {
		assert.True(t, IsFinalTx(tx, 100, 0))
	})

	t.Run("height locktime", func(t *testing.T) {
		tx.LockTime = 100
		tx.TxIn[0].Sequence = 0

		assert.False(t, IsFinalTx(tx, 100, 0))
		assert.True(t, IsFinalTx(tx, 101, 0))
	})

	t.Run("final sequences override", func(t *testing.T) {
		tx.LockTime = 100
		tx.TxIn[0].Sequence = model.SequenceFinal

		assert.True(t, IsFinalTx(tx, 100, 0))
	})

	t.Run("time locktime", func(t *testing.T) {
		tx.LockTime = model.LockTimeThreshold + 1000
		tx.TxIn[0].Sequence = 0

		assert.False(t, IsFinalTx(tx, 100, int64(model.LockTimeThreshold+1000)))
		assert.True(t, IsFinalTx(tx, 100, int64(model.LockTimeThreshold+1001)))
	})
}

func TestMaxBlockSigOpsBuckets(t *testing.T) {
	assert.Equal(t, uint64(20_000), maxBlockSigOpsCount(1))
	assert.Equal(t, uint64(20_000), maxBlockSigOpsCount(1_000_000))
	assert.Equal(t, uint64(40_000), maxBlockSigOpsCount(1_000_001))
	assert.Equal(t, uint64(160_000), maxBlockSigOpsCount(8_000_000))
}

func TestIsCommitment(t *testing.T) {
	data := []byte("replay protection")

	script := append([]byte{0x6a, byte(len(data))}, data...)
	assert.True(t, isCommitment(script, data))

	assert.False(t, isCommitment(script[:len(script)-1], data))
	assert.False(t, isCommitment(append([]byte{0x6b, byte(len(data))}, data...), data))
}
