package blockstore

import (
	"io"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoincandy/candyd/blockchain"
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/ulogger"
	"github.com/bitcoincandy/candyd/utxo"
)

var testMagic = [4]byte{0xfa, 0xbf, 0xb5, 0xda}

func newTestStore(t *testing.T, maxFileSize uint32) *Store {
	t.Helper()

	logger := ulogger.NewZeroLogger("test", ulogger.WithWriter(io.Discard), ulogger.WithLevel("ERROR"))

	store, err := New(logger, t.TempDir(), testMagic, maxFileSize)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testBlock(marker byte) *model.Block {
	tx := &model.Tx{
		Version: 1,
		TxIn: []*model.TxIn{{
			PreviousOutPoint: model.OutPoint{Index: ^uint32(0)},
			SignatureScript:  []byte{0x01, marker},
			Sequence:         model.SequenceFinal,
		}},
		TxOut: []*model.TxOut{{Value: 50 * model.COIN, PkScript: []byte{0x51}}},
	}

	root, _ := model.BlockMerkleRoot([]*model.Tx{tx})

	return &model.Block{
		Header: model.BlockHeader{
			Version:        1,
			HashMerkleRoot: root,
			Timestamp:      1_300_000_000 + uint32(marker),
			Bits:           0x207fffff,
		},
		Transactions: []*model.Tx{tx},
	}
}

func TestBlockWriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t, 1<<20)

	block := testBlock(1)

	pos, err := store.WriteBlock(block)
	require.NoError(t, err)
	require.False(t, pos.IsNull())

	read, err := store.ReadBlock(pos)
	require.NoError(t, err)

	assert.Equal(t, block.Hash(false), read.Hash(false))
	require.Len(t, read.Transactions, 1)
	assert.Equal(t, block.Transactions[0].TxID(), read.Transactions[0].TxID())
}

func TestBlockFileRolls(t *testing.T) {
	// A cap small enough that every block starts a new file.
	store := newTestStore(t, 64)

	pos1, err := store.WriteBlock(testBlock(1))
	require.NoError(t, err)

	pos2, err := store.WriteBlock(testBlock(2))
	require.NoError(t, err)

	assert.NotEqual(t, pos1.File, pos2.File)

	read, err := store.ReadBlock(pos2)
	require.NoError(t, err)
	assert.Equal(t, testBlock(2).Hash(false), read.Hash(false))
}

func TestUndoRoundTripAndChecksum(t *testing.T) {
	store := newTestStore(t, 1<<20)

	undo := &utxo.BlockUndo{
		TxUndos: []*utxo.TxUndo{
			{PrevOuts: []*utxo.Coin{
				utxo.NewCoin(model.TxOut{Value: 77, PkScript: []byte{0x51}}, 12, true),
			}},
		},
	}

	prevHash := chainhash.DoubleHashH([]byte("parent"))

	pos, err := store.WriteUndo(undo, prevHash, 0)
	require.NoError(t, err)

	read, err := store.ReadUndo(pos, prevHash)
	require.NoError(t, err)
	require.Len(t, read.TxUndos, 1)
	assert.Equal(t, model.Amount(77), read.TxUndos[0].PrevOuts[0].Out.Value)
	assert.True(t, read.TxUndos[0].PrevOuts[0].Coinbase)

	// The checksum binds the record to its parent hash.
	wrongHash := chainhash.DoubleHashH([]byte("not the parent"))
	_, err = store.ReadUndo(pos, wrongHash)
	assert.Error(t, err)
}

func TestIndexBatchRoundTrip(t *testing.T) {
	store := newTestStore(t, 1<<20)

	block := testBlock(3)

	rec := &blockchain.IndexRecord{
		Hash:    block.Hash(false),
		Header:  block.Header,
		Height:  42,
		Status:  blockchain.BlockStatus(0).WithValidity(blockchain.ValidityScripts).WithData(true).WithUndo(true),
		TxCount: 1,
		File:    0,
		DataPos: 8,
		UndoPos: 16,
	}

	require.NoError(t, store.WriteIndexBatch([]*blockchain.IndexRecord{rec}))

	var loaded []*blockchain.IndexRecord
	require.NoError(t, store.LoadIndex(func(r *blockchain.IndexRecord) error {
		loaded = append(loaded, r)
		return nil
	}))

	require.Len(t, loaded, 1)
	assert.Equal(t, rec.Hash, loaded[0].Hash)
	assert.Equal(t, rec.Height, loaded[0].Height)
	assert.Equal(t, rec.Status, loaded[0].Status)
	assert.Equal(t, rec.TxCount, loaded[0].TxCount)
	assert.Equal(t, rec.DataPos, loaded[0].DataPos)
	assert.Equal(t, rec.UndoPos, loaded[0].UndoPos)
	assert.Equal(t, block.Header.HashMerkleRoot, loaded[0].Header.HashMerkleRoot)
}

func TestFlags(t *testing.T) {
	store := newTestStore(t, 1<<20)

	ok, err := store.GetFlag(blockchain.FlagTxIndex)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetFlag(blockchain.FlagTxIndex, true))

	ok, err = store.GetFlag(blockchain.FlagTxIndex)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPruneRefusesActiveFile(t *testing.T) {
	store := newTestStore(t, 64)

	_, err := store.WriteBlock(testBlock(1))
	require.NoError(t, err)

	_, err = store.WriteBlock(testBlock(2))
	require.NoError(t, err)

	// The newest file is in use.
	err = store.Prune(map[int32]struct{}{store.lastFile: {}})
	assert.Error(t, err)

	require.NoError(t, store.Prune(map[int32]struct{}{0: {}}))

	pruned, err := store.GetFlag(blockchain.FlagPrunedFiles)
	require.NoError(t, err)
	assert.True(t, pruned)
}
