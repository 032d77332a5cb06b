package utxo

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/model"
)

// Flags describing how a cached coin relates to the view it is layered over.
const (
	// EntryDirty means the coin differs from the backing view's version.
	EntryDirty uint8 = 1 << iota

	// EntryFresh means the backing view is known not to contain the coin, so
	// spending it in this layer can simply drop the entry.
	EntryFresh
)

// CacheEntry is one modified coin in a cache layer.
type CacheEntry struct {
	Coin  *Coin
	Flags uint8
}

// View is a source of unspent coins. Implementations: the leveldb-backed
// Store at the bottom and any number of Cache layers above it.
type View interface {
	// GetCoin returns the coin for the outpoint, or nil if it is absent or
	// spent.
	GetCoin(op model.OutPoint) (*Coin, error)

	// HaveCoin reports whether an unspent coin exists for the outpoint.
	HaveCoin(op model.OutPoint) (bool, error)

	// BestBlock is the hash of the block this view's coin set represents.
	BestBlock() (chainhash.Hash, error)

	// BatchWrite folds a child layer's modified entries into this view and
	// moves the best block marker.
	BatchWrite(entries map[model.OutPoint]*CacheEntry, best chainhash.Hash) error
}

const maxOutputsScan = 10_000

// AccessByTxid finds any unspent coin created by the given transaction. Used
// to recover metadata for legacy undo records that omitted it.
func AccessByTxid(view View, txid *chainhash.Hash) (*Coin, error) {
	for i := uint32(0); i < maxOutputsScan; i++ {
		coin, err := view.GetCoin(model.OutPoint{Hash: *txid, Index: i})
		if err != nil {
			return nil, err
		}
		if coin != nil && !coin.IsSpent() {
			return coin, nil
		}
	}

	return nil, nil
}
