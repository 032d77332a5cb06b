// Package mempool is a minimal transaction pool implementing the surface the
// chain state consumes: existence checks, conflict eviction and re-admission
// after disconnects. Relay policy lives elsewhere.
package mempool

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/blockchain"
	"github.com/bitcoincandy/candyd/errors"
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/ulogger"
	"github.com/bitcoincandy/candyd/utxo"
)

type entry struct {
	tx    *model.Tx
	size  int64
	added time.Time
}

// Pool is an in-memory transaction pool indexed by txid and by spent
// outpoint.
type Pool struct {
	mtx sync.Mutex

	logger ulogger.Logger

	entries   map[chainhash.Hash]*entry
	spentBy   map[model.OutPoint]chainhash.Hash
	totalSize int64
}

func New(logger ulogger.Logger) *Pool {
	return &Pool{
		logger:  logger.New("mempool"),
		entries: make(map[chainhash.Hash]*entry),
		spentBy: make(map[model.OutPoint]chainhash.Hash),
	}
}

func (p *Pool) Exists(txid chainhash.Hash) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	_, ok := p.entries[txid]

	return ok
}

// Count returns the number of pooled transactions.
func (p *Pool) Count() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return len(p.entries)
}

// MaybeAccept offers a transaction to the pool. It enforces the structural
// rules and rejects conflicts with existing entries; the chain drops
// transactions it refuses.
func (p *Pool) MaybeAccept(tx *model.Tx) error {
	if tx.IsCoinBase() {
		return errors.NewTxInvalidError("coinbase cannot enter the pool")
	}

	if err := blockchain.CheckRegularTransaction(tx); err != nil {
		return err
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	txid := tx.TxID()
	if _, ok := p.entries[txid]; ok {
		return nil
	}

	for _, in := range tx.TxIn {
		if _, ok := p.spentBy[in.PreviousOutPoint]; ok {
			return errors.NewTxInvalidError("input %s already spent in pool", in.PreviousOutPoint)
		}
	}

	p.addLocked(tx, txid)

	return nil
}

func (p *Pool) addLocked(tx *model.Tx, txid chainhash.Hash) {
	e := &entry{tx: tx, size: int64(tx.SerializeSize()), added: time.Now()}
	p.entries[txid] = e
	p.totalSize += e.size

	for _, in := range tx.TxIn {
		p.spentBy[in.PreviousOutPoint] = txid
	}
}

func (p *Pool) removeLocked(txid chainhash.Hash) {
	e, ok := p.entries[txid]
	if !ok {
		return
	}

	delete(p.entries, txid)
	p.totalSize -= e.size

	for _, in := range e.tx.TxIn {
		delete(p.spentBy, in.PreviousOutPoint)
	}
}

// removeRecursiveLocked drops a transaction and every pooled descendant.
func (p *Pool) removeRecursiveLocked(tx *model.Tx) {
	txid := tx.TxID()

	for i := range tx.TxOut {
		if child, ok := p.spentBy[model.OutPoint{Hash: txid, Index: uint32(i)}]; ok {
			if childEntry, ok := p.entries[child]; ok {
				p.removeRecursiveLocked(childEntry.tx)
			}
		}
	}

	p.removeLocked(txid)
}

func (p *Pool) RemoveRecursive(tx *model.Tx, reason blockchain.RemovalReason) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.removeRecursiveLocked(tx)
}

// RemoveForBlock drops every transaction confirmed by the block and evicts
// anything conflicting with the block's spends.
func (p *Pool) RemoveForBlock(txs []*model.Tx, height int32) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for _, tx := range txs {
		p.removeLocked(tx.TxID())

		for _, in := range tx.TxIn {
			if conflict, ok := p.spentBy[in.PreviousOutPoint]; ok {
				if conflictEntry, ok := p.entries[conflict]; ok {
					p.removeRecursiveLocked(conflictEntry.tx)
				}
			}
		}
	}
}

// RemoveForReorg re-validates the pool after the tip moved backwards,
// dropping entries whose inputs vanished or whose coinbase sources are no
// longer mature.
func (p *Pool) RemoveForReorg(view utxo.View, tipHeight int32) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	var stale []*model.Tx

	for _, e := range p.entries {
		for _, in := range e.tx.TxIn {
			if _, inPool := p.entries[in.PreviousOutPoint.Hash]; inPool {
				continue
			}

			coin, err := view.GetCoin(in.PreviousOutPoint)
			if err != nil || coin == nil {
				stale = append(stale, e.tx)
				break
			}

			if coin.Coinbase && tipHeight-coin.Height < blockchain.CoinbaseMaturity {
				stale = append(stale, e.tx)
				break
			}
		}
	}

	for _, tx := range stale {
		p.removeRecursiveLocked(tx)
	}

	if len(stale) > 0 {
		p.logger.Debugf("removed %d transactions after reorg", len(stale))
	}
}

// LimitSize expires old transactions, then evicts newest-first until under
// the byte limit.
func (p *Pool) LimitSize(maxBytes int64, maxAgeSeconds int64) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	cutoff := time.Now().Add(-time.Duration(maxAgeSeconds) * time.Second)

	for txid, e := range p.entries {
		if e.added.Before(cutoff) {
			p.removeLocked(txid)
		}
	}

	for p.totalSize > maxBytes {
		var newest chainhash.Hash
		var newestTime time.Time

		for txid, e := range p.entries {
			if newestTime.IsZero() || e.added.After(newestTime) {
				newest = txid
				newestTime = e.added
			}
		}

		if newestTime.IsZero() {
			return
		}

		p.removeLocked(newest)
	}
}

func (p *Pool) Clear() {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.entries = make(map[chainhash.Hash]*entry)
	p.spentBy = make(map[model.OutPoint]chainhash.Hash)
	p.totalSize = 0
}
