package blockchain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/utxo"
)

// RemovalReason explains why the chain asked the pool to drop a transaction.
type RemovalReason int

const (
	RemovalExpiry RemovalReason = iota
	RemovalSizeLimit
	RemovalReorg
	RemovalBlock
	RemovalConflict
)

// TxPool is the mempool surface the chain state consumes. The pool's
// eviction policy is its own business; the chain only needs admission,
// conflict eviction and bulk removal at connect time.
type TxPool interface {
	// Exists reports whether the pool holds the transaction.
	Exists(txid chainhash.Hash) bool

	// MaybeAccept offers a transaction to the pool, typically one restored
	// from a disconnected block. Rejection is not an error to the chain.
	MaybeAccept(tx *model.Tx) error

	// RemoveRecursive drops a transaction and all pool descendants.
	RemoveRecursive(tx *model.Tx, reason RemovalReason)

	// RemoveForBlock drops every pool entry confirmed or conflicted by the
	// given block transactions.
	RemoveForBlock(txs []*model.Tx, height int32)

	// RemoveForReorg re-checks pool entries against the view after the
	// active tip moved backwards.
	RemoveForReorg(view utxo.View, tipHeight int32)

	// LimitSize enforces the pool's memory and age bounds.
	LimitSize(maxBytes int64, maxAge int64)

	// Clear empties the pool entirely. Used when crossing an opcode
	// activation boundary invalidates cached validation.
	Clear()
}
