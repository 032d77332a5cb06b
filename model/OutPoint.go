package model

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// OutPoint identifies a transaction output by the id of the transaction that
// created it and the output index within that transaction.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{Hash: *hash, Index: index}
}

// IsNull reports whether this is the all-zero outpoint a coinbase input
// carries.
func (o *OutPoint) IsNull() bool {
	if o.Index != ^uint32(0) {
		return false
	}

	for _, b := range o.Hash {
		if b != 0 {
			return false
		}
	}

	return true
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash.String(), o.Index)
}
