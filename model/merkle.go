package model

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockMerkleRoot computes the merkle root over the block's transaction ids.
// mutated is set when two identical hashes are paired at any level, which is
// how a duplicated trailing transaction pair forges the same root for a
// different transaction list (CVE-2012-2459).
func BlockMerkleRoot(txs []*Tx) (chainhash.Hash, bool) {
	hashes := make([]chainhash.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.TxID()
	}

	return merkleRoot(hashes)
}

func merkleRoot(hashes []chainhash.Hash) (chainhash.Hash, bool) {
	if len(hashes) == 0 {
		return chainhash.Hash{}, false
	}

	mutated := false
	for len(hashes) > 1 {
		// Identical siblings are checked before padding so the duplicate
		// introduced for an odd count is not itself flagged.
		for i := 0; i+1 < len(hashes); i += 2 {
			if hashes[i] == hashes[i+1] {
				mutated = true
			}
		}

		if len(hashes)%2 != 0 {
			hashes = append(hashes, hashes[len(hashes)-1])
		}

		next := make([]chainhash.Hash, 0, len(hashes)/2)
		for i := 0; i < len(hashes); i += 2 {
			var concat [64]byte
			copy(concat[:32], hashes[i][:])
			copy(concat[32:], hashes[i+1][:])
			next = append(next, chainhash.DoubleHashH(concat[:]))
		}

		hashes = next
	}

	return hashes[0], mutated
}
