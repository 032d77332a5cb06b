package blockchain

import (
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/utxo"
)

// DisconnectResult distinguishes a clean undo from one that had to tolerate
// inconsistencies, and from outright failure.
type DisconnectResult int

const (
	DisconnectOK DisconnectResult = iota
	DisconnectUnclean
	DisconnectFailed
)

// undoCoinSpend restores one spent coin. Undo records from the legacy data
// path may lack the height and coinbase metadata; it is then recovered from
// any surviving coin of the same transaction.
func undoCoinSpend(coin *utxo.Coin, view *utxo.Cache, out model.OutPoint) (DisconnectResult, error) {
	clean := true

	have, err := view.HaveCoin(out)
	if err != nil {
		return DisconnectFailed, err
	}
	if have {
		// Overwriting an existing output: tolerated, but noted.
		clean = false
	}

	if coin.Height == 0 {
		alternate, err := utxo.AccessByTxid(view, &out.Hash)
		if err != nil {
			return DisconnectFailed, err
		}
		if alternate == nil || alternate.IsSpent() {
			return DisconnectFailed, nil
		}

		coin = utxo.NewCoin(coin.Out, alternate.Height, alternate.Coinbase)
	}

	if err := view.AddCoin(out, coin, !clean); err != nil {
		return DisconnectFailed, err
	}

	if clean {
		return DisconnectOK, nil
	}

	return DisconnectUnclean, nil
}

// applyBlockUndo rewinds a block's effect on the view: outputs the block
// created are spent away and the coins it consumed are restored, in reverse
// transaction and reverse input order.
func applyBlockUndo(blockUndo *utxo.BlockUndo, block *model.Block, view *utxo.Cache) (DisconnectResult, error) {
	clean := true

	if len(blockUndo.TxUndos)+1 != len(block.Transactions) {
		return DisconnectFailed, nil
	}

	for i := len(block.Transactions) - 1; i >= 0; i-- {
		tx := block.Transactions[i]
		txid := tx.TxID()

		// Every output the block added must still be there, unspent and
		// identical, before being removed.
		for o, out := range tx.TxOut {
			if isUnspendable(out.PkScript) {
				continue
			}

			op := model.OutPoint{Hash: txid, Index: uint32(o)}
			coin, err := view.SpendCoin(op)
			if err != nil {
				return DisconnectFailed, err
			}

			if coin == nil || coin.Out.Value != out.Value || string(coin.Out.PkScript) != string(out.PkScript) {
				clean = false
			}
		}

		if i < 1 {
			// The coinbase consumed nothing.
			continue
		}

		txUndo := blockUndo.TxUndos[i-1]
		if len(txUndo.PrevOuts) != len(tx.TxIn) {
			return DisconnectFailed, nil
		}

		for j := len(tx.TxIn) - 1; j >= 0; j-- {
			res, err := undoCoinSpend(txUndo.PrevOuts[j], view, tx.TxIn[j].PreviousOutPoint)
			if err != nil || res == DisconnectFailed {
				return DisconnectFailed, err
			}

			if res == DisconnectUnclean {
				clean = false
			}
		}
	}

	view.SetBestBlock(block.Header.HashPrevBlock)

	if clean {
		return DisconnectOK, nil
	}

	return DisconnectUnclean, nil
}

// disconnectBlock reads a block's undo journal and rewinds it from the view.
func (cs *ChainState) disconnectBlock(block *model.Block, node *BlockIndex, view *utxo.Cache) (DisconnectResult, error) {
	if node.UndoPos == 0 || !node.Status.HasUndo() {
		cs.logger.Errorf("no undo data available for block %s", node.Hash)
		return DisconnectFailed, nil
	}

	undo, err := cs.store.ReadUndo(DiskPosition{File: node.File, Pos: node.UndoPos}, node.Parent.Hash)
	if err != nil {
		cs.logger.Errorf("failure reading undo data for block %s: %v", node.Hash, err)
		return DisconnectFailed, err
	}

	return applyBlockUndo(undo, block, view)
}
