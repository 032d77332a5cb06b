package utxo

import (
	"io"

	"github.com/bitcoincandy/candyd/errors"
	"github.com/bitcoincandy/candyd/model"
)

// TxUndo holds the coins a transaction consumed, in input order.
type TxUndo struct {
	PrevOuts []*Coin
}

// BlockUndo holds one TxUndo per non-coinbase transaction, in block order.
type BlockUndo struct {
	TxUndos []*TxUndo
}

const maxUndoEntries = 1 << 24

func (u *BlockUndo) Serialize(w io.Writer) error {
	if err := model.WriteCompactSize(w, uint64(len(u.TxUndos))); err != nil {
		return err
	}

	for _, txu := range u.TxUndos {
		if err := model.WriteCompactSize(w, uint64(len(txu.PrevOuts))); err != nil {
			return err
		}
		for _, coin := range txu.PrevOuts {
			if err := coin.Serialize(w); err != nil {
				return err
			}
		}
	}

	return nil
}

func (u *BlockUndo) Deserialize(r io.Reader) error {
	nTx, err := model.ReadCompactSize(r)
	if err != nil {
		return err
	}
	if nTx > maxUndoEntries {
		return errors.NewInvalidArgumentError("undo record too large: %d txs", nTx)
	}

	u.TxUndos = make([]*TxUndo, 0, nTx)
	for i := uint64(0); i < nTx; i++ {
		nIn, err := model.ReadCompactSize(r)
		if err != nil {
			return err
		}
		if nIn > maxUndoEntries {
			return errors.NewInvalidArgumentError("undo record too large: %d inputs", nIn)
		}

		txu := &TxUndo{PrevOuts: make([]*Coin, 0, nIn)}
		for j := uint64(0); j < nIn; j++ {
			coin := &Coin{}
			if err := coin.Deserialize(r); err != nil {
				return err
			}
			txu.PrevOuts = append(txu.PrevOuts, coin)
		}

		u.TxUndos = append(u.TxUndos, txu)
	}

	return nil
}
