package model

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/errors"
)

// Block is a full block: a header and its ordered transactions, the first of
// which must be the coinbase.
type Block struct {
	Header       BlockHeader
	Transactions []*Tx
}

func (b *Block) Hash(postFork bool) chainhash.Hash {
	return b.Header.Hash(postFork)
}

func (b *Block) Bytes() []byte {
	var buf bytes.Buffer
	_ = b.Serialize(&buf)

	return buf.Bytes()
}

func (b *Block) SerializeSize() int {
	n := b.Header.SerializeSize()
	n += CompactSizeLen(uint64(len(b.Transactions)))

	for _, tx := range b.Transactions {
		n += tx.SerializeSize()
	}

	return n
}

func (b *Block) Serialize(w io.Writer) error {
	if err := b.Header.Serialize(w); err != nil {
		return err
	}

	if err := WriteCompactSize(w, uint64(len(b.Transactions))); err != nil {
		return err
	}

	for _, tx := range b.Transactions {
		if err := tx.Serialize(w); err != nil {
			return err
		}
	}

	return nil
}

func (b *Block) Deserialize(r io.Reader) error {
	if err := b.Header.Deserialize(r); err != nil {
		return err
	}

	nTx, err := ReadCompactSize(r)
	if err != nil {
		return err
	}

	if nTx > maxAllocSize {
		return errors.NewInvalidArgumentError("block transaction count too large: %d", nTx)
	}

	b.Transactions = make([]*Tx, 0, nTx)
	for i := uint64(0); i < nTx; i++ {
		tx := &Tx{}
		if err := tx.Deserialize(r); err != nil {
			return err
		}
		b.Transactions = append(b.Transactions, tx)
	}

	return nil
}

func NewBlockFromBytes(raw []byte) (*Block, error) {
	b := &Block{}
	if err := b.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	return b, nil
}
