package model

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// SequenceFinal disables lock-time enforcement for an input.
	SequenceFinal = ^uint32(0)

	// SequenceLockTimeDisableFlag set in an input's sequence means the
	// sequence number carries no relative lock-time meaning.
	SequenceLockTimeDisableFlag = uint32(1) << 31

	// SequenceLockTimeTypeFlag selects time-based rather than height-based
	// relative lock-times.
	SequenceLockTimeTypeFlag = uint32(1) << 22

	// SequenceLockTimeMask extracts the lock-time value from a sequence.
	SequenceLockTimeMask = uint32(0x0000ffff)

	// SequenceLockTimeGranularity is the shift converting masked time-based
	// sequence values to seconds (512-second units).
	SequenceLockTimeGranularity = 9

	// LockTimeThreshold separates height-interpreted lock-times from
	// time-interpreted ones.
	LockTimeThreshold = uint32(500000000)

	// MaxTxSize is the largest serialized transaction accepted by consensus.
	MaxTxSize = 1_000_000
)

type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32
}

type TxOut struct {
	Value    Amount
	PkScript []byte
}

// Tx is a transaction in consensus form.
type Tx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// IsCoinBase reports whether the transaction mints coin: a single input whose
// previous outpoint is null.
func (tx *Tx) IsCoinBase() bool {
	return len(tx.TxIn) == 1 && tx.TxIn[0].PreviousOutPoint.IsNull()
}

// ValueOut sums the outputs. Range enforcement belongs to the validator; the
// sum here may exceed MaxMoney for hostile transactions.
func (tx *Tx) ValueOut() Amount {
	var total Amount
	for _, out := range tx.TxOut {
		total += out.Value
	}

	return total
}

// TxID returns the double-SHA256 of the serialized transaction.
func (tx *Tx) TxID() chainhash.Hash {
	return chainhash.DoubleHashH(tx.Bytes())
}

func (tx *Tx) Bytes() []byte {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)

	return buf.Bytes()
}

func (tx *Tx) SerializeSize() int {
	n := 4 + 4 // version + locktime
	n += CompactSizeLen(uint64(len(tx.TxIn)))

	for _, in := range tx.TxIn {
		n += 32 + 4 + CompactSizeLen(uint64(len(in.SignatureScript))) + len(in.SignatureScript) + 4
	}

	n += CompactSizeLen(uint64(len(tx.TxOut)))
	for _, out := range tx.TxOut {
		n += 8 + CompactSizeLen(uint64(len(out.PkScript))) + len(out.PkScript)
	}

	return n
}

func (tx *Tx) Serialize(w io.Writer) error {
	if err := writeUint32(w, uint32(tx.Version)); err != nil {
		return err
	}

	if err := WriteCompactSize(w, uint64(len(tx.TxIn))); err != nil {
		return err
	}

	for _, in := range tx.TxIn {
		if _, err := w.Write(in.PreviousOutPoint.Hash[:]); err != nil {
			return err
		}
		if err := writeUint32(w, in.PreviousOutPoint.Index); err != nil {
			return err
		}
		if err := writeVarBytes(w, in.SignatureScript); err != nil {
			return err
		}
		if err := writeUint32(w, in.Sequence); err != nil {
			return err
		}
	}

	if err := WriteCompactSize(w, uint64(len(tx.TxOut))); err != nil {
		return err
	}

	for _, out := range tx.TxOut {
		if err := writeUint64(w, uint64(out.Value)); err != nil {
			return err
		}
		if err := writeVarBytes(w, out.PkScript); err != nil {
			return err
		}
	}

	return writeUint32(w, tx.LockTime)
}

func (tx *Tx) Deserialize(r io.Reader) error {
	version, err := readUint32(r)
	if err != nil {
		return err
	}
	tx.Version = int32(version)

	nIn, err := ReadCompactSize(r)
	if err != nil {
		return err
	}

	tx.TxIn = make([]*TxIn, 0, nIn)
	for i := uint64(0); i < nIn; i++ {
		in := &TxIn{}
		if _, err := io.ReadFull(r, in.PreviousOutPoint.Hash[:]); err != nil {
			return err
		}
		if in.PreviousOutPoint.Index, err = readUint32(r); err != nil {
			return err
		}
		if in.SignatureScript, err = readVarBytes(r); err != nil {
			return err
		}
		if in.Sequence, err = readUint32(r); err != nil {
			return err
		}
		tx.TxIn = append(tx.TxIn, in)
	}

	nOut, err := ReadCompactSize(r)
	if err != nil {
		return err
	}

	tx.TxOut = make([]*TxOut, 0, nOut)
	for i := uint64(0); i < nOut; i++ {
		out := &TxOut{}
		value, err := readUint64(r)
		if err != nil {
			return err
		}
		out.Value = Amount(value)
		if out.PkScript, err = readVarBytes(r); err != nil {
			return err
		}
		tx.TxOut = append(tx.TxOut, out)
	}

	tx.LockTime, err = readUint32(r)

	return err
}
