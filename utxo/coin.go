package utxo

import (
	"io"

	"github.com/bitcoincandy/candyd/model"
)

// Coin is an unspent transaction output together with the metadata consensus
// rules need: the height it was created at and whether it was minted by a
// coinbase.
type Coin struct {
	Out      model.TxOut
	Height   int32
	Coinbase bool
	spent    bool
}

func NewCoin(out model.TxOut, height int32, coinbase bool) *Coin {
	return &Coin{Out: out, Height: height, Coinbase: coinbase}
}

func (c *Coin) IsSpent() bool {
	return c == nil || c.spent
}

// Clear marks the coin spent and drops its payload.
func (c *Coin) Clear() {
	c.Out = model.TxOut{}
	c.Height = 0
	c.Coinbase = false
	c.spent = true
}

func (c *Coin) Clone() *Coin {
	if c == nil {
		return nil
	}

	clone := *c
	clone.Out.PkScript = append([]byte(nil), c.Out.PkScript...)

	return &clone
}

// Serialize writes the coin in the on-disk form: a packed height/coinbase
// word, the value and the locking script.
func (c *Coin) Serialize(w io.Writer) error {
	packed := uint64(c.Height) << 1
	if c.Coinbase {
		packed |= 1
	}

	if err := model.WriteCompactSize(w, packed); err != nil {
		return err
	}

	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(c.Out.Value) >> (8 * i))
	}
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	if err := model.WriteCompactSize(w, uint64(len(c.Out.PkScript))); err != nil {
		return err
	}
	_, err := w.Write(c.Out.PkScript)

	return err
}

func (c *Coin) Deserialize(r io.Reader) error {
	packed, err := model.ReadCompactSize(r)
	if err != nil {
		return err
	}

	c.Height = int32(packed >> 1)
	c.Coinbase = packed&1 == 1
	c.spent = false

	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	var value uint64
	for i := 0; i < 8; i++ {
		value |= uint64(buf[i]) << (8 * i)
	}
	c.Out.Value = model.Amount(value)

	scriptLen, err := model.ReadCompactSize(r)
	if err != nil {
		return err
	}

	c.Out.PkScript = make([]byte, scriptLen)
	_, err = io.ReadFull(r, c.Out.PkScript)

	return err
}
