package model

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// LegacyBlockHeaderLen is the serialized size of a pre-fork header.
const LegacyBlockHeaderLen = 80

// BlockHeader carries the consensus-fixed header fields. The fork widened the
// nonce to 256 bits, added the height and reserved words, and appended the
// Equihash solution; pre-fork blocks hash the classic 80-byte layout with the
// nonce truncated to its low 32 bits.
type BlockHeader struct {
	// Version of the block. This is not the same as the protocol version.
	Version int32

	// Hash of the previous block header in the chain.
	HashPrevBlock chainhash.Hash

	// Merkle tree reference to the hash of all transactions in the block.
	HashMerkleRoot chainhash.Hash

	// Height of the block. Meaningful only from the fork onward.
	Height uint32

	// Reserved words, zero until a future fork assigns them.
	Reserved [7]uint32

	// Time the block was created, unix seconds.
	Timestamp uint32

	// Compact difficulty target for the block.
	Bits uint32

	// Nonce used to generate the block. Pre-fork miners only roll the first
	// four bytes.
	Nonce chainhash.Hash

	// Equihash solution. Empty pre-fork.
	Solution []byte
}

// Hash returns the block hash for the header's regime.
func (bh *BlockHeader) Hash(postFork bool) chainhash.Hash {
	if postFork {
		return chainhash.DoubleHashH(bh.Bytes())
	}

	return chainhash.DoubleHashH(bh.LegacyBytes())
}

// Bytes serializes the full post-fork header layout.
func (bh *BlockHeader) Bytes() []byte {
	var buf bytes.Buffer
	_ = bh.Serialize(&buf)

	return buf.Bytes()
}

// LegacyBytes serializes the classic 80-byte layout used for hashing pre-fork
// blocks.
func (bh *BlockHeader) LegacyBytes() []byte {
	var buf bytes.Buffer

	_ = writeUint32(&buf, uint32(bh.Version))
	buf.Write(bh.HashPrevBlock[:])
	buf.Write(bh.HashMerkleRoot[:])
	_ = writeUint32(&buf, bh.Timestamp)
	_ = writeUint32(&buf, bh.Bits)
	buf.Write(bh.Nonce[:4])

	return buf.Bytes()
}

// EquihashInput serializes the header fields the Equihash puzzle commits to:
// everything except the nonce and the solution.
func (bh *BlockHeader) EquihashInput() []byte {
	var buf bytes.Buffer

	_ = writeUint32(&buf, uint32(bh.Version))
	buf.Write(bh.HashPrevBlock[:])
	buf.Write(bh.HashMerkleRoot[:])
	_ = writeUint32(&buf, bh.Height)
	for _, r := range bh.Reserved {
		_ = writeUint32(&buf, r)
	}
	_ = writeUint32(&buf, bh.Timestamp)
	_ = writeUint32(&buf, bh.Bits)

	return buf.Bytes()
}

func (bh *BlockHeader) Serialize(w io.Writer) error {
	if err := writeUint32(w, uint32(bh.Version)); err != nil {
		return err
	}
	if _, err := w.Write(bh.HashPrevBlock[:]); err != nil {
		return err
	}
	if _, err := w.Write(bh.HashMerkleRoot[:]); err != nil {
		return err
	}
	if err := writeUint32(w, bh.Height); err != nil {
		return err
	}
	for _, r := range bh.Reserved {
		if err := writeUint32(w, r); err != nil {
			return err
		}
	}
	if err := writeUint32(w, bh.Timestamp); err != nil {
		return err
	}
	if err := writeUint32(w, bh.Bits); err != nil {
		return err
	}
	if _, err := w.Write(bh.Nonce[:]); err != nil {
		return err
	}

	return writeVarBytes(w, bh.Solution)
}

func (bh *BlockHeader) Deserialize(r io.Reader) error {
	version, err := readUint32(r)
	if err != nil {
		return err
	}
	bh.Version = int32(version)

	if _, err := io.ReadFull(r, bh.HashPrevBlock[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, bh.HashMerkleRoot[:]); err != nil {
		return err
	}
	if bh.Height, err = readUint32(r); err != nil {
		return err
	}
	for i := range bh.Reserved {
		if bh.Reserved[i], err = readUint32(r); err != nil {
			return err
		}
	}
	if bh.Timestamp, err = readUint32(r); err != nil {
		return err
	}
	if bh.Bits, err = readUint32(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, bh.Nonce[:]); err != nil {
		return err
	}

	bh.Solution, err = readVarBytes(r)

	return err
}

func (bh *BlockHeader) SerializeSize() int {
	return 4 + 32 + 32 + 4 + 28 + 4 + 4 + 32 + CompactSizeLen(uint64(len(bh.Solution))) + len(bh.Solution)
}
