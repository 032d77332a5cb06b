package model

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() *BlockHeader {
	var nonce chainhash.Hash
	nonce[0] = 0xaa
	nonce[31] = 0x55

	return &BlockHeader{
		Version:        4,
		HashPrevBlock:  chainhash.DoubleHashH([]byte("prev")),
		HashMerkleRoot: chainhash.DoubleHashH([]byte("merkle")),
		Height:         512_700,
		Timestamp:      1_516_000_000,
		Bits:           0x1d00ffff,
		Nonce:          nonce,
		Solution:       bytes.Repeat([]byte{0x42}, 100),
	}
}

func TestBlockHeaderSerializeRoundTrip(t *testing.T) {
	header := testHeader()

	raw := header.Bytes()
	require.Equal(t, header.SerializeSize(), len(raw))

	decoded := &BlockHeader{}
	require.NoError(t, decoded.Deserialize(bytes.NewReader(raw)))

	assert.Equal(t, header.Version, decoded.Version)
	assert.Equal(t, header.HashPrevBlock, decoded.HashPrevBlock)
	assert.Equal(t, header.HashMerkleRoot, decoded.HashMerkleRoot)
	assert.Equal(t, header.Height, decoded.Height)
	assert.Equal(t, header.Timestamp, decoded.Timestamp)
	assert.Equal(t, header.Bits, decoded.Bits)
	assert.Equal(t, header.Nonce, decoded.Nonce)
	assert.Equal(t, header.Solution, decoded.Solution)

	assert.Equal(t, header.Hash(true), decoded.Hash(true))
}

func TestLegacyBytesLayout(t *testing.T) {
	header := testHeader()

	legacy := header.LegacyBytes()
	require.Len(t, legacy, LegacyBlockHeaderLen)

	// The legacy layout carries only the low four nonce bytes and omits the
	// height, reserved words and solution.
	assert.Equal(t, byte(0xaa), legacy[76])
	assert.NotEqual(t, header.Hash(false), header.Hash(true))
}

func TestEquihashInputOmitsNonceAndSolution(t *testing.T) {
	header := testHeader()

	input := header.EquihashInput()

	// version + prev + merkle + height + reserved + time + bits.
	assert.Len(t, input, 4+32+32+4+28+4+4)
}

func TestBlockSerializeRoundTrip(t *testing.T) {
	block := &Block{
		Header:       *testHeader(),
		Transactions: []*Tx{txWithLockTime(7), txWithLockTime(8)},
	}

	raw := block.Bytes()
	require.Equal(t, block.SerializeSize(), len(raw))

	decoded, err := NewBlockFromBytes(raw)
	require.NoError(t, err)

	assert.Equal(t, block.Header.Hash(true), decoded.Header.Hash(true))
	require.Len(t, decoded.Transactions, 2)
	assert.Equal(t, block.Transactions[0].TxID(), decoded.Transactions[0].TxID())
	assert.Equal(t, block.Transactions[1].TxID(), decoded.Transactions[1].TxID())
}
