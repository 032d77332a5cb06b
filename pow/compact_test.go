package pow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactRoundTrip(t *testing.T) {
	tests := []uint32{
		0x1d00ffff,
		0x207fffff,
		0x181bc330,
		0x1b0404cb,
		0x01003456 & 0xff7fffff, // zero mantissa variants normalize
	}

	for _, compact := range tests {
		n := CompactToBig(compact)
		if n.Sign() == 0 {
			continue
		}

		assert.Equal(t, compact, BigToCompact(n), "compact %08x", compact)
	}
}

func TestDecodeCompactRejections(t *testing.T) {
	t.Run("negative", func(t *testing.T) {
		_, negative, _ := DecodeCompact(0x03800001)
		assert.True(t, negative)
	})

	t.Run("overflow", func(t *testing.T) {
		_, _, overflow := DecodeCompact(0x23000001)
		assert.True(t, overflow)

		_, _, overflow = DecodeCompact(0x22000100)
		assert.True(t, overflow)
	})

	t.Run("zero", func(t *testing.T) {
		n, negative, overflow := DecodeCompact(0)
		assert.Equal(t, 0, n.Sign())
		assert.False(t, negative)
		assert.False(t, overflow)
	})
}

func TestCalcBlockProof(t *testing.T) {
	// The classic 0x1d00ffff difficulty-one target represents 0x100010001
	// expected hashes.
	proof := CalcBlockProof(0x1d00ffff)
	require.Equal(t, "4295032833", proof.String())

	assert.Equal(t, int64(0), CalcBlockProof(0).Int64())
	assert.Equal(t, int64(0), CalcBlockProof(0x03800001).Int64())
}

func TestBigToCompactCanonical(t *testing.T) {
	// A mantissa with the high bit set spills into the exponent.
	n := new(big.Int).SetInt64(0x80)
	compact := BigToCompact(n)
	assert.Equal(t, CompactToBig(compact).Int64(), int64(0x80))
}
