package equihash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolutionWidth(t *testing.T) {
	tests := []struct {
		n, k  uint32
		width int
	}{
		{200, 9, 1344},
		{144, 5, 100},
		{48, 5, 36},
		{96, 5, 68},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.width, SolutionWidth(tt.n, tt.k), "n=%d k=%d", tt.n, tt.k)
	}
}

// encodeIndices packs indices into the big-endian bitstream a solution uses.
func encodeIndices(n, k uint32, indices []uint32) []byte {
	bitLen := n/(k+1) + 1

	var out []byte
	var acc uint64
	var accBits uint32

	for _, idx := range indices {
		acc = acc<<bitLen | uint64(idx)
		accBits += bitLen

		for accBits >= 8 {
			accBits -= 8
			out = append(out, byte(acc>>accBits))
		}
	}

	if accBits > 0 {
		out = append(out, byte(acc<<(8-accBits)))
	}

	return out
}

func orderedIndices(k uint32) []uint32 {
	indices := make([]uint32, 1<<k)
	for i := range indices {
		indices[i] = uint32(i)
	}

	return indices
}

func TestDecodeIndicesRoundTrip(t *testing.T) {
	indices := orderedIndices(5)
	solution := encodeIndices(48, 5, indices)
	require.Len(t, solution, SolutionWidth(48, 5))

	decoded, err := DecodeIndices(48, 5, solution)
	require.NoError(t, err)
	assert.Equal(t, indices, decoded)
}

func TestDecodeIndicesRejectsWrongWidth(t *testing.T) {
	_, err := DecodeIndices(48, 5, make([]byte, 35))
	assert.Error(t, err)
}

func TestStructuralVerifier(t *testing.T) {
	v := NewStructuralVerifier()

	t.Run("ordered distinct indices pass", func(t *testing.T) {
		solution := encodeIndices(48, 5, orderedIndices(5))
		assert.NoError(t, v.Verify(48, 5, []byte("input"), solution))
	})

	t.Run("duplicate index fails", func(t *testing.T) {
		indices := orderedIndices(5)
		indices[3] = indices[2]
		solution := encodeIndices(48, 5, indices)
		assert.Error(t, v.Verify(48, 5, []byte("input"), solution))
	})

	t.Run("out of order fails", func(t *testing.T) {
		indices := orderedIndices(5)
		indices[0], indices[1] = indices[1], indices[0]
		solution := encodeIndices(48, 5, indices)
		assert.Error(t, v.Verify(48, 5, []byte("input"), solution))
	})
}

func TestKernelVerifier(t *testing.T) {
	// A generator returning all-zero rows makes every XOR collide, so a
	// canonical index list verifies; index-dependent rows break collisions.
	zeroHash := func(input []byte, index uint32) ([]byte, error) {
		return make([]byte, 64), nil
	}

	v := NewVerifier(zeroHash)
	solution := encodeIndices(48, 5, orderedIndices(5))
	assert.NoError(t, v.Verify(48, 5, []byte("input"), solution))

	noisyHash := func(input []byte, index uint32) ([]byte, error) {
		out := make([]byte, 64)
		out[0] = byte(index + 1)
		out[6] = byte(index * 7)

		return out, nil
	}

	v = NewVerifier(noisyHash)
	assert.Error(t, v.Verify(48, 5, []byte("input"), solution))
}
