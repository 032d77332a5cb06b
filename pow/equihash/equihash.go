// Package equihash validates Equihash solutions. The memory-hard generator
// hash is injected: the collision-tree verification here is pure, and the
// personalized hash kernel is supplied by the caller.
package equihash

import (
	"github.com/bitcoincandy/candyd/errors"
)

// SolutionWidth returns the serialized byte length of a solution for the
// given parameters: 2^k indices of n/(k+1)+1 bits each.
func SolutionWidth(n, k uint32) int {
	return (1 << k) * int(collisionBitLength(n, k)+1) / 8
}

func collisionBitLength(n, k uint32) uint32 {
	return n / (k + 1)
}

// DecodeIndices unpacks the big-endian bitstream of solution indices.
func DecodeIndices(n, k uint32, solution []byte) ([]uint32, error) {
	if len(solution) != SolutionWidth(n, k) {
		return nil, errors.NewInvalidArgumentError(
			"solution size %d, want %d", len(solution), SolutionWidth(n, k))
	}

	bitLen := collisionBitLength(n, k) + 1
	count := 1 << k

	indices := make([]uint32, 0, count)

	var acc uint64
	var accBits uint32

	for _, b := range solution {
		acc = acc<<8 | uint64(b)
		accBits += 8

		for accBits >= bitLen {
			accBits -= bitLen
			indices = append(indices, uint32(acc>>accBits)&((1<<bitLen)-1))
		}
	}

	if len(indices) != count {
		return nil, errors.NewInvalidArgumentError(
			"decoded %d indices, want %d", len(indices), count)
	}

	return indices, nil
}

// HashFn produces the generator output for one block index of the puzzle:
// the personalized hash of (input || le32(index)). The returned slice must
// contain indicesPerHashOutput rows of n/8 bytes.
type HashFn func(input []byte, index uint32) ([]byte, error)

// Verifier checks a solution against the puzzle input.
type Verifier interface {
	Verify(n, k uint32, input []byte, solution []byte) error
}

// structuralVerifier checks everything that does not require the hash
// kernel: width, index range, duplicates and the pair ordering invariant.
// It is the default when no kernel is wired.
type structuralVerifier struct{}

// NewStructuralVerifier returns a Verifier performing the kernel-free checks.
func NewStructuralVerifier() Verifier {
	return structuralVerifier{}
}

func (structuralVerifier) Verify(n, k uint32, input []byte, solution []byte) error {
	indices, err := DecodeIndices(n, k, solution)
	if err != nil {
		return err
	}

	if err := checkDistinct(indices); err != nil {
		return err
	}

	return checkOrdering(indices, k)
}

type kernelVerifier struct {
	hashFn HashFn
}

// NewVerifier returns a Verifier running the full collision-tree check on top
// of the supplied generator hash.
func NewVerifier(hashFn HashFn) Verifier {
	return kernelVerifier{hashFn: hashFn}
}

func (v kernelVerifier) Verify(n, k uint32, input []byte, solution []byte) error {
	indices, err := DecodeIndices(n, k, solution)
	if err != nil {
		return err
	}

	if err := checkDistinct(indices); err != nil {
		return err
	}

	if err := checkOrdering(indices, k); err != nil {
		return err
	}

	rowLen := int(n / 8)
	indicesPerHash := 512 / n

	rows := make([][]byte, len(indices))
	for i, idx := range indices {
		out, err := v.hashFn(input, idx/indicesPerHash)
		if err != nil {
			return err
		}

		offset := int(idx%indicesPerHash) * rowLen
		if offset+rowLen > len(out) {
			return errors.NewProcessingError("generator output too short: %d", len(out))
		}

		rows[i] = append([]byte(nil), out[offset:offset+rowLen]...)
	}

	// Fold pairs level by level. Each level must cancel the next
	// collisionBitLength bits of the XOR.
	cBits := collisionBitLength(n, k)
	for level := uint32(0); level < k; level++ {
		next := make([][]byte, 0, len(rows)/2)
		for i := 0; i < len(rows); i += 2 {
			x := xorBytes(rows[i], rows[i+1])
			if !bitsZero(x, level*cBits, (level+1)*cBits) {
				return errors.NewBlockInvalidError("no collision at level %d", level)
			}
			next = append(next, x)
		}
		rows = next
	}

	if !bitsZero(rows[0], 0, n) {
		return errors.NewBlockInvalidError("final xor is non-zero")
	}

	return nil
}

func checkDistinct(indices []uint32) error {
	seen := make(map[uint32]struct{}, len(indices))
	for _, idx := range indices {
		if _, ok := seen[idx]; ok {
			return errors.NewBlockInvalidError("duplicate solution index %d", idx)
		}
		seen[idx] = struct{}{}
	}

	return nil
}

// checkOrdering enforces the canonical solution form: at every tree level the
// left branch leads with the smaller index.
func checkOrdering(indices []uint32, k uint32) error {
	for level := uint32(0); level < k; level++ {
		groupLen := 1 << (level + 1)
		for start := 0; start < len(indices); start += groupLen {
			if indices[start] >= indices[start+groupLen/2] {
				return errors.NewBlockInvalidError("solution indices out of order")
			}
		}
	}

	return nil
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}

	return out
}

func bitsZero(b []byte, from, to uint32) bool {
	for i := from; i < to; i++ {
		if i/8 >= uint32(len(b)) {
			return false
		}
		if b[i/8]&(0x80>>(i%8)) != 0 {
			return false
		}
	}

	return true
}
