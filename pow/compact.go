package pow

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	bigOne = big.NewInt(1)

	// oneLsh256 is 2^256, used when converting a target to its expected
	// hash count.
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)
)

// HashToBig interprets a hash as a big-endian 256-bit integer. Hashes are
// stored in little-endian, so the bytes are reversed.
func HashToBig(hash *chainhash.Hash) *big.Int {
	buf := *hash
	blen := len(buf)
	for i := 0; i < blen/2; i++ {
		buf[i], buf[blen-1-i] = buf[blen-1-i], buf[i]
	}

	return new(big.Int).SetBytes(buf[:])
}

// CompactToBig decodes the compact "nBits" representation into a target.
// The representation is a base-256 float: the high byte is the exponent, the
// low 23 bits the mantissa, and bit 23 the sign.
func CompactToBig(compact uint32) *big.Int {
	n, _, _ := DecodeCompact(compact)
	return n
}

// DecodeCompact decodes a compact target and reports the conditions a
// consensus check must reject: a sign bit, or a mantissa whose exponent
// shifts it past 256 bits.
func DecodeCompact(compact uint32) (n *big.Int, negative bool, overflow bool) {
	mantissa := compact & 0x007fffff
	exponent := uint(compact >> 24)

	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		n = big.NewInt(int64(mantissa))
	} else {
		n = big.NewInt(int64(mantissa))
		n.Lsh(n, 8*(exponent-3))
	}

	negative = compact&0x00800000 != 0 && mantissa != 0

	overflow = mantissa != 0 && (exponent > 34 ||
		(mantissa > 0xff && exponent > 33) ||
		(mantissa > 0xffff && exponent > 32))

	return n, negative, overflow
}

// BigToCompact encodes a target in compact form. The encoding is canonical:
// the mantissa never has its high bit set, spilling into the exponent
// instead.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}

	return compact
}

// CalcBlockProof returns the amount of work a block at the given compact
// target represents: 2^256 / (target + 1). Invalid targets contribute zero
// work.
func CalcBlockProof(bits uint32) *big.Int {
	target, negative, overflow := DecodeCompact(bits)
	if negative || overflow || target.Sign() <= 0 {
		return big.NewInt(0)
	}

	denominator := new(big.Int).Add(target, bigOne)

	return new(big.Int).Div(oneLsh256, denominator)
}
