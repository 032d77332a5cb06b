package pow

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/chaincfg"
	"github.com/bitcoincandy/candyd/errors"
)

// CheckProofOfWork verifies that a block hash satisfies its claimed compact
// target and that the target itself is within range for the regime.
func CheckProofOfWork(hash chainhash.Hash, bits uint32, postFork bool, params *chaincfg.Params) error {
	target, negative, overflow := DecodeCompact(bits)

	if negative {
		return errors.NewBlockInvalidError("target %08x is negative", bits)
	}
	if target.Sign() == 0 {
		return errors.NewBlockInvalidError("target %08x is zero", bits)
	}
	if overflow {
		return errors.NewBlockInvalidError("target %08x overflows", bits)
	}
	if target.Cmp(params.PowLimitFor(postFork)) > 0 {
		return errors.NewBlockInvalidError("target %08x is above the proof of work limit", bits)
	}

	if HashToBig(&hash).Cmp(target) > 0 {
		return errors.NewBlockInvalidError("block hash %s is above target %08x", hash, bits)
	}

	return nil
}
