package blockchain

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"

	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/pow"
)

// maxFutureBlockTime is the upstream two hour future timestamp bound; the
// network's own tighter bound applies on top of it.
const maxFutureBlockTime = 2 * 60 * 60

// contextualCheckBlockHeader validates a header against its parent: expected
// difficulty, timestamps, post-fork height continuity and version gating.
func (cs *ChainState) contextualCheckBlockHeader(header *model.BlockHeader, prev *BlockIndex, adjustedTime int64) error {
	params := cs.params
	height := prev.Height + 1

	expectedBits := pow.GetNextWorkRequired(powAdapter(prev), int64(header.Timestamp), params)
	if header.Bits != expectedBits {
		return ruleError(100, RejectInvalid, "bad-diffbits",
			"block bits %08x, want %08x after height %d", header.Bits, expectedBits, prev.Height)
	}

	if height >= params.CDYHeight && header.Height != uint32(height) {
		return ruleError(100, RejectInvalid, "bad-height",
			"header claims height %d at chain height %d", header.Height, height)
	}

	if int64(header.Timestamp) <= prev.MedianTimePast() {
		return ruleError(0, RejectInvalid, "time-too-old", "timestamp %d below median time past", header.Timestamp)
	}

	futureBound := params.MaxFutureBlockTime
	if futureBound > maxFutureBlockTime {
		futureBound = maxFutureBlockTime
	}
	if int64(header.Timestamp) > adjustedTime+futureBound {
		return ruleError(0, RejectInvalid, "time-too-new", "timestamp %d too far in the future", header.Timestamp)
	}

	// Reject versions made obsolete by buried soft forks.
	if (header.Version < 2 && height >= params.BIP34Height) ||
		(header.Version < 3 && height >= params.BIP66Height) ||
		(header.Version < 4 && height >= params.BIP65Height) {
		return ruleError(0, RejectObsolete, "bad-version", "version 0x%08x rejected at height %d",
			header.Version, height)
	}

	return nil
}

// isCommitment reports whether the script is exactly an OP_RETURN push of the
// given data.
func isCommitment(script, data []byte) bool {
	if len(script) != len(data)+2 || len(data) > 64 {
		return false
	}

	if script[0] != txscript.OP_RETURN || int(script[1]) != len(data) {
		return false
	}

	return bytes.Equal(script[2:], data)
}

// contextualCheckTransaction validates a transaction for inclusion at the
// given height: finality and, within the anti-replay window, the OP_RETURN
// replay-protection commitment.
func (cs *ChainState) contextualCheckTransaction(tx *model.Tx, height int32, lockTimeCutoff int64) error {
	params := cs.params

	if !IsFinalTx(tx, height, lockTimeCutoff) {
		return ruleError(10, RejectInvalid, "bad-txns-nonfinal", "non-final transaction %s", tx.TxID())
	}

	if height >= params.UAHFHeight && height <= params.AntiReplayOpReturnSunsetHeight {
		for _, out := range tx.TxOut {
			if isCommitment(out.PkScript, params.AntiReplayOpReturnCommitment) {
				return ruleError(10, RejectInvalid, "bad-txn-replay", "replay protected transaction %s", tx.TxID())
			}
		}
	}

	return nil
}

// contextualCheckBlock validates block-level rules that need the parent:
// lock-time finality of every transaction, the pre-monolith size cap and the
// BIP34 height commitment.
func (cs *ChainState) contextualCheckBlock(block *model.Block, prev *BlockIndex) error {
	params := cs.params

	var height int32
	if prev != nil {
		height = prev.Height + 1
	}

	var lockTimeFlags uint32
	if height >= params.CSVHeight {
		lockTimeFlags |= LockTimeMedianTimePast
	}

	if prev != nil && !cs.isMonolithEnabled(prev) {
		if block.SerializeSize() > preMonolithMaxBlockSize {
			return ruleError(100, RejectInvalid, "bad-blk-length", "block too large before opcode activation")
		}
	}

	var medianTimePast int64
	if prev != nil {
		medianTimePast = prev.MedianTimePast()
	}

	lockTimeCutoff := int64(block.Header.Timestamp)
	if lockTimeFlags&LockTimeMedianTimePast != 0 {
		lockTimeCutoff = medianTimePast
	}

	for _, tx := range block.Transactions {
		if err := cs.contextualCheckTransaction(tx, height, lockTimeCutoff); err != nil {
			return err
		}
	}

	if height >= params.BIP34Height {
		expect, err := txscript.NewScriptBuilder().AddInt64(int64(height)).Script()
		if err != nil {
			return err
		}

		scriptSig := block.Transactions[0].TxIn[0].SignatureScript
		if len(scriptSig) < len(expect) || !bytes.Equal(expect, scriptSig[:len(expect)]) {
			return ruleError(100, RejectInvalid, "bad-cb-height", "block height mismatch in coinbase")
		}
	}

	return nil
}

// checkIndexAgainstCheckpoint rejects forks that branch below the most
// recent checkpoint.
func (cs *ChainState) checkIndexAgainstCheckpoint(prev *BlockIndex) error {
	if prev.Hash == *cs.params.GenesisHash {
		return nil
	}

	height := prev.Height + 1
	if checkpoint := cs.lastCheckpoint(); checkpoint != nil && height < checkpoint.Height {
		return ruleError(100, RejectCheckpoint, "bad-fork-prior-to-checkpoint",
			"forked chain older than last checkpoint (height %d)", height)
	}

	return nil
}
