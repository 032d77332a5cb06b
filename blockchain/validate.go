package blockchain

import (
	"github.com/btcsuite/btcd/txscript"

	"github.com/bitcoincandy/candyd/chaincfg"
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/pow"
	"github.com/bitcoincandy/candyd/pow/equihash"
)

const (
	oneMegabyte = 1_000_000

	// maxTxSigOpsCount caps the P2SH-free sigop count of one transaction.
	maxTxSigOpsCount = 20_000

	// maxBlockSigOpsPerMB buckets the block sigop ceiling by serialized
	// megabyte.
	maxBlockSigOpsPerMB = 20_000

	// minTransactionSize is the smallest serialization a valid transaction
	// can have; used as an early bailout on transaction counts.
	minTransactionSize = 60

	// CoinbaseMaturity is the number of confirmations before a coinbase
	// output may be spent.
	CoinbaseMaturity = 100

	// preMonolithMaxBlockSize caps blocks before the opcode hard fork.
	preMonolithMaxBlockSize = 8 * oneMegabyte
)

// Lock-time evaluation flags.
const (
	// LockTimeVerifySequence applies BIP68 relative lock-times.
	LockTimeVerifySequence uint32 = 1 << iota

	// LockTimeMedianTimePast evaluates time locks against the previous
	// block's median time past instead of the block timestamp (BIP113).
	LockTimeMedianTimePast
)

// GetBlockSubsidy returns the scheduled minting for a block at the given
// height: 50 coins halving every interval before the fork, 10 coins on a
// five-times-slower halving schedule after it, with the fork premine and the
// compensation payout as one-shot overrides.
func GetBlockSubsidy(height int32, params *chaincfg.Params) model.Amount {
	var halvings int32
	if height >= params.CDYHeight {
		halvings = (params.CDYHeight + (height-params.CDYHeight)/5) / params.SubsidyHalvingInterval
	} else {
		halvings = height / params.SubsidyHalvingInterval
	}

	if height == params.CDYHeight {
		return 210_000 * model.COIN
	}

	if height == params.CompenseHeight {
		return 1_000_000 * model.COIN
	}

	if halvings >= 61 {
		return 0
	}

	subsidy := 50 * model.COIN
	if height >= params.CDYHeight {
		subsidy = 10 * model.COIN
	}

	return model.Amount(int64(subsidy) >> uint(halvings))
}

// maxBlockSigOpsCount returns the sigop ceiling for a block of the given
// serialized size.
func maxBlockSigOpsCount(blockSize uint64) uint64 {
	if blockSize == 0 {
		return maxBlockSigOpsPerMB
	}

	return ((blockSize-1)/oneMegabyte + 1) * maxBlockSigOpsPerMB
}

// sigOpCountWithoutP2SH counts the legacy signature operations of a
// transaction's scripts.
func sigOpCountWithoutP2SH(tx *model.Tx) uint64 {
	var count uint64
	for _, in := range tx.TxIn {
		count += uint64(txscript.GetSigOpCount(in.SignatureScript))
	}
	for _, out := range tx.TxOut {
		count += uint64(txscript.GetSigOpCount(out.PkScript))
	}

	return count
}

// IsFinalTx reports whether the transaction's lock-time permits inclusion at
// the given height and time.
func IsFinalTx(tx *model.Tx, blockHeight int32, blockTime int64) bool {
	if tx.LockTime == 0 {
		return true
	}

	lockTime := int64(tx.LockTime)
	var lockTimeLimit int64
	if tx.LockTime < model.LockTimeThreshold {
		lockTimeLimit = int64(blockHeight)
	} else {
		lockTimeLimit = blockTime
	}

	if lockTime < lockTimeLimit {
		return true
	}

	for _, in := range tx.TxIn {
		if in.Sequence != model.SequenceFinal {
			return false
		}
	}

	return true
}

// checkTransactionCommon holds the context-free checks shared by coinbase and
// regular transactions.
func checkTransactionCommon(tx *model.Tx) error {
	if len(tx.TxIn) == 0 {
		return ruleError(10, RejectInvalid, "bad-txns-vin-empty", "transaction has no inputs")
	}

	if len(tx.TxOut) == 0 {
		return ruleError(10, RejectInvalid, "bad-txns-vout-empty", "transaction has no outputs")
	}

	if tx.SerializeSize() > model.MaxTxSize {
		return ruleError(100, RejectInvalid, "bad-txns-oversize", "transaction over %d bytes", model.MaxTxSize)
	}

	var valueOut model.Amount
	for _, out := range tx.TxOut {
		if out.Value < 0 {
			return ruleError(100, RejectInvalid, "bad-txns-vout-negative", "output value %d", out.Value)
		}
		if out.Value > model.MaxMoney {
			return ruleError(100, RejectInvalid, "bad-txns-vout-toolarge", "output value %d", out.Value)
		}

		valueOut += out.Value
		if !model.MoneyRange(valueOut) {
			return ruleError(100, RejectInvalid, "bad-txns-txouttotal-toolarge", "output total %d", valueOut)
		}
	}

	if sigOpCountWithoutP2SH(tx) > maxTxSigOpsCount {
		return ruleError(100, RejectInvalid, "bad-txn-sigops", "too many sigops")
	}

	return nil
}

// CheckCoinbase validates the structural rules of a coinbase transaction.
func CheckCoinbase(tx *model.Tx) error {
	if !tx.IsCoinBase() {
		return ruleError(100, RejectInvalid, "bad-cb-missing", "first tx is not coinbase")
	}

	if err := checkTransactionCommon(tx); err != nil {
		return err
	}

	if len(tx.TxIn[0].SignatureScript) < 2 || len(tx.TxIn[0].SignatureScript) > 100 {
		return ruleError(100, RejectInvalid, "bad-cb-length", "coinbase script length %d",
			len(tx.TxIn[0].SignatureScript))
	}

	return nil
}

// CheckRegularTransaction validates the structural rules of a non-coinbase
// transaction.
func CheckRegularTransaction(tx *model.Tx) error {
	if tx.IsCoinBase() {
		return ruleError(100, RejectInvalid, "bad-tx-coinbase", "coinbase outside first position")
	}

	if err := checkTransactionCommon(tx); err != nil {
		return err
	}

	seen := make(map[model.OutPoint]struct{}, len(tx.TxIn))
	for _, in := range tx.TxIn {
		if in.PreviousOutPoint.IsNull() {
			return ruleError(10, RejectInvalid, "bad-txns-prevout-null", "null prevout")
		}
		if _, ok := seen[in.PreviousOutPoint]; ok {
			return ruleError(100, RejectInvalid, "bad-txns-inputs-duplicate", "duplicate input %s",
				in.PreviousOutPoint)
		}
		seen[in.PreviousOutPoint] = struct{}{}
	}

	return nil
}

// CheckBlockHeader performs the context-free header checks: proof of work
// and, post-fork, the Equihash solution.
func CheckBlockHeader(header *model.BlockHeader, params *chaincfg.Params, verifier equihash.Verifier, checkPoW bool) error {
	postFork := int32(header.Height) >= params.CDYHeight && params.CDYHeight > 0

	if checkPoW && postFork {
		n, k := params.EquihashParams(int32(header.Height))

		if len(header.Solution) != equihash.SolutionWidth(n, k) {
			return ruleError(100, RejectInvalid, "invalid-solution-size",
				"equihash solution has %d bytes, want %d", len(header.Solution), equihash.SolutionWidth(n, k))
		}

		input := append(header.EquihashInput(), header.Nonce[:]...)
		if err := verifier.Verify(n, k, input, header.Solution); err != nil {
			return ruleError(100, RejectInvalid, "invalid-solution", "equihash solution invalid: %v", err)
		}
	}

	if checkPoW {
		if err := pow.CheckProofOfWork(header.Hash(postFork), header.Bits, postFork, params); err != nil {
			return ruleError(50, RejectInvalid, "high-hash", "proof of work failed: %v", err)
		}
	}

	return nil
}

// CheckBlock performs every context-free block check: header, merkle root
// and mutation, coinbase placement, size, per-transaction validity and the
// block sigop ceiling.
func CheckBlock(block *model.Block, params *chaincfg.Params, verifier equihash.Verifier,
	maxBlockSize uint64, checkPoW, checkMerkleRoot bool) error {

	if err := CheckBlockHeader(&block.Header, params, verifier, checkPoW); err != nil {
		return err
	}

	if checkMerkleRoot {
		merkleRoot, mutated := model.BlockMerkleRoot(block.Transactions)
		if block.Header.HashMerkleRoot != merkleRoot {
			return corruptionError("bad-txnmrklroot", "merkle root mismatch")
		}

		if mutated {
			return corruptionError("bad-txns-duplicate", "duplicate transaction")
		}
	}

	if len(block.Transactions) == 0 {
		return ruleError(100, RejectInvalid, "bad-cb-missing", "first tx is not coinbase")
	}

	if uint64(len(block.Transactions))*minTransactionSize > maxBlockSize {
		return ruleError(100, RejectInvalid, "bad-blk-length", "transaction count %d exceeds size limits",
			len(block.Transactions))
	}

	blockSize := uint64(block.SerializeSize())
	if blockSize > maxBlockSize {
		return ruleError(100, RejectInvalid, "bad-blk-length", "block size %d over limit %d",
			blockSize, maxBlockSize)
	}

	if err := CheckCoinbase(block.Transactions[0]); err != nil {
		return err
	}

	maxSigOps := maxBlockSigOpsCount(blockSize)

	var sigOps uint64
	for i, tx := range block.Transactions {
		if i > 0 {
			if err := CheckRegularTransaction(tx); err != nil {
				return err
			}
		}

		sigOps += sigOpCountWithoutP2SH(tx)
		if sigOps > maxSigOps {
			return ruleError(100, RejectInvalid, "bad-blk-sigops", "out-of-bounds sigop count")
		}
	}

	return nil
}

// calculateSequenceLocks derives the earliest height and time at which a
// transaction's BIP68 relative lock-times are satisfied, given the creation
// heights of its inputs.
func calculateSequenceLocks(tx *model.Tx, flags uint32, prevHeights []int32, node *BlockIndex) (int32, int64) {
	minHeight := int32(-1)
	minTime := int64(-1)

	enforce := uint32(tx.Version) >= 2 && flags&LockTimeVerifySequence != 0
	if !enforce {
		return minHeight, minTime
	}

	for i, in := range tx.TxIn {
		if in.Sequence&model.SequenceLockTimeDisableFlag != 0 {
			prevHeights[i] = 0
			continue
		}

		coinHeight := prevHeights[i]

		if in.Sequence&model.SequenceLockTimeTypeFlag != 0 {
			ancestorHeight := coinHeight - 1
			if ancestorHeight < 0 {
				ancestorHeight = 0
			}
			coinTime := node.Ancestor(ancestorHeight).MedianTimePast()

			// Lock-times are "last invalid" semantics, hence the -1.
			lock := coinTime + int64(in.Sequence&model.SequenceLockTimeMask)<<model.SequenceLockTimeGranularity - 1
			if lock > minTime {
				minTime = lock
			}
		} else {
			lock := coinHeight + int32(in.Sequence&model.SequenceLockTimeMask) - 1
			if lock > minHeight {
				minHeight = lock
			}
		}
	}

	return minHeight, minTime
}

func evaluateSequenceLocks(node *BlockIndex, minHeight int32, minTime int64) bool {
	if node.Parent == nil {
		return false
	}

	blockTime := node.Parent.MedianTimePast()

	return minHeight < node.Height && minTime < blockTime
}

// sequenceLocks checks the transaction's relative lock-times in the context
// of the block represented by node.
func sequenceLocks(tx *model.Tx, flags uint32, prevHeights []int32, node *BlockIndex) bool {
	minHeight, minTime := calculateSequenceLocks(tx, flags, prevHeights, node)
	return evaluateSequenceLocks(node, minHeight, minTime)
}
