package blockchain

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/pow"
	"github.com/bitcoincandy/candyd/utxo"
)

// bip30GrandfatherBlocks are the two historical blocks that legitimately
// duplicated an unspent coinbase before BIP30 closed the hole.
var bip30GrandfatherBlocks = map[int32]string{
	91842: "00000000000a4d0a398161ffc163c503763b1f4360639393e0e4c8e300e0caec",
	91880: "00000000000743f190a18c5577a3c2d2a1f610ae9601ac046a38084ccb7cd721",
}

const maxScriptSize = 10_000

// isUnspendable reports whether an output can provably never be spent and so
// never enters the coin set.
func isUnspendable(script []byte) bool {
	return (len(script) > 0 && script[0] == txscript.OP_RETURN) || len(script) > maxScriptSize
}

// checkTxInputs verifies that a transaction's inputs exist in the view, are
// mature if coinbase-created, and cover the outputs; it returns the fee.
func checkTxInputs(tx *model.Tx, view *utxo.Cache, spendHeight int32) (model.Amount, error) {
	var valueIn model.Amount

	for _, in := range tx.TxIn {
		coin, err := view.GetCoin(in.PreviousOutPoint)
		if err != nil {
			return 0, err
		}
		if coin == nil {
			return 0, ruleError(100, RejectInvalid, "bad-txns-inputs-missingorspent",
				"input %s missing or spent", in.PreviousOutPoint)
		}

		if coin.Coinbase && spendHeight-coin.Height < CoinbaseMaturity {
			return 0, ruleError(0, RejectInvalid, "bad-txns-premature-spend-of-coinbase",
				"tried to spend coinbase at depth %d", spendHeight-coin.Height)
		}

		valueIn += coin.Out.Value
		if !model.MoneyRange(coin.Out.Value) || !model.MoneyRange(valueIn) {
			return 0, ruleError(100, RejectInvalid, "bad-txns-inputvalues-outofrange",
				"input values out of range")
		}
	}

	valueOut := tx.ValueOut()
	if valueIn < valueOut {
		return 0, ruleError(100, RejectInvalid, "bad-txns-in-belowout",
			"value in %d below value out %d", valueIn, valueOut)
	}

	fee := valueIn - valueOut
	if fee < 0 {
		return 0, ruleError(100, RejectInvalid, "bad-txns-fee-negative", "negative fee")
	}
	if !model.MoneyRange(fee) {
		return 0, ruleError(100, RejectInvalid, "bad-txns-fee-outofrange", "fee out of range")
	}

	return fee, nil
}

// p2shSigOpCount counts the pay-to-script-hash signature operations a
// transaction executes given its input coins.
func p2shSigOpCount(tx *model.Tx, view *utxo.Cache) (uint64, error) {
	if tx.IsCoinBase() {
		return 0, nil
	}

	var count uint64
	for _, in := range tx.TxIn {
		coin, err := view.GetCoin(in.PreviousOutPoint)
		if err != nil {
			return 0, err
		}
		if coin == nil {
			continue
		}

		if txscript.IsPayToScriptHash(coin.Out.PkScript) {
			count += uint64(txscript.GetPreciseSigOpCount(in.SignatureScript, coin.Out.PkScript, true))
		}
	}

	return count, nil
}

// txSigOpCount counts legacy sigops plus, when P2SH is active, the sigops of
// redeemed scripts.
func txSigOpCount(tx *model.Tx, view *utxo.Cache, flags uint32) (uint64, error) {
	count := sigOpCountWithoutP2SH(tx)
	if tx.IsCoinBase() || flags&ScriptVerifyP2SH == 0 {
		return count, nil
	}

	p2sh, err := p2shSigOpCount(tx, view)
	if err != nil {
		return 0, err
	}

	return count + p2sh, nil
}

// updateCoins spends a transaction's inputs into the undo record and adds its
// outputs to the view.
func updateCoins(tx *model.Tx, view *utxo.Cache, txUndo *utxo.TxUndo, height int32) error {
	if !tx.IsCoinBase() {
		for _, in := range tx.TxIn {
			coin, err := view.SpendCoin(in.PreviousOutPoint)
			if err != nil {
				return err
			}
			if coin == nil {
				return ruleError(100, RejectInvalid, "bad-txns-inputs-missingorspent",
					"input %s missing or spent", in.PreviousOutPoint)
			}

			if txUndo != nil {
				txUndo.PrevOuts = append(txUndo.PrevOuts, coin)
			}
		}
	}

	txid := tx.TxID()
	for i, out := range tx.TxOut {
		if isUnspendable(out.PkScript) {
			continue
		}

		op := model.OutPoint{Hash: txid, Index: uint32(i)}
		coin := utxo.NewCoin(model.TxOut{Value: out.Value, PkScript: out.PkScript}, height, tx.IsCoinBase())

		// Overwriting is only tolerated for the historical duplicate
		// coinbases; regular transactions can never collide after BIP30.
		if err := view.AddCoin(op, coin, tx.IsCoinBase()); err != nil {
			return err
		}
	}

	return nil
}

// scriptChecksEnabled decides whether signature verification may be skipped
// for a block beneath the assumed-valid header.
func (cs *ChainState) scriptChecksEnabled(node *BlockIndex) bool {
	if cs.assumeValid == (chainhash.Hash{}) {
		return true
	}

	anchor, ok := cs.index[cs.assumeValid]
	if !ok {
		return true
	}

	if anchor.Ancestor(node.Height) != node {
		return true
	}

	if cs.bestHeader == nil ||
		cs.bestHeader.Ancestor(node.Height) != node ||
		cs.bestHeader.ChainWork.Cmp(cs.minimumChainWork) < 0 {
		return true
	}

	// Skip only while the block is buried more than two weeks of work below
	// the best header; anything at or within that depth is verified in full.
	equivalentTime := blockProofEquivalentTime(cs.bestHeader, node, cs.bestHeader, cs.params.PowTargetSpacing)

	return equivalentTime <= 14*24*60*60
}

// blockProofEquivalentTime estimates the seconds required to redo the work
// between two blocks at the tip's difficulty.
func blockProofEquivalentTime(to, from, tip *BlockIndex, spacing int64) int64 {
	workDiff := new(big.Int).Sub(to.ChainWork, from.ChainWork)
	if workDiff.Sign() < 0 {
		return -blockProofEquivalentTime(from, to, tip, spacing)
	}

	tipProof := pow.CalcBlockProof(tip.Bits)
	if tipProof.Sign() == 0 {
		return 0
	}

	workDiff.Mul(workDiff, big.NewInt(spacing))
	workDiff.Div(workDiff, tipProof)

	if !workDiff.IsInt64() {
		return 1 << 62
	}

	return workDiff.Int64()
}

// runScriptCheck executes one input check, downgrading failures caused only
// by standardness-level flags so peers ahead of an upgrade are not banned.
func (q *CheckQueue) runScriptCheck(check scriptCheck) error {
	err := q.checker.CheckScript(check.tx, check.inputIndex, check.prevOut, check.flags)
	if err == nil {
		return nil
	}

	hasNonMandatory := check.flags&standardNotMandatoryVerifyFlags != 0
	lacksMonolith := check.flags&ScriptEnableMonolithOpcodes == 0

	if hasNonMandatory || lacksMonolith {
		retryFlags := check.flags&^standardNotMandatoryVerifyFlags | ScriptEnableMonolithOpcodes
		if retryErr := q.checker.CheckScript(check.tx, check.inputIndex, check.prevOut, retryFlags); retryErr == nil {
			return nonStandardError("non-mandatory-script-verify-flag",
				"input %d of %s: %v", check.inputIndex, check.tx.TxID(), err)
		}
	}

	return ruleError(100, RejectInvalid, "mandatory-script-verify-flag-failed",
		"input %d of %s: %v", check.inputIndex, check.tx.TxID(), err)
}

// connectBlock applies a block to the coins view, performing every check
// that needs the UTXO set, and journals the spent coins for undo. With
// justCheck set nothing is persisted.
func (cs *ChainState) connectBlock(ctx context.Context, block *model.Block, node *BlockIndex,
	view *utxo.Cache, justCheck bool) error {

	// Re-check in case an earlier version let a bad block into the store.
	if err := CheckBlock(block, cs.params, cs.equihash, cs.settings.Policy.MaxBlockSize,
		!justCheck, !justCheck); err != nil {
		return err
	}

	best, err := view.BestBlock()
	if err != nil {
		return err
	}

	var expectedBest chainhash.Hash
	if node.Parent != nil {
		expectedBest = node.Parent.Hash
	}
	if best != expectedBest {
		return &RuleError{Kind: KindSystemError, Reason: "view-out-of-sync",
			Debug: "coins view best block does not match parent"}
	}

	// The genesis coinbase is unspendable: only move the view marker.
	if node.Hash == *cs.params.GenesisHash {
		if !justCheck {
			view.SetBestBlock(node.Hash)
		}

		return nil
	}

	scriptChecks := cs.scriptChecksEnabled(node)

	// BIP30: no transaction may overwrite an unspent predecessor, except
	// the two grandfathered blocks, and except when the BIP34 ancestry
	// guarantees no further duplicates are possible.
	enforceBIP30 := true
	if hash, ok := bip30GrandfatherBlocks[node.Height]; ok && node.Hash.String() == hash {
		enforceBIP30 = false
	}

	if bip34Node := node.Parent.Ancestor(cs.params.BIP34Height); bip34Node != nil &&
		bip34Node.Hash == cs.params.BIP34Hash {
		enforceBIP30 = false
	}

	if enforceBIP30 {
		for _, tx := range block.Transactions {
			txid := tx.TxID()
			for i := range tx.TxOut {
				have, err := view.HaveCoin(model.OutPoint{Hash: txid, Index: uint32(i)})
				if err != nil {
					return err
				}
				if have {
					return ruleError(100, RejectInvalid, "bad-txns-BIP30",
						"tried to overwrite transaction %s", txid)
				}
			}
		}
	}

	var lockTimeFlags uint32
	if node.Height >= cs.params.CSVHeight {
		lockTimeFlags |= LockTimeVerifySequence
	}

	flags := cs.scriptFlagsForBlock(node.Parent)

	var control *queueControl
	if scriptChecks {
		control = cs.checkQueue.NewControl(ctx)
	} else {
		control = (*CheckQueue)(nil).NewControl(ctx)
	}

	blockSize := uint64(block.SerializeSize())
	maxSigOps := maxBlockSigOpsCount(blockSize)

	blockUndo := &utxo.BlockUndo{TxUndos: make([]*utxo.TxUndo, 0, len(block.Transactions)-1)}

	var fees model.Amount
	var sigOps uint64

	for i, tx := range block.Transactions {
		if !tx.IsCoinBase() {
			fee, err := checkTxInputs(tx, view, node.Height)
			if err != nil {
				return err
			}
			fees += fee

			// BIP68 relative lock-times need the input creation heights, so
			// they are enforced here rather than in the contextual checks.
			prevHeights := make([]int32, len(tx.TxIn))
			for j, in := range tx.TxIn {
				coin, err := view.GetCoin(in.PreviousOutPoint)
				if err != nil {
					return err
				}
				prevHeights[j] = coin.Height
			}

			if !sequenceLocks(tx, lockTimeFlags, prevHeights, node) {
				return ruleError(100, RejectInvalid, "bad-txns-nonfinal",
					"transaction %s is not BIP68 final", tx.TxID())
			}
		}

		txSigOps, err := txSigOpCount(tx, view, flags)
		if err != nil {
			return err
		}
		if txSigOps > maxTxSigOpsCount {
			return ruleError(100, RejectInvalid, "bad-txn-sigops", "transaction sigop count %d", txSigOps)
		}

		sigOps += txSigOps
		if sigOps > maxSigOps {
			return ruleError(100, RejectInvalid, "bad-blk-sigops", "block sigop count %d", sigOps)
		}

		if !tx.IsCoinBase() {
			checks := make([]scriptCheck, 0, len(tx.TxIn))
			for j, in := range tx.TxIn {
				coin, err := view.GetCoin(in.PreviousOutPoint)
				if err != nil {
					return err
				}

				checks = append(checks, scriptCheck{
					tx:         tx,
					inputIndex: j,
					prevOut:    &model.TxOut{Value: coin.Out.Value, PkScript: coin.Out.PkScript},
					flags:      flags,
				})
			}

			control.Add(checks)
		}

		var txUndo *utxo.TxUndo
		if i > 0 {
			txUndo = &utxo.TxUndo{}
			blockUndo.TxUndos = append(blockUndo.TxUndos, txUndo)
		}

		if err := updateCoins(tx, view, txUndo, node.Height); err != nil {
			return err
		}
	}

	blockReward := fees + GetBlockSubsidy(node.Height, cs.params)
	if block.Transactions[0].ValueOut() > blockReward {
		return ruleError(100, RejectInvalid, "bad-cb-amount",
			"coinbase pays %d, limit %d", block.Transactions[0].ValueOut(), blockReward)
	}

	if err := cs.checkPoolWhitelist(block, node.Height); err != nil {
		return err
	}

	if err := control.Wait(); err != nil {
		if re, ok := AsRuleError(err); ok {
			return re
		}

		return ruleError(100, RejectInvalid, "blk-bad-inputs", "parallel script check failed: %v", err)
	}

	if justCheck {
		return nil
	}

	// Journal the undo data and promote validity.
	if node.UndoPos == 0 || !node.IsValid(ValidityScripts) {
		if node.UndoPos == 0 {
			var prevHash chainhash.Hash
			if node.Parent != nil {
				prevHash = node.Parent.Hash
			}

			pos, err := cs.store.WriteUndo(blockUndo, prevHash, node.File)
			if err != nil {
				return err
			}

			node.UndoPos = pos.Pos
			node.Status = node.Status.WithUndo(true)
		}

		node.RaiseValidity(ValidityScripts)
		cs.markDirty(node)
	}

	view.SetBestBlock(node.Hash)

	return nil
}

// checkPoolWhitelist enforces the coinbase payout whitelist from the pool
// protection height onward.
func (cs *ChainState) checkPoolWhitelist(block *model.Block, height int32) error {
	params := cs.params

	if len(params.ValidPoolAddresses) == 0 || params.PoolProtectionHeight <= 0 ||
		height < params.PoolProtectionHeight {
		return nil
	}

	whitelist, err := poolWhitelistScripts(params)
	if err != nil {
		return err
	}

	for _, out := range block.Transactions[0].TxOut {
		if _, ok := whitelist[string(out.PkScript)]; !ok {
			return ruleError(100, RejectInvalid, "blk-bad-scriptPubKey",
				"coinbase output pays outside the pool whitelist")
		}
	}

	return nil
}
