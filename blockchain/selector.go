package blockchain

import (
	"context"
	"math"
	"math/big"

	"github.com/bitcoincandy/candyd/errors"
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/utxo"
)

// connectBatchSize caps how many blocks one activation step connects before
// re-evaluating the candidate set.
const connectBatchSize = 32

// invalidChainFound records a new best known invalid branch.
func (cs *ChainState) invalidChainFound(node *BlockIndex) {
	if cs.bestInvalid == nil || node.ChainWork.Cmp(cs.bestInvalid.ChainWork) > 0 {
		cs.bestInvalid = node
	}

	cs.logger.Warnf("invalid chain at %s, height %d", node.Hash, node.Height)
}

// bestCandidate returns the most preferred entry of the candidate set, or
// nil.
func (cs *ChainState) bestCandidate() *BlockIndex {
	var best *BlockIndex
	for node := range cs.candidates {
		if best == nil || workLess(best, node) {
			best = node
		}
	}

	return best
}

// findMostWorkChain peels the candidate set until it finds the most-work tip
// whose branch back to the active chain is connectable: data present, not
// failed, not parked. Parked branches are auto-unparked when they out-work
// the active chain by the depth-dependent margin.
func (cs *ChainState) findMostWorkChain() *BlockIndex {
	for {
		candidate := cs.bestCandidate()
		if candidate == nil {
			return nil
		}

		// Never reorganize beneath the finalized block.
		if cs.finalized != nil && !AreOnSameFork(candidate, cs.finalized) {
			cs.logger.Warnf("marking block %s invalid: it forks prior to the finalization point %d",
				candidate.Hash, cs.finalized.Height)
			candidate.Status = candidate.Status.WithFailed(true)
			cs.markDirty(candidate)
		}

		fork := cs.chain.FindFork(candidate)

		hasValidAncestor := true
		for test := candidate; hasValidAncestor && test != nil && test != fork; {
			parkedChain := test.Status.IsOnParkedChain()

			if parkedChain && cs.settings.Policy.ParkDeepReorg {
				tip := cs.chain.Tip()

				if tip == nil || fork == nil {
					// During initialization there is nothing to protect.
					cs.unparkBlockImpl(test, false)
					continue
				}

				// Shallow forks need half the accumulated delta in extra
				// work; deeper ones must double it.
				extraPow := tip
				requiredWork := new(big.Int).Set(tip.ChainWork)

				switch tip.Height - fork.Height {
				case 2, 3:
					extraPow = extraPow.Parent
					fallthrough
				case 1:
					delta := new(big.Int).Sub(extraPow.ChainWork, fork.ChainWork)
					delta.Rsh(delta, 1)
					requiredWork.Add(requiredWork, delta)
				default:
					delta := new(big.Int).Sub(extraPow.ChainWork, fork.ChainWork)
					requiredWork.Add(requiredWork, delta)
				}

				if candidate.ChainWork.Cmp(requiredWork) > 0 {
					cs.logger.Infof("unparking block %s: its chain has accumulated enough work", test.Hash)
					parkedChain = false
					cs.unparkBlockImpl(test, false)
				}
			}

			invalidChain := test.Status.IsInvalid()
			missingData := !test.Status.HasData()

			if !invalidChain && !parkedChain && !missingData {
				test = test.Parent
				continue
			}

			hasValidAncestor = false
			delete(cs.candidates, test)

			if invalidChain && (cs.bestInvalid == nil ||
				candidate.ChainWork.Cmp(cs.bestInvalid.ChainWork) > 0) {
				cs.bestInvalid = candidate
			}

			if parkedChain && (cs.bestParked == nil ||
				candidate.ChainWork.Cmp(cs.bestParked.ChainWork) > 0) {
				cs.bestParked = candidate
			}

			// Remove the whole branch from the candidate set, tainting it
			// with the matching parent flag, or re-queueing it for linkage
			// when only data is missing.
			for failed := candidate; failed != test; failed = failed.Parent {
				switch {
				case invalidChain:
					failed.Status = failed.Status.WithFailedParent(true)
					cs.markDirty(failed)
				case parkedChain:
					failed.Status = failed.Status.WithParkedParent(true)
					cs.markDirty(failed)
				case missingData:
					cs.blocksUnlinked[failed.Parent] = append(cs.blocksUnlinked[failed.Parent], failed)
				}

				delete(cs.candidates, failed)
			}
		}

		if hasValidAncestor {
			return candidate
		}
	}
}

// pruneBlockIndexCandidates drops candidates that can no longer beat the
// tip.
func (cs *ChainState) pruneBlockIndexCandidates() {
	tip := cs.chain.Tip()
	if tip == nil {
		return
	}

	for node := range cs.candidates {
		if node != tip && workLess(node, tip) {
			delete(cs.candidates, node)
		}
	}

	cs.candidates[tip] = struct{}{}
}

// disconnectTip undoes the current tip from the coins view and hands its
// transactions back to the mempool. bare skips the mempool resurrection.
func (cs *ChainState) disconnectTip(bare bool) error {
	tip := cs.chain.Tip()
	if tip == nil {
		return errors.NewProcessingError("no tip to disconnect")
	}

	block, err := cs.store.ReadBlock(DiskPosition{File: tip.File, Pos: tip.DataPos})
	if err != nil {
		return errors.NewSystemError("failed to read block %s", tip.Hash, err)
	}

	view := utxo.NewCache(cs.utxoCache)

	best, err := view.BestBlock()
	if err != nil {
		return err
	}
	if best != tip.Hash {
		return errors.NewSystemError("coins view best block %s does not match tip %s", best, tip.Hash)
	}

	res, err := cs.disconnectBlock(block, tip, view)
	if err != nil {
		return err
	}
	if res == DisconnectFailed {
		return errors.NewSystemError("disconnect of block %s failed", tip.Hash)
	}

	if err := view.Flush(); err != nil {
		return err
	}

	// Crossing back over the opcode activation boundary invalidates every
	// cached mempool validation; start over.
	if cs.mempool != nil && cs.isMonolithEnabled(tip) && !cs.isMonolithEnabled(tip.Parent) {
		cs.mempool.Clear()
	}

	if cs.mempool != nil && !bare {
		for _, tx := range block.Transactions {
			if tx.IsCoinBase() {
				continue
			}

			if err := cs.mempool.MaybeAccept(tx); err != nil {
				cs.mempool.RemoveRecursive(tx, RemovalReorg)
			}
		}
	}

	if cs.finalized == tip {
		cs.finalized = tip.Parent
	}

	cs.chain.SetTip(tip.Parent)
	blocksDisconnectedTotal.Inc()

	for _, tx := range block.Transactions {
		cs.sendNotification(&Notification{Type: NTTransactionDisconnected, Tx: tx, Node: tip.Parent})
	}
	cs.sendNotification(&Notification{Type: NTBlockDisconnected, Block: block, Node: tip})

	return nil
}

// finalizeBlockInternal moves the finalization pointer, refusing invalid
// blocks and anything conflicting with the existing pointer.
func (cs *ChainState) finalizeBlockInternal(node *BlockIndex) error {
	if node.Status.IsInvalid() {
		return ruleError(100, RejectInvalid, "finalize-invalid-block",
			"trying to finalize invalid block %s", node.Hash)
	}

	if cs.finalized != nil && !AreOnSameFork(node, cs.finalized) {
		return againstFinalizedError(20,
			"block %s conflicts with the already finalized block", node.Hash)
	}

	cs.finalized = node

	return nil
}

// connectTip applies the given block, which must extend the current tip, and
// advances finalization.
func (cs *ChainState) connectTip(ctx context.Context, node *BlockIndex, block *model.Block) error {
	if node.Parent != cs.chain.Tip() {
		return errors.NewProcessingError("connect candidate %s does not extend the tip", node.Hash)
	}

	if block == nil {
		var err error
		block, err = cs.store.ReadBlock(DiskPosition{File: node.File, Pos: node.DataPos})
		if err != nil {
			return errors.NewSystemError("failed to read block %s", node.Hash, err)
		}
	}

	view := utxo.NewCache(cs.utxoCache)

	if err := cs.connectBlock(ctx, block, node, view, false); err != nil {
		if re, ok := AsRuleError(err); ok && re.Kind == KindInvalid {
			cs.markBlockFailed(node, err)
			cs.invalidChainFound(node)
			delete(cs.candidates, node)
		}

		return err
	}

	// Advance finalization to trail the tip by the configured depth,
	// refusing to leave the active chain.
	finalizeHeight := node.Height - cs.settings.Policy.MaxReorgDepth
	if toFinalize := node.Ancestor(finalizeHeight); toFinalize != nil {
		if err := cs.finalizeBlockInternal(toFinalize); err != nil {
			return corruptionError("finalize-failed", "finalizing %s: %v", toFinalize.Hash, err)
		}
	}

	if err := view.Flush(); err != nil {
		return err
	}

	// Crossing the opcode activation boundary invalidates every cached
	// mempool validation; start over.
	if cs.mempool != nil && cs.isMonolithEnabled(node) && !cs.isMonolithEnabled(node.Parent) {
		cs.mempool.Clear()
	}

	if cs.mempool != nil {
		cs.mempool.RemoveForBlock(block.Transactions, node.Height)
	}

	cs.chain.SetTip(node)
	blocksConnectedTotal.Inc()

	for _, tx := range block.Transactions {
		cs.sendNotification(&Notification{Type: NTTransactionConnected, Tx: tx, Node: node})
	}
	cs.sendNotification(&Notification{Type: NTBlockConnected, Block: block, Node: node})

	return nil
}

// activateBestChainStep makes progress towards mostWork: it disconnects
// stale tips back to the fork point and connects candidates forward in
// batches.
func (cs *ChainState) activateBestChainStep(ctx context.Context, mostWork *BlockIndex,
	block *model.Block) (invalidFound bool, err error) {

	oldTip := cs.chain.Tip()
	fork := cs.chain.FindFork(mostWork)

	disconnected := 0
	for cs.chain.Tip() != nil && cs.chain.Tip() != fork {
		if err := cs.disconnectTip(false); err != nil {
			return false, err
		}
		disconnected++
	}

	if disconnected > 0 {
		reorgDepth.Observe(float64(disconnected))
	}

	height := int32(-1)
	if fork != nil {
		height = fork.Height
	}

	proceed := true
	for proceed && height != mostWork.Height {
		if ctx.Err() != nil {
			return false, errors.NewContextCanceledError("reorg interrupted", ctx.Err())
		}

		targetHeight := mostWork.Height
		if height+connectBatchSize < targetHeight {
			targetHeight = height + connectBatchSize
		}

		toConnect := make([]*BlockIndex, 0, targetHeight-height)
		for iter := mostWork.Ancestor(targetHeight); iter != nil && iter.Height != height; iter = iter.Parent {
			toConnect = append(toConnect, iter)
		}

		height = targetHeight

		for i := len(toConnect) - 1; i >= 0; i-- {
			connectNode := toConnect[i]

			var connectBlock *model.Block
			if block != nil && connectNode == mostWork {
				connectBlock = block
			}

			if err := cs.connectTip(ctx, connectNode, connectBlock); err != nil {
				if re, ok := AsRuleError(err); ok && re.Kind != KindSystemError {
					if re.Kind != KindCorruptionPossible {
						cs.invalidChainFound(toConnect[len(toConnect)-1])
					}

					invalidFound = true
					proceed = false

					break
				}

				return invalidFound, err
			}

			cs.pruneBlockIndexCandidates()

			if oldTip == nil || cs.chain.Tip().ChainWork.Cmp(oldTip.ChainWork) > 0 {
				// Progress was made; yield so other callers can interleave.
				proceed = false
				break
			}
		}
	}

	if disconnected > 0 && cs.mempool != nil {
		cs.mempool.RemoveForReorg(cs.utxoCache, cs.chain.Height()+1)
		cs.mempool.LimitSize(
			int64(cs.settings.Policy.MaxMempoolMB)*1_000_000,
			int64(cs.settings.Policy.MempoolExpiryHours)*3600)
	}

	return invalidFound, nil
}

// ActivateBestChain drives the active chain towards the most-work valid
// candidate, in steps, until the tip is the best known.
func (cs *ChainState) ActivateBestChain(ctx context.Context, block *model.Block) error {
	var mostWork *BlockIndex

	for {
		if ctx.Err() != nil {
			return errors.NewContextCanceledError("activation interrupted", ctx.Err())
		}

		cs.mtx.Lock()

		if mostWork == nil {
			mostWork = cs.findMostWorkChain()
		}

		tip := cs.chain.Tip()
		if mostWork == nil || mostWork == tip {
			cs.mtx.Unlock()
			return nil
		}

		var stepBlock *model.Block
		if block != nil && cs.blockHash(block, mostWork.Height) == mostWork.Hash {
			stepBlock = block
		}

		invalidFound, err := cs.activateBestChainStep(ctx, mostWork, stepBlock)
		if err != nil {
			cs.mtx.Unlock()
			return err
		}

		if invalidFound {
			// The branch went bad; pick again.
			mostWork = nil
		}

		newTip := cs.chain.Tip()
		cs.checkBlockIndex()
		cs.mtx.Unlock()

		cs.sendNotification(&Notification{Type: NTChainTipUpdated, Node: newTip})

		if newTip == mostWork {
			break
		}
	}

	cs.mtx.Lock()
	err := cs.flushStateToDisk()
	cs.mtx.Unlock()

	return err
}

// PreciousBlock biases chain selection towards the given block at equal
// work, by granting it an ever-decreasing negative sequence id. Chain work
// is never altered.
func (cs *ChainState) PreciousBlock(ctx context.Context, node *BlockIndex) error {
	cs.mtx.Lock()

	tip := cs.chain.Tip()
	if tip != nil && node.ChainWork.Cmp(tip.ChainWork) < 0 {
		// Not at tip work; nothing to do.
		cs.mtx.Unlock()
		return nil
	}

	if tip != nil && tip.ChainWork.Cmp(cs.lastPreciousChainwork) > 0 {
		// The chain grew since the last call; restart the counter.
		cs.blockReverseSequenceID = -1
	}

	if tip != nil {
		cs.lastPreciousChainwork.Set(tip.ChainWork)
	}

	delete(cs.candidates, node)
	node.SequenceID = cs.blockReverseSequenceID
	if cs.blockReverseSequenceID > math.MinInt32 {
		cs.blockReverseSequenceID--
	}

	cs.unparkBlockImpl(node, false)

	if node.IsValid(ValidityTransactions) && node.ChainTxCount > 0 {
		cs.candidates[node] = struct{}{}
		cs.pruneBlockIndexCandidates()
	}

	cs.mtx.Unlock()

	return cs.ActivateBestChain(ctx, nil)
}

// unwindBlock marks a block failed or parked and walks the active chain off
// it.
func (cs *ChainState) unwindBlock(node *BlockIndex, invalidate bool) error {
	if invalidate {
		node.Status = node.Status.WithFailed(true)
	} else {
		node.Status = node.Status.WithParked(true)
	}
	cs.markDirty(node)

	for cs.chain.Contains(node) {
		tip := cs.chain.Tip()
		if tip != node {
			if invalidate {
				tip.Status = tip.Status.WithFailedParent(true)
			} else {
				tip.Status = tip.Status.WithParkedParent(true)
			}
			cs.markDirty(tip)
		}

		// The active chain is considered valid unconditionally, so force
		// the disconnect.
		if err := cs.disconnectTip(false); err != nil {
			if cs.mempool != nil {
				cs.mempool.RemoveForReorg(cs.utxoCache, cs.chain.Height()+1)
			}

			return err
		}
	}

	if cs.mempool != nil {
		cs.mempool.LimitSize(
			int64(cs.settings.Policy.MaxMempoolMB)*1_000_000,
			int64(cs.settings.Policy.MempoolExpiryHours)*3600)
	}

	// The new best tip may have fallen out of the candidate set; rebuild
	// eligibility from the whole index.
	tip := cs.chain.Tip()
	for _, candidate := range cs.index {
		if candidate.IsValid(ValidityTransactions) && candidate.ChainTxCount > 0 &&
			(tip == nil || !workLess(candidate, tip)) {
			cs.candidates[candidate] = struct{}{}
		}
	}

	if invalidate {
		cs.invalidChainFound(node)
	}

	if cs.mempool != nil {
		cs.mempool.RemoveForReorg(cs.utxoCache, cs.chain.Height()+1)
	}

	return nil
}

// InvalidateBlock marks a block invalid and moves the active chain off it.
func (cs *ChainState) InvalidateBlock(ctx context.Context, node *BlockIndex) error {
	cs.mtx.Lock()
	err := cs.unwindBlock(node, true)
	cs.mtx.Unlock()

	if err != nil {
		return err
	}

	return cs.ActivateBestChain(ctx, nil)
}

// ParkBlock soft-invalidates a block: it is moved off the active chain but
// remains eligible for automatic reconsideration.
func (cs *ChainState) ParkBlock(ctx context.Context, node *BlockIndex) error {
	cs.mtx.Lock()
	err := cs.unwindBlock(node, false)
	cs.mtx.Unlock()

	if err != nil {
		return err
	}

	return cs.ActivateBestChain(ctx, nil)
}

// FinalizeBlock pins the finalization pointer to the given block, rewinding
// the active chain first when the block lies on another branch.
func (cs *ChainState) FinalizeBlock(ctx context.Context, node *BlockIndex) error {
	cs.mtx.Lock()

	if err := cs.finalizeBlockInternal(node); err != nil {
		cs.mtx.Unlock()
		return err
	}

	if node.Status.IsOnParkedChain() {
		cs.unparkBlockImpl(node, false)
	}

	tip := cs.chain.Tip()
	if tip != nil && !AreOnSameFork(node, tip) {
		fork := cs.chain.FindFork(node)
		if fork != nil {
			if toInvalidate := tip.Ancestor(fork.Height + 1); toInvalidate != nil {
				cs.mtx.Unlock()
				return cs.InvalidateBlock(ctx, toInvalidate)
			}
		}
	}

	cs.mtx.Unlock()

	return nil
}

// updateFlagsForBlock applies f to one descendant (or the base itself) and
// refreshes its candidacy.
func (cs *ChainState) updateFlagsForBlock(base, node *BlockIndex, f func(BlockStatus) BlockStatus) {
	newStatus := f(node.Status)
	if node.Status == newStatus || node.Ancestor(base.Height) != base {
		return
	}

	node.Status = newStatus
	cs.markDirty(node)

	tip := cs.chain.Tip()
	if node.IsValid(ValidityTransactions) && node.ChainTxCount > 0 &&
		(tip == nil || workLess(tip, node)) {
		cs.candidates[node] = struct{}{}
	}
}

// updateFlags applies f to the node and its ancestors, and fchild to every
// descendant in the index.
func (cs *ChainState) updateFlags(node *BlockIndex, f, fchild func(BlockStatus) BlockStatus) {
	cs.updateFlagsForBlock(node, node, f)

	for _, candidate := range cs.index {
		if candidate != node {
			cs.updateFlagsForBlock(node, candidate, fchild)
		}
	}

	for ancestor := node.Parent; ancestor != nil; ancestor = ancestor.Parent {
		newStatus := f(ancestor.Status)
		if ancestor.Status != newStatus {
			ancestor.Status = newStatus
			cs.markDirty(ancestor)
		}
	}
}

// ResetBlockFailureFlags clears failure flags from a block, its ancestors
// and descendants, letting the branch compete again.
func (cs *ChainState) ResetBlockFailureFlags(node *BlockIndex) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	if cs.bestInvalid != nil &&
		(cs.bestInvalid.Ancestor(node.Height) == node || node.Ancestor(cs.bestInvalid.Height) == cs.bestInvalid) {
		cs.bestInvalid = nil
	}

	clear := func(s BlockStatus) BlockStatus { return s.WithClearedFailureFlags() }
	cs.updateFlags(node, clear, clear)
}

func (cs *ChainState) unparkBlockImpl(node *BlockIndex, clearChildren bool) {
	if cs.bestParked != nil &&
		(cs.bestParked.Ancestor(node.Height) == node || node.Ancestor(cs.bestParked.Height) == cs.bestParked) {
		cs.bestParked = nil
	}

	clear := func(s BlockStatus) BlockStatus { return s.WithClearedParkedFlags() }
	childClear := func(s BlockStatus) BlockStatus {
		if clearChildren {
			return s.WithClearedParkedFlags()
		}

		return s.WithParkedParent(false)
	}

	cs.updateFlags(node, clear, childClear)
}

// UnparkBlock clears the parked flag from a block and the parked-parent flag
// from its descendants.
func (cs *ChainState) UnparkBlock(node *BlockIndex) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	cs.unparkBlockImpl(node, false)
}

// UnparkBlockAndChildren clears parked flags from a block and every
// descendant.
func (cs *ChainState) UnparkBlockAndChildren(node *BlockIndex) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	cs.unparkBlockImpl(node, true)
}
