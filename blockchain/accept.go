package blockchain

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/pow"
)

// minBlocksToKeep matches the pruning floor: unrequested blocks further ahead
// than this are ignored.
const minBlocksToKeep = 288

// addToBlockIndex inserts a header into the graph, computing height, chain
// work, time-max and the skip pointer, and eagerly raising TREE validity.
// Caller holds the lock.
func (cs *ChainState) addToBlockIndex(header *model.BlockHeader, hash chainhash.Hash) *BlockIndex {
	if existing, ok := cs.index[hash]; ok {
		return existing
	}

	node := newBlockIndex(header)
	node.Hash = hash

	// Received blocks earn a sequence id only once their data arrives, so
	// header-only broadcasts gain no preference.
	node.SequenceID = 0

	if parent, ok := cs.index[header.HashPrevBlock]; ok {
		node.Parent = parent
		node.Height = parent.Height + 1
		node.buildSkip()
	}

	node.TimeMax = node.Timestamp
	if node.Parent != nil && node.Parent.TimeMax > node.TimeMax {
		node.TimeMax = node.Parent.TimeMax
	}

	node.ChainWork = new(big.Int).Set(pow.CalcBlockProof(node.Bits))
	if node.Parent != nil {
		node.ChainWork.Add(node.ChainWork, node.Parent.ChainWork)
	}

	node.RaiseValidity(ValidityTree)

	cs.index[hash] = node

	if cs.bestHeader == nil || cs.bestHeader.ChainWork.Cmp(node.ChainWork) < 0 {
		cs.bestHeader = node
	}

	cs.markDirty(node)

	return node
}

// receivedBlockTransactions records that a block's data is stored, raises
// TRANSACTIONS validity and propagates chain-tx counts to any descendants
// that were waiting on this ancestor.
func (cs *ChainState) receivedBlockTransactions(block *model.Block, node *BlockIndex, pos DiskPosition) error {
	node.TxCount = uint32(len(block.Transactions))
	node.ChainTxCount = 0
	node.File = pos.File
	node.DataPos = pos.Pos
	node.UndoPos = 0
	node.Status = node.Status.WithData(true)
	node.RaiseValidity(ValidityTransactions)
	cs.markDirty(node)

	if node.Parent != nil && node.Parent.ChainTxCount == 0 {
		// An ancestor still lacks data; link up once it arrives.
		if node.Parent.IsValid(ValidityTree) {
			cs.blocksUnlinked[node.Parent] = append(cs.blocksUnlinked[node.Parent], node)
		}

		return nil
	}

	queue := []*BlockIndex{node}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		next.ChainTxCount = uint64(next.TxCount)
		if next.Parent != nil {
			next.ChainTxCount += next.Parent.ChainTxCount
		}

		next.SequenceID = cs.blockSequenceID
		cs.blockSequenceID++

		if tip := cs.chain.Tip(); tip == nil || !workLess(next, tip) {
			cs.candidates[next] = struct{}{}
		}

		queue = append(queue, cs.blocksUnlinked[next]...)
		delete(cs.blocksUnlinked, next)
	}

	return nil
}

// acceptBlockHeader validates a header and inserts it into the index.
// Caller holds the lock.
func (cs *ChainState) acceptBlockHeader(header *model.BlockHeader) (*BlockIndex, error) {
	postFork := int32(header.Height) >= cs.params.CDYHeight
	hash := header.Hash(postFork)

	if hash != *cs.params.GenesisHash {
		if existing, ok := cs.index[hash]; ok {
			if existing.Status.IsInvalid() {
				return existing, ruleError(0, RejectDuplicate, "duplicate", "block %s is marked invalid", hash)
			}

			return existing, nil
		}

		if err := CheckBlockHeader(header, cs.params, cs.equihash, true); err != nil {
			return nil, err
		}

		parent, ok := cs.index[header.HashPrevBlock]
		if !ok {
			return nil, ruleError(10, RejectInvalid, "bad-prevblk", "previous block %s not found",
				header.HashPrevBlock)
		}

		if parent.Status.IsInvalid() {
			return nil, ruleError(100, RejectInvalid, "bad-prevblk", "previous block %s invalid", parent.Hash)
		}

		if err := cs.checkIndexAgainstCheckpoint(parent); err != nil {
			return nil, err
		}

		if err := cs.contextualCheckBlockHeader(header, parent, cs.timeSource()); err != nil {
			return nil, err
		}
	}

	node := cs.addToBlockIndex(header, hash)
	cs.checkBlockIndex()

	return node, nil
}

// ProcessNewBlockHeaders validates a batch of headers, typically from a
// headers message, and inserts them into the index.
func (cs *ChainState) ProcessNewBlockHeaders(headers []*model.BlockHeader) (*BlockIndex, error) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	var last *BlockIndex
	for _, header := range headers {
		node, err := cs.acceptBlockHeader(header)
		if err != nil {
			return last, err
		}
		last = node
	}

	return last, nil
}

// acceptBlock stores a block body after full context-free and contextual
// validation, parking it when it would force a deep reorganization. Caller
// holds the lock.
func (cs *ChainState) acceptBlock(block *model.Block, requested bool) (*BlockIndex, bool, error) {
	node, err := cs.acceptBlockHeader(&block.Header)
	if err != nil {
		return nil, false, err
	}

	if node.Status.HasData() {
		return node, false, nil
	}

	tip := cs.chain.Tip()
	hasMoreWork := tip == nil || node.ChainWork.Cmp(tip.ChainWork) > 0
	tooFarAhead := node.Height > cs.chain.Height()+minBlocksToKeep

	if !requested {
		// Unrequested blocks only get processed when they are new, would
		// advance the tip, are not absurdly ahead, and demonstrate enough
		// work to rule out cheap spam chains.
		if node.TxCount != 0 || !hasMoreWork || tooFarAhead {
			return node, false, nil
		}

		if node.ChainWork.Cmp(cs.minimumChainWork) < 0 {
			return node, false, nil
		}
	}

	if err := CheckBlock(block, cs.params, cs.equihash, cs.settings.Policy.MaxBlockSize, true, true); err != nil {
		cs.markBlockFailed(node, err)
		return nil, false, err
	}

	if err := cs.contextualCheckBlock(block, node.Parent); err != nil {
		cs.markBlockFailed(node, err)
		return nil, false, err
	}

	if cs.settings.Policy.ParkDeepReorg {
		if fork := cs.chain.FindFork(node); fork != nil && fork.Height+1 < node.Height {
			cs.logger.Infof("parking block %s: it would cause a deep reorg", node.Hash)
			node.Status = node.Status.WithParked(true)
			cs.markDirty(node)
		}
	}

	pos, err := cs.store.WriteBlock(block)
	if err != nil {
		return nil, false, err
	}

	if err := cs.receivedBlockTransactions(block, node, pos); err != nil {
		return nil, false, err
	}

	return node, true, nil
}

// markBlockFailed flags a consensus-invalid block, leaving corruption-shaped
// failures unmarked so a bad disk does not poison the index.
func (cs *ChainState) markBlockFailed(node *BlockIndex, err error) {
	if re, ok := AsRuleError(err); ok && re.Kind == KindCorruptionPossible {
		return
	}
	if IsSystemError(err) {
		return
	}

	node.Status = node.Status.WithFailed(true)
	cs.markDirty(node)
	blockValidationFailures.Inc()
}

// ProcessNewBlock runs the full pipeline for one block: header accept, body
// validation and store, then best-chain activation. Header accept and body
// store run under one hold of the chain lock; activation takes the lock
// again in separate steps, so concurrent callers can interleave with it.
func (cs *ChainState) ProcessNewBlock(ctx context.Context, block *model.Block, requested bool) (bool, error) {
	if !cs.isRunning() {
		return false, cs.errNotRunning()
	}

	cs.mtx.Lock()
	node, isNew, err := cs.acceptBlock(block, requested)
	cs.checkBlockIndex()
	cs.mtx.Unlock()

	if err != nil {
		return false, err
	}

	if node == nil {
		return false, nil
	}

	if err := cs.ActivateBestChain(ctx, block); err != nil {
		return isNew, err
	}

	if stopHeight := cs.settings.Policy.StopAtHeight; stopHeight > 0 {
		if tip := cs.Tip(); tip != nil && tip.Height >= stopHeight {
			cs.logger.Warnf("tip reached configured stop height %d", stopHeight)
			return isNew, cs.Stop(ctx)
		}
	}

	return isNew, nil
}

func (cs *ChainState) errNotRunning() error {
	return &RuleError{
		Kind:   KindSystemError,
		Reason: "chain-not-running",
		Debug:  "chain state is " + cs.lifecycle.Current(),
	}
}
