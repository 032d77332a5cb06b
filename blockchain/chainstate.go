package blockchain

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/looplab/fsm"

	"github.com/bitcoincandy/candyd/chaincfg"
	"github.com/bitcoincandy/candyd/errors"
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/pow"
	"github.com/bitcoincandy/candyd/pow/equihash"
	"github.com/bitcoincandy/candyd/settings"
	"github.com/bitcoincandy/candyd/ulogger"
	"github.com/bitcoincandy/candyd/utxo"
)

// maxTipAge is how stale the tip may be before the node considers itself in
// initial block download.
const maxTipAge = 24 * 60 * 60

// Config wires a ChainState to its collaborators. Logger, Settings, Store
// and UtxoStore are required; Mempool, ScriptChecker, EquihashVerifier and
// TimeSource may be nil.
type Config struct {
	Logger   ulogger.Logger
	Settings *settings.Settings

	Store     BlockStore
	UtxoStore utxo.View

	Mempool TxPool

	// ScriptChecker runs opcode-level script verification. Nil accepts all
	// scripts.
	ScriptChecker ScriptChecker

	// EquihashVerifier validates post-fork solutions. Nil uses the
	// structural verifier.
	EquihashVerifier equihash.Verifier

	// TimeSource supplies adjusted time; nil uses the wall clock.
	TimeSource func() int64
}

// ChainState owns every piece of mutable chain data: the index graph, the
// active chain, the candidate set, finalization and the coins cache. One
// mutex guards it all; collaborators are reached from under it.
type ChainState struct {
	mtx sync.Mutex

	logger   ulogger.Logger
	settings *settings.Settings
	params   *chaincfg.Params

	store     BlockStore
	utxoBase  utxo.View
	utxoCache *utxo.Cache
	mempool   TxPool

	checkQueue *CheckQueue
	equihash   equihash.Verifier
	timeSource func() int64

	index          map[chainhash.Hash]*BlockIndex
	chain          Chain
	candidates     map[*BlockIndex]struct{}
	blocksUnlinked map[*BlockIndex][]*BlockIndex

	bestHeader  *BlockIndex
	bestInvalid *BlockIndex
	bestParked  *BlockIndex
	finalized   *BlockIndex

	blockSequenceID        int32
	blockReverseSequenceID int32
	lastPreciousChainwork  *big.Int

	dirtyBlockIndex map[*BlockIndex]struct{}

	assumeValid      chainhash.Hash
	minimumChainWork *big.Int

	lifecycle *fsm.FSM

	notificationsMtx sync.Mutex
	notifications    []NotificationCallback

	ibdLatch atomic.Bool
}

// Lifecycle states and events.
const (
	stateIdle     = "idle"
	stateRunning  = "running"
	stateStopping = "stopping"

	eventStart = "start"
	eventStop  = "stop"
	eventDone  = "done"
)

// New builds a chain state over the given collaborators. Call Start before
// processing blocks.
func New(cfg *Config) (*ChainState, error) {
	if cfg.Store == nil || cfg.UtxoStore == nil {
		return nil, errors.NewConfigurationError("chain state requires block and utxo stores")
	}

	s := cfg.Settings
	params := s.ChainCfgParams

	checker := cfg.ScriptChecker
	if checker == nil {
		checker = AcceptAllScripts
	}
	if s.Policy.MaxSigCacheSize > 0 {
		checker = NewCachingChecker(checker, s.Policy.MaxSigCacheSize)
	}

	verifier := cfg.EquihashVerifier
	if verifier == nil {
		verifier = equihash.NewStructuralVerifier()
	}

	timeSource := cfg.TimeSource
	if timeSource == nil {
		timeSource = func() int64 { return time.Now().Unix() }
	}

	assumeValid := params.DefaultAssumeValid
	if s.Policy.AssumeValid != "" {
		h, err := chainhash.NewHashFromStr(s.Policy.AssumeValid)
		if err != nil {
			return nil, errors.NewConfigurationError("invalid assumevalid hash %q", s.Policy.AssumeValid, err)
		}
		assumeValid = *h
	}

	cs := &ChainState{
		logger:   cfg.Logger.New("chain"),
		settings: s,
		params:   params,

		store:     cfg.Store,
		utxoBase:  cfg.UtxoStore,
		utxoCache: utxo.NewCache(cfg.UtxoStore),
		mempool:   cfg.Mempool,

		checkQueue: NewCheckQueue(checker, s.Policy.ScriptCheckThreads),
		equihash:   verifier,
		timeSource: timeSource,

		index:          make(map[chainhash.Hash]*BlockIndex),
		candidates:     make(map[*BlockIndex]struct{}),
		blocksUnlinked: make(map[*BlockIndex][]*BlockIndex),

		blockSequenceID:        1,
		blockReverseSequenceID: -1,
		lastPreciousChainwork:  new(big.Int),

		dirtyBlockIndex: make(map[*BlockIndex]struct{}),

		assumeValid:      assumeValid,
		minimumChainWork: params.MinimumChainWork,
	}

	cs.lifecycle = fsm.NewFSM(stateIdle, fsm.Events{
		{Name: eventStart, Src: []string{stateIdle}, Dst: stateRunning},
		{Name: eventStop, Src: []string{stateRunning}, Dst: stateStopping},
		{Name: eventDone, Src: []string{stateStopping}, Dst: stateIdle},
	}, fsm.Callbacks{})

	return cs, nil
}

// Start loads the persisted index, bootstrapping genesis on first run, and
// activates the best known chain.
func (cs *ChainState) Start(ctx context.Context) error {
	if err := cs.lifecycle.Event(ctx, eventStart); err != nil {
		return errors.NewServiceError("chain state already started", err)
	}

	cs.mtx.Lock()
	err := cs.loadBlockIndex(ctx)
	cs.mtx.Unlock()
	if err != nil {
		return err
	}

	return cs.ActivateBestChain(ctx, nil)
}

// Stop flushes all state to disk and parks the lifecycle.
func (cs *ChainState) Stop(ctx context.Context) error {
	if err := cs.lifecycle.Event(ctx, eventStop); err != nil {
		return err
	}

	cs.mtx.Lock()
	flushErr := cs.flushStateToDisk()
	cs.mtx.Unlock()

	_ = cs.lifecycle.Event(ctx, eventDone)

	return flushErr
}

func (cs *ChainState) isRunning() bool {
	return cs.lifecycle.Current() == stateRunning
}

// loadBlockIndex rebuilds the in-memory graph from the store, or writes the
// genesis block on a fresh data directory. Caller holds the lock.
func (cs *ChainState) loadBlockIndex(ctx context.Context) error {
	var records []*IndexRecord

	err := cs.store.LoadIndex(func(rec *IndexRecord) error {
		if ctx.Err() != nil {
			return errors.NewContextCanceledError("index load interrupted", ctx.Err())
		}

		records = append(records, rec)

		return nil
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		return cs.initGenesis()
	}

	// Parents precede children once sorted by height, so one pass links the
	// graph and accumulates chain work.
	sort.Slice(records, func(i, j int) bool { return records[i].Height < records[j].Height })

	for _, rec := range records {
		node := newBlockIndex(&rec.Header)
		node.Height = rec.Height
		node.Status = rec.Status
		node.TxCount = rec.TxCount
		node.File = rec.File
		node.DataPos = rec.DataPos
		node.UndoPos = rec.UndoPos
		node.Hash = rec.Hash

		if parent, ok := cs.index[rec.Header.HashPrevBlock]; ok {
			node.Parent = parent
			node.buildSkip()
		}

		node.ChainWork = new(big.Int).Set(pow.CalcBlockProof(node.Bits))
		if node.Parent != nil {
			node.ChainWork.Add(node.ChainWork, node.Parent.ChainWork)
			node.TimeMax = node.Timestamp
			if node.Parent.TimeMax > node.TimeMax {
				node.TimeMax = node.Parent.TimeMax
			}
		} else {
			node.TimeMax = node.Timestamp
		}

		if node.TxCount > 0 && (node.Parent == nil || node.Parent.ChainTxCount > 0) {
			node.ChainTxCount = uint64(node.TxCount)
			if node.Parent != nil {
				node.ChainTxCount += node.Parent.ChainTxCount
			}
		}

		cs.index[node.Hash] = node

		if node.IsValid(ValidityTransactions) && node.ChainTxCount > 0 {
			cs.candidates[node] = struct{}{}
		}

		if node.Status.HasFailed() || node.Status.HasFailedParent() {
			if cs.bestInvalid == nil || node.ChainWork.Cmp(cs.bestInvalid.ChainWork) > 0 {
				cs.bestInvalid = node
			}
		}

		if node.Status.IsOnParkedChain() {
			if cs.bestParked == nil || node.ChainWork.Cmp(cs.bestParked.ChainWork) > 0 {
				cs.bestParked = node
			}
		}

		if !node.Status.IsInvalid() &&
			(cs.bestHeader == nil || cs.bestHeader.ChainWork.Cmp(node.ChainWork) < 0) {
			cs.bestHeader = node
		}
	}

	// Restore the active chain from the coins view's best block.
	best, err := cs.utxoCache.BestBlock()
	if err != nil {
		return err
	}

	if tip, ok := cs.index[best]; ok {
		cs.chain.SetTip(tip)
	}

	cs.logger.Infof("loaded %d block index entries, tip height %d", len(records), cs.chain.Height())

	return nil
}

// initGenesis stores and indexes the genesis block.
func (cs *ChainState) initGenesis() error {
	genesis := cs.params.GenesisBlock

	pos, err := cs.store.WriteBlock(genesis)
	if err != nil {
		return err
	}

	node := cs.addToBlockIndex(&genesis.Header, *cs.params.GenesisHash)
	if err := cs.receivedBlockTransactions(genesis, node, pos); err != nil {
		return err
	}

	cs.logger.Infof("initialized fresh chain at genesis %s", node.Hash)

	return cs.flushStateToDisk()
}

// workLess orders candidates the way the selector prefers them: more chain
// work first, then earlier receipt (including the negative precious ids),
// with the hash as an arbitrary but stable tiebreak.
func workLess(a, b *BlockIndex) bool {
	if cmp := a.ChainWork.Cmp(b.ChainWork); cmp != 0 {
		return cmp < 0
	}

	if a.SequenceID != b.SequenceID {
		// Lower sequence ids are preferred, so they sort greater.
		return a.SequenceID > b.SequenceID
	}

	for i := len(a.Hash) - 1; i >= 0; i-- {
		if a.Hash[i] != b.Hash[i] {
			return a.Hash[i] > b.Hash[i]
		}
	}

	return false
}

// markDirty queues an index entry for the next batched index write.
func (cs *ChainState) markDirty(node *BlockIndex) {
	cs.dirtyBlockIndex[node] = struct{}{}
}

// flushStateToDisk drains the dirty index set and the coins cache. Caller
// holds the lock.
func (cs *ChainState) flushStateToDisk() error {
	if len(cs.dirtyBlockIndex) > 0 {
		records := make([]*IndexRecord, 0, len(cs.dirtyBlockIndex))
		for node := range cs.dirtyBlockIndex {
			records = append(records, &IndexRecord{
				Hash:    node.Hash,
				Header:  node.BlockHeader(),
				Height:  node.Height,
				Status:  node.Status,
				TxCount: node.TxCount,
				File:    node.File,
				DataPos: node.DataPos,
				UndoPos: node.UndoPos,
			})
		}

		if err := cs.store.WriteIndexBatch(records); err != nil {
			return err
		}

		cs.dirtyBlockIndex = make(map[*BlockIndex]struct{})
	}

	if err := cs.utxoCache.Flush(); err != nil {
		return errors.NewSystemError("failed to flush coins cache", err)
	}

	return nil
}

// Tip returns the active chain tip, or nil before the chain is bootstrapped.
func (cs *ChainState) Tip() *BlockIndex {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	return cs.chain.Tip()
}

// BestHeader returns the most-work header the node has seen.
func (cs *ChainState) BestHeader() *BlockIndex {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	return cs.bestHeader
}

// FinalizedBlock returns the block beneath which reorgs are refused.
func (cs *ChainState) FinalizedBlock() *BlockIndex {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	return cs.finalized
}

// LookupNode finds an index entry by hash.
func (cs *ChainState) LookupNode(hash *chainhash.Hash) *BlockIndex {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	return cs.index[*hash]
}

// IsInitialBlockDownload reports whether the node is still syncing. Once it
// returns false it latches false for the life of the process.
func (cs *ChainState) IsInitialBlockDownload() bool {
	if cs.ibdLatch.Load() {
		return false
	}

	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	return cs.isInitialBlockDownloadLocked()
}

func (cs *ChainState) isInitialBlockDownloadLocked() bool {
	if cs.ibdLatch.Load() {
		return false
	}

	tip := cs.chain.Tip()
	if tip == nil {
		return true
	}

	if tip.ChainWork.Cmp(cs.minimumChainWork) < 0 {
		return true
	}

	if tip.Time() < cs.timeSource()-maxTipAge {
		return true
	}

	cs.logger.Infof("leaving initial block download")
	cs.ibdLatch.Store(true)

	return false
}

func (cs *ChainState) lastCheckpoint() *chaincfg.Checkpoint {
	if !cs.settings.Policy.CheckpointsEnabled {
		return nil
	}

	checkpoints := cs.params.Checkpoints
	for i := len(checkpoints) - 1; i >= 0; i-- {
		if node, ok := cs.index[*checkpoints[i].Hash]; ok && node.IsValid(ValidityTransactions) {
			return &checkpoints[i]
		}
	}

	return nil
}

// UtxoView exposes the chain's coins cache for collaborators such as mempool
// admission. The caller must not retain it across chain mutations.
func (cs *ChainState) UtxoView() *utxo.Cache {
	return cs.utxoCache
}

// postFork reports whether a block at the given height is past the fork.
func (cs *ChainState) postFork(height int32) bool {
	return height >= cs.params.CDYHeight
}

func (cs *ChainState) blockHash(block *model.Block, height int32) chainhash.Hash {
	return block.Hash(cs.postFork(height))
}

// checkBlockIndex runs the expensive full-graph consistency sweep. It is a
// no-op unless enabled in settings.
func (cs *ChainState) checkBlockIndex() {
	if !cs.settings.Policy.CheckBlockIndex {
		return
	}

	for _, node := range cs.index {
		if node.Parent == nil {
			if node.Hash != *cs.params.GenesisHash {
				cs.logger.Errorf("index consistency: non-genesis root %s", node.Hash)
			}
			continue
		}

		expected := new(big.Int).Add(node.Parent.ChainWork, pow.CalcBlockProof(node.Bits))
		if node.ChainWork.Cmp(expected) != 0 {
			cs.logger.Errorf("index consistency: chain work mismatch at %s", node.Hash)
		}

		if node.Parent.Status.HasFailed() || node.Parent.Status.HasFailedParent() {
			if !node.Status.HasFailedParent() {
				cs.logger.Errorf("index consistency: missing failed-parent on %s", node.Hash)
			}
		}

		if node.Status.IsValid(ValidityTransactions) && node.TxCount == 0 {
			cs.logger.Errorf("index consistency: TRANSACTIONS validity with zero tx count on %s", node.Hash)
		}

		if node.ChainTxCount != 0 && node.Parent.ChainTxCount == 0 && node.Parent.Height > 0 {
			cs.logger.Errorf("index consistency: chain tx count set before ancestors on %s", node.Hash)
		}
	}
}
