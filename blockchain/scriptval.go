package blockchain

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"github.com/bitcoincandy/candyd/model"
)

// ScriptChecker evaluates one input's unlocking script against the coin it
// spends, under the given flag set. Opcode semantics are the checker's
// business; the chain treats it as a predicate.
type ScriptChecker interface {
	CheckScript(tx *model.Tx, inputIndex int, prevOut *model.TxOut, flags uint32) error
}

// ScriptCheckerFunc adapts a function to the ScriptChecker interface.
type ScriptCheckerFunc func(tx *model.Tx, inputIndex int, prevOut *model.TxOut, flags uint32) error

func (f ScriptCheckerFunc) CheckScript(tx *model.Tx, inputIndex int, prevOut *model.TxOut, flags uint32) error {
	return f(tx, inputIndex, prevOut, flags)
}

// AcceptAllScripts is the checker used when no script engine is wired, for
// instance in regression harnesses.
var AcceptAllScripts = ScriptCheckerFunc(
	func(*model.Tx, int, *model.TxOut, uint32) error { return nil })

// cachingChecker memoizes per-input verification results keyed by
// (txid, input index, flags).
type cachingChecker struct {
	inner ScriptChecker
	cache *ttlcache.Cache[string, struct{}]
}

// NewCachingChecker wraps a checker with a bounded TTL cache of passing
// input checks.
func NewCachingChecker(inner ScriptChecker, maxEntries uint64) ScriptChecker {
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithCapacity[string, struct{}](maxEntries),
		ttlcache.WithTTL[string, struct{}](time.Hour),
	)
	go cache.Start()

	return &cachingChecker{inner: inner, cache: cache}
}

func scriptCacheKey(txid chainhash.Hash, inputIndex int, flags uint32) string {
	var buf bytes.Buffer
	buf.Write(txid[:])
	_ = binary.Write(&buf, binary.LittleEndian, uint32(inputIndex))
	_ = binary.Write(&buf, binary.LittleEndian, flags)

	return buf.String()
}

func (c *cachingChecker) CheckScript(tx *model.Tx, inputIndex int, prevOut *model.TxOut, flags uint32) error {
	key := scriptCacheKey(tx.TxID(), inputIndex, flags)
	if c.cache.Has(key) {
		return nil
	}

	if err := c.inner.CheckScript(tx, inputIndex, prevOut, flags); err != nil {
		return err
	}

	c.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)

	return nil
}

// scriptCheck is one queued input verification.
type scriptCheck struct {
	tx         *model.Tx
	inputIndex int
	prevOut    *model.TxOut
	flags      uint32
}

// CheckQueue fans script checks out over a fixed-size worker pool. A control
// collects one batch and blocks on the first failure.
type CheckQueue struct {
	checker ScriptChecker
	workers int
}

func NewCheckQueue(checker ScriptChecker, workers int) *CheckQueue {
	if workers < 1 {
		workers = 1
	}

	return &CheckQueue{checker: checker, workers: workers}
}

// queueControl owns one batch of checks: Add submits, Wait blocks until all
// complete and reports the first failure.
type queueControl struct {
	group *errgroup.Group
	queue *CheckQueue
}

// NewControl starts a batch bound to the given context. A nil queue yields a
// control that accepts and ignores checks, mirroring the assumevalid skip.
func (q *CheckQueue) NewControl(ctx context.Context) *queueControl {
	if q == nil {
		return &queueControl{}
	}

	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(q.workers)

	return &queueControl{group: group, queue: q}
}

func (c *queueControl) Add(checks []scriptCheck) {
	if c.group == nil {
		return
	}

	for _, check := range checks {
		check := check
		c.group.Go(func() error {
			return c.queue.runScriptCheck(check)
		})
	}
}

func (c *queueControl) Wait() error {
	if c.group == nil {
		return nil
	}

	return c.group.Wait()
}
