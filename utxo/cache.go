package utxo

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/errors"
	"github.com/bitcoincandy/candyd/model"
)

// Cache is one layer of the coins view stack. Reads fall through to the
// backing view; writes stay in the layer until Flush folds them down.
type Cache struct {
	base View

	entries   map[model.OutPoint]*CacheEntry
	bestBlock chainhash.Hash
	haveBest  bool
}

func NewCache(base View) *Cache {
	return &Cache{
		base:    base,
		entries: make(map[model.OutPoint]*CacheEntry),
	}
}

func (c *Cache) fetchCoin(op model.OutPoint) (*CacheEntry, error) {
	if entry, ok := c.entries[op]; ok {
		return entry, nil
	}

	coin, err := c.base.GetCoin(op)
	if err != nil {
		return nil, err
	}
	if coin == nil {
		return nil, nil
	}

	entry := &CacheEntry{Coin: coin.Clone()}
	if coin.IsSpent() {
		entry.Flags = EntryFresh
	}
	c.entries[op] = entry

	return entry, nil
}

func (c *Cache) GetCoin(op model.OutPoint) (*Coin, error) {
	entry, err := c.fetchCoin(op)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Coin.IsSpent() {
		return nil, nil
	}

	return entry.Coin, nil
}

func (c *Cache) HaveCoin(op model.OutPoint) (bool, error) {
	coin, err := c.GetCoin(op)
	if err != nil {
		return false, err
	}

	return coin != nil, nil
}

// HaveCoinInCache reports on this layer only, without touching the base.
func (c *Cache) HaveCoinInCache(op model.OutPoint) bool {
	entry, ok := c.entries[op]
	return ok && !entry.Coin.IsSpent()
}

func (c *Cache) BestBlock() (chainhash.Hash, error) {
	if c.haveBest {
		return c.bestBlock, nil
	}

	best, err := c.base.BestBlock()
	if err != nil {
		return chainhash.Hash{}, err
	}

	c.bestBlock = best
	c.haveBest = true

	return best, nil
}

func (c *Cache) SetBestBlock(hash chainhash.Hash) {
	c.bestBlock = hash
	c.haveBest = true
}

// AddCoin inserts a coin. overwrite must only be true when restoring from
// undo data, where replacing an existing unspent coin is legitimate.
func (c *Cache) AddCoin(op model.OutPoint, coin *Coin, overwrite bool) error {
	if coin.IsSpent() {
		return errors.NewInvalidArgumentError("adding a spent coin for %s", op)
	}

	entry, ok := c.entries[op]

	fresh := false
	if !overwrite {
		if ok && !entry.Coin.IsSpent() {
			return errors.NewProcessingError("coin for %s would be overwritten", op)
		}
		fresh = !ok || entry.Flags&EntryDirty == 0
	}

	if !ok {
		entry = &CacheEntry{}
		c.entries[op] = entry
	}

	entry.Coin = coin
	entry.Flags |= EntryDirty
	if fresh {
		entry.Flags |= EntryFresh
	}

	return nil
}

// SpendCoin removes a coin, returning its pre-spend value. A coin that was
// both created and spent inside this layer is erased without ever reaching
// the backing view.
func (c *Cache) SpendCoin(op model.OutPoint) (*Coin, error) {
	entry, err := c.fetchCoin(op)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Coin.IsSpent() {
		return nil, nil
	}

	spent := entry.Coin.Clone()

	if entry.Flags&EntryFresh != 0 {
		delete(c.entries, op)
	} else {
		entry.Flags |= EntryDirty
		entry.Coin.Clear()
	}

	return spent, nil
}

// BatchWrite folds a child layer's entries into this one, applying the
// fresh/dirty combine rules.
func (c *Cache) BatchWrite(entries map[model.OutPoint]*CacheEntry, best chainhash.Hash) error {
	for op, child := range entries {
		if child.Flags&EntryDirty == 0 {
			continue
		}

		parent, ok := c.entries[op]
		if !ok {
			// A spent coin that the child knows the parent lacks can vanish.
			if child.Flags&EntryFresh != 0 && child.Coin.IsSpent() {
				continue
			}

			entry := &CacheEntry{Coin: child.Coin, Flags: EntryDirty}
			if child.Flags&EntryFresh != 0 {
				entry.Flags |= EntryFresh
			}
			c.entries[op] = entry

			continue
		}

		if child.Flags&EntryFresh != 0 && !parent.Coin.IsSpent() {
			return errors.NewProcessingError("fresh coin for %s already exists in parent", op)
		}

		if parent.Flags&EntryFresh != 0 && child.Coin.IsSpent() {
			// Created in the parent layer, spent in the child: it never
			// existed below, so it can be erased outright.
			delete(c.entries, op)
			continue
		}

		parent.Coin = child.Coin
		parent.Flags |= EntryDirty
	}

	c.bestBlock = best
	c.haveBest = true

	return nil
}

// Flush pushes every modification down to the backing view and empties the
// layer.
func (c *Cache) Flush() error {
	best, err := c.BestBlock()
	if err != nil {
		return err
	}

	if err := c.base.BatchWrite(c.entries, best); err != nil {
		return err
	}

	c.entries = make(map[model.OutPoint]*CacheEntry)

	return nil
}

// CacheSize returns the number of entries held in this layer.
func (c *Cache) CacheSize() int {
	return len(c.entries)
}
