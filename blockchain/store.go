package blockchain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/utxo"
)

// DiskPosition locates a record inside the store's file sequence. The core
// treats it as opaque beyond null checks.
type DiskPosition struct {
	File int32
	Pos  uint32
}

// NullDiskPosition is the "not stored" marker.
var NullDiskPosition = DiskPosition{File: -1}

func (p DiskPosition) IsNull() bool { return p.File == -1 }

// IndexRecord is the persisted form of a BlockIndex entry.
type IndexRecord struct {
	Hash    chainhash.Hash
	Header  model.BlockHeader
	Height  int32
	Status  BlockStatus
	TxCount uint32
	File    int32
	DataPos uint32
	UndoPos uint32
}

// Store feature flags.
const (
	FlagTxIndex     = "txindex"
	FlagPrunedFiles = "prunedblockfiles"
	FlagReindexing  = "reindexing"
)

// BlockStore is the persistence surface the chain state depends on. Block
// bodies and undo journals live in capped append-only files; index metadata
// lives in a key/value database.
type BlockStore interface {
	// WriteBlock appends a block body and returns where it landed.
	WriteBlock(block *model.Block) (DiskPosition, error)

	// ReadBlock reads a block body back.
	ReadBlock(pos DiskPosition) (*model.Block, error)

	// WriteUndo appends an undo journal to the given file, embedding a
	// checksum bound to the previous block hash.
	WriteUndo(undo *utxo.BlockUndo, prevHash chainhash.Hash, file int32) (DiskPosition, error)

	// ReadUndo reads an undo journal back, verifying its checksum against
	// the same previous block hash.
	ReadUndo(pos DiskPosition, prevHash chainhash.Hash) (*utxo.BlockUndo, error)

	// LoadIndex streams every persisted index record.
	LoadIndex(fn func(rec *IndexRecord) error) error

	// WriteIndexBatch persists dirty index records and file metadata
	// atomically.
	WriteIndexBatch(records []*IndexRecord) error

	SetFlag(name string, value bool) error
	GetFlag(name string) (bool, error)

	// Prune removes the given block files and their undo counterparts.
	Prune(files map[int32]struct{}) error

	Close() error
}
