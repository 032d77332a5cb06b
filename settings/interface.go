package settings

import (
	"github.com/bitcoincandy/candyd/chaincfg"
)

// PolicySettings are the node-local knobs: they shape performance and relay
// behaviour but never consensus, which is fixed by the chain parameters.
type PolicySettings struct {
	// MaxBlockSize is the configured serialized block size ceiling.
	MaxBlockSize uint64

	// MaxReorgDepth sets how far below the tip finalization trails.
	MaxReorgDepth int32

	// ParkDeepReorg parks incoming blocks that would reorganize more than
	// one block.
	ParkDeepReorg bool

	// StopAtHeight shuts the node down once the tip reaches this height.
	// Zero disables.
	StopAtHeight int32

	// Mempool bounds.
	MaxMempoolMB         int
	MempoolExpiryHours   int
	LimitAncestorCount   int
	LimitAncestorSize    int
	LimitDescendantCount int
	LimitDescendantSize  int

	// MaxSigCacheSize bounds the script verification cache, in entries.
	MaxSigCacheSize uint64

	// AssumeValid names a block whose ancestors skip signature checks.
	// Empty uses the network default; "0" disables.
	AssumeValid string

	// ScriptCheckThreads sizes the parallel script verification pool.
	ScriptCheckThreads int

	// CheckBlockIndex runs the full index consistency sweep after every
	// mutation. Expensive; regression networks default it on.
	CheckBlockIndex bool

	// CheckpointsEnabled gates the checkpoint fork rejection.
	CheckpointsEnabled bool
}

// StoreSettings locate the persistence layer.
type StoreSettings struct {
	BlockStorePath string
	UtxoStorePath  string

	// BlockFileSize caps one blk file; appends roll to a new file past it.
	BlockFileSize uint32
}

type Settings struct {
	ClientName     string
	DataFolder     string
	Network        string
	ChainCfgParams *chaincfg.Params
	Policy         *PolicySettings
	Store          *StoreSettings
}
