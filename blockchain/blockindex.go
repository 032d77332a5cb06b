package blockchain

import (
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/pow"
)

// medianTimeSpan is the number of trailing blocks a median time past covers.
const medianTimeSpan = 11

// BlockIndex is one node of the header graph. A node may have many children
// but at most one of them is on the active chain.
type BlockIndex struct {
	// Hash of this block.
	Hash chainhash.Hash

	// Parent, or nil for genesis.
	Parent *BlockIndex

	// Skip points to a distant ancestor chosen so walks cost O(log depth).
	Skip *BlockIndex

	Height int32

	// Position of the block body and undo data in the store.
	File    int32
	DataPos uint32
	UndoPos uint32

	// ChainWork accumulates the expected hash count of this chain.
	ChainWork *big.Int

	// TxCount is the number of transactions in this block; ChainTxCount the
	// total up to and including it, zero until every ancestor has data.
	TxCount      uint32
	ChainTxCount uint64

	Status BlockStatus

	// Header fields, kept verbatim for reserialization.
	Version    int32
	MerkleRoot chainhash.Hash
	Reserved   [7]uint32
	Timestamp  uint32
	Bits       uint32
	Nonce      chainhash.Hash
	Solution   []byte

	// SequenceID orders blocks by receipt: positive for live arrivals, zero
	// for blocks loaded from disk, negative once marked precious.
	SequenceID int32

	// TimeMax is the running maximum timestamp along the chain.
	TimeMax uint32
}

func newBlockIndex(header *model.BlockHeader) *BlockIndex {
	return &BlockIndex{
		ChainWork:  new(big.Int),
		Version:    header.Version,
		MerkleRoot: header.HashMerkleRoot,
		Reserved:   header.Reserved,
		Timestamp:  header.Timestamp,
		Bits:       header.Bits,
		Nonce:      header.Nonce,
		Solution:   header.Solution,
	}
}

// BlockHeader reassembles the header this node was built from.
func (bi *BlockIndex) BlockHeader() model.BlockHeader {
	header := model.BlockHeader{
		Version:        bi.Version,
		HashMerkleRoot: bi.MerkleRoot,
		Height:         uint32(bi.Height),
		Reserved:       bi.Reserved,
		Timestamp:      bi.Timestamp,
		Bits:           bi.Bits,
		Nonce:          bi.Nonce,
		Solution:       bi.Solution,
	}

	if bi.Parent != nil {
		header.HashPrevBlock = bi.Parent.Hash
	}

	return header
}

func (bi *BlockIndex) Time() int64 {
	return int64(bi.Timestamp)
}

// MedianTimePast is the median of the previous eleven block timestamps.
func (bi *BlockIndex) MedianTimePast() int64 {
	timestamps := make([]int64, 0, medianTimeSpan)

	node := bi
	for i := 0; i < medianTimeSpan && node != nil; i++ {
		timestamps = append(timestamps, node.Time())
		node = node.Parent
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	return timestamps[len(timestamps)/2]
}

func invertLowestOne(n int32) int32 { return n & (n - 1) }

// skipHeight chooses the ancestor height the skip pointer jumps to.
func skipHeight(height int32) int32 {
	if height < 2 {
		return 0
	}

	if height&1 == 1 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}

	return invertLowestOne(height)
}

// buildSkip sets the skip pointer from the parent's, making Ancestor walks
// logarithmic.
func (bi *BlockIndex) buildSkip() {
	if bi.Parent != nil {
		bi.Skip = bi.Parent.Ancestor(skipHeight(bi.Height))
	}
}

// Ancestor returns the chain ancestor at the given height, or nil when the
// height is not on this branch.
func (bi *BlockIndex) Ancestor(height int32) *BlockIndex {
	if height > bi.Height || height < 0 {
		return nil
	}

	node := bi
	walkHeight := bi.Height
	for walkHeight > height {
		heightSkip := skipHeight(walkHeight)
		heightSkipPrev := skipHeight(walkHeight - 1)

		// Take the skip pointer whenever it lands on or before the target
		// without the parent's skip being the cheaper route.
		if node.Skip != nil && (heightSkip == height ||
			(heightSkip > height && !(heightSkipPrev < heightSkip-2 && heightSkipPrev >= height))) {
			node = node.Skip
			walkHeight = heightSkip
		} else {
			node = node.Parent
			walkHeight--
		}
	}

	return node
}

// IsValid reports whether the entry reaches the given validity level.
func (bi *BlockIndex) IsValid(upTo BlockValidity) bool {
	return bi.Status.IsValid(upTo)
}

// RaiseValidity raises the validity level, never lowering it. It reports
// whether anything changed; failed entries never change.
func (bi *BlockIndex) RaiseValidity(upTo BlockValidity) bool {
	if bi.Status.IsInvalid() {
		return false
	}

	if bi.Status.Validity() >= upTo {
		return false
	}

	bi.Status = bi.Status.WithValidity(upTo)

	return true
}

// LastCommonAncestor finds the fork point between two branches.
func LastCommonAncestor(a, b *BlockIndex) *BlockIndex {
	if a.Height > b.Height {
		a = a.Ancestor(b.Height)
	} else if b.Height > a.Height {
		b = b.Ancestor(a.Height)
	}

	for a != b && a != nil && b != nil {
		a = a.Parent
		b = b.Parent
	}

	return a
}

// AreOnSameFork reports whether one of the nodes is an ancestor of the other.
func AreOnSameFork(a, b *BlockIndex) bool {
	if a == nil || b == nil {
		return false
	}

	if a.Height > b.Height {
		return a.Ancestor(b.Height) == b
	}

	return b.Ancestor(a.Height) == a
}

// powNode adapts a BlockIndex to the difficulty engine's view.
type powNode struct {
	node *BlockIndex
}

func powAdapter(node *BlockIndex) pow.BlockNode {
	if node == nil {
		return nil
	}

	return powNode{node}
}

func (p powNode) Height() int32         { return p.node.Height }
func (p powNode) Bits() uint32          { return p.node.Bits }
func (p powNode) Time() int64           { return p.node.Time() }
func (p powNode) MedianTimePast() int64 { return p.node.MedianTimePast() }
func (p powNode) ChainWork() *big.Int   { return p.node.ChainWork }
func (p powNode) Parent() pow.BlockNode { return powAdapter(p.node.Parent) }

func (p powNode) Ancestor(height int32) pow.BlockNode {
	return powAdapter(p.node.Ancestor(height))
}
