package blockchain

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoincandy/candyd/pow"
)

// buildIndexChain links count nodes above genesis with fixed bits.
func buildIndexChain(t *testing.T, count int, bits uint32) []*BlockIndex {
	t.Helper()

	nodes := make([]*BlockIndex, 0, count+1)

	genesis := &BlockIndex{
		Hash:      chainhash.DoubleHashH([]byte("genesis")),
		Bits:      bits,
		Timestamp: 1_000_000,
		ChainWork: pow.CalcBlockProof(bits),
	}
	nodes = append(nodes, genesis)

	for i := 1; i <= count; i++ {
		node := &BlockIndex{
			Hash:      chainhash.DoubleHashH([]byte{byte(i), byte(i >> 8)}),
			Parent:    nodes[i-1],
			Height:    int32(i),
			Bits:      bits,
			Timestamp: uint32(1_000_000 + i*600),
			ChainWork: new(big.Int).Add(nodes[i-1].ChainWork, pow.CalcBlockProof(bits)),
		}
		node.buildSkip()
		nodes = append(nodes, node)
	}

	return nodes
}

func TestAncestorWalk(t *testing.T) {
	nodes := buildIndexChain(t, 200, 0x1d00ffff)
	tip := nodes[200]

	for _, height := range []int32{0, 1, 63, 64, 127, 128, 199, 200} {
		assert.Equal(t, nodes[height], tip.Ancestor(height), "height %d", height)
	}

	assert.Nil(t, tip.Ancestor(201))
	assert.Nil(t, tip.Ancestor(-1))
}

func TestChainWorkAccumulation(t *testing.T) {
	nodes := buildIndexChain(t, 10, 0x1d00ffff)

	proof := pow.CalcBlockProof(0x1d00ffff)
	for i := 1; i <= 10; i++ {
		expected := new(big.Int).Add(nodes[i-1].ChainWork, proof)
		assert.Equal(t, 0, nodes[i].ChainWork.Cmp(expected), "height %d", i)
	}
}

func TestMedianTimePast(t *testing.T) {
	nodes := buildIndexChain(t, 20, 0x1d00ffff)

	// With strictly increasing timestamps, the median of the last eleven is
	// the sixth from the tip.
	tip := nodes[20]
	assert.Equal(t, nodes[15].Time(), tip.MedianTimePast())

	// Shallow chains still produce a median.
	assert.Equal(t, nodes[1].Time(), nodes[2].MedianTimePast())
}

func TestRaiseValidityMonotone(t *testing.T) {
	node := &BlockIndex{ChainWork: new(big.Int)}

	assert.True(t, node.RaiseValidity(ValidityTree))
	assert.Equal(t, ValidityTree, node.Status.Validity())

	assert.True(t, node.RaiseValidity(ValidityScripts))
	assert.False(t, node.RaiseValidity(ValidityTransactions))
	assert.Equal(t, ValidityScripts, node.Status.Validity())

	// Failure freezes the level.
	node.Status = node.Status.WithFailed(true)
	assert.False(t, node.RaiseValidity(ValidityScripts))
}

func TestBlockStatusFlags(t *testing.T) {
	var s BlockStatus

	s = s.WithValidity(ValidityTransactions).WithData(true).WithUndo(true)
	assert.True(t, s.HasData())
	assert.True(t, s.HasUndo())
	assert.True(t, s.IsValid(ValidityTransactions))
	assert.False(t, s.IsValid(ValidityScripts))

	s = s.WithParked(true)
	assert.True(t, s.IsOnParkedChain())
	assert.False(t, s.IsInvalid())
	assert.True(t, s.IsValid(ValidityTree), "parking is orthogonal to validity")

	s = s.WithClearedParkedFlags()
	assert.False(t, s.IsOnParkedChain())

	s = s.WithFailedParent(true)
	assert.True(t, s.IsInvalid())
	assert.False(t, s.IsValid(ValidityHeader))

	s = s.WithClearedFailureFlags()
	assert.False(t, s.IsInvalid())
}

func TestLastCommonAncestorAndForks(t *testing.T) {
	nodes := buildIndexChain(t, 10, 0x1d00ffff)

	// Branch off at height 5.
	branch := &BlockIndex{
		Hash:      chainhash.DoubleHashH([]byte("branch")),
		Parent:    nodes[5],
		Height:    6,
		Bits:      0x1d00ffff,
		Timestamp: nodes[6].Timestamp + 1,
		ChainWork: new(big.Int).Add(nodes[5].ChainWork, pow.CalcBlockProof(0x1d00ffff)),
	}
	branch.buildSkip()

	assert.Equal(t, nodes[5], LastCommonAncestor(nodes[10], branch))
	assert.False(t, AreOnSameFork(nodes[10], branch))
	assert.True(t, AreOnSameFork(nodes[10], nodes[3]))
}

func TestChainViewSetTipAndFindFork(t *testing.T) {
	nodes := buildIndexChain(t, 10, 0x1d00ffff)

	var chain Chain
	chain.SetTip(nodes[10])

	require.Equal(t, int32(10), chain.Height())
	assert.Equal(t, nodes[0], chain.Genesis())
	assert.Equal(t, nodes[10], chain.Tip())
	assert.True(t, chain.Contains(nodes[4]))
	assert.Equal(t, nodes[5], chain.Next(nodes[4]))

	branch := &BlockIndex{
		Parent:    nodes[5],
		Height:    6,
		ChainWork: new(big.Int),
	}
	branch.buildSkip()

	assert.Equal(t, nodes[5], chain.FindFork(branch))

	// Rewinding the tip shrinks the view.
	chain.SetTip(nodes[4])
	assert.Equal(t, int32(4), chain.Height())
	assert.False(t, chain.Contains(nodes[5]))
}
