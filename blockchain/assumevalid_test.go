package blockchain

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"

	"github.com/bitcoincandy/candyd/chaincfg"
)

// newAssumeValidState wires just enough chain state to drive the signature
// skipping gate: a linear chain whose tip is both best header and the
// assumed-valid anchor.
func newAssumeValidState(t *testing.T, nodes []*BlockIndex) *ChainState {
	t.Helper()

	tip := nodes[len(nodes)-1]

	index := make(map[chainhash.Hash]*BlockIndex, len(nodes))
	for _, node := range nodes {
		index[node.Hash] = node
	}

	return &ChainState{
		params:           &chaincfg.MainNetParams,
		index:            index,
		bestHeader:       tip,
		assumeValid:      tip.Hash,
		minimumChainWork: big.NewInt(0),
	}
}

func TestScriptChecksEnabled(t *testing.T) {
	// With ten-minute spacing at constant difficulty, each block buries its
	// ancestors under another 600 seconds of proof-equivalent time; two
	// weeks of work is 2016 blocks.
	nodes := buildIndexChain(t, 2100, 0x1d00ffff)
	cs := newAssumeValidState(t, nodes)

	t.Run("no assumevalid hash verifies everything", func(t *testing.T) {
		plain := newAssumeValidState(t, nodes)
		plain.assumeValid = chainhash.Hash{}

		assert.True(t, plain.scriptChecksEnabled(nodes[10]))
	})

	t.Run("unknown anchor verifies everything", func(t *testing.T) {
		unknown := newAssumeValidState(t, nodes)
		unknown.assumeValid = chainhash.DoubleHashH([]byte("never seen"))

		assert.True(t, unknown.scriptChecksEnabled(nodes[10]))
	})

	t.Run("block outside the anchored branch is verified", func(t *testing.T) {
		branch := &BlockIndex{
			Hash:      chainhash.DoubleHashH([]byte("side branch")),
			Parent:    nodes[5],
			Height:    6,
			Bits:      0x1d00ffff,
			ChainWork: new(big.Int).Set(nodes[6].ChainWork),
		}
		branch.buildSkip()

		assert.True(t, cs.scriptChecksEnabled(branch))
	})

	t.Run("insufficient header work verifies everything", func(t *testing.T) {
		weak := newAssumeValidState(t, nodes)
		weak.minimumChainWork = new(big.Int).Lsh(big.NewInt(1), 128)

		assert.True(t, weak.scriptChecksEnabled(nodes[10]))
	})

	t.Run("deeply buried ancestor skips checks", func(t *testing.T) {
		// 2090 blocks below the header: well past two weeks of work.
		assert.False(t, cs.scriptChecksEnabled(nodes[10]))
	})

	t.Run("block near the tip is verified", func(t *testing.T) {
		assert.True(t, cs.scriptChecksEnabled(nodes[2090]))
	})

	t.Run("exactly two weeks deep is still verified", func(t *testing.T) {
		assert.True(t, cs.scriptChecksEnabled(nodes[2100-2016]))
	})
}
