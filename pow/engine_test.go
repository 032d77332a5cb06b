package pow

import (
	"math/big"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoincandy/candyd/chaincfg"
)

// fakeNode is a minimal in-memory chain for driving the difficulty engine.
type fakeNode struct {
	height int32
	bits   uint32
	time   int64
	work   *big.Int
	parent *fakeNode
}

func (f *fakeNode) Height() int32       { return f.height }
func (f *fakeNode) Bits() uint32        { return f.bits }
func (f *fakeNode) Time() int64         { return f.time }
func (f *fakeNode) ChainWork() *big.Int { return f.work }

func (f *fakeNode) Parent() BlockNode {
	if f.parent == nil {
		return nil
	}

	return f.parent
}

func (f *fakeNode) Ancestor(height int32) BlockNode {
	node := f
	for node != nil && node.height > height {
		node = node.parent
	}

	if node == nil || node.height != height {
		return nil
	}

	return node
}

func (f *fakeNode) MedianTimePast() int64 {
	times := make([]int64, 0, 11)
	node := f
	for i := 0; i < 11 && node != nil; i++ {
		times = append(times, node.time)
		node = node.parent
	}

	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	return times[len(times)/2]
}

// buildChain appends count blocks to parent with the given spacing and bits.
func buildChain(parent *fakeNode, count int, spacing int64, bits uint32) *fakeNode {
	tip := parent
	for i := 0; i < count; i++ {
		node := &fakeNode{
			height: tip.height + 1,
			bits:   bits,
			time:   tip.time + spacing,
			work:   new(big.Int).Add(tip.work, CalcBlockProof(bits)),
			parent: tip,
		}
		tip = node
	}

	return tip
}

func testEngineParams() *chaincfg.Params {
	params := chaincfg.MainNetParams

	// Compress the schedule so each regime is reachable with small chains.
	params.UAHFHeight = 1_000_000
	params.DAAHeight = 1_100_000
	params.CDYHeight = 2_000_000
	params.CDYZawyLWMAHeight = 2_000_500
	params.NewRuleHeight = 2_000_600
	params.CDYEquihashForkHeight = 2_000_700
	params.PowAllowMinDifficultyBlocks = false
	params.PowNoRetargeting = false

	return &params
}

func genesisNode(bits uint32, timestamp int64) *fakeNode {
	return &fakeNode{height: 0, bits: bits, time: timestamp, work: CalcBlockProof(bits)}
}

func TestLegacyInheritsBetweenRetargets(t *testing.T) {
	params := testEngineParams()

	tip := buildChain(genesisNode(0x1d00ffff, 1000000), 100, params.PowTargetSpacing, 0x1c0ffff0)

	bits := GetNextWorkRequired(tip, tip.time+params.PowTargetSpacing, params)
	assert.Equal(t, uint32(0x1c0ffff0), bits)
}

func TestLegacyRetargetClampsTimespan(t *testing.T) {
	params := testEngineParams()
	interval := int32(params.DifficultyAdjustmentInterval())

	// Blocks arriving instantly: the timespan clamps to a quarter, so the
	// target shrinks by exactly 4x.
	tip := buildChain(genesisNode(0x1c0ffff0, 1000000), int(interval-1), 1, 0x1c0ffff0)
	require.Equal(t, interval-1, tip.height)

	bits := GetNextWorkRequired(tip, tip.time+1, params)

	want := new(big.Int).Div(CompactToBig(0x1c0ffff0), big.NewInt(4))
	assert.Equal(t, BigToCompact(want), bits)

	// Blocks arriving absurdly slowly clamp the other way: 4x easier.
	tip = buildChain(genesisNode(0x1c0ffff0, 1000000), int(interval-1), params.PowTargetSpacing*100, 0x1c0ffff0)

	bits = GetNextWorkRequired(tip, tip.time+params.PowTargetSpacing, params)

	want = new(big.Int).Mul(CompactToBig(0x1c0ffff0), big.NewInt(4))
	assert.Equal(t, BigToCompact(want), bits)
}

func TestEDAKeepsDifficultyWhenBlocksAreFast(t *testing.T) {
	params := testEngineParams()
	params.UAHFHeight = 0 // EDA regime everywhere below DAA

	tip := buildChain(genesisNode(0x1c0ffff0, 1000000), 50, params.PowTargetSpacing, 0x1c0ffff0)

	// Six blocks in under twelve hours: inherit.
	bits := GetNextWorkRequired(tip, tip.time+params.PowTargetSpacing, params)
	assert.Equal(t, uint32(0x1c0ffff0), bits)
}

func TestEDADropsDifficultyWhenBlocksStall(t *testing.T) {
	params := testEngineParams()
	params.UAHFHeight = 0

	// Over two hours per block makes the six-block window exceed twelve
	// hours, triggering the 20% difficulty drop (target + target>>2).
	tip := buildChain(genesisNode(0x1c0ffff0, 1000000), 50, 3*3600, 0x1c0ffff0)

	bits := GetNextWorkRequired(tip, tip.time+params.PowTargetSpacing, params)

	expected := CompactToBig(0x1c0ffff0)
	expected.Add(expected, new(big.Int).Rsh(CompactToBig(0x1c0ffff0), 2))
	assert.Equal(t, BigToCompact(expected), bits)
}

func TestForkWarmupEmitsPowLimit(t *testing.T) {
	params := testEngineParams()

	tip := buildChain(genesisNode(0x1d00ffff, 1000000), 10, params.PowTargetSpacing, 0x1d00ffff)
	tip.height = params.CDYHeight + 3 // inside the warm-up window

	bits := GetNextWorkRequired(tip, tip.time+params.PowTargetSpacingCDY, params)
	assert.Equal(t, BigToCompact(params.PowLimit), bits)
}

func TestDigishieldStableTimestampsKeepTarget(t *testing.T) {
	params := testEngineParams()

	startBits := BigToCompact(new(big.Int).Div(params.PowLimit, big.NewInt(64)))

	// A window plus median-time runway, all exactly on schedule.
	tip := buildChain(genesisNode(startBits, 1000000), 60, params.PowTargetSpacingCDY, startBits)
	tip.height = params.CDYHeight + int32(params.DigishieldAveragingWindow) + 20
	for node, h := tip.parent, tip.height-1; node != nil; node, h = node.parent, h-1 {
		node.height = h
	}

	bits := GetNextWorkRequired(tip, tip.time+params.PowTargetSpacingCDY, params)

	// Perfect spacing keeps the average target unchanged up to the integer
	// truncation of the divide-then-multiply retarget.
	got := CompactToBig(bits)
	want := CompactToBig(startBits)

	diff := new(big.Int).Sub(want, got)
	diff.Abs(diff)

	limit := new(big.Int).Div(want, big.NewInt(1000))
	assert.True(t, diff.Cmp(limit) <= 0, "target drifted: got %x want %x", got, want)
}

func TestDigishieldClampBounds(t *testing.T) {
	params := testEngineParams()

	// The asymmetric clamp: at most 16% faster, at most 32% slower than the
	// nominal window timespan.
	window := params.DigishieldAveragingWindowTimespan()
	assert.Equal(t, window*84/100, params.DigishieldMinActualTimespan())
	assert.Equal(t, window*132/100, params.DigishieldMaxActualTimespan())

	startBits := BigToCompact(new(big.Int).Div(params.PowLimit, big.NewInt(64)))

	// Timestamps twice as slow as nominal: the timespan clamps at +32% and
	// the target eases by exactly that factor.
	tip := buildChain(genesisNode(startBits, 1000000), 60, 2*params.PowTargetSpacingCDY, startBits)
	tip.height = params.CDYHeight + int32(params.DigishieldAveragingWindow) + 20
	for node, h := tip.parent, tip.height-1; node != nil; node, h = node.parent, h-1 {
		node.height = h
	}

	bits := GetNextWorkRequired(tip, tip.time+params.PowTargetSpacingCDY, params)

	avg := CompactToBig(startBits)
	avg.Div(avg, big.NewInt(window))
	avg.Mul(avg, big.NewInt(params.DigishieldMaxActualTimespan()))

	assert.Equal(t, BigToCompact(avg), bits)
}

func TestLwmaStableSolvetimesReproduceTarget(t *testing.T) {
	params := testEngineParams()

	startBits := BigToCompact(new(big.Int).Div(params.PowLimit, big.NewInt(1024)))

	tip := buildChain(genesisNode(startBits, 1000000), 80, params.PowTargetSpacingCDY, startBits)
	tip.height = params.CDYZawyLWMAHeight + 50
	for node, h := tip.parent, tip.height-1; node != nil; node, h = node.parent, h-1 {
		node.height = h
	}

	bits := GetNextWorkRequired(tip, tip.time+params.PowTargetSpacingCDY, params)

	// With every solvetime equal to the spacing the weighted average cancels
	// and the target is reproduced within integer truncation.
	got := CompactToBig(bits)
	want := CompactToBig(startBits)

	diff := new(big.Int).Sub(got, want)
	diff.Abs(diff)

	limit := new(big.Int).Div(want, big.NewInt(50))
	assert.True(t, diff.Cmp(limit) <= 0, "target drifted: got %x want %x", got, want)
}

func TestEquihashForkDifficultyDrop(t *testing.T) {
	params := testEngineParams()

	startBits := BigToCompact(new(big.Int).Div(params.PowLimit, big.NewInt(1<<20)))

	tip := buildChain(genesisNode(startBits, 1000000), 80, params.PowTargetSpacingCDY, startBits)
	tip.height = params.CDYEquihashForkHeight - 1
	for node, h := tip.parent, tip.height-1; node != nil; node, h = node.parent, h-1 {
		node.height = h
	}

	bits := GetNextWorkRequired(tip, tip.time+params.PowTargetSpacingCDY, params)

	want := new(big.Int).Mul(CompactToBig(startBits), big.NewInt(100))
	assert.Equal(t, BigToCompact(want), bits)

	// The window after the drop freezes the new target.
	tip.height = params.CDYEquihashForkHeight + 5
	for node, h := tip.parent, tip.height-1; node != nil; node, h = node.parent, h-1 {
		node.height = h
	}

	assert.Equal(t, tip.bits, GetNextWorkRequired(tip, tip.time+params.PowTargetSpacingCDY, params))
}

func TestCashDAAAdjustsToSolvetime(t *testing.T) {
	params := testEngineParams()
	params.DAAHeight = 0

	startBits := BigToCompact(new(big.Int).Div(params.PowLimitLegacy, big.NewInt(1024)))

	// 200 blocks on perfect spacing: the DAA should hold the target steady.
	tip := buildChain(genesisNode(startBits, 1000000), 200, params.PowTargetSpacing, startBits)

	bits := GetNextWorkRequired(tip, tip.time+params.PowTargetSpacing, params)

	got := CompactToBig(bits)
	want := CompactToBig(startBits)

	diff := new(big.Int).Sub(got, want)
	diff.Abs(diff)

	limit := new(big.Int).Div(want, big.NewInt(20))
	assert.True(t, diff.Cmp(limit) <= 0, "DAA drifted: got %x want %x", got, want)
}
