package pow

import (
	"math/big"

	"github.com/bitcoincandy/candyd/chaincfg"
)

// BlockNode is the view of an index entry the difficulty engine needs. The
// chain package adapts its index nodes to this interface, keeping the engine
// free of index internals.
type BlockNode interface {
	Height() int32
	Bits() uint32
	Time() int64
	MedianTimePast() int64
	ChainWork() *big.Int
	Parent() BlockNode
	Ancestor(height int32) BlockNode
}

// GetNextWorkRequired computes the required compact target for the block
// following prev. blockTime is the candidate block's timestamp, which only
// the min-difficulty escape rules consult.
//
// The regime is selected by the height being mined: legacy 2016-window
// retargeting, the post-UAHF emergency adjustment, the cash DAA, the fixed
// warm-up window after the fork, Digishield v3, a one-off difficulty drop at
// the Equihash parameter change, and finally Zawy's LWMA.
func GetNextWorkRequired(prev BlockNode, blockTime int64, params *chaincfg.Params) uint32 {
	if prev == nil {
		return BigToCompact(params.PowLimitLegacy)
	}

	height := prev.Height() + 1
	postFork := height >= params.CDYHeight

	if !postFork {
		switch {
		case prev.Height() >= params.DAAHeight:
			return getNextCashWorkRequired(prev, blockTime, params)
		case prev.Height() >= params.UAHFHeight:
			return getNextEDAWorkRequired(prev, blockTime, params)
		default:
			return getNextLegacyWorkRequired(prev, blockTime, params)
		}
	}

	switch {
	case height < params.CDYHeight+int32(params.DigishieldAveragingWindow):
		// The new chain starts from scratch: emit the post-fork limit until
		// a full averaging window exists.
		return BigToCompact(params.PowLimit)

	case height < params.CDYZawyLWMAHeight:
		return getNextDigishieldWorkRequired(prev, params)

	case height >= params.CDYEquihashForkHeight &&
		height < params.CDYEquihashForkHeight+int32(params.ZawyLwmaAveragingWindow):
		if height == params.CDYEquihashForkHeight {
			return reduceDifficultyBy(prev, 100, params)
		}
		return prev.Bits()

	default:
		return getNextLwmaWorkRequired(prev, params)
	}
}

// getNextLegacyWorkRequired is the original 2016-block retarget rule.
func getNextLegacyWorkRequired(prev BlockNode, blockTime int64, params *chaincfg.Params) uint32 {
	interval := int32(params.DifficultyAdjustmentInterval())
	limit := BigToCompact(params.PowLimitLegacy)

	if (prev.Height()+1)%interval != 0 {
		if params.PowAllowMinDifficultyBlocks {
			// Testnet: a block more than twice the spacing late may be mined
			// at minimum difficulty.
			if blockTime > prev.Time()+2*params.PowTargetSpacing {
				return limit
			}

			// Otherwise return the last non-minimum-difficulty target.
			node := prev
			for node.Parent() != nil && node.Height()%interval != 0 && node.Bits() == limit {
				node = node.Parent()
			}

			return node.Bits()
		}

		return prev.Bits()
	}

	first := prev.Ancestor(prev.Height() - (interval - 1))

	return calculateLegacyNextWorkRequired(prev, first.Time(), params)
}

func calculateLegacyNextWorkRequired(prev BlockNode, firstBlockTime int64, params *chaincfg.Params) uint32 {
	if params.PowNoRetargeting {
		return prev.Bits()
	}

	actualTimespan := prev.Time() - firstBlockTime
	if actualTimespan < params.PowTargetTimespanLegacy/4 {
		actualTimespan = params.PowTargetTimespanLegacy / 4
	}
	if actualTimespan > params.PowTargetTimespanLegacy*4 {
		actualTimespan = params.PowTargetTimespanLegacy * 4
	}

	newTarget := CompactToBig(prev.Bits())
	newTarget.Mul(newTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(params.PowTargetTimespanLegacy))

	if newTarget.Cmp(params.PowLimitLegacy) > 0 {
		newTarget.Set(params.PowLimitLegacy)
	}

	return BigToCompact(newTarget)
}

// getNextEDAWorkRequired implements the post-UAHF emergency difficulty
// adjustment: legacy retargets at interval boundaries, and between them a 20%
// difficulty drop whenever the last six blocks took more than twelve hours.
func getNextEDAWorkRequired(prev BlockNode, blockTime int64, params *chaincfg.Params) uint32 {
	height := prev.Height() + 1
	interval := int32(params.DifficultyAdjustmentInterval())

	if height%interval == 0 {
		first := prev.Ancestor(height - interval)
		return calculateLegacyNextWorkRequired(prev, first.Time(), params)
	}

	limit := BigToCompact(params.PowLimitLegacy)

	if params.PowAllowMinDifficultyBlocks {
		if blockTime > prev.Time()+2*params.PowTargetSpacing {
			return limit
		}

		node := prev
		for node.Parent() != nil && node.Height()%interval != 0 && node.Bits() == limit {
			node = node.Parent()
		}

		return node.Bits()
	}

	bits := prev.Bits()
	if bits == limit {
		return limit
	}

	sixth := prev.Ancestor(height - 7)
	mtp6 := prev.MedianTimePast() - sixth.MedianTimePast()
	if mtp6 < 12*3600 {
		return bits
	}

	// Raise the target by a quarter, dropping difficulty ~20%, so the chain
	// cannot stall after a sudden hashrate loss.
	target := CompactToBig(bits)
	target.Add(target, new(big.Int).Rsh(target, 2))

	if target.Cmp(params.PowLimitLegacy) > 0 {
		target.Set(params.PowLimitLegacy)
	}

	return BigToCompact(target)
}

// suitableBlock selects the median-of-three by timestamp around the given
// node, blunting the influence of a single skewed timestamp.
func suitableBlock(node BlockNode) BlockNode {
	blocks := [3]BlockNode{node.Parent().Parent(), node.Parent(), node}

	if blocks[0].Time() > blocks[2].Time() {
		blocks[0], blocks[2] = blocks[2], blocks[0]
	}
	if blocks[0].Time() > blocks[1].Time() {
		blocks[0], blocks[1] = blocks[1], blocks[0]
	}
	if blocks[1].Time() > blocks[2].Time() {
		blocks[1], blocks[2] = blocks[2], blocks[1]
	}

	return blocks[1]
}

// computeCashTarget derives the next target from the work performed between
// two blocks and the time it took, clamped to [72, 288] spacings.
func computeCashTarget(first, last BlockNode, params *chaincfg.Params) *big.Int {
	work := new(big.Int).Sub(last.ChainWork(), first.ChainWork())
	work.Mul(work, big.NewInt(params.PowTargetSpacing))

	actualTimespan := last.Time() - first.Time()
	if actualTimespan > 288*params.PowTargetSpacing {
		actualTimespan = 288 * params.PowTargetSpacing
	} else if actualTimespan < 72*params.PowTargetSpacing {
		actualTimespan = 72 * params.PowTargetSpacing
	}

	work.Div(work, big.NewInt(actualTimespan))

	// T = (2^256 / W) - 1, computed as (2^256 - W) / W to stay in 256 bits.
	target := new(big.Int).Sub(oneLsh256, work)

	return target.Div(target, work)
}

// getNextCashWorkRequired is the cash-style DAA: a weighted average of the
// estimated hashrate over the last 144 blocks, bounded by suitable-block
// selection at both ends.
func getNextCashWorkRequired(prev BlockNode, blockTime int64, params *chaincfg.Params) uint32 {
	if params.PowAllowMinDifficultyBlocks &&
		blockTime > prev.Time()+2*params.PowTargetSpacing {
		return BigToCompact(params.PowLimit)
	}

	height := prev.Height()

	last := suitableBlock(prev)
	first := suitableBlock(prev.Ancestor(height - 144))

	nextTarget := computeCashTarget(first, last, params)

	if nextTarget.Cmp(params.PowLimit) > 0 {
		return BigToCompact(params.PowLimit)
	}

	return BigToCompact(nextTarget)
}

// getNextDigishieldWorkRequired averages the target over the last window and
// scales it by the clamped elapsed median-time-past delta.
func getNextDigishieldWorkRequired(prev BlockNode, params *chaincfg.Params) uint32 {
	limit := BigToCompact(params.PowLimit)

	if params.PowNoRetargeting {
		return prev.Bits()
	}

	total := new(big.Int)
	node := prev
	for i := int64(0); node != nil && i < params.DigishieldAveragingWindow; i++ {
		total.Add(total, CompactToBig(node.Bits()))
		node = node.Parent()
	}

	if node == nil {
		return limit
	}

	avg := total.Div(total, big.NewInt(params.DigishieldAveragingWindow))

	return calculateDigishieldNextWorkRequired(avg, prev.MedianTimePast(), node.MedianTimePast(), params)
}

func calculateDigishieldNextWorkRequired(avg *big.Int, lastMTP, firstMTP int64, params *chaincfg.Params) uint32 {
	actualTimespan := lastMTP - firstMTP

	if actualTimespan < params.DigishieldMinActualTimespan() {
		actualTimespan = params.DigishieldMinActualTimespan()
	}
	if actualTimespan > params.DigishieldMaxActualTimespan() {
		actualTimespan = params.DigishieldMaxActualTimespan()
	}

	newTarget := new(big.Int).Set(avg)
	newTarget.Div(newTarget, big.NewInt(params.DigishieldAveragingWindowTimespan()))
	newTarget.Mul(newTarget, big.NewInt(actualTimespan))

	if newTarget.Cmp(params.PowLimit) > 0 {
		newTarget.Set(params.PowLimit)
	}

	return BigToCompact(newTarget)
}

// getNextLwmaWorkRequired is Zawy's linearly weighted moving average with the
// fast-block damping rules added at the NewRule and Equihash-fork heights.
func getNextLwmaWorkRequired(prev BlockNode, params *chaincfg.Params) uint32 {
	if params.PowNoRetargeting {
		return prev.Bits()
	}

	height := prev.Height() + 1
	n := params.ZawyLwmaAveragingWindow
	t := params.PowTargetSpacingCDY

	if height > params.NewRuleHeight {
		n = 45
	}

	var (
		sumTarget       = new(big.Int)
		sumLast10Target = new(big.Int)
		sumLast5Target  = new(big.Int)

		sumTime       int64
		sumLast10Time int64
		sumLast5Time  int64
		weight        int64
	)

	for i := height - int32(n); i < height; i++ {
		block := prev.Ancestor(i)
		blockPrev := prev.Ancestor(i - 1)
		solvetime := block.Time() - blockPrev.Time()

		if height > params.NewRuleHeight && solvetime >= 8*t {
			solvetime = 8 * t
		}

		weight++
		sumTime += solvetime * weight

		target := CompactToBig(block.Bits())
		sumTarget.Add(sumTarget, target)

		if i >= height-10 {
			sumLast10Time += solvetime
			sumLast10Target.Add(sumLast10Target, target)

			if i >= height-5 {
				sumLast5Time += solvetime
				sumLast5Target.Add(sumLast5Target, target)
			}
		}
	}

	// Floor the weighted solvetime sum so hostile timestamps cannot push the
	// target to zero.
	if sumTime < n*n*t/20 {
		sumTime = n * n * t / 20
	}

	avgTarget := new(big.Int).Div(sumTarget, big.NewInt(n))
	k := sumTime / (n * (n + 1))

	nextTarget := new(big.Int).Mul(avgTarget, big.NewInt(2*k))
	nextTarget.Div(nextTarget, big.NewInt(t))

	if height > params.CDYEquihashForkHeight && sumLast5Time <= 90 {
		// Five blocks in ninety seconds: quadruple the recent difficulty.
		bound := new(big.Int).Div(sumLast5Target, big.NewInt(5))
		bound.Div(bound, big.NewInt(4))
		if nextTarget.Cmp(bound) > 0 {
			nextTarget.Set(bound)
		}
	} else if height > params.NewRuleHeight && sumLast10Time <= 5*60 {
		bound := new(big.Int).Div(sumLast10Target, big.NewInt(10))
		bound.Div(bound, big.NewInt(2))
		if nextTarget.Cmp(bound) > 0 {
			nextTarget.Set(bound)
		}
	} else if height > params.NewRuleHeight && sumLast10Time <= 10*60 {
		bound := new(big.Int).Div(sumLast10Target, big.NewInt(10))
		bound.Mul(bound, big.NewInt(2))
		bound.Div(bound, big.NewInt(3))
		if nextTarget.Cmp(bound) > 0 {
			nextTarget.Set(bound)
		}
	}

	if height > params.NewRuleHeight {
		// Cap the rise against the previous block so the damping rules above
		// do not snap back in a single step once they wear off.
		bound := CompactToBig(prev.Bits())
		bound.Mul(bound, big.NewInt(13))
		bound.Div(bound, big.NewInt(10))
		if nextTarget.Cmp(bound) > 0 {
			nextTarget.Set(bound)
		}
	}

	if nextTarget.Cmp(params.PowLimit) > 0 {
		return BigToCompact(params.PowLimit)
	}

	return BigToCompact(nextTarget)
}

// reduceDifficultyBy multiplies the previous target, capped at the post-fork
// limit. Used once at the Equihash parameter change.
func reduceDifficultyBy(prev BlockNode, multiplier int64, params *chaincfg.Params) uint32 {
	target := CompactToBig(prev.Bits())
	target.Mul(target, big.NewInt(multiplier))

	if target.Cmp(params.PowLimit) > 0 {
		target.Set(params.PowLimit)
	}

	return BigToCompact(target)
}
