package chaincfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisHashes(t *testing.T) {
	assert.Equal(t,
		"000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f",
		MainNetParams.GenesisHash.String())

	assert.Equal(t,
		"000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943",
		TestNetParams.GenesisHash.String())

	assert.Equal(t,
		"0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206",
		RegressionNetParams.GenesisHash.String())
}

func TestGenesisMerkleRoot(t *testing.T) {
	want := "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

	for _, params := range []*Params{&MainNetParams, &TestNetParams, &RegressionNetParams} {
		assert.Equal(t, want, params.GenesisBlock.Header.HashMerkleRoot.String(), params.Name)
	}
}

func TestGetChainParams(t *testing.T) {
	for name, want := range map[string]*Params{
		"main":    &MainNetParams,
		"mainnet": &MainNetParams,
		"test":    &TestNetParams,
		"regtest": &RegressionNetParams,
	} {
		params, err := GetChainParams(name)
		require.NoError(t, err)
		assert.Equal(t, want, params)
	}

	_, err := GetChainParams("bogus")
	assert.Error(t, err)
}

func TestEquihashParamsSwitchAtFork(t *testing.T) {
	params := &MainNetParams

	n, k := params.EquihashParams(params.CDYEquihashForkHeight - 1)
	assert.Equal(t, uint32(200), n)
	assert.Equal(t, uint32(9), k)

	n, k = params.EquihashParams(params.CDYEquihashForkHeight)
	assert.Equal(t, uint32(144), n)
	assert.Equal(t, uint32(5), k)
}

func TestDifficultyWindows(t *testing.T) {
	params := &MainNetParams

	assert.Equal(t, int64(2016), params.DifficultyAdjustmentInterval())
	assert.Equal(t, int64(30*120), params.DigishieldAveragingWindowTimespan())
	assert.Equal(t, params.DigishieldAveragingWindowTimespan()*84/100, params.DigishieldMinActualTimespan())
	assert.Equal(t, params.DigishieldAveragingWindowTimespan()*132/100, params.DigishieldMaxActualTimespan())
}

func TestForkScheduleOrdering(t *testing.T) {
	for _, params := range []*Params{&MainNetParams, &TestNetParams} {
		assert.Less(t, params.UAHFHeight, params.DAAHeight, params.Name)
		assert.Less(t, params.CDYZawyLWMAHeight, params.NewRuleHeight, params.Name)
		assert.Less(t, params.NewRuleHeight, params.CDYEquihashForkHeight, params.Name)
		assert.Less(t, params.CDYEquihashForkHeight, params.CompenseHeight, params.Name)
	}
}
