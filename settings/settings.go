package settings

import (
	"path/filepath"
	"runtime"

	"github.com/bitcoincandy/candyd/chaincfg"
)

func NewSettings() *Settings {
	network := getString("network", "main")

	params, err := chaincfg.GetChainParams(network)
	if err != nil {
		panic(err)
	}

	dataFolder := getString("dataFolder", "data")

	return &Settings{
		ClientName:     getString("clientName", "candyd"),
		DataFolder:     dataFolder,
		Network:        network,
		ChainCfgParams: params,
		Policy: &PolicySettings{
			MaxBlockSize:         uint64(getInt("blockmaxsize", 32_000_000)),
			MaxReorgDepth:        int32(getInt("maxreorgdepth", 10)),
			ParkDeepReorg:        getBool("parkdeepreorg", true),
			StopAtHeight:         int32(getInt("stopatheight", 0)),
			MaxMempoolMB:         getInt("maxmempool", 300),
			MempoolExpiryHours:   getInt("mempoolexpiry", 336),
			LimitAncestorCount:   getInt("limitancestorcount", 25),
			LimitAncestorSize:    getInt("limitancestorsize", 101),
			LimitDescendantCount: getInt("limitdescendantcount", 25),
			LimitDescendantSize:  getInt("limitdescendantsize", 101),
			MaxSigCacheSize:      uint64(getInt("maxsigcachesize", 32_768)),
			AssumeValid:          getString("assumevalid", ""),
			ScriptCheckThreads:   getInt("scriptcheckthreads", runtime.NumCPU()),
			CheckBlockIndex:      getBool("checkblockindex", network == "regtest"),
			CheckpointsEnabled:   getBool("checkpoints", true),
		},
		Store: &StoreSettings{
			BlockStorePath: getString("blockstore", filepath.Join(dataFolder, "blocks")),
			UtxoStorePath:  getString("utxostore", filepath.Join(dataFolder, "chainstate")),
			BlockFileSize:  uint32(getInt("blockfilesize", 128*1024*1024)),
		},
	}
}
