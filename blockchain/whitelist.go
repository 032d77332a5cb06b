package blockchain

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bitcoincandy/candyd/chaincfg"
	"github.com/bitcoincandy/candyd/errors"
)

// whitelistCache maps *chaincfg.Params to its decoded script set, so chain
// states for different networks in one process never share entries.
var whitelistCache sync.Map

// poolWhitelistScripts decodes the configured pool addresses into locking
// scripts, once per network.
func poolWhitelistScripts(params *chaincfg.Params) (map[string]struct{}, error) {
	if cached, ok := whitelistCache.Load(params); ok {
		return cached.(map[string]struct{}), nil
	}

	scripts := make(map[string]struct{}, len(params.ValidPoolAddresses))

	for _, address := range params.ValidPoolAddresses {
		script, err := scriptForAddress(address, params)
		if err != nil {
			return nil, err
		}

		scripts[string(script)] = struct{}{}
	}

	whitelistCache.Store(params, scripts)

	return scripts, nil
}

// scriptForAddress builds the canonical locking script for a base58check
// address using the network's version bytes.
func scriptForAddress(address string, params *chaincfg.Params) ([]byte, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid pool address %q", address, err)
	}

	if len(payload) != 20 {
		return nil, errors.NewConfigurationError("pool address %q has %d byte payload", address, len(payload))
	}

	switch version {
	case params.PubKeyHashAddrID:
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_DUP).
			AddOp(txscript.OP_HASH160).
			AddData(payload).
			AddOp(txscript.OP_EQUALVERIFY).
			AddOp(txscript.OP_CHECKSIG).
			Script()
	case params.ScriptHashAddrID:
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_HASH160).
			AddData(payload).
			AddOp(txscript.OP_EQUAL).
			Script()
	default:
		return nil, errors.NewConfigurationError("pool address %q has unknown version %d", address, version)
	}
}
