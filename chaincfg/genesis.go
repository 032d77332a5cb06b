package chaincfg

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/model"
)

// The fork shares upstream's genesis blocks; only constants differ between
// networks. The blocks are constructed rather than embedded so the merkle
// root and hash fall out of the same serialization code the node runs on
// every other block.

const genesisTimestamp = "The Times 03/Jan/2009 Chancellor on brink of second bailout for banks"

var genesisOutputPubKey = mustHex(
	"04678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb6" +
		"49f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5f")

func newGenesisCoinbase() *model.Tx {
	// Push of the bits value, a one-byte script number 4, then the headline.
	scriptSig := make([]byte, 0, 2+4+2+1+len(genesisTimestamp))
	scriptSig = append(scriptSig, 0x04, 0xff, 0xff, 0x00, 0x1d)
	scriptSig = append(scriptSig, 0x01, 0x04)
	scriptSig = append(scriptSig, byte(len(genesisTimestamp)))
	scriptSig = append(scriptSig, []byte(genesisTimestamp)...)

	pkScript := make([]byte, 0, 2+len(genesisOutputPubKey))
	pkScript = append(pkScript, byte(len(genesisOutputPubKey)))
	pkScript = append(pkScript, genesisOutputPubKey...)
	pkScript = append(pkScript, 0xac) // OP_CHECKSIG

	return &model.Tx{
		Version: 1,
		TxIn: []*model.TxIn{{
			PreviousOutPoint: model.OutPoint{Index: ^uint32(0)},
			SignatureScript:  scriptSig,
			Sequence:         model.SequenceFinal,
		}},
		TxOut: []*model.TxOut{{
			Value:    50 * model.COIN,
			PkScript: pkScript,
		}},
	}
}

func newGenesisBlock(timestamp, nonce, bits uint32) model.Block {
	coinbase := newGenesisCoinbase()
	merkleRoot, _ := model.BlockMerkleRoot([]*model.Tx{coinbase})

	var nonce256 chainhash.Hash
	binary.LittleEndian.PutUint32(nonce256[:4], nonce)

	return model.Block{
		Header: model.BlockHeader{
			Version:        1,
			HashMerkleRoot: merkleRoot,
			Timestamp:      timestamp,
			Bits:           bits,
			Nonce:          nonce256,
		},
		Transactions: []*model.Tx{coinbase},
	}
}

var (
	genesisBlock = newGenesisBlock(1231006505, 2083236893, 0x1d00ffff)
	genesisHash  = genesisBlock.Hash(false)

	testNetGenesisBlock = newGenesisBlock(1296688602, 414098458, 0x1d00ffff)
	testNetGenesisHash  = testNetGenesisBlock.Hash(false)

	regTestGenesisBlock = newGenesisBlock(1296688602, 2, 0x207fffff)
	regTestGenesisHash  = regTestGenesisBlock.Hash(false)
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}

	return b
}
