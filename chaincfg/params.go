package chaincfg

import (
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitcoincandy/candyd/errors"
	"github.com/bitcoincandy/candyd/model"
)

var (
	bigOne = big.NewInt(1)

	// mainPowLimit is the post-fork proof of work limit: the Equihash chain
	// starts with a much easier target than the SHA256d chain it forked from.
	mainPowLimit, _ = new(big.Int).SetString(
		"0007ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", 16)

	// mainPowLimitLegacy is the classic 2^224-1 limit enforced on pre-fork
	// headers.
	mainPowLimitLegacy, _ = new(big.Int).SetString(
		"00000000ffffffffffffffffffffffffffffffffffffffffffffffffffffffff", 16)

	regressionPowLimit, _ = new(big.Int).SetString(
		"7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", 16)
)

// Checkpoint identifies a known good point in the block chain. Forks below
// the most recent checkpoint are rejected outright.
type Checkpoint struct {
	Height int32
	Hash   *chainhash.Hash
}

// DNSSeed identifies a DNS seed.
type DNSSeed struct {
	Host         string
	HasFiltering bool
}

// Params defines a network by its consensus constants. Everything that decides
// block validity lives here; policy knobs live in settings.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// DiskMagic and NetMagic frame on-disk and wire records.
	DiskMagic [4]byte
	NetMagic  [4]byte

	DefaultPort string
	DNSSeeds    []DNSSeed

	// GenesisBlock and GenesisHash anchor the chain.
	GenesisBlock *model.Block
	GenesisHash  *chainhash.Hash

	// Proof of work limits. PowLimit applies from the fork onward, the
	// legacy limit before it.
	PowLimit       *big.Int
	PowLimitLegacy *big.Int

	PowAllowMinDifficultyBlocks bool
	PowNoRetargeting            bool

	// PowTargetSpacing is the pre-fork block interval, PowTargetSpacingCDY
	// the post-fork one.
	PowTargetSpacing        int64
	PowTargetSpacingCDY     int64
	PowTargetTimespanLegacy int64

	// Digishield v3 parameters.
	DigishieldAveragingWindow int64
	DigishieldMaxAdjustDown   int64
	DigishieldMaxAdjustUp     int64

	// Zawy LWMA parameters. The adjusted weight is declared by the original
	// network definitions but the shipped retarget loop uses a unit factor;
	// it is retained for parity.
	ZawyLwmaAveragingWindow int64
	ZawyLwmaAdjustedWeight  int64

	// MaxFutureBlockTime bounds how far a block timestamp may run ahead of
	// adjusted time, in seconds. The header checks cap it at two hours.
	MaxFutureBlockTime int64

	SubsidyHalvingInterval int32

	// Soft fork activation heights inherited from upstream.
	BIP34Height int32
	BIP34Hash   chainhash.Hash
	BIP65Height int32
	BIP66Height int32

	// CSVHeight is the buried BIP68/112/113 activation height.
	CSVHeight int32

	// Hard fork schedule.
	UAHFHeight            int32
	DAAHeight             int32
	CDYHeight             int32
	CDYZawyLWMAHeight     int32
	NewRuleHeight         int32
	CDYEquihashForkHeight int32
	CompenseHeight        int32
	PoolProtectionHeight  int32

	// MonolithActivationTime activates the extended opcode set by median
	// time past.
	MonolithActivationTime int64

	// Anti-replay OP_RETURN protection.
	AntiReplayOpReturnSunsetHeight int32
	AntiReplayOpReturnCommitment   []byte

	// Equihash parameters before and after the Equihash fork.
	EquihashN    uint32
	EquihashK    uint32
	EquihashNnew uint32
	EquihashKnew uint32

	// MinimumChainWork is the least accumulated work an acceptable chain
	// must demonstrate.
	MinimumChainWork *big.Int

	// DefaultAssumeValid names a block whose ancestry is assumed to carry
	// valid signatures.
	DefaultAssumeValid chainhash.Hash

	// ValidPoolAddresses whitelists coinbase payout destinations from
	// PoolProtectionHeight onward. Empty disables the check.
	ValidPoolAddresses []string

	// PubKeyHashAddrID and ScriptHashAddrID are the base58 version bytes
	// used when decoding the pool whitelist.
	PubKeyHashAddrID byte
	ScriptHashAddrID byte

	Checkpoints []Checkpoint
}

// PowLimitFor returns the proof of work limit for the given regime.
func (p *Params) PowLimitFor(postFork bool) *big.Int {
	if postFork {
		return p.PowLimit
	}

	return p.PowLimitLegacy
}

// DifficultyAdjustmentInterval is the legacy 2016-block retarget window.
func (p *Params) DifficultyAdjustmentInterval() int64 {
	return p.PowTargetTimespanLegacy / p.PowTargetSpacing
}

// DigishieldAveragingWindowTimespan is the nominal duration of the Digishield
// averaging window.
func (p *Params) DigishieldAveragingWindowTimespan() int64 {
	return p.DigishieldAveragingWindow * p.PowTargetSpacingCDY
}

// DigishieldMinActualTimespan bounds how fast the window may have elapsed.
func (p *Params) DigishieldMinActualTimespan() int64 {
	return p.DigishieldAveragingWindowTimespan() * (100 - p.DigishieldMaxAdjustUp) / 100
}

// DigishieldMaxActualTimespan bounds how slow the window may have elapsed.
func (p *Params) DigishieldMaxActualTimespan() int64 {
	return p.DigishieldAveragingWindowTimespan() * (100 + p.DigishieldMaxAdjustDown) / 100
}

// EquihashParams returns the (N, K) pair in force at the given height.
func (p *Params) EquihashParams(height int32) (uint32, uint32) {
	if height >= p.CDYEquihashForkHeight {
		return p.EquihashNnew, p.EquihashKnew
	}

	return p.EquihashN, p.EquihashK
}

const antiReplayCommitment = "Bitcoin: A Peer-to-Peer Electronic Cash System"

// MainNetParams defines the main network.
var MainNetParams = Params{
	Name:        "main",
	DiskMagic:   [4]byte{0xf9, 0xbe, 0xb4, 0xd9},
	NetMagic:    [4]byte{0xe3, 0xc3, 0xc4, 0xd9},
	DefaultPort: "8367",
	DNSSeeds: []DNSSeed{
		{"seed.cdy.one", true},
		{"cdyseed1.awmlite.com", true},
		{"cdyseed2.awmlite.com", true},
		{"block.cdy.one", true},
		{"seed.bitcdy.com", true},
	},

	GenesisBlock: &genesisBlock,
	GenesisHash:  &genesisHash,

	PowLimit:                    mainPowLimit,
	PowLimitLegacy:              mainPowLimitLegacy,
	PowAllowMinDifficultyBlocks: false,
	PowNoRetargeting:            false,
	PowTargetSpacing:            10 * 60,
	PowTargetSpacingCDY:         2 * 60,
	PowTargetTimespanLegacy:     14 * 24 * 60 * 60,

	DigishieldAveragingWindow: 30,
	DigishieldMaxAdjustDown:   32,
	DigishieldMaxAdjustUp:     16,

	ZawyLwmaAveragingWindow: 60,

	MaxFutureBlockTime: 240,

	SubsidyHalvingInterval: 210000,

	BIP34Height: 227931,
	BIP34Hash:   newHashFromStr("000000000000024b89b42a942fe0d9fea3bb44ab7bd1b19115dd6a759c0808b8"),
	BIP65Height: 388381,
	BIP66Height: 363725,
	CSVHeight:   419328,

	UAHFHeight:            478559,
	DAAHeight:             504031,
	CDYHeight:             512666,
	CDYZawyLWMAHeight:     573123,
	NewRuleHeight:         592447,
	CDYEquihashForkHeight: 656960,
	CompenseHeight:        758000,
	PoolProtectionHeight:  1447999,

	MonolithActivationTime: 1526389200,

	AntiReplayOpReturnSunsetHeight: 530000,
	AntiReplayOpReturnCommitment:   []byte(antiReplayCommitment),

	EquihashN:    200,
	EquihashK:    9,
	EquihashNnew: 144,
	EquihashKnew: 5,

	MinimumChainWork: hexToBig("00000000000000000000000000000000000000000082d89e5b8963ba7d734c61"),

	DefaultAssumeValid: newHashFromStr("000000000000000003d0f45045742bb557f1a6c633cdb9de53564eb7ec4459d0"),

	ValidPoolAddresses: []string{
		"CRxRgjnz3MPi7FCeV3oXjALLXbnesz8v3F",
		"CawyQoHbTxaprmcnJeuCnucTZ3hCCyJ1dZ",
		"CZsrKKX7y8iPjrJ4rrE4vkooFgMKNagAWV",
		"CewxiZ1kWzagDMoXPhFTwbQxkyirVibZe9",
		"CPRLv43zoswdjVeWZbnAZiL9p2xys7EyAv",
		"CcDQ4cedyzRMbckhjo3XCGFbQjPXNxiyF8",
		"Ce4KfkQZSqQbBX2i5ckD7hW22Qoabud5UC",
		"CdZWiyU9TkCneDjSokkwXohrrMeTuuijoK",
		"CbVrvUDdDuWKmRSeY6ND4v22snvG8tHG4L",
		"CHo4h1zVTrNYoZmBkC46ah2HZF8RjdWoVZ",
		"CcZ674T8iric5vbrwHvni7pMaxyBSV1gXG",
		"CMY25Y59xxo9JcLrzEcBN4zue75p4jacy1",
		"CauVZ9oFNoq8v6Mg2pqnifxpn3t3CPoNL1",
		"CLFsEBc6nZ2iFt5dKwJsgXYauaCx6HyYVW",
		"CQc8X5R78yiwtVPbcpWxyXiuTRzMx17RiT",
		"CZVcLZPHcvqUzryzGE6NBvuPB87qDbW7eN",
		"CZGTBPNvocPAtsRNY5r3g6gt5iBwEbPUe1",
		"CU3LRuHJpoGfoWr84yEMqB5uajnTJSgoUc",
	},
	PubKeyHashAddrID: 0x1c,
	ScriptHashAddrID: 0x58,

	Checkpoints: []Checkpoint{
		{11111, mustHash("0000000069e244f73d78e8fd29ba2fd2ed618bd6fa2ee92559f542fdb26e7c1d")},
		{33333, mustHash("000000002dd5588a74784eaa7ab0507a18ad16a236e7b1ce69f00d7ddfb5d0a6")},
		{74000, mustHash("0000000000573993a3c9e41ce34471c079dcf5f52a0e824a81e7f953b8661a20")},
		{105000, mustHash("00000000000291ce28027faea320c8d2b054b2e0fe44a773f3eefb151d6bdc97")},
		{134444, mustHash("00000000000005b12ffd4cd315cd34ffd4a594f430ac814c91184a0d42d2b0fe")},
		{168000, mustHash("000000000000099e61ea72015e79632f216fe6cb33d7899acb35b75c8303b763")},
		{193000, mustHash("000000000000059f452a5f7340de6682a977387c17010ff6e6c3bd83ca8b1317")},
		{210000, mustHash("000000000000048b95347e83192f69cf0366076336c639f9b7228e9ba171342e")},
		{216116, mustHash("00000000000001b4f4b433e81ee46494af945cf96014816a4e2370f11b23df4e")},
		{225430, mustHash("00000000000001c108384350f74090433e7fcf79a606b8e797f065b130575932")},
		{250000, mustHash("000000000000003887df1f29024b06fc2200b55f8af8f35453d7be294df2d214")},
		{279000, mustHash("0000000000000001ae8c72a0b0c301f67e3afca10e819efa9041e458e9bd7e40")},
		{295000, mustHash("00000000000000004d9b4ef50f0f9d686fd69db2e03af35a100370c64632a983")},
		{478559, mustHash("000000000000000000651ef99cb9fcbe0dadde1d424bd9f15ff20136191a5eec")},
		{504031, mustHash("0000000000000000011ebf65b60d0a3de80b8175be709d653b4c1a1beeb6ab9c")},
		{512666, mustHash("00043bfba38c60e8b283d4e507e5785b8cd5f72b8b72f66542b2e4c62bd2ed79")},
		{671663, mustHash("00000241636f7d345b239a2dd785b8e834b494de4d307535d7afb7b1cb84a641")},
		{1219400, mustHash("00024e9dba1c7b44a73775ef82664ecd75463dd508952cdb91c9a74fcc6c5ef4")},
		{1448000, mustHash("00004d8dffdebd96050a51d0b0318eab6363b1289a8a8497bd8ac142c4f4c97f")},
	},
}

// TestNetParams defines the test network.
var TestNetParams = Params{
	Name:        "test",
	DiskMagic:   [4]byte{0x0b, 0x11, 0x09, 0x07},
	NetMagic:    [4]byte{0xf4, 0x43, 0x44, 0x59},
	DefaultPort: "18367",
	DNSSeeds: []DNSSeed{
		{"testnet-seed.bitcoincandy.one", true},
	},

	GenesisBlock: &testNetGenesisBlock,
	GenesisHash:  &testNetGenesisHash,

	PowLimit:                    mainPowLimit,
	PowLimitLegacy:              mainPowLimitLegacy,
	PowAllowMinDifficultyBlocks: true,
	PowNoRetargeting:            false,
	PowTargetSpacing:            10 * 60,
	PowTargetSpacingCDY:         2 * 60,
	PowTargetTimespanLegacy:     14 * 24 * 60 * 60,

	DigishieldAveragingWindow: 30,
	DigishieldMaxAdjustDown:   32,
	DigishieldMaxAdjustUp:     16,

	ZawyLwmaAveragingWindow: 60,

	MaxFutureBlockTime: 240,

	SubsidyHalvingInterval: 210000,

	BIP34Height: 21111,
	BIP34Hash:   newHashFromStr("0000000023b3a96d3484e5abb3755c413e7d41500f8e2a5c3f0dd01299cd8ef8"),
	BIP65Height: 581885,
	BIP66Height: 330776,
	CSVHeight:   770112,

	UAHFHeight:            1155876,
	DAAHeight:             1188697,
	CDYHeight:             201601,
	CDYZawyLWMAHeight:     201641,
	NewRuleHeight:         201651,
	CDYEquihashForkHeight: 201671,
	CompenseHeight:        202136,
	PoolProtectionHeight:  0,

	MonolithActivationTime: 1525609241,

	AntiReplayOpReturnSunsetHeight: 1250000,
	AntiReplayOpReturnCommitment:   []byte(antiReplayCommitment),

	EquihashN:    200,
	EquihashK:    9,
	EquihashNnew: 144,
	EquihashKnew: 5,

	MinimumChainWork: hexToBig("0000000000000000000000000000000000000000000000000453e926d09ebe87"),

	DefaultAssumeValid: newHashFromStr("000000000000b41f1f2ddf130df8824e2b61c0af809ff86dd5cadb361d984ca7"),

	PubKeyHashAddrID: 111,
	ScriptHashAddrID: 196,

	Checkpoints: []Checkpoint{
		{546, mustHash("000000002a936ca763904c3c35fce2f3556c559c0214345d31b1bcebf76acb70")},
		{1155876, mustHash("00000000000e38fef93ed9582a7df43815d5c2ba9fd37ef70c9a0ea4a285b8f5")},
		{1188697, mustHash("0000000000170ed0918077bde7b4d36cc4c91be69fa09211f748240dabe047fb")},
	},
}

// RegressionNetParams defines the regression test network.
var RegressionNetParams = Params{
	Name:        "regtest",
	DiskMagic:   [4]byte{0xfa, 0xbf, 0xb5, 0xda},
	NetMagic:    [4]byte{0xda, 0xb5, 0xbf, 0xfa},
	DefaultPort: "18444",

	GenesisBlock: &regTestGenesisBlock,
	GenesisHash:  &regTestGenesisHash,

	PowLimit:                    regressionPowLimit,
	PowLimitLegacy:              regressionPowLimit,
	PowAllowMinDifficultyBlocks: true,
	PowNoRetargeting:            true,
	PowTargetSpacing:            10 * 60,
	PowTargetSpacingCDY:         2 * 60,
	PowTargetTimespanLegacy:     14 * 24 * 60 * 60,

	DigishieldAveragingWindow: 30,
	DigishieldMaxAdjustDown:   32,
	DigishieldMaxAdjustUp:     16,

	ZawyLwmaAveragingWindow: 45,
	ZawyLwmaAdjustedWeight:  13632,

	MaxFutureBlockTime: 7 * 10 * 60,

	SubsidyHalvingInterval: 150,

	BIP34Height: 100000000,
	BIP65Height: 1351,
	BIP66Height: 1251,
	CSVHeight:   576,

	UAHFHeight:            2017,
	DAAHeight:             2250,
	CDYHeight:             2260,
	CDYZawyLWMAHeight:     -1,
	NewRuleHeight:         201836,
	CDYEquihashForkHeight: 201876,
	CompenseHeight:        202000,
	PoolProtectionHeight:  0,

	MonolithActivationTime: 1526400000,

	AntiReplayOpReturnSunsetHeight: 530000,
	AntiReplayOpReturnCommitment:   []byte(antiReplayCommitment),

	EquihashN:    48,
	EquihashK:    5,
	EquihashNnew: 96,
	EquihashKnew: 5,

	MinimumChainWork: big.NewInt(0),

	PubKeyHashAddrID: 111,
	ScriptHashAddrID: 196,

	Checkpoints: nil,
}

// GetChainParams resolves a network name to its parameters.
func GetChainParams(network string) (*Params, error) {
	switch strings.ToLower(network) {
	case "main", "mainnet":
		return &MainNetParams, nil
	case "test", "testnet":
		return &TestNetParams, nil
	case "regtest":
		return &RegressionNetParams, nil
	default:
		return nil, errors.NewConfigurationError("unknown network %q", network)
	}
}

func newHashFromStr(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}

	return *h
}

func mustHash(s string) *chainhash.Hash {
	h := newHashFromStr(s)
	return &h
}

func hexToBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("invalid hex integer: " + s)
	}

	return n
}
