// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnparams

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// These constants define the timing windows used throughout the masternode
// subsystems.  All values are in seconds unless noted otherwise.
const (
	// MinConfirmations is the number of confirmations a collateral output
	// must have before a broadcast referencing it is accepted.
	MinConfirmations = 7

	// MinMNPSeconds is the minimum spacing between two accepted pings of
	// the same node.  It is also the grace period a new node spends in the
	// pre-enabled state.
	MinMNPSeconds = 10 * 60

	// MinMNBSeconds is the minimum spacing between two broadcasts of the
	// same node.
	MinMNBSeconds = 5 * 60

	// PingSeconds is the interval at which the local node pings.
	PingSeconds = 5 * 60

	// ExpirationSeconds is the age of the last ping after which a node is
	// considered expired.
	ExpirationSeconds = 120 * 60

	// RemovalSeconds is the age of the last ping after which a node is
	// marked for removal.
	RemovalSeconds = 130 * 60

	// CheckSeconds rate limits the collateral lookups done by the liveness
	// check.
	CheckSeconds = 5

	// DumpSeconds is the interval between flushes of the on-disk caches.
	DumpSeconds = 15 * 60

	// DsegSeconds is the cooldown between full list requests to or from
	// the same peer.
	DsegSeconds = 3 * 60 * 60

	// MinWinnerAge is the minimum time since announcement before a node
	// may be ranked while payment enforcement is active.
	MinWinnerAge = 8000

	// MaxSigTimeDrift bounds how far in the future (and, for pings, the
	// past) a signature timestamp may be.
	MaxSigTimeDrift = 60 * 60

	// MaxPingBlockAge is the maximum depth below the tip of the block a
	// ping may reference.
	MaxPingBlockAge = 24
)

// Payment election constants.
const (
	// SignaturesRequired is the number of votes a payee needs before the
	// payment becomes mandatory.
	SignaturesRequired = 7

	// SignaturesTotal is the number of top ranked nodes allowed to vote
	// for a height.
	SignaturesTotal = 10

	// ScoreBlockOffset is the distance below the target height of the
	// block whose hash seeds the election ranking.
	ScoreBlockOffset = 100

	// ScheduleLookahead is the number of blocks after the tip checked when
	// deciding whether a node is already scheduled.
	ScheduleLookahead = 8

	// VoteFutureLimit is the furthest ahead of the tip a vote may target.
	VoteFutureLimit = 20

	// ProcessBlockLookahead is the distance ahead of a newly connected tip
	// for which the local node votes.
	ProcessBlockLookahead = 10

	// MinPaymentHistory is the lower bound of blocks kept by the payment
	// ledger when pruning.
	MinPaymentHistory = 1000
)

// Sync state machine constants.
const (
	// SyncTimeout is the base timeout, in ticks, of the sync state machine.
	SyncTimeout = 5

	// SyncThreshold is the number of peers asked before an empty stage may
	// be considered complete.
	SyncThreshold = 2

	// FailureRetrySeconds is how long the state machine waits in the
	// failed state before starting over.
	FailureRetrySeconds = 60

	// ChainStaleSeconds is the maximum age of the tip block for the chain
	// to be considered synced.
	ChainStaleSeconds = 60 * 60

	// SleepResetSeconds is the gap between two liveness checks which is
	// treated as the process having been suspended.
	SleepResetSeconds = 60 * 60
)

// Collateral is the exact value a collateral output must carry.
const Collateral = 1000 * btcutil.SatoshiPerBitcoin

// Protocol versions understood by the masternode subsystems.
const (
	// ProtocolVersion is the protocol version announced by this software.
	ProtocolVersion uint32 = 70914

	// MinPeerProtoBeforeEnforcement is the minimum protocol version
	// accepted for payments before updated nodes are enforced.
	MinPeerProtoBeforeEnforcement uint32 = 70913

	// MinPeerProtoAfterEnforcement is the minimum protocol version
	// accepted for payments once updated nodes are enforced.
	MinPeerProtoAfterEnforcement uint32 = 70914
)

// SporkID identifies a network-wide feature switch.
type SporkID int32

// Feature switches consulted by the masternode subsystems.
const (
	// SporkPaymentEnforcement makes masternode payments mandatory and
	// enables the minimum-age rule for ranking.
	SporkPaymentEnforcement SporkID = 10007

	// SporkPayUpdatedNodes raises the minimum payment protocol version.
	SporkPayUpdatedNodes SporkID = 10009
)

// SubsidyStep is an entry of the block subsidy schedule.  The value applies
// from StartHeight until the next step.
type SubsidyStep struct {
	StartHeight int32
	Value       btcutil.Amount
}

// RewardTier defines the share of the block value paid to masternodes when
// at least MinNodes nodes are assumed to be active.
type RewardTier struct {
	MinNodes int
	Percent  int64
}

// Params defines a network by its parameters for the masternode
// subsystems.
type Params struct {
	*chaincfg.Params

	// MasternodePort is the only port accepted in broadcast addresses on
	// the main network.  Other networks reject it instead.
	MasternodePort string

	// MasternodeCountDrift is added to the node count when computing the
	// required payment so a slightly stale view never rejects a block.
	MasternodeCountDrift int

	// MessageMagic prefixes every signed message.
	MessageMagic string

	// RegressionTest enables the fast sync path and relays local
	// broadcasts.
	RegressionTest bool

	// Subsidy is the block value schedule ordered by start height.
	Subsidy []SubsidyStep

	// RewardTiers is ordered by MinNodes ascending with non-increasing
	// percentages.
	RewardTiers []RewardTier

	// LastPoWBlock is the last proof-of-work height.  Later blocks carry
	// the masternode payment in the coinstake transaction.
	LastPoWBlock int32

	// BudgetCycleBlocks is the length of a budget payment cycle.  The
	// first blocks of each cycle may mint more than the subsidy.
	BudgetCycleBlocks int32
}

// BlockValue returns the block subsidy at the given height.
func (p *Params) BlockValue(height int32) btcutil.Amount {
	var value btcutil.Amount
	for _, step := range p.Subsidy {
		if height < step.StartHeight {
			break
		}
		value = step.Value
	}
	return value
}

// MasternodePayment returns the amount owed to the elected masternode for a
// block of the given value while mnCount nodes are assumed active.  The
// result never grows with mnCount.
func (p *Params) MasternodePayment(height int32, blockValue btcutil.Amount, mnCount int) btcutil.Amount {
	var percent int64
	for _, tier := range p.RewardTiers {
		if mnCount < tier.MinNodes {
			break
		}
		percent = tier.Percent
	}
	return blockValue * btcutil.Amount(percent) / 100
}

// ExpectedBlockInterval is used to convert counts of nodes into a time span
// when filtering young nodes from the payment queue.
const ExpectedBlockInterval = 156 * time.Second

const (
	mainNet    wire.BitcoinNet = 0xe9fdc490
	testNet    wire.BitcoinNet = 0xba657645
	regTestNet wire.BitcoinNet = 0xac7ecfa1
)

const messageMagic = "DarkNet Signed Message:\n"

// newChainParams copies base and overrides the fields which identify the
// network on the wire and in encoded keys and addresses.
func newChainParams(base *chaincfg.Params, name, port string, net wire.BitcoinNet,
	pubKeyHashID, scriptHashID, privKeyID byte) *chaincfg.Params {

	params := *base
	params.Name = name
	params.Net = net
	params.DefaultPort = port
	params.PubKeyHashAddrID = pubKeyHashID
	params.ScriptHashAddrID = scriptHashID
	params.PrivateKeyID = privKeyID
	params.DNSSeeds = nil
	return &params
}

var defaultSubsidy = []SubsidyStep{
	{StartHeight: 0, Value: 50 * btcutil.SatoshiPerBitcoin},
	{StartHeight: 151200, Value: 45 * btcutil.SatoshiPerBitcoin},
	{StartHeight: 302400, Value: 40 * btcutil.SatoshiPerBitcoin},
	{StartHeight: 453600, Value: 5 * btcutil.SatoshiPerBitcoin},
}

var defaultRewardTiers = []RewardTier{
	{MinNodes: 0, Percent: 60},
	{MinNodes: 5000, Percent: 55},
	{MinNodes: 10000, Percent: 50},
}

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Params: newChainParams(&chaincfg.MainNetParams, "mainnet", "51472",
		mainNet, 30, 13, 212),
	MasternodePort:       "51472",
	MasternodeCountDrift: 20,
	MessageMagic:         messageMagic,
	Subsidy:              defaultSubsidy,
	RewardTiers:          defaultRewardTiers,
	LastPoWBlock:         259200,
	BudgetCycleBlocks:    43200,
}

// TestNetParams defines the network parameters for the test network.
var TestNetParams = Params{
	Params: newChainParams(&chaincfg.TestNet3Params, "testnet", "51474",
		testNet, 139, 19, 239),
	MasternodePort:       "51472",
	MasternodeCountDrift: 4,
	MessageMagic:         messageMagic,
	Subsidy:              defaultSubsidy,
	RewardTiers:          defaultRewardTiers,
	LastPoWBlock:         200,
	BudgetCycleBlocks:    144,
}

// RegressionNetParams defines the network parameters for the regression
// test network.
var RegressionNetParams = Params{
	Params: newChainParams(&chaincfg.RegressionNetParams, "regtest", "51476",
		regTestNet, 139, 19, 239),
	MasternodePort:       "51472",
	MasternodeCountDrift: 4,
	MessageMagic:         messageMagic,
	RegressionTest:       true,
	Subsidy:              defaultSubsidy,
	RewardTiers:          defaultRewardTiers,
	LastPoWBlock:         250,
	BudgetCycleBlocks:    144,
}

// IsMainNet returns whether the parameters describe the main network.
func (p *Params) IsMainNet() bool {
	return p.Net == mainNet
}

// IsRegTest returns whether the parameters describe the regression test
// network.
func (p *Params) IsRegTest() bool {
	return p.Net == regTestNet
}
