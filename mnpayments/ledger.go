// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpayments

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/lru"

	"github.com/mnsuite/mnd/mnode"
	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnsign"
	"github.com/mnsuite/mnd/mnwire"
	"github.com/mnsuite/mnd/paystore"
)

// rejectedVoteCacheSize is the number of votes with bad signatures
// remembered so they are not verified again when relayed by other peers.
const rejectedVoteCacheSize = 1000

// Registry is the view of the masternode registry used by the ledger.  It
// is implemented by *mnode.Manager.
type Registry interface {
	Find(vin wire.OutPoint) (mnode.Masternode, bool)
	GetMasternodeRank(vin wire.OutPoint, height int32, minProtocol uint32,
		onlyActive bool) int
	GetNextMasternodeInQueueForPayment(oracle mnode.PaymentOracle,
		height int32, filterSigTime bool) (mnode.Masternode, int, bool)
	GetCurrentMasternode(mod uint32, height int32,
		minProtocol uint32) (mnode.Masternode, bool)
	CountEnabled(protocolVersion uint32) int
	StableSize() int
	Size() int
	AskForMN(p mnpeer.Peer, vin wire.OutPoint)
}

// SyncStatus is the view of the sync state machine used by the ledger.
// Implementations must not call back into the ledger.
type SyncStatus interface {
	IsBlockchainSynced() bool
	IsSynced() bool
	AddedMasternodeWinner(hash chainhash.Hash)
	ForgetMasternodeWinner(hash chainhash.Hash)
}

// Local provides the identity and operator key of the local masternode.
type Local interface {
	LocalIdentity() (vin wire.OutPoint, pubKeyMasternode []byte, ok bool)
	OperatorKey() (*btcec.PrivateKey, bool)
}

// Config is a descriptor containing the payment ledger configuration.
type Config struct {
	// Params identifies the network.
	Params *mnparams.Params

	// Chain provides access to the best chain.
	Chain mnode.Chain

	// Sporks reports network feature switches.
	Sporks mnode.Sporks

	// Registry is the masternode registry votes are checked against.
	Registry Registry

	// Signer signs local votes and verifies remote ones.
	Signer *mnsign.Signer

	// Relayer announces accepted votes.
	Relayer mnpeer.Relayer

	// Misbehaver penalizes peers sending invalid votes.
	Misbehaver mnpeer.Misbehaver

	// Store records confirmed payments.  It may be nil.
	Store paystore.Store

	// LiteMode disables processing of payment messages.
	LiteMode bool
}

// payeeVotes is the tally of a single payee script.
type payeeVotes struct {
	script []byte
	votes  int
}

// blockPayees is the tally of the votes for the payee of one block.
type blockPayees struct {
	height int32
	payees []payeeVotes
}

// addPayee adds votes to the tally of script.
func (b *blockPayees) addPayee(script []byte, votes int) {
	for i := range b.payees {
		if bytes.Equal(b.payees[i].script, script) {
			b.payees[i].votes += votes
			return
		}
	}
	b.payees = append(b.payees, payeeVotes{
		script: append([]byte(nil), script...),
		votes:  votes,
	})
}

// payee returns the script with the most votes.  Ties go to the payee
// voted for first.
func (b *blockPayees) payee() ([]byte, bool) {
	best := -1
	for i := range b.payees {
		if best == -1 || b.payees[i].votes > b.payees[best].votes {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	return b.payees[best].script, true
}

// hasPayeeWithVotes returns whether script has at least votes votes.
func (b *blockPayees) hasPayeeWithVotes(script []byte, votes int) bool {
	for i := range b.payees {
		if b.payees[i].votes >= votes &&
			bytes.Equal(b.payees[i].script, script) {

			return true
		}
	}
	return false
}

// Ledger tallies the payment votes of the network and elects the payee of
// each block.
//
// All exported methods are safe for concurrent access.  The ledger lock is
// taken after the registry lock and is never held while calling into the
// registry.
type Ledger struct {
	cfg Config

	// syncStatus and local are bound after construction.
	syncStatus SyncStatus
	local      Local

	fulfilled mnpeer.FulfilledRequests
	rejected  lru.Cache

	mtx    sync.Mutex
	votes  map[chainhash.Hash]*mnwire.MsgMNWinner
	blocks map[int32]*blockPayees

	// lastVote is the last height each node voted for.  voters holds
	// every node which voted at a height still in the history.
	lastVote map[wire.OutPoint]int32
	voters   map[int32]map[wire.OutPoint]struct{}

	// lastBlockHeight is the last height the local node voted for.
	lastBlockHeight int32
}

// New returns an empty ledger.
func New(cfg *Config) *Ledger {
	return &Ledger{
		cfg:      *cfg,
		rejected: lru.NewCache(rejectedVoteCacheSize),
		votes:    make(map[chainhash.Hash]*mnwire.MsgMNWinner),
		blocks:   make(map[int32]*blockPayees),
		lastVote: make(map[wire.OutPoint]int32),
		voters:   make(map[int32]map[wire.OutPoint]struct{}),
	}
}

// SetSyncStatus binds the sync state machine.
func (l *Ledger) SetSyncStatus(s SyncStatus) {
	l.mtx.Lock()
	l.syncStatus = s
	l.mtx.Unlock()
}

// SetLocal binds the local masternode.
func (l *Ledger) SetLocal(local Local) {
	l.mtx.Lock()
	l.local = local
	l.mtx.Unlock()
}

func (l *Ledger) bound() (SyncStatus, Local) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.syncStatus, l.local
}

func (l *Ledger) enforcingPayments() bool {
	return l.cfg.Sporks != nil &&
		l.cfg.Sporks.IsActive(mnparams.SporkPaymentEnforcement)
}

// GetMinMasternodePaymentsProto returns the minimum protocol version of
// nodes eligible to vote and be paid.
func (l *Ledger) GetMinMasternodePaymentsProto() uint32 {
	return mnode.MinPaymentsProto(l.cfg.Sporks)
}

// AddWinningMasternode records a vote and counts it towards its payee.  It
// returns false when the vote is already known or the block seeding its
// election is not yet known.
func (l *Ledger) AddWinningMasternode(vote *mnwire.MsgMNWinner) bool {
	if _, ok := l.cfg.Chain.BlockHash(vote.BlockHeight - mnparams.ScoreBlockOffset); !ok {
		return false
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	hash := vote.Hash()
	if _, ok := l.votes[hash]; ok {
		return false
	}
	c := vote.Copy()
	l.votes[hash] = &c
	l.addVoter(vote.VinMasternode, vote.BlockHeight)

	b, ok := l.blocks[vote.BlockHeight]
	if !ok {
		b = &blockPayees{height: vote.BlockHeight}
		l.blocks[vote.BlockHeight] = b
	}
	b.addPayee(vote.Payee, 1)
	return true
}

// addVoter records that vin voted for height.  The caller must hold the
// lock.
func (l *Ledger) addVoter(vin wire.OutPoint, height int32) {
	voters, ok := l.voters[height]
	if !ok {
		voters = make(map[wire.OutPoint]struct{})
		l.voters[height] = voters
	}
	voters[vin] = struct{}{}
}

// CanVote records that the node with collateral vin voted for height.  It
// returns false when the node already voted for that height, whatever the
// order the votes arrived in.
func (l *Ledger) CanVote(vin wire.OutPoint, height int32) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if last, ok := l.lastVote[vin]; ok && last == height {
		return false
	}
	if _, ok := l.voters[height][vin]; ok {
		return false
	}
	l.lastVote[vin] = height
	l.addVoter(vin, height)
	return true
}

// historyLimit returns how many blocks below the tip are kept.
func (l *Ledger) historyLimit() int32 {
	limit := int32(l.cfg.Registry.CountEnabled(0) * 5 / 4)
	if limit < mnparams.MinPaymentHistory {
		limit = mnparams.MinPaymentHistory
	}
	return limit
}

// CleanPaymentList drops the votes and tallies of heights more than the
// history limit below the tip.
func (l *Ledger) CleanPaymentList() {
	tip, ok := l.cfg.Chain.TipHeight()
	if !ok {
		return
	}
	limit := l.historyLimit()

	l.mtx.Lock()
	defer l.mtx.Unlock()

	removed := 0
	for hash, vote := range l.votes {
		if tip-vote.BlockHeight <= limit {
			continue
		}
		log.Tracef("Removing old payment vote %v for height %d", hash,
			vote.BlockHeight)
		delete(l.votes, hash)
		delete(l.blocks, vote.BlockHeight)
		if l.syncStatus != nil {
			l.syncStatus.ForgetMasternodeWinner(hash)
		}
		removed++
	}
	for height := range l.blocks {
		if tip-height > limit {
			delete(l.blocks, height)
		}
	}
	for vin, height := range l.lastVote {
		if tip-height > limit {
			delete(l.lastVote, vin)
		}
	}
	for height := range l.voters {
		if tip-height > limit {
			delete(l.voters, height)
		}
	}
	if removed > 0 {
		log.Debugf("Removed %d old payment votes", removed)
	}
}

// GetBlockPayee returns the payee with the most votes for height.
func (l *Ledger) GetBlockPayee(height int32) ([]byte, bool) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	b, ok := l.blocks[height]
	if !ok {
		return nil, false
	}
	payee, ok := b.payee()
	if !ok {
		return nil, false
	}
	return append([]byte(nil), payee...), true
}

// IsScheduled returns whether payee is the elected payee of a block between
// the tip and ScheduleLookahead blocks above it, not counting notHeight.
// This is part of the mnode.PaymentOracle interface implementation.
func (l *Ledger) IsScheduled(payee []byte, notHeight int32) bool {
	tip, ok := l.cfg.Chain.TipHeight()
	if !ok {
		return false
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	for h := tip; h <= tip+mnparams.ScheduleLookahead; h++ {
		if h == notHeight {
			continue
		}
		b, ok := l.blocks[h]
		if !ok {
			continue
		}
		if elected, ok := b.payee(); ok && bytes.Equal(elected, payee) {
			return true
		}
	}
	return false
}

// LastPaid returns the time of the most recent block within depth blocks
// of tipHeight for which payee had at least two votes.  The payment store
// is consulted when the tallies know of no such block.  This is part of the
// mnode.PaymentOracle interface implementation.
func (l *Ledger) LastPaid(payee []byte, tipHeight int32, depth int) int64 {
	paidAt := int32(-1)
	l.mtx.Lock()
	for h := tipHeight; h > tipHeight-int32(depth) && h >= 0; h-- {
		if b, ok := l.blocks[h]; ok && b.hasPayeeWithVotes(payee, 2) {
			paidAt = h
			break
		}
	}
	l.mtx.Unlock()

	if paidAt >= 0 {
		if t, ok := l.cfg.Chain.BlockTime(paidAt); ok {
			return t
		}
	}

	if l.cfg.Store == nil {
		return 0
	}
	p, ok, err := l.cfg.Store.LastPayment(payee)
	if err != nil {
		log.Errorf("Unable to look up last payment: %v", err)
		return 0
	}
	if !ok || p.Height <= tipHeight-int32(depth) {
		return 0
	}
	return p.Time
}

// RequiredPayment returns the minimum masternode payment of a block at
// height given the current registry size.
func (l *Ledger) RequiredPayment(height int32) int64 {
	count := l.cfg.Registry.Size()
	if l.enforcingPayments() {
		count = l.cfg.Registry.StableSize()
	}
	count += l.cfg.Params.MasternodeCountDrift
	return int64(l.cfg.Params.MasternodePayment(height,
		l.cfg.Params.BlockValue(height), count))
}

// IsTransactionValid returns whether tx pays the elected masternode of the
// block at height.  Heights without a payee reaching SignaturesRequired
// votes accept any transaction.  When the vote is split every payee with
// enough votes is accepted.
func (l *Ledger) IsTransactionValid(tx *wire.MsgTx, height int32) bool {
	required := l.RequiredPayment(height)

	l.mtx.Lock()
	defer l.mtx.Unlock()

	b, ok := l.blocks[height]
	if !ok {
		return true
	}

	maxVotes := 0
	for _, p := range b.payees {
		if p.votes >= mnparams.SignaturesRequired && p.votes > maxVotes {
			maxVotes = p.votes
		}
	}
	if maxVotes < mnparams.SignaturesRequired {
		return true
	}

	var possible []string
	for _, p := range b.payees {
		if p.votes < mnparams.SignaturesRequired {
			continue
		}
		for _, out := range tx.TxOut {
			if out.Value >= required && bytes.Equal(out.PkScript, p.script) {
				return true
			}
		}
		possible = append(possible, l.cfg.Signer.PayeeString(p.script))
	}

	log.Infof("Missing required payment of %d to %v for block %d",
		required, possible, height)
	return false
}

// VoteByHash returns a copy of the vote with the given identity.
func (l *Ledger) VoteByHash(hash *chainhash.Hash) (*mnwire.MsgMNWinner, bool) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	vote, ok := l.votes[*hash]
	if !ok {
		return nil, false
	}
	c := vote.Copy()
	return &c, true
}

// HaveVote returns whether the vote with the given identity is known.
func (l *Ledger) HaveVote(hash *chainhash.Hash) bool {
	l.mtx.Lock()
	_, ok := l.votes[*hash]
	l.mtx.Unlock()
	return ok
}

// Counts returns the number of known votes and of heights with a tally.
func (l *Ledger) Counts() (votes, blocks int) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return len(l.votes), len(l.blocks)
}

// GetRequiredPaymentsString returns the payees voted for at height with
// their vote counts.
func (l *Ledger) GetRequiredPaymentsString(height int32) string {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	b, ok := l.blocks[height]
	if !ok || len(b.payees) == 0 {
		return "Unknown"
	}
	var buf bytes.Buffer
	for i, p := range b.payees {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s:%d", l.cfg.Signer.PayeeString(p.script),
			p.votes)
	}
	return buf.String()
}

// GetOldestBlock returns the lowest height with a tally.
func (l *Ledger) GetOldestBlock() (int32, bool) {
	heights := l.heights()
	if len(heights) == 0 {
		return 0, false
	}
	return heights[0], true
}

// GetNewestBlock returns the highest height with a tally.
func (l *Ledger) GetNewestBlock() (int32, bool) {
	heights := l.heights()
	if len(heights) == 0 {
		return 0, false
	}
	return heights[len(heights)-1], true
}

func (l *Ledger) heights() []int32 {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.sortedHeights()
}

// sortedHeights returns the heights with a tally in ascending order.  The
// caller must hold the lock.
func (l *Ledger) sortedHeights() []int32 {
	heights := make([]int32, 0, len(l.blocks))
	for h := range l.blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}

// Clear forgets every vote and tally.
func (l *Ledger) Clear() {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	l.votes = make(map[chainhash.Hash]*mnwire.MsgMNWinner)
	l.blocks = make(map[int32]*blockPayees)
	l.lastVote = make(map[wire.OutPoint]int32)
	l.voters = make(map[int32]map[wire.OutPoint]struct{})
}

// String returns a summary of the ledger.
func (l *Ledger) String() string {
	votes, blocks := l.Counts()
	return fmt.Sprintf("Votes: %d, Blocks: %d", votes, blocks)
}
