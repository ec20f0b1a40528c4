// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpayments

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnwire"
)

// ProcessMessage handles payment votes and vote requests.  Nothing is
// processed until the blockchain is synced.
func (l *Ledger) ProcessMessage(p mnpeer.Peer, msg wire.Message) {
	if l.cfg.LiteMode {
		return
	}
	if s, _ := l.bound(); s == nil || !s.IsBlockchainSynced() {
		return
	}

	var err error
	switch msg := msg.(type) {
	case *mnwire.MsgMNGet:
		err = l.ProcessGet(p, msg)
	case *mnwire.MsgMNWinner:
		err = l.ProcessWinner(p, msg)
	default:
		return
	}
	if err == nil {
		return
	}

	rerr, ok := err.(RuleError)
	if !ok || rerr.DoS == 0 {
		log.Debugf("Rejected %s from %s: %v", msg.Command(), p.Addr(), err)
		return
	}
	log.Infof("Rejected %s from %s: %v", msg.Command(), p.Addr(), err)
	if l.cfg.Misbehaver != nil {
		l.cfg.Misbehaver.Misbehaving(p, rerr.DoS, err.Error())
	}
}

// ProcessGet answers a request for recent votes.  Peers on the main network
// may only ask once per connection.
func (l *Ledger) ProcessGet(p mnpeer.Peer, msg *mnwire.MsgMNGet) error {
	if l.cfg.Params.IsMainNet() &&
		l.fulfilled.Has(p.ID(), mnpeer.RequestServedMNW) {

		str := fmt.Sprintf("peer %s already asked for payment votes",
			p.Addr())
		return ruleError(ErrRequestTooSoon, 20, str)
	}
	l.fulfilled.Add(p.ID(), mnpeer.RequestServedMNW)
	l.Sync(p, msg.CountNeeded)
	return nil
}

// Sync announces the votes for the countNeeded blocks below the tip and
// those ahead of it, followed by a status count.
func (l *Ledger) Sync(p mnpeer.Peer, countNeeded int32) {
	tip, ok := l.cfg.Chain.TipHeight()
	if !ok {
		return
	}
	if limit := int32(l.cfg.Registry.CountEnabled(0) * 5 / 4); countNeeded > limit {
		countNeeded = limit
	}

	l.mtx.Lock()
	count := int32(0)
	for _, hash := range sortedHashes(l.votes) {
		vote := l.votes[hash]
		if vote.BlockHeight < tip-countNeeded ||
			vote.BlockHeight > tip+mnparams.VoteFutureLimit {

			continue
		}
		hash := hash
		p.QueueInventory(wire.NewInvVect(mnwire.InvTypeMNWinner, &hash))
		count++
	}
	l.mtx.Unlock()

	p.QueueMessage(mnwire.NewMsgSyncStatusCount(mnwire.SyncMNW, count), nil)
	log.Debugf("Sent %d payment votes to peer %s", count, p.Addr())
}

// PeerDisconnected forgets the requests served to the peer.
func (l *Ledger) PeerDisconnected(p mnpeer.Peer) {
	l.fulfilled.RemovePeer(p.ID())
}

// ProcessWinner validates a vote received from a peer, records it and
// relays it.  Votes already known only count towards sync progress.
func (l *Ledger) ProcessWinner(p mnpeer.Peer, vote *mnwire.MsgMNWinner) error {
	minProto := l.GetMinMasternodePaymentsProto()
	if p.ProtocolVersion() < minProto {
		return nil
	}
	tip, ok := l.cfg.Chain.TipHeight()
	if !ok {
		return ruleError(ErrChainUnavailable, 0, "chain tip unavailable")
	}

	syncStatus, _ := l.bound()
	hash := vote.Hash()
	if l.HaveVote(&hash) {
		if syncStatus != nil {
			syncStatus.AddedMasternodeWinner(hash)
		}
		return nil
	}
	if l.rejected.Contains(hash) {
		return nil
	}

	first := tip - int32(l.cfg.Registry.CountEnabled(0)*5/4)
	if vote.BlockHeight < first || vote.BlockHeight > tip+mnparams.VoteFutureLimit {
		str := fmt.Sprintf("vote for block %d out of range [%d, %d]",
			vote.BlockHeight, first, tip+mnparams.VoteFutureLimit)
		return ruleError(ErrVoteOutOfRange, 0, str)
	}

	pubKey, err := l.checkVoter(p, vote, minProto, syncStatus)
	if err != nil {
		return err
	}

	if err := l.cfg.Signer.VerifyMessage(pubKey, vote.Sig,
		vote.SignatureMessage()); err != nil {

		l.rejected.Add(hash)
		l.cfg.Registry.AskForMN(p, vote.VinMasternode)
		var dos uint32
		if syncStatus != nil && syncStatus.IsSynced() {
			dos = 20
		}
		str := fmt.Sprintf("invalid signature of vote %v: %v", hash, err)
		return ruleError(ErrBadSignature, dos, str)
	}

	if !l.CanVote(vote.VinMasternode, vote.BlockHeight) {
		str := fmt.Sprintf("masternode %v already voted for block %d",
			vote.VinMasternode, vote.BlockHeight)
		return ruleError(ErrDuplicateVote, 0, str)
	}

	log.Debugf("Payment vote for %s at block %d from %v",
		l.cfg.Signer.PayeeString(vote.Payee), vote.BlockHeight,
		vote.VinMasternode)
	if l.AddWinningMasternode(vote) {
		l.relay(vote)
		if syncStatus != nil {
			syncStatus.AddedMasternodeWinner(hash)
		}
	}
	return nil
}

// checkVoter ensures the voter is a known node on the payment protocol
// ranked among the SignaturesTotal nodes allowed to vote for the height.
// It returns the operator key of the voter.
func (l *Ledger) checkVoter(p mnpeer.Peer, vote *mnwire.MsgMNWinner,
	minProto uint32, syncStatus SyncStatus) ([]byte, error) {

	mn, ok := l.cfg.Registry.Find(vote.VinMasternode)
	if !ok {
		l.cfg.Registry.AskForMN(p, vote.VinMasternode)
		str := fmt.Sprintf("unknown masternode %v", vote.VinMasternode)
		return nil, ruleError(ErrUnknownVoter, 0, str)
	}
	if mn.ProtocolVersion < minProto {
		str := fmt.Sprintf("masternode %v protocol %d is below %d",
			vote.VinMasternode, mn.ProtocolVersion, minProto)
		return nil, ruleError(ErrVoterProtocol, 0, str)
	}

	rank := l.cfg.Registry.GetMasternodeRank(vote.VinMasternode,
		vote.BlockHeight-mnparams.ScoreBlockOffset, minProto, true)
	if rank == -1 {
		str := fmt.Sprintf("masternode %v is not ranked for block %d",
			vote.VinMasternode, vote.BlockHeight)
		return nil, ruleError(ErrVoterRank, 0, str)
	}
	if rank > mnparams.SignaturesTotal {
		// Nodes often believe they are in the top by mistake, so only
		// those far off are penalized.
		var dos uint32
		if rank > 2*mnparams.SignaturesTotal && syncStatus != nil &&
			syncStatus.IsSynced() {

			dos = 20
		}
		str := fmt.Sprintf("masternode %v not in the top %d (rank %d) "+
			"for block %d", vote.VinMasternode, mnparams.SignaturesTotal,
			rank, vote.BlockHeight)
		return nil, ruleError(ErrVoterRank, dos, str)
	}
	return mn.PubKeyMasternode, nil
}

// sortedHashes returns the keys of a hash keyed map in byte order.
func sortedHashes[V any](m map[chainhash.Hash]V) []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(m))
	for h := range m {
		hashes = append(hashes, h)
	}
	sortHashes(hashes)
	return hashes
}
