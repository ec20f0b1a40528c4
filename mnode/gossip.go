// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnode

import (
	"bytes"
	"fmt"
	"net"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnwire"
)

// ProcessMessage handles the registry gossip messages: broadcasts, pings and
// list requests.  Other messages are ignored.  Peers sending invalid
// messages are penalized with the score of the failed rule.
func (m *Manager) ProcessMessage(p mnpeer.Peer, msg wire.Message) {
	if m.cfg.LiteMode {
		return
	}

	var err error
	switch msg := msg.(type) {
	case *mnwire.MsgMNBroadcast:
		err = m.ProcessBroadcast(p, msg)
	case *mnwire.MsgMNPing:
		err = m.ProcessPing(p, msg)
	case *mnwire.MsgDseg:
		err = m.ProcessDseg(p, msg)
	default:
		return
	}
	m.handleError(p, msg, err)
}

func (m *Manager) handleError(p mnpeer.Peer, msg wire.Message, err error) {
	if err == nil {
		return
	}
	dos := DoSScore(err)
	if dos == 0 {
		log.Debugf("Rejected %s from %s: %v", msg.Command(), p.Addr(), err)
		return
	}
	log.Infof("Rejected %s from %s: %v", msg.Command(), p.Addr(), err)
	if m.cfg.Misbehaver != nil {
		m.cfg.Misbehaver.Misbehaving(p, dos, err.Error())
	}
}

// ProcessBroadcast validates an announcement and adds or updates the node
// it describes.  Announcements are processed at most once: a repeated one
// only counts towards sync progress.
func (m *Manager) ProcessBroadcast(p mnpeer.Peer, mnb *mnwire.MsgMNBroadcast) error {
	m.mtx.Lock()
	activate, err := m.processBroadcast(mnb)
	local := m.local
	m.mtx.Unlock()

	if activate && local != nil {
		log.Infof("Got enabling broadcast for local masternode %v", mnb.Vin)
		local.EnableHotColdMasterNode(mnb.Vin, mnb.Addr)
	}
	return err
}

// processBroadcast returns whether the accepted broadcast activates the
// local operator key.  The caller must hold the lock.
func (m *Manager) processBroadcast(mnb *mnwire.MsgMNBroadcast) (bool, error) {
	hash := mnb.Hash()
	if _, ok := m.seenBroadcasts[hash]; ok {
		m.notifyAdded(hash)
		return false, nil
	}
	m.seenBroadcasts[hash] = copyBroadcast(mnb)

	now := m.now()
	if err := m.checkBroadcast(mnb, now); err != nil {
		return false, err
	}

	if mn, ok := m.nodes[mnb.Vin]; ok {
		if mn.SigTime >= mnb.SigTime {
			str := fmt.Sprintf("broadcast for %v signed at %d is not "+
				"newer than the known one signed at %d", mnb.Vin,
				mnb.SigTime, mn.SigTime)
			return false, ruleError(ErrStaleBroadcast, 0, str)
		}
		mn.check(now, m.cfg.Collateral, false)
		if mn.IsEnabled() {
			if bytes.Equal(mn.PubKeyCollateral, mnb.PubKeyCollateral) &&
				!mn.IsBroadcastedWithin(mnparams.MinMNBSeconds, now) {

				log.Debugf("Updating masternode %v from new broadcast",
					mnb.Vin)
				mn.updateFromNewBroadcast(mnb)
				mn.check(now, m.cfg.Collateral, true)
				if mn.IsEnabled() {
					m.relay(mnwire.InvTypeMNAnnounce, hash, mnb)
				}
				m.notifyAdded(hash)
			}
			return false, nil
		}
	}

	return m.checkInputsAndAdd(mnb, hash, now)
}

// checkBroadcast performs the checks which only depend on the broadcast
// itself.
func (m *Manager) checkBroadcast(mnb *mnwire.MsgMNBroadcast, now int64) error {
	if mnb.SigTime > now+mnparams.MaxSigTimeDrift {
		str := fmt.Sprintf("broadcast for %v signed in the future at %d",
			mnb.Vin, mnb.SigTime)
		return ruleError(ErrSigTimeInFuture, 1, str)
	}

	if mnb.LastPing.IsEmpty() {
		str := fmt.Sprintf("broadcast for %v carries no ping", mnb.Vin)
		return ruleError(ErrMissingPing, 0, str)
	}
	if err := m.checkPingSignature(&mnb.LastPing, mnb.PubKeyMasternode, now); err != nil {
		return err
	}

	if mnb.ProtocolVersion < m.MinPaymentsProto() {
		str := fmt.Sprintf("broadcast for %v uses obsolete protocol %d",
			mnb.Vin, mnb.ProtocolVersion)
		return ruleError(ErrProtocolTooOld, 0, str)
	}

	for _, key := range [][]byte{mnb.PubKeyCollateral, mnb.PubKeyMasternode} {
		if _, err := btcec.ParsePubKey(key); err != nil {
			str := fmt.Sprintf("broadcast for %v has an invalid key: %v",
				mnb.Vin, err)
			return ruleError(ErrBadPubKey, 100, str)
		}
	}

	err := m.cfg.Signer.VerifyMessage(mnb.PubKeyCollateral, mnb.Sig,
		mnb.SignatureMessage())
	if err != nil {
		str := fmt.Sprintf("broadcast for %v: %v", mnb.Vin, err)
		return ruleError(ErrBadSignature, 100, str)
	}

	_, port, err := net.SplitHostPort(mnb.Addr)
	if err != nil {
		str := fmt.Sprintf("broadcast for %v has malformed address %q",
			mnb.Vin, mnb.Addr)
		return ruleError(ErrBadAddress, 0, str)
	}
	if m.cfg.Params.IsMainNet() != (port == m.cfg.Params.MasternodePort) {
		str := fmt.Sprintf("broadcast for %v uses port %s which is not "+
			"allowed on %s", mnb.Vin, port, m.cfg.Params.Name)
		return ruleError(ErrBadAddress, 0, str)
	}
	return nil
}

// checkPingSignature checks the signing time and signature of a ping
// against the operator key.
func (m *Manager) checkPingSignature(mnp *mnwire.MsgMNPing, pubKey []byte, now int64) error {
	if mnp.SigTime > now+mnparams.MaxSigTimeDrift {
		str := fmt.Sprintf("ping for %v signed in the future at %d",
			mnp.Vin, mnp.SigTime)
		return ruleError(ErrSigTimeInFuture, 1, str)
	}
	if mnp.SigTime <= now-mnparams.MaxSigTimeDrift {
		str := fmt.Sprintf("ping for %v signed too long ago at %d",
			mnp.Vin, mnp.SigTime)
		return ruleError(ErrSigTimeTooOld, 1, str)
	}
	err := m.cfg.Signer.VerifyMessage(pubKey, mnp.Sig, mnp.SignatureMessage())
	if err != nil {
		str := fmt.Sprintf("ping for %v: %v", mnp.Vin, err)
		return ruleError(ErrBadSignature, 33, str)
	}
	return nil
}

// checkInputsAndAdd verifies the collateral of a broadcast and adds the
// node.  The caller must hold the lock.
func (m *Manager) checkInputsAndAdd(mnb *mnwire.MsgMNBroadcast, hash chainhash.Hash, now int64) (bool, error) {
	if m.local != nil {
		vin, pubKey, ok := m.local.LocalIdentity()
		if ok && vin == mnb.Vin && bytes.Equal(pubKey, mnb.PubKeyMasternode) {
			return false, nil
		}
	}

	if mn, ok := m.nodes[mnb.Vin]; ok {
		if mn.IsEnabled() {
			return false, nil
		}
		m.remove(mnb.Vin)
		m.seenBroadcasts[hash] = copyBroadcast(mnb)
	}

	entry, ok := m.cfg.Collateral.FetchCollateral(mnb.Vin)
	if !ok {
		m.forgetBroadcast(hash)
		return false, ruleError(ErrChainUnavailable, 0,
			"collateral view is busy")
	}
	if entry == nil || entry.TxOut == nil || entry.TxOut.Value != mnparams.Collateral {
		str := fmt.Sprintf("collateral %v is spent or has the wrong value",
			mnb.Vin)
		return false, ruleError(ErrCollateralUnavailable, 0, str)
	}
	if !m.cfg.Signer.IsVinAssociatedWithPubkey(entry.TxOut, mnb.PubKeyCollateral) {
		str := fmt.Sprintf("collateral %v is not owned by the announced "+
			"collateral key", mnb.Vin)
		return false, ruleError(ErrMismatchedCollateral, 33, str)
	}

	tip, ok := m.cfg.Chain.TipHeight()
	if !ok {
		m.forgetBroadcast(hash)
		return false, ruleError(ErrChainUnavailable, 0, "chain is busy")
	}
	age := int32(0)
	if entry.Height > 0 {
		age = tip - entry.Height + 1
	}
	if age < mnparams.MinConfirmations {
		m.forgetBroadcast(hash)
		str := fmt.Sprintf("collateral %v has %d confirmations, needs %d",
			mnb.Vin, age, mnparams.MinConfirmations)
		return false, ruleError(ErrCollateralTooNew, 0, str)
	}

	confTime, ok := m.cfg.Chain.BlockTime(entry.Height + mnparams.MinConfirmations - 1)
	if !ok {
		m.forgetBroadcast(hash)
		return false, ruleError(ErrChainUnavailable, 0, "chain is busy")
	}
	if confTime > mnb.SigTime {
		str := fmt.Sprintf("broadcast for %v signed at %d before its "+
			"collateral confirmed at %d", mnb.Vin, mnb.SigTime, confTime)
		return false, ruleError(ErrCollateralTooNew, 0, str)
	}

	log.Debugf("Accepted masternode entry %v at %s", mnb.Vin, mnb.Addr)

	activate := false
	if m.local != nil && mnb.ProtocolVersion == mnparams.ProtocolVersion &&
		bytes.Equal(m.local.PubKeyMasternode(), mnb.PubKeyMasternode) {

		activate = true
	}

	if m.cfg.Params.RegressionTest || !mnpeer.IsPrivateAddr(mnb.Addr) {
		m.relay(mnwire.InvTypeMNAnnounce, hash, mnb)
	}

	mn := NewMasternode(mnb)
	mn.CacheInputAge = age
	mn.CacheInputAgeBlock = tip
	m.add(mn)
	ping := mnb.LastPing.Copy()
	m.seenPings[ping.Hash()] = &ping
	m.notifyAdded(hash)
	return activate, nil
}

// forgetBroadcast drops a broadcast from the seen set so it is processed
// again when it is received later.
func (m *Manager) forgetBroadcast(hash chainhash.Hash) {
	delete(m.seenBroadcasts, hash)
	m.notifyForget(hash)
}

// ProcessPing validates a liveness ping and attaches it to its node.  When
// the ping is dropped without penalty for a node this registry does not
// know, the node is requested from the peer.
func (m *Manager) ProcessPing(p mnpeer.Peer, mnp *mnwire.MsgMNPing) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	hash := mnp.Hash()
	if _, ok := m.seenPings[hash]; ok {
		return nil
	}

	err := m.processPing(mnp, hash)
	if err == nil || DoSScore(err) > 0 {
		return err
	}
	if _, ok := m.nodes[mnp.Vin]; !ok {
		m.askForMN(p, mnp.Vin)
	}
	return err
}

func (m *Manager) processPing(mnp *mnwire.MsgMNPing, hash chainhash.Hash) error {
	now := m.now()
	if mnp.SigTime > now+mnparams.MaxSigTimeDrift {
		str := fmt.Sprintf("ping for %v signed in the future at %d",
			mnp.Vin, mnp.SigTime)
		return ruleError(ErrSigTimeInFuture, 1, str)
	}
	if mnp.SigTime <= now-mnparams.MaxSigTimeDrift {
		str := fmt.Sprintf("ping for %v signed too long ago at %d",
			mnp.Vin, mnp.SigTime)
		return ruleError(ErrSigTimeTooOld, 1, str)
	}

	mn, ok := m.nodes[mnp.Vin]
	if !ok {
		str := fmt.Sprintf("ping for unknown masternode %v", mnp.Vin)
		return ruleError(ErrUnknownMasternode, 0, str)
	}
	if mn.ProtocolVersion < m.MinPaymentsProto() {
		str := fmt.Sprintf("ping for %v which uses obsolete protocol %d",
			mnp.Vin, mn.ProtocolVersion)
		return ruleError(ErrProtocolTooOld, 0, str)
	}
	switch mn.ActiveState {
	case StatePreEnabled, StateEnabled, StateExpired:
	default:
		str := fmt.Sprintf("ping for %v in state %v", mnp.Vin, mn.ActiveState)
		return ruleError(ErrNotEnabled, 0, str)
	}
	if mn.IsPingedWithin(mnparams.MinMNPSeconds-60, mnp.SigTime) {
		str := fmt.Sprintf("ping for %v arrived too early", mnp.Vin)
		return ruleError(ErrPingTooEarly, 0, str)
	}

	err := m.cfg.Signer.VerifyMessage(mn.PubKeyMasternode, mnp.Sig,
		mnp.SignatureMessage())
	if err != nil {
		str := fmt.Sprintf("ping for %v: %v", mnp.Vin, err)
		return ruleError(ErrBadSignature, 33, str)
	}

	height, ok := m.cfg.Chain.BlockHeight(&mnp.BlockHash)
	if !ok {
		str := fmt.Sprintf("ping for %v references unknown block %v",
			mnp.Vin, mnp.BlockHash)
		return ruleError(ErrUnknownBlock, 0, str)
	}
	tip, ok := m.cfg.Chain.TipHeight()
	if !ok {
		return ruleError(ErrChainUnavailable, 0, "chain is busy")
	}
	if height < tip-mnparams.MaxPingBlockAge {
		str := fmt.Sprintf("ping for %v references block %d which is "+
			"too far below the tip %d", mnp.Vin, height, tip)
		return ruleError(ErrPingBlockTooOld, 1, str)
	}

	log.Tracef("Accepted ping for %v", mnp.Vin)
	m.acceptPing(mn, mnp)
	mn.check(now, m.cfg.Collateral, true)
	if mn.IsEnabled() {
		m.relay(mnwire.InvTypeMNPing, hash, mnp)
	}
	return nil
}

// ProcessDseg answers a list request.  A request for the zero outpoint asks
// for every enabled node and is answered with a status count; full list
// requests from public peers on the main network are rate limited.
func (m *Manager) ProcessDseg(p mnpeer.Peer, msg *mnwire.MsgDseg) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now()
	full := msg.IsFullList()
	if full && m.cfg.Params.IsMainNet() && !mnpeer.IsPrivateAddr(p.Addr()) {
		host := mnpeer.HostOf(p.Addr())
		if t, ok := m.askedUsForList[host]; ok && t > now {
			str := fmt.Sprintf("peer %s already asked for the list", host)
			return ruleError(ErrListRequestTooSoon, 34, str)
		}
		m.askedUsForList[host] = now + mnparams.DsegSeconds
	}

	count := int32(0)
	for _, mn := range m.sortedNodes() {
		if !m.cfg.Params.RegressionTest && mnpeer.IsPrivateAddr(mn.Addr) {
			continue
		}
		mn.check(now, m.cfg.Collateral, false)
		if !mn.IsEnabled() {
			continue
		}
		if !full && mn.Vin != msg.Vin {
			continue
		}

		mnb := mn.Broadcast()
		hash := mnb.Hash()
		p.QueueInventory(wire.NewInvVect(mnwire.InvTypeMNAnnounce, &hash))
		count++
		if _, ok := m.seenBroadcasts[hash]; !ok {
			m.seenBroadcasts[hash] = mnb
		}
		if !full {
			log.Debugf("Sent masternode entry %v to peer %s", mn.Vin,
				p.Addr())
			return nil
		}
	}

	if full {
		p.QueueMessage(mnwire.NewMsgSyncStatusCount(mnwire.SyncList, count), nil)
		log.Debugf("Sent %d masternode entries to peer %s", count, p.Addr())
	}
	return nil
}

// DsegUpdate asks the peer for its full list unless it was asked recently.
func (m *Manager) DsegUpdate(p mnpeer.Peer) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now()
	host := mnpeer.HostOf(p.Addr())
	if m.cfg.Params.IsMainNet() && !mnpeer.IsPrivateAddr(p.Addr()) {
		if t, ok := m.weAskedForList[host]; ok && now < t {
			log.Debugf("Already asked %s for the list", host)
			return
		}
	}
	p.QueueMessage(mnwire.NewMsgDseg(wire.OutPoint{}), nil)
	m.weAskedForList[host] = now + mnparams.DsegSeconds
}

// AskForMN asks the peer to announce the node with collateral vin unless
// it was asked for recently.
func (m *Manager) AskForMN(p mnpeer.Peer, vin wire.OutPoint) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.askForMN(p, vin)
}

func (m *Manager) askForMN(p mnpeer.Peer, vin wire.OutPoint) {
	now := m.now()
	if t, ok := m.weAskedForEntry[vin]; ok && now < t {
		return
	}
	log.Debugf("Asking %s for missing masternode entry %v", p.Addr(), vin)
	p.QueueMessage(mnwire.NewMsgDseg(vin), nil)
	m.weAskedForEntry[vin] = now + mnparams.MinMNPSeconds
}
