// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/lru"

	"github.com/mnsuite/mnd/activemn"
	"github.com/mnsuite/mnd/mncache"
	"github.com/mnsuite/mnd/mnconfig"
	"github.com/mnsuite/mnd/mnmetrics"
	"github.com/mnsuite/mnd/mnode"
	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpayments"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnsign"
	"github.com/mnsuite/mnd/mnsync"
	"github.com/mnsuite/mnd/mnwire"
	"github.com/mnsuite/mnd/paystore"
)

const (
	// relayedInvCacheSize is the number of recently relayed inventory
	// vectors which are not announced again.
	relayedInvCacheSize = 10000
)

// hostPeer is a connected peer of the host node.
type hostPeer interface {
	mnpeer.Peer

	// Disconnect closes the connection to the peer.
	Disconnect()
}

// serverDeps are the collaborators of the server provided by the host
// node.  Unset fields get defaults suitable for a daemon without a
// wallet.
type serverDeps struct {
	Wallet     activemn.Wallet
	Network    activemn.Network
	TimeSource mnode.TimeSource
}

// server hosts the masternode subsystems.  The host node feeds it with
// connected peers, decoded masternode messages and chain updates and asks
// it to fill and validate the masternode payment of blocks.
type server struct {
	cfg    *config
	params *mnparams.Params

	chain      *chainIndex
	medianTime blockchain.MedianTimeSource
	timeSource mnode.TimeSource
	sporks     *sporkSet
	bans       *banManager
	signer     *mnsign.Signer
	store      paystore.Store
	mnConf     *mnconfig.Config

	mnodes   *mnode.Manager
	payments *mnpayments.Ledger
	syncMgr  *mnsync.SyncManager
	activeMN *activemn.ActiveMasternode
	metrics  *mnmetrics.Collector

	registryCache *mncache.FlatDB
	paymentsCache *mncache.FlatDB

	peerMtx sync.RWMutex
	peers   map[int32]hostPeer

	relayMtx sync.Mutex
	relayed  lru.Cache
}

// newServer returns a server for the network described by params.  The
// caches are loaded from the data directory.
func newServer(cfg *config, params *mnparams.Params, store paystore.Store,
	deps serverDeps) (*server, error) {

	s := &server{
		cfg:     cfg,
		params:  params,
		chain:   newChainIndex(),
		sporks:  newSporkSet(cfg),
		signer:  mnsign.New(params),
		store:   store,
		peers:   make(map[int32]hostPeer),
		relayed: lru.NewCache(relayedInvCacheSize),
	}
	s.bans = newBanManager(false, s.disconnectPeer)

	s.timeSource = deps.TimeSource
	if s.timeSource == nil {
		s.medianTime = blockchain.NewMedianTime()
		s.timeSource = s.medianTime
	}
	wallet := deps.Wallet
	if wallet == nil {
		wallet = hotWallet{}
	}
	network := deps.Network
	if network == nil {
		network = newLocalNetwork(params.DefaultPort)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	s.mnConf = &mnconfig.Config{}
	if !cfg.LiteMode {
		mnConf, err := mnconfig.Read(cfg.MNConf)
		if err != nil {
			return nil, err
		}
		s.mnConf = mnConf
	}

	s.mnodes = mnode.New(&mnode.Config{
		Params:     params,
		Chain:      s.chain,
		Sporks:     s.sporks,
		Collateral: s.chain,
		TimeSource: s.timeSource,
		Signer:     s.signer,
		Relayer:    s,
		Misbehaver: s.bans,
		LiteMode:   cfg.LiteMode,
	})
	s.payments = mnpayments.New(&mnpayments.Config{
		Params:     params,
		Chain:      s.chain,
		Sporks:     s.sporks,
		Registry:   s.mnodes,
		Signer:     s.signer,
		Relayer:    s,
		Misbehaver: s.bans,
		Store:      store,
		LiteMode:   cfg.LiteMode,
	})
	s.syncMgr = mnsync.New(&mnsync.Config{
		Params:     params,
		Chain:      s.chain,
		Sporks:     s.sporks,
		TimeSource: s.timeSource,
		Peers:      s,
		Registry:   s.mnodes,
		OnSynced:   s.onSynced,
	})

	activeMN, err := activemn.New(&activemn.Config{
		Params:      params,
		Chain:       s.chain,
		TimeSource:  s.timeSource,
		Signer:      s.signer,
		Registry:    s.mnodes,
		Sync:        s.syncMgr,
		Wallet:      wallet,
		Network:     network,
		InputAger:   &activemn.ChainInputAger{Chain: s.chain, Collateral: s.chain},
		Relayer:     s,
		Enabled:     cfg.Masternode,
		PrivKey:     cfg.MasternodePrivKey,
		ServiceAddr: cfg.MasternodeAddr,
		ConfEntries: s.mnConf.Entries,
		ConfLock:    cfg.MNConfLock,
	})
	if err != nil {
		return nil, err
	}
	s.activeMN = activeMN

	s.mnodes.SetSyncNotifier(s.syncMgr)
	s.mnodes.SetLocalMasternode(s.activeMN)
	s.payments.SetSyncStatus(s.syncMgr)
	s.payments.SetLocal(s.activeMN)

	s.metrics = mnmetrics.NewCollector(mnmetrics.Sources{
		Registry: s.mnodes,
		Ledger:   s.payments,
		Sync:     s.syncMgr,
		Local:    s.activeMN,
	})

	s.registryCache = mncache.New(filepath.Join(cfg.DataDir,
		mncache.RegistryFile), mncache.RegistryMagic, params.Net)
	s.paymentsCache = mncache.New(filepath.Join(cfg.DataDir,
		mncache.PaymentsFile), mncache.PaymentsMagic, params.Net)
	if !cfg.LiteMode {
		s.loadCaches()
	}

	return s, nil
}

// loadCaches restores the registry and the payment ledger from disk.  A
// cache that can not be read is ignored and rebuilt from the network.
func (s *server) loadCaches() {
	srvrLog.Infof("Loading masternode cache...")
	if err := s.registryCache.Read(s.mnodes, false); err != nil {
		if !mncache.IsReadResult(err, mncache.FileError) {
			srvrLog.Warnf("Unable to load %s: %v", s.registryCache.Path, err)
		}
	} else {
		s.mnodes.CheckAndRemove(true)
	}

	srvrLog.Infof("Loading masternode payment cache...")
	if err := s.paymentsCache.Read(s.payments, false); err != nil {
		if !mncache.IsReadResult(err, mncache.FileError) {
			srvrLog.Warnf("Unable to load %s: %v", s.paymentsCache.Path, err)
		}
	} else {
		s.payments.CleanPaymentList()
	}
}

// dumpCaches writes the registry and the payment ledger to disk.
func (s *server) dumpCaches() {
	if s.cfg.LiteMode {
		return
	}
	scratchRegistry := mnode.New(&mnode.Config{Params: s.params})
	if err := s.registryCache.Dump(s.mnodes, scratchRegistry); err != nil {
		srvrLog.Errorf("Unable to dump masternode cache: %v", err)
	}
	scratchLedger := mnpayments.New(&mnpayments.Config{Params: s.params})
	if err := s.paymentsCache.Dump(s.payments, scratchLedger); err != nil {
		srvrLog.Errorf("Unable to dump masternode payment cache: %v", err)
	}
}

// onSynced is invoked by the sync manager once the masternode data is
// complete.
func (s *server) onSynced() {
	srvrLog.Infof("Masternode sync finished")
	s.activeMN.ManageStatus()
}

// AddPeer registers a newly connected peer.  It returns false when the
// host of the peer is banned and the connection must be dropped.
func (s *server) AddPeer(p hostPeer) bool {
	if s.bans.isBanned(p.Addr()) {
		srvrLog.Debugf("Rejecting banned peer %s", p.Addr())
		return false
	}
	s.peerMtx.Lock()
	s.peers[p.ID()] = p
	s.peerMtx.Unlock()
	srvrLog.Debugf("New peer %s (id %d)", p.Addr(), p.ID())
	return true
}

// DonePeer forgets a disconnected peer.
func (s *server) DonePeer(p mnpeer.Peer) {
	s.peerMtx.Lock()
	_, ok := s.peers[p.ID()]
	delete(s.peers, p.ID())
	s.peerMtx.Unlock()
	if !ok {
		return
	}

	s.bans.removePeer(p.ID())
	s.syncMgr.PeerDisconnected(p)
	s.payments.PeerDisconnected(p)
	srvrLog.Debugf("Removed peer %s (id %d)", p.Addr(), p.ID())
}

// disconnectPeer drops a banned peer.
func (s *server) disconnectPeer(p mnpeer.Peer) {
	s.peerMtx.RLock()
	hp, ok := s.peers[p.ID()]
	s.peerMtx.RUnlock()
	if ok {
		hp.Disconnect()
	}
	s.DonePeer(p)
}

// ConnectedPeers returns the connected peers ordered by id.
func (s *server) ConnectedPeers() []mnpeer.Peer {
	s.peerMtx.RLock()
	peers := make([]mnpeer.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peerMtx.RUnlock()

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID() < peers[j].ID()
	})
	return peers
}

// RelayInventory announces iv to every connected peer unless it was
// relayed recently.
func (s *server) RelayInventory(iv *wire.InvVect, data interface{}) {
	s.relayMtx.Lock()
	if s.relayed.Contains(*iv) {
		s.relayMtx.Unlock()
		return
	}
	s.relayed.Add(*iv)
	s.relayMtx.Unlock()

	for _, p := range s.ConnectedPeers() {
		p.QueueInventory(iv)
	}
}

// AddTimeSample records the time reported by a peer in its version
// message.
func (s *server) AddTimeSample(p mnpeer.Peer, t time.Time) {
	if s.medianTime == nil {
		return
	}
	s.medianTime.AddTimeSample(p.Addr(), t)
}

// SetSpork records the state of a validated network feature switch.
func (s *server) SetSpork(id mnparams.SporkID, active bool) {
	s.sporks.set(id, active)
}

// OnMessage dispatches a decoded masternode message to the subsystem
// handling it.
func (s *server) OnMessage(p mnpeer.Peer, msg wire.Message) {
	switch m := msg.(type) {
	case *mnwire.MsgSyncStatusCount:
		s.syncMgr.ProcessMessage(p, m)

	case *mnwire.MsgMNBroadcast, *mnwire.MsgMNPing, *mnwire.MsgDseg:
		s.mnodes.ProcessMessage(p, msg)

	case *mnwire.MsgMNWinner, *mnwire.MsgMNGet:
		s.payments.ProcessMessage(p, msg)

	// Sporks and budgets are served by the host node.
	case *mnwire.MsgGetSporks, *mnwire.MsgBudgetVoteSync:

	default:
		srvrLog.Tracef("Ignoring %s from %s", msg.Command(), p.Addr())
	}
}

// HaveInventory returns whether the masternode object identified by iv is
// already known so the host does not request it.
func (s *server) HaveInventory(iv *wire.InvVect) bool {
	switch iv.Type {
	case mnwire.InvTypeMNAnnounce:
		return s.mnodes.HaveSeenBroadcast(&iv.Hash)
	case mnwire.InvTypeMNPing:
		return s.mnodes.HaveSeenPing(&iv.Hash)
	case mnwire.InvTypeMNWinner:
		return s.payments.HaveVote(&iv.Hash)
	}
	return false
}

// OnGetData answers a data request for masternode objects.  Unknown
// objects are skipped.  Large requests increase the decaying ban score of
// the peer so it can not flood us.
func (s *server) OnGetData(p mnpeer.Peer, invList []*wire.InvVect) {
	length := len(invList)
	if length > wire.MaxInvPerMsg {
		s.bans.addBanScore(p, 20, 0, "too many getdata entries")
		return
	}
	// A decaying ban score increase is applied to prevent exhausting
	// resources with unusually large inventory queries.
	if length > 1 && s.bans.addBanScore(p, 0,
		uint32(length)*99/wire.MaxInvPerMsg, "getdata") {

		return
	}

	for _, iv := range invList {
		var msg wire.Message
		switch iv.Type {
		case mnwire.InvTypeMNAnnounce:
			if mnb, ok := s.mnodes.SeenBroadcast(&iv.Hash); ok {
				msg = mnb
			}
		case mnwire.InvTypeMNPing:
			if mnp, ok := s.mnodes.SeenPing(&iv.Hash); ok {
				msg = mnp
			}
		case mnwire.InvTypeMNWinner:
			if vote, ok := s.payments.VoteByHash(&iv.Hash); ok {
				msg = vote
			}
		}
		if msg == nil {
			srvrLog.Tracef("Unable to serve %v to %s", iv, p.Addr())
			continue
		}
		p.QueueMessage(msg, nil)
	}
}

// rewardTx returns the transaction of block carrying the masternode
// payment.
func (s *server) rewardTx(block *wire.MsgBlock, height int32) (*wire.MsgTx, bool) {
	idx := 0
	if height > s.params.LastPoWBlock {
		idx = 1
	}
	if len(block.Transactions) <= idx {
		return nil, false
	}
	return block.Transactions[idx], true
}

// BlockConnected extends the chain view with the block connected at
// height, records the payment it made and casts the vote of the local
// masternode for an upcoming block.
func (s *server) BlockConnected(block *wire.MsgBlock, height int32) error {
	if err := s.chain.connectBlock(block, height); err != nil {
		return err
	}
	if s.cfg.LiteMode {
		return nil
	}

	if tx, ok := s.rewardTx(block, height); ok {
		err := s.payments.RecordBlockPayment(height,
			block.Header.Timestamp.Unix(), tx)
		if err != nil {
			srvrLog.Errorf("Unable to record payment of block %d: %v",
				height, err)
		}
	}

	if s.syncMgr.IsBlockchainSynced() {
		s.payments.ProcessBlock(height + mnparams.ProcessBlockLookahead)
	}
	return nil
}

// BlockDisconnected removes the tip block from the chain view.
func (s *server) BlockDisconnected(block *wire.MsgBlock) error {
	return s.chain.disconnectBlock(block)
}

// FillBlockPayee adds the masternode payment to the reward transaction of
// a block template at height.
func (s *server) FillBlockPayee(tx *wire.MsgTx, height int32, proofOfStake bool) bool {
	if s.cfg.LiteMode {
		return false
	}
	return s.payments.FillBlockPayee(tx, height, proofOfStake)
}

// IsBlockPayeeValid returns whether the block at height pays the elected
// masternode.
func (s *server) IsBlockPayeeValid(block *wire.MsgBlock, height int32) bool {
	if s.cfg.LiteMode {
		return true
	}
	return s.payments.IsBlockPayeeValid(block, height)
}

// IsSynced returns whether the masternode data is complete.
func (s *server) IsSynced() bool {
	return s.syncMgr.IsSynced()
}

// StartMasternode announces the masternode of masternode.conf with the
// given alias using the collateral held by the local wallet.
func (s *server) StartMasternode(alias string) error {
	entry, ok := s.mnConf.Find(alias)
	if !ok {
		return fmt.Errorf("no masternode with alias %q in %s", alias,
			s.cfg.MNConf)
	}
	return s.activeMN.Register(entry)
}

// metricsHandler returns the handler serving the prometheus metrics.
func (s *server) metricsHandler() (http.Handler, error) {
	return mnmetrics.Handler(s.metrics)
}
