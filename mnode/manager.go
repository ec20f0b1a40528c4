// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnode

import (
	"bytes"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnsign"
	"github.com/mnsuite/mnd/mnwire"
)

// Config is a descriptor containing the registry configuration.
type Config struct {
	// Params identifies the network.
	Params *mnparams.Params

	// Chain provides access to the best chain.
	Chain Chain

	// Sporks reports network feature switches.
	Sporks Sporks

	// Collateral looks up collateral outputs.
	Collateral CollateralView

	// TimeSource provides the adjusted network time.
	TimeSource TimeSource

	// Signer verifies broadcast and ping signatures.
	Signer *mnsign.Signer

	// Relayer announces accepted broadcasts and pings.
	Relayer mnpeer.Relayer

	// Misbehaver penalizes peers sending invalid gossip.
	Misbehaver mnpeer.Misbehaver

	// LiteMode disables processing of all gossip messages.
	LiteMode bool
}

// Manager is the registry of known masternodes.  It owns the node records
// and the bookkeeping used to deduplicate and rate limit gossip.
//
// All exported methods are safe for concurrent access.  The registry lock
// is taken before the leaf locks of its collaborators and is never held
// while calling into the payment ledger or the local masternode.
type Manager struct {
	cfg Config

	// syncNotifier and local are bound after construction since they
	// depend on the registry themselves.
	syncNotifier SyncNotifier
	local        LocalMasternode

	mtx   sync.Mutex
	nodes map[wire.OutPoint]*Masternode

	// Peers (by host) who asked us for the list and when they may ask
	// again.
	askedUsForList map[string]int64

	// Peers (by host) we asked for the list and when we may ask again.
	weAskedForList map[string]int64

	// Nodes we asked a peer to announce and when we may ask again.
	weAskedForEntry map[wire.OutPoint]int64

	seenBroadcasts map[chainhash.Hash]*mnwire.MsgMNBroadcast
	seenPings      map[chainhash.Hash]*mnwire.MsgMNPing

	dsqCount int64

	minWinnerAge int64
}

// New returns a new empty registry.
func New(cfg *Config) *Manager {
	return &Manager{
		cfg:             *cfg,
		nodes:           make(map[wire.OutPoint]*Masternode),
		askedUsForList:  make(map[string]int64),
		weAskedForList:  make(map[string]int64),
		weAskedForEntry: make(map[wire.OutPoint]int64),
		seenBroadcasts:  make(map[chainhash.Hash]*mnwire.MsgMNBroadcast),
		seenPings:       make(map[chainhash.Hash]*mnwire.MsgMNPing),
		minWinnerAge:    mnparams.MinWinnerAge,
	}
}

// SetSyncNotifier binds the sync state machine.  It must be called before
// the registry processes messages.
func (m *Manager) SetSyncNotifier(n SyncNotifier) {
	m.mtx.Lock()
	m.syncNotifier = n
	m.mtx.Unlock()
}

// SetLocalMasternode binds the local masternode controller.
func (m *Manager) SetLocalMasternode(l LocalMasternode) {
	m.mtx.Lock()
	m.local = l
	m.mtx.Unlock()
}

// now returns the adjusted time in seconds.
func (m *Manager) now() int64 {
	return m.cfg.TimeSource.AdjustedTime().Unix()
}

func (m *Manager) enforcingPayments() bool {
	return m.cfg.Sporks != nil &&
		m.cfg.Sporks.IsActive(mnparams.SporkPaymentEnforcement)
}

// MinPaymentsProto returns the protocol floor for payment eligibility.
func (m *Manager) MinPaymentsProto() uint32 {
	return MinPaymentsProto(m.cfg.Sporks)
}

func (m *Manager) notifyAdded(hash chainhash.Hash) {
	if m.syncNotifier != nil {
		m.syncNotifier.AddedMasternodeList(hash)
	}
}

func (m *Manager) notifyForget(hash chainhash.Hash) {
	if m.syncNotifier != nil {
		m.syncNotifier.ForgetMasternodeList(hash)
	}
}

// Add inserts the node unless one with the same collateral is already known
// or the node is not in a live state.  It returns whether the node was
// inserted.
func (m *Manager) Add(mn *Masternode) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.add(mn)
}

func (m *Manager) add(mn *Masternode) bool {
	if mn.ActiveState != StateEnabled && mn.ActiveState != StatePreEnabled {
		return false
	}
	if _, ok := m.nodes[mn.Vin]; ok {
		return false
	}
	log.Debugf("Adding new masternode %v at %s - %d now", mn.Vin, mn.Addr,
		len(m.nodes)+1)
	c := mn.copy()
	m.nodes[mn.Vin] = &c
	return true
}

// Find returns a copy of the node with the given collateral.
func (m *Manager) Find(vin wire.OutPoint) (Masternode, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	mn, ok := m.nodes[vin]
	if !ok {
		return Masternode{}, false
	}
	return mn.copy(), true
}

// FindByPayee returns the node whose collateral key pays to script.
func (m *Manager) FindByPayee(script []byte) (Masternode, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, mn := range m.nodes {
		payee, err := m.cfg.Signer.PayToPubKeyScript(mn.PubKeyCollateral)
		if err == nil && bytes.Equal(payee, script) {
			return mn.copy(), true
		}
	}
	return Masternode{}, false
}

// FindByPubKey returns the node operated with the given key.
func (m *Manager) FindByPubKey(pubKey []byte) (Masternode, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, mn := range m.nodes {
		if bytes.Equal(mn.PubKeyMasternode, pubKey) {
			return mn.copy(), true
		}
	}
	return Masternode{}, false
}

// Remove deletes the node with the given collateral together with every
// broadcast and ping of it remembered for deduplication.
func (m *Manager) Remove(vin wire.OutPoint) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.remove(vin)
}

func (m *Manager) remove(vin wire.OutPoint) {
	if _, ok := m.nodes[vin]; !ok {
		return
	}
	log.Debugf("Removing masternode %v - %d now", vin, len(m.nodes)-1)
	delete(m.nodes, vin)
	m.forgetSeen(vin)
}

// forgetSeen drops every deduplication entry of the node so it can be
// announced again, and allows asking peers for it again.
func (m *Manager) forgetSeen(vin wire.OutPoint) {
	for hash, mnb := range m.seenBroadcasts {
		if mnb.Vin == vin {
			delete(m.seenBroadcasts, hash)
			m.notifyForget(hash)
		}
	}
	for hash, mnp := range m.seenPings {
		if mnp.Vin == vin {
			delete(m.seenPings, hash)
		}
	}
	delete(m.weAskedForEntry, vin)
}

// Clear drops all nodes and bookkeeping.
func (m *Manager) Clear() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.nodes = make(map[wire.OutPoint]*Masternode)
	m.askedUsForList = make(map[string]int64)
	m.weAskedForList = make(map[string]int64)
	m.weAskedForEntry = make(map[wire.OutPoint]int64)
	m.seenBroadcasts = make(map[chainhash.Hash]*mnwire.MsgMNBroadcast)
	m.seenPings = make(map[chainhash.Hash]*mnwire.MsgMNPing)
	m.dsqCount = 0
}

// Size returns the number of known nodes in any state.
func (m *Manager) Size() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.nodes)
}

// Snapshot returns copies of all nodes ordered by collateral outpoint.
func (m *Manager) Snapshot() []Masternode {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	nodes := make([]Masternode, 0, len(m.nodes))
	for _, mn := range m.sortedNodes() {
		nodes = append(nodes, mn.copy())
	}
	return nodes
}

// sortedNodes returns the records ordered by outpoint.  The caller must hold
// the lock.
func (m *Manager) sortedNodes() []*Masternode {
	nodes := make([]*Masternode, 0, len(m.nodes))
	for _, mn := range m.nodes {
		nodes = append(nodes, mn)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return compareOutPoints(&nodes[i].Vin, &nodes[j].Vin) < 0
	})
	return nodes
}

// Check re-evaluates the liveness state of every node.
func (m *Manager) Check() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.checkAll(m.now())
}

func (m *Manager) checkAll(now int64) {
	for _, mn := range m.nodes {
		mn.check(now, m.cfg.Collateral, false)
	}
}

// CheckAndRemove re-evaluates every node and removes those marked for
// removal, with a spent collateral, below the payment protocol floor, and,
// when forceExpired is set, expired ones.  Deduplication and request
// bookkeeping is pruned as well.
func (m *Manager) CheckAndRemove(forceExpired bool) {
	minProto := m.MinPaymentsProto()

	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now()
	m.checkAll(now)

	for vin, mn := range m.nodes {
		if mn.ActiveState == StateRemove || mn.ActiveState.isSpent() ||
			(forceExpired && mn.ActiveState == StateExpired) ||
			mn.ProtocolVersion < minProto {

			log.Debugf("Removing inactive masternode %v (%v) - %d now",
				vin, mn.ActiveState, len(m.nodes)-1)
			delete(m.nodes, vin)
			m.forgetSeen(vin)
		}
	}

	for addr, t := range m.askedUsForList {
		if t < now {
			delete(m.askedUsForList, addr)
		}
	}
	for addr, t := range m.weAskedForList {
		if t < now {
			delete(m.weAskedForList, addr)
		}
	}
	for vin, t := range m.weAskedForEntry {
		if t < now {
			delete(m.weAskedForEntry, vin)
		}
	}

	const seenLifetime = 2 * mnparams.RemovalSeconds
	for hash, mnb := range m.seenBroadcasts {
		if mnb.LastPing.SigTime < now-seenLifetime {
			delete(m.seenBroadcasts, hash)
			m.notifyForget(hash)
		}
	}
	for hash, mnp := range m.seenPings {
		if mnp.SigTime < now-seenLifetime {
			delete(m.seenPings, hash)
		}
	}
}

// CountEnabled returns the number of enabled nodes running at least
// protocolVersion.  A zero version uses the payment protocol floor.
func (m *Manager) CountEnabled(protocolVersion uint32) int {
	if protocolVersion == 0 {
		protocolVersion = m.MinPaymentsProto()
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.countEnabled(protocolVersion, m.now())
}

func (m *Manager) countEnabled(protocolVersion uint32, now int64) int {
	count := 0
	for _, mn := range m.nodes {
		mn.check(now, m.cfg.Collateral, false)
		if mn.ProtocolVersion < protocolVersion || !mn.IsEnabled() {
			continue
		}
		count++
	}
	return count
}

// StableSize returns the number of enabled nodes on the active protocol.
// While payment enforcement is active nodes younger than the minimum winner
// age are not counted.
func (m *Manager) StableSize() int {
	enforce := m.enforcingPayments()

	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now()
	count := 0
	for _, mn := range m.nodes {
		if mn.ProtocolVersion < mnparams.MinPeerProtoAfterEnforcement {
			continue
		}
		if enforce && now-mn.SigTime < m.minWinnerAge {
			continue
		}
		mn.check(now, m.cfg.Collateral, false)
		if !mn.IsEnabled() {
			continue
		}
		count++
	}
	return count
}

// NetworkCounts holds the number of enabled nodes per address family.
type NetworkCounts struct {
	IPv4  int
	IPv6  int
	Onion int
}

// CountNetworks returns the enabled nodes running at least protocolVersion
// broken down by address family.
func (m *Manager) CountNetworks(protocolVersion uint32) NetworkCounts {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now()
	var counts NetworkCounts
	for _, mn := range m.nodes {
		mn.check(now, m.cfg.Collateral, false)
		if mn.ProtocolVersion < protocolVersion || !mn.IsEnabled() {
			continue
		}
		host, _, err := net.SplitHostPort(mn.Addr)
		if err != nil {
			continue
		}
		switch ip := net.ParseIP(host); {
		case strings.HasSuffix(host, ".onion"):
			counts.Onion++
		case ip == nil:
		case ip.To4() != nil:
			counts.IPv4++
		default:
			counts.IPv6++
		}
	}
	return counts
}

// InputAge returns the number of confirmations of the node's collateral.
// The value is cached and advanced with the tip afterwards.
func (m *Manager) InputAge(vin wire.OutPoint) int32 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	mn, ok := m.nodes[vin]
	if !ok {
		return 0
	}
	return m.inputAge(mn)
}

func (m *Manager) inputAge(mn *Masternode) int32 {
	tip, ok := m.cfg.Chain.TipHeight()
	if !ok {
		return 0
	}
	if mn.CacheInputAge == 0 {
		entry, ok := m.cfg.Collateral.FetchCollateral(mn.Vin)
		if !ok || entry == nil || entry.Height <= 0 {
			return 0
		}
		mn.CacheInputAge = tip - entry.Height + 1
		mn.CacheInputAgeBlock = tip
	}
	return mn.CacheInputAge + (tip - mn.CacheInputAgeBlock)
}

// FindRandomNotInVec returns a random enabled node running at least
// protocolVersion whose collateral is not in exclude.
func (m *Manager) FindRandomNotInVec(exclude []wire.OutPoint, protocolVersion uint32) (Masternode, bool) {
	if protocolVersion == 0 {
		protocolVersion = m.MinPaymentsProto()
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	skip := make(map[wire.OutPoint]struct{}, len(exclude))
	for _, vin := range exclude {
		skip[vin] = struct{}{}
	}
	now := m.now()
	var candidates []*Masternode
	for _, mn := range m.sortedNodes() {
		mn.check(now, m.cfg.Collateral, false)
		if mn.ProtocolVersion < protocolVersion || !mn.IsEnabled() {
			continue
		}
		if _, ok := skip[mn.Vin]; ok {
			continue
		}
		candidates = append(candidates, mn)
	}
	if len(candidates) == 0 {
		return Masternode{}, false
	}
	return candidates[rand.Intn(len(candidates))].copy(), true
}

// UpdateMasternodeList inserts or updates the node announced by a locally
// created broadcast.
func (m *Manager) UpdateMasternodeList(mnb *mnwire.MsgMNBroadcast) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	hash := mnb.Hash()
	ping := mnb.LastPing.Copy()
	m.seenPings[ping.Hash()] = &ping
	m.seenBroadcasts[hash] = copyBroadcast(mnb)
	m.notifyAdded(hash)

	log.Debugf("Updating masternode list with %v", mnb.Vin)
	if mn, ok := m.nodes[mnb.Vin]; ok {
		mn.updateFromNewBroadcast(mnb)
		return
	}
	m.add(NewMasternode(mnb))
}

// UpdateLastPing records a ping created by the local masternode and relays
// it.  Pings closer than the ping interval to the previous one are
// rejected.
func (m *Manager) UpdateLastPing(mnp *mnwire.MsgMNPing) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	mn, ok := m.nodes[mnp.Vin]
	if !ok {
		return ruleError(ErrUnknownMasternode, 0,
			"masternode not in the list")
	}
	if mn.IsPingedWithin(mnparams.PingSeconds, mnp.SigTime) {
		return ruleError(ErrPingTooEarly, 0,
			"too early to send masternode ping")
	}
	m.acceptPing(mn, mnp)
	m.relay(mnwire.InvTypeMNPing, mnp.Hash(), mnp)
	return nil
}

// acceptPing attaches the ping to the node and refreshes the ping stored in
// the node's remembered broadcast.  The caller must hold the lock.
func (m *Manager) acceptPing(mn *Masternode, mnp *mnwire.MsgMNPing) {
	ping := mnp.Copy()
	mn.LastPing = ping
	m.seenPings[ping.Hash()] = &ping
	if seen, ok := m.seenBroadcasts[mn.BroadcastHash()]; ok {
		seen.LastPing = ping.Copy()
	}
}

// relay announces an inventory item to all peers.
func (m *Manager) relay(typ wire.InvType, hash chainhash.Hash, data interface{}) {
	if m.cfg.Relayer == nil {
		return
	}
	m.cfg.Relayer.RelayInventory(wire.NewInvVect(typ, &hash), data)
}

// SeenBroadcast returns a remembered broadcast by hash so inventory
// requests can be answered.
func (m *Manager) SeenBroadcast(hash *chainhash.Hash) (*mnwire.MsgMNBroadcast, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	mnb, ok := m.seenBroadcasts[*hash]
	if !ok {
		return nil, false
	}
	return copyBroadcast(mnb), true
}

func copyBroadcast(mnb *mnwire.MsgMNBroadcast) *mnwire.MsgMNBroadcast {
	return &mnwire.MsgMNBroadcast{
		Identity: mnb.Identity.Copy(),
		LastPing: mnb.LastPing.Copy(),
		LastDsq:  mnb.LastDsq,
	}
}

// SeenPing returns a remembered ping by hash.
func (m *Manager) SeenPing(hash *chainhash.Hash) (*mnwire.MsgMNPing, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	mnp, ok := m.seenPings[*hash]
	if !ok {
		return nil, false
	}
	c := mnp.Copy()
	return &c, true
}

// HaveSeenBroadcast reports whether the broadcast hash is known.
func (m *Manager) HaveSeenBroadcast(hash *chainhash.Hash) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	_, ok := m.seenBroadcasts[*hash]
	return ok
}

// HaveSeenPing reports whether the ping hash is known.
func (m *Manager) HaveSeenPing(hash *chainhash.Hash) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	_, ok := m.seenPings[*hash]
	return ok
}

// SeenCounts returns the sizes of the deduplication maps.
func (m *Manager) SeenCounts() (broadcasts, pings int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.seenBroadcasts), len(m.seenPings)
}
