// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnsync

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mnsuite/mnd/mnode"
	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnwire"
)

// Registry is the view of the masternode registry used while syncing.  It
// is implemented by *mnode.Manager.
type Registry interface {
	CountEnabled(protocolVersion uint32) int
	DsegUpdate(p mnpeer.Peer)
}

// Config is a descriptor containing the sync manager configuration.
type Config struct {
	// Params identifies the network.
	Params *mnparams.Params

	// Chain provides access to the best chain.
	Chain mnode.Chain

	// Sporks reports network feature switches.
	Sporks mnode.Sporks

	// TimeSource provides the current time.
	TimeSource mnode.TimeSource

	// Peers enumerates the connected peers data is requested from.
	Peers mnpeer.PeerSet

	// Registry is asked for the masternode list.
	Registry Registry

	// OnSynced is invoked without locks held when the last stage
	// completes.
	OnSynced func()
}

// SyncManager drives a joining node through the staged download of the
// masternode data: sporks, the masternode list, the payment votes and the
// budget.  Each stage requests data from the connected peers and advances
// once no new items arrived for a while.
//
// Lock order: the manager lock is taken before the registry and ledger
// locks.  The item notifications called by those subsystems only take the
// item lock, which is a leaf.
type SyncManager struct {
	cfg Config

	// stage mirrors the current stage for lock free readers.
	stage        atomic.Int32
	chainSynced  atomic.Bool
	lastChainRun atomic.Int64
	resetPending atomic.Bool

	fulfilled mnpeer.FulfilledRequests

	mtx              sync.Mutex
	tick             int64
	attempt          int
	assetSyncStarted int64
	lastFailure      int64
	failures         int
	sumList          int32
	sumWinner        int32
	sumBudgetProp    int32
	sumBudgetFin     int32
	countList        int
	countWinner      int
	countBudgetProp  int
	countBudgetFin   int

	itemMtx        sync.Mutex
	lastList       int64
	lastWinner     int64
	lastBudget     int64
	seenSyncList   map[chainhash.Hash]int
	seenSyncWinner map[chainhash.Hash]int
	seenSyncBudget map[chainhash.Hash]int
}

// New returns a sync manager in the initial stage.
func New(cfg *Config) *SyncManager {
	s := &SyncManager{cfg: *cfg}
	now := s.now()
	s.lastChainRun.Store(now)
	s.reset(now)
	return s
}

func (s *SyncManager) now() int64 {
	return s.cfg.TimeSource.AdjustedTime().Unix()
}

// Reset restarts the sync from the initial stage.
func (s *SyncManager) Reset() {
	s.mtx.Lock()
	s.reset(s.now())
	s.mtx.Unlock()
}

// reset restarts the sync.  The caller must hold the lock.
func (s *SyncManager) reset(now int64) {
	s.itemMtx.Lock()
	s.lastList = 0
	s.lastWinner = 0
	s.lastBudget = 0
	s.seenSyncList = make(map[chainhash.Hash]int)
	s.seenSyncWinner = make(map[chainhash.Hash]int)
	s.seenSyncBudget = make(map[chainhash.Hash]int)
	s.itemMtx.Unlock()

	s.lastFailure = 0
	s.failures = 0
	s.sumList, s.sumWinner, s.sumBudgetProp, s.sumBudgetFin = 0, 0, 0, 0
	s.countList, s.countWinner, s.countBudgetProp, s.countBudgetFin = 0, 0, 0, 0
	s.stage.Store(mnwire.SyncInitial)
	s.attempt = 0
	s.assetSyncStarted = now
}

// Stage returns the current stage.
func (s *SyncManager) Stage() int32 {
	return s.stage.Load()
}

// IsSynced returns whether every stage completed.
func (s *SyncManager) IsSynced() bool {
	return s.stage.Load() == mnwire.SyncFinished
}

// IsMasternodeListSynced returns whether the masternode list stage
// completed.
func (s *SyncManager) IsMasternodeListSynced() bool {
	stage := s.stage.Load()
	return stage > mnwire.SyncList && stage != mnwire.SyncFailed
}

// IsBlockchainSynced returns whether the best chain is recent enough for
// the masternode data to be trusted.  Once the chain is found to be
// recent the answer is latched until the tip falls more than
// ChainStaleSeconds behind or the process was suspended, either of which
// restarts the sync on the next Process.
//
// It does not take the manager lock so it may be called from the registry.
func (s *SyncManager) IsBlockchainSynced() bool {
	now := s.now()
	if last := s.lastChainRun.Swap(now); now-last > mnparams.SleepResetSeconds {
		log.Infof("No activity for %d seconds, restarting sync", now-last)
		s.chainSynced.Store(false)
		s.resetPending.Store(true)
	}

	tip, ok := s.cfg.Chain.TipHeight()
	if !ok {
		return s.chainSynced.Load()
	}
	tipTime, ok := s.cfg.Chain.BlockTime(tip)
	if !ok {
		return s.chainSynced.Load()
	}
	if tipTime+mnparams.ChainStaleSeconds < now {
		if s.chainSynced.Swap(false) {
			log.Infof("Best chain is stale, restarting sync")
			s.resetPending.Store(true)
		}
		return false
	}
	s.chainSynced.Store(true)
	return true
}

// GetSyncStatus returns a human readable description of the stage.
func (s *SyncManager) GetSyncStatus() string {
	switch s.stage.Load() {
	case mnwire.SyncInitial:
		return "Synchronization pending..."
	case mnwire.SyncSporks:
		return "Synchronizing sporks..."
	case mnwire.SyncList:
		return "Synchronizing masternodes..."
	case mnwire.SyncMNW:
		return "Synchronizing masternode winners..."
	case mnwire.SyncBudget:
		return "Synchronizing budgets..."
	case mnwire.SyncFailed:
		return "Synchronization failed"
	case mnwire.SyncFinished:
		return "Synchronization finished"
	}
	return ""
}

// Status is a snapshot of the sync progress.
type Status struct {
	Stage    int32
	Attempt  int
	Failures int
}

// Status returns a snapshot of the sync progress.
func (s *SyncManager) Status() Status {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return Status{
		Stage:    s.stage.Load(),
		Attempt:  s.attempt,
		Failures: s.failures,
	}
}

// String returns a summary of the sync progress.
func (s *SyncManager) String() string {
	st := s.Status()
	return fmt.Sprintf("stage %d, attempt %d, failures %d", st.Stage,
		st.Attempt, st.Failures)
}

// added counts a notification of an item.  Every item counts towards
// progress until it was seen SyncThreshold times.
func (s *SyncManager) added(seen map[chainhash.Hash]int, last *int64, hash chainhash.Hash) {
	s.itemMtx.Lock()
	if seen[hash] < mnparams.SyncThreshold {
		*last = s.now()
		seen[hash]++
	}
	s.itemMtx.Unlock()
}

// AddedMasternodeList records that a masternode broadcast was received.
func (s *SyncManager) AddedMasternodeList(hash chainhash.Hash) {
	s.added(s.seenSyncList, &s.lastList, hash)
}

// AddedMasternodeWinner records that a payment vote was received.
func (s *SyncManager) AddedMasternodeWinner(hash chainhash.Hash) {
	s.added(s.seenSyncWinner, &s.lastWinner, hash)
}

// AddedBudgetItem records that a budget item was received.
func (s *SyncManager) AddedBudgetItem(hash chainhash.Hash) {
	s.added(s.seenSyncBudget, &s.lastBudget, hash)
}

// ForgetMasternodeList forgets a removed broadcast so it counts again when
// received anew.
func (s *SyncManager) ForgetMasternodeList(hash chainhash.Hash) {
	s.itemMtx.Lock()
	delete(s.seenSyncList, hash)
	s.itemMtx.Unlock()
}

// ForgetMasternodeWinner forgets a pruned payment vote.
func (s *SyncManager) ForgetMasternodeWinner(hash chainhash.Hash) {
	s.itemMtx.Lock()
	delete(s.seenSyncWinner, hash)
	s.itemMtx.Unlock()
}

// IsBudgetPropEmpty returns whether peers reported having no budget
// proposals.
func (s *SyncManager) IsBudgetPropEmpty() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.sumBudgetProp == 0 && s.countBudgetProp > 0
}

// IsBudgetFinEmpty returns whether peers reported having no finalized
// budgets.
func (s *SyncManager) IsBudgetFinEmpty() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.sumBudgetFin == 0 && s.countBudgetFin > 0
}

// ProcessMessage handles status count messages reporting how many items a
// peer announced for a stage.
func (s *SyncManager) ProcessMessage(p mnpeer.Peer, msg *mnwire.MsgSyncStatusCount) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	stage := s.stage.Load()
	if stage >= mnwire.SyncFinished {
		return
	}

	switch msg.ItemID {
	case mnwire.SyncList:
		if stage != mnwire.SyncList {
			return
		}
		s.sumList += msg.Count
		s.countList++
	case mnwire.SyncMNW:
		if stage != mnwire.SyncMNW {
			return
		}
		s.sumWinner += msg.Count
		s.countWinner++
	case mnwire.SyncBudgetProp:
		if stage != mnwire.SyncBudget {
			return
		}
		s.sumBudgetProp += msg.Count
		s.countBudgetProp++
	case mnwire.SyncBudgetFin:
		if stage != mnwire.SyncBudget {
			return
		}
		s.sumBudgetFin += msg.Count
		s.countBudgetFin++
	default:
		return
	}
	log.Debugf("Peer %s reported %d items of stage %d", p.Addr(),
		msg.Count, msg.ItemID)
}

// ClearFulfilledRequest forgets which peers were asked for data so every
// stage asks them again.
func (s *SyncManager) ClearFulfilledRequest() {
	for _, name := range []string{mnpeer.RequestGetSporks,
		mnpeer.RequestList, mnpeer.RequestWinners, mnpeer.RequestBudget} {

		s.fulfilled.ClearAll(name)
	}
}

// PeerDisconnected forgets the requests sent to the peer.
func (s *SyncManager) PeerDisconnected(p mnpeer.Peer) {
	s.fulfilled.RemovePeer(p.ID())
}
