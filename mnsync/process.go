// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnsync

import (
	"github.com/mnsuite/mnd/mnode"
	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnwire"
)

// Process advances the state machine.  It is expected to be called once a
// second and only does work every SyncTimeout calls.
func (s *SyncManager) Process() {
	s.mtx.Lock()
	finished := s.process()
	s.mtx.Unlock()

	if finished && s.cfg.OnSynced != nil {
		s.cfg.OnSynced()
	}
}

// process advances the state machine and reports whether the last stage
// completed.  The caller must hold the lock.
func (s *SyncManager) process() bool {
	tick := s.tick
	s.tick++
	if tick%mnparams.SyncTimeout != 0 {
		return false
	}

	now := s.now()
	if s.resetPending.Swap(false) {
		s.reset(now)
	}

	switch s.stage.Load() {
	case mnwire.SyncFinished:
		// Losing every node means the list has to be fetched again.
		if s.cfg.Registry.CountEnabled(0) != 0 {
			return false
		}
		log.Infof("No enabled masternodes, restarting sync")
		s.reset(now)

	case mnwire.SyncFailed:
		if s.lastFailure+mnparams.FailureRetrySeconds >= now {
			return false
		}
		log.Infof("Retrying sync after failure")
		s.reset(now)
	}

	if s.stage.Load() == mnwire.SyncInitial {
		s.getNextAsset(now)
	}

	regTest := s.cfg.Params.IsRegTest()
	if !regTest && s.stage.Load() > mnwire.SyncSporks &&
		!s.IsBlockchainSynced() {

		return false
	}

	peers := s.cfg.Peers.ConnectedPeers()
	if regTest {
		if len(peers) == 0 {
			return false
		}
		return s.processRegTest(peers[0], now)
	}

	if s.checkStageTimeout(now) {
		return s.stage.Load() == mnwire.SyncFinished
	}

	for _, p := range peers {
		if s.requestFrom(p) {
			break
		}
	}
	return false
}

// processRegTest walks the stages on a fixed schedule against a single
// peer so test networks with few nodes sync quickly.
func (s *SyncManager) processRegTest(p mnpeer.Peer, now int64) bool {
	defer func() { s.attempt++ }()

	switch {
	case s.attempt <= 2:
		p.QueueMessage(&mnwire.MsgGetSporks{}, nil)
	case s.attempt < 4:
		s.cfg.Registry.DsegUpdate(p)
	case s.attempt < 6:
		count := s.cfg.Registry.CountEnabled(0)
		p.QueueMessage(mnwire.NewMsgMNGet(int32(count)), nil)
		p.QueueMessage(&mnwire.MsgBudgetVoteSync{}, nil)
	default:
		s.stage.Store(mnwire.SyncFinished)
		log.Infof("Masternode sync finished")
		return true
	}
	return false
}

// itemProgress returns when the last item of the stage arrived and the
// number and sum of the status counts peers reported for it.
func (s *SyncManager) itemProgress(stage int32) (last int64, reports int, sum int32) {
	s.itemMtx.Lock()
	defer s.itemMtx.Unlock()

	switch stage {
	case mnwire.SyncList:
		return s.lastList, s.countList, s.sumList
	case mnwire.SyncMNW:
		return s.lastWinner, s.countWinner, s.sumWinner
	case mnwire.SyncBudget:
		return s.lastBudget, s.countBudgetProp + s.countBudgetFin,
			s.sumBudgetProp + s.sumBudgetFin
	}
	return 0, 0, 0
}

// checkStageTimeout advances or fails a data stage that stopped making
// progress.  It returns whether the stage changed.
//
// A stage completes once items stopped arriving for two timeouts, or once
// enough peers were asked and all of them reported having nothing.  A
// stage which never received anything either fails, when payments are
// enforced and the data is mandatory, or is skipped.
func (s *SyncManager) checkStageTimeout(now int64) bool {
	stage := s.stage.Load()

	// Few connected peers must not hold the sync in the spork stage.
	if stage == mnwire.SyncSporks {
		if s.attempt > 0 && now-s.assetSyncStarted > mnparams.SyncTimeout*5 {
			s.advance(now)
			return true
		}
		return false
	}
	if stage != mnwire.SyncList && stage != mnwire.SyncMNW &&
		stage != mnwire.SyncBudget {

		return false
	}

	last, reports, sum := s.itemProgress(stage)
	if last > 0 && last < now-mnparams.SyncTimeout*2 &&
		s.attempt >= mnparams.SyncThreshold {

		s.advance(now)
		return true
	}
	if reports > 0 && sum == 0 && s.attempt >= mnparams.SyncThreshold {
		log.Debugf("Peers reported no items for stage %d", stage)
		s.advance(now)
		return true
	}
	if last == 0 && (s.attempt >= mnparams.SyncThreshold*3 ||
		now-s.assetSyncStarted > mnparams.SyncTimeout*5) {

		if stage != mnwire.SyncBudget &&
			s.cfg.Sporks.IsActive(mnparams.SporkPaymentEnforcement) {

			log.Warnf("Masternode sync failed in stage %d, will retry",
				stage)
			s.stage.Store(mnwire.SyncFailed)
			s.attempt = 0
			s.lastFailure = now
			s.failures++
			return true
		}
		s.advance(now)
		return true
	}
	return false
}

// advance moves to the next stage, logging the stage change.
func (s *SyncManager) advance(now int64) {
	s.getNextAsset(now)
	log.Infof("%s", s.GetSyncStatus())
}

// requestFrom asks p for the data of the current stage unless it was
// already asked.  It returns whether a request was sent, which ends the
// round.
func (s *SyncManager) requestFrom(p mnpeer.Peer) bool {
	id := p.ID()
	switch s.stage.Load() {
	case mnwire.SyncSporks:
		if s.fulfilled.Has(id, mnpeer.RequestGetSporks) {
			return false
		}
		s.fulfilled.Add(id, mnpeer.RequestGetSporks)
		p.QueueMessage(&mnwire.MsgGetSporks{}, nil)
		s.attempt++
		if s.attempt > mnparams.SyncThreshold {
			s.advance(s.now())
		}
		return true

	case mnwire.SyncList:
		if !s.askPeer(p, mnpeer.RequestList) {
			return false
		}
		s.cfg.Registry.DsegUpdate(p)
		s.attempt++
		return true

	case mnwire.SyncMNW:
		if !s.askPeer(p, mnpeer.RequestWinners) {
			return false
		}
		count := s.cfg.Registry.CountEnabled(0)
		p.QueueMessage(mnwire.NewMsgMNGet(int32(count)), nil)
		s.attempt++
		return true

	case mnwire.SyncBudget:
		if !s.askPeer(p, mnpeer.RequestBudget) {
			return false
		}
		p.QueueMessage(&mnwire.MsgBudgetVoteSync{}, nil)
		s.attempt++
		return true
	}
	return false
}

// askPeer reports whether p should be asked for the named data now and
// marks it as asked.
func (s *SyncManager) askPeer(p mnpeer.Peer, name string) bool {
	if p.ProtocolVersion() < mnode.MinPaymentsProto(s.cfg.Sporks) {
		return false
	}
	if s.fulfilled.Has(p.ID(), name) {
		return false
	}
	if s.attempt >= mnparams.SyncThreshold*3 {
		return false
	}
	s.fulfilled.Add(p.ID(), name)
	return true
}

// getNextAsset moves to the stage after the current one.  The caller must
// hold the lock.
func (s *SyncManager) getNextAsset(now int64) {
	switch s.stage.Load() {
	case mnwire.SyncInitial, mnwire.SyncFailed:
		s.ClearFulfilledRequest()
		s.stage.Store(mnwire.SyncSporks)
	case mnwire.SyncSporks:
		s.stage.Store(mnwire.SyncList)
	case mnwire.SyncList:
		s.stage.Store(mnwire.SyncMNW)
	case mnwire.SyncMNW:
		s.stage.Store(mnwire.SyncBudget)
	case mnwire.SyncBudget:
		s.stage.Store(mnwire.SyncFinished)
		log.Infof("Masternode sync finished")
	}
	s.attempt = 0
	s.assetSyncStarted = now
}
