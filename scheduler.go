// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"time"

	"github.com/mnsuite/mnd/mnparams"
)

// maintenanceSeconds is the interval between expirations of stale
// masternodes and payment votes.
const maintenanceSeconds = 60

// runScheduler drives the periodic work of the masternode subsystems once
// per second until ctx is canceled.  Ticks missed while a step is running
// are dropped.
func (s *server) runScheduler(ctx context.Context) error {
	if s.cfg.LiteMode {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var tick int64
	for {
		select {
		case <-ticker.C:
			tick++
			s.schedulerTick(tick)

		case <-ctx.Done():
			srvrLog.Debugf("Scheduler stopped after %d ticks", tick)
			return nil
		}
	}
}

// schedulerTick runs the work due at the given tick.  Every step only
// try-locks the chain so a busy host delays it to a later tick.
func (s *server) schedulerTick(tick int64) {
	s.syncMgr.Process()

	if !s.syncMgr.IsBlockchainSynced() {
		return
	}

	// Check if we should activate or ping every few minutes, starting
	// right after the chain is synced.
	if tick%mnparams.PingSeconds == 1 {
		s.activeMN.ManageStatus()
	}

	if tick%maintenanceSeconds == 0 {
		s.mnodes.CheckAndRemove(false)
		s.payments.CleanPaymentList()
	}

	if tick%mnparams.DumpSeconds == 0 {
		s.dumpCaches()
	}
}
