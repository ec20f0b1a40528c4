// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"sync"

	"github.com/mnsuite/mnd/mnparams"
)

// sporkSet holds the state of the network feature switches.  The host
// node updates it as spork messages are validated.
type sporkSet struct {
	mtx    sync.RWMutex
	active map[mnparams.SporkID]bool
}

// newSporkSet returns the switches initialized from the configuration.
func newSporkSet(cfg *config) *sporkSet {
	return &sporkSet{
		active: map[mnparams.SporkID]bool{
			mnparams.SporkPaymentEnforcement: cfg.EnforcePayments,
			mnparams.SporkPayUpdatedNodes:    cfg.PayUpdatedNodes,
		},
	}
}

// IsActive returns whether the switch is on.
func (s *sporkSet) IsActive(id mnparams.SporkID) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.active[id]
}

// set turns the switch on or off.
func (s *sporkSet) set(id mnparams.SporkID, active bool) {
	s.mtx.Lock()
	if s.active[id] != active {
		srvrLog.Infof("Spork %d is now %v", id, active)
	}
	s.active[id] = active
	s.mtx.Unlock()
}
