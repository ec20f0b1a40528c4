// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mnsuite/mnd/mnpeer"
)

const (
	// halflife defines the time (in seconds) by which the transient part
	// of the ban score decays to one half of it's original value.
	halflife = 60

	// lambda is the decaying constant.
	lambda = math.Ln2 / halflife

	// lifetime defines the maximum age of the transient part of the ban
	// score to be considered a non-zero score (in seconds).
	lifetime = 1800

	// banThreshold defines the maximum allowed ban score before
	// disconnecting and banning misbehaving peers.
	banThreshold = 100

	// warnThreshold defines the ban score threshold after which warning
	// messages are emitted whenever the peer misbehaves.
	warnThreshold = banThreshold / 2

	// banDuration is how long the host of a banned peer is refused.
	banDuration = 24 * time.Hour
)

// dynamicBanScore provides dynamic ban scores consisting of a persistent and a
// decaying component.  The persistent score is increased for invalid
// masternode gossip while the decaying score handles flooding, such as
// oversized data requests.
//
// Zero value: Values of type dynamicBanScore are immediately ready for use upon
// declaration.
type dynamicBanScore struct {
	mtx        sync.Mutex
	lastUnix   int64
	transient  float64
	persistent uint32
}

// String returns the ban score as a human-readable string.
func (s *dynamicBanScore) String() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return fmt.Sprintf("persistent %d + transient %.2f at %d",
		s.persistent, s.transient, s.lastUnix)
}

// score returns the sum of the persistent and decaying scores at the given
// point in time.
//
// This function is safe for concurrent access.
func (s *dynamicBanScore) score(t time.Time) uint32 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.scoreAt(t.Unix())
}

func (s *dynamicBanScore) scoreAt(now int64) uint32 {
	dt := now - s.lastUnix
	if s.transient < 1 || dt < 0 || dt > lifetime {
		return s.persistent
	}
	return s.persistent + uint32(s.transient*math.Exp(-1.0*float64(dt)*lambda))
}

// increase increases the persistent, the decaying or both scores by the values
// passed as parameters.  The resulting score is calculated as if the action
// was carried out at the point time t.
//
// This function is safe for concurrent access.
func (s *dynamicBanScore) increase(persistent, transient uint32, t time.Time) uint32 {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.persistent += persistent
	now := t.Unix()
	dt := now - s.lastUnix

	if transient > 0 {
		if dt > lifetime {
			s.transient = 0
		} else if s.transient > 1 && dt > 0 {
			s.transient *= math.Exp(-1.0 * float64(dt) * lambda)
		}
		s.transient += float64(transient)
		s.lastUnix = now
	}
	return s.scoreAt(now)
}

// banManager tracks the ban scores of the connected peers and the hosts
// banned for misbehaving.  It implements mnpeer.Misbehaver.
type banManager struct {
	disableBanning bool
	now            func() time.Time

	// disconnect is invoked without the lock held when a peer crosses
	// the ban threshold.
	disconnect func(p mnpeer.Peer)

	mtx    sync.Mutex
	scores map[int32]*dynamicBanScore
	banned map[string]time.Time
}

// newBanManager returns a ban manager which disconnects banned peers with
// the given function.
func newBanManager(disableBanning bool, disconnect func(p mnpeer.Peer)) *banManager {
	return &banManager{
		disableBanning: disableBanning,
		now:            time.Now,
		disconnect:     disconnect,
		scores:         make(map[int32]*dynamicBanScore),
		banned:         make(map[string]time.Time),
	}
}

func (b *banManager) scoreOf(id int32) *dynamicBanScore {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	s, ok := b.scores[id]
	if !ok {
		s = new(dynamicBanScore)
		b.scores[id] = s
	}
	return s
}

// Misbehaving increases the persistent ban score of the peer.
func (b *banManager) Misbehaving(p mnpeer.Peer, score uint32, reason string) {
	b.addBanScore(p, score, 0, reason)
}

// addBanScore increases the persistent and the decaying ban score fields by
// the values passed as parameters.  If the resulting score exceeds half of
// the ban threshold, a warning is logged including the reason provided.
// Further, if the score is above the ban threshold, the peer will be banned
// and disconnected.  It returns whether the peer was banned.
func (b *banManager) addBanScore(p mnpeer.Peer, persistent, transient uint32,
	reason string) bool {

	// No warning is logged and no score is calculated if banning is
	// disabled.
	if b.disableBanning {
		return false
	}

	score := b.scoreOf(p.ID())
	now := b.now()
	warnThresholdReached := score.score(now) > warnThreshold
	if persistent == 0 && transient == 0 {
		// The score is not being increased, but a warning message is
		// still logged if the score is above the warn threshold.
		if warnThresholdReached {
			srvrLog.Warnf("Misbehaving peer %s: %s -- ban score is %d, "+
				"it was not increased this time", p.Addr(), reason,
				score.score(now))
		}
		return false
	}

	current := score.increase(persistent, transient, now)
	if current <= warnThreshold {
		srvrLog.Debugf("Misbehaving peer %s: %s -- ban score increased "+
			"to %d", p.Addr(), reason, current)
		return false
	}
	srvrLog.Warnf("Misbehaving peer %s: %s -- ban score increased to %d "+
		"(%v)", p.Addr(), reason, current, score)
	if current <= banThreshold {
		return false
	}

	host := mnpeer.HostOf(p.Addr())
	srvrLog.Warnf("Misbehaving peer %s -- banning and disconnecting", p.Addr())
	b.mtx.Lock()
	b.banned[host] = now.Add(banDuration)
	b.mtx.Unlock()
	if b.disconnect != nil {
		b.disconnect(p)
	}
	return true
}

// isBanned returns whether connections from the host of addr are refused.
func (b *banManager) isBanned(addr string) bool {
	host := mnpeer.HostOf(addr)
	now := b.now()

	b.mtx.Lock()
	defer b.mtx.Unlock()
	until, ok := b.banned[host]
	if !ok {
		return false
	}
	if now.After(until) {
		srvrLog.Infof("Ban of %s expired", host)
		delete(b.banned, host)
		return false
	}
	return true
}

// removePeer forgets the score of a disconnected peer.  Bans of its host
// are kept.
func (b *banManager) removePeer(id int32) {
	b.mtx.Lock()
	delete(b.scores, id)
	b.mtx.Unlock()
}
