// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnsuite/mnd/mnpeer"
)

// TestDynamicBanScore tests dynamicBanScore.
func TestDynamicBanScore(t *testing.T) {
	var bs dynamicBanScore
	base := time.Now()
	require.Zero(t, bs.score(base), "new ban score not zero")

	r := bs.increase(100, 50, base)
	require.EqualValues(t, 150, r, "unexpected result after ban score increase")

	r = bs.score(base.Add(time.Minute))
	require.EqualValues(t, 125, r, "halflife check failed")

	r = bs.score(base.Add(7 * time.Minute))
	require.EqualValues(t, 100, r, "decay after 7m")

	require.Equal(t, fmt.Sprintf("persistent 100 + transient 50.00 at %d",
		base.Unix()), bs.String())

	var decaying dynamicBanScore
	decaying.increase(0, math.MaxUint32, base)
	r = decaying.score(base.Add(lifetime * time.Second))
	// 3, not 4 due to precision loss and truncating 3.999...
	require.EqualValues(t, 3, r, "pre max age check with MaxUint32 failed")
	r = decaying.score(base.Add((lifetime + 1) * time.Second))
	require.Zero(t, r, "zero after max age check failed")
}

func TestBanManager(t *testing.T) {
	now := time.Unix(1500000000, 0)
	var disconnected []int32
	bans := newBanManager(false, func(p mnpeer.Peer) {
		disconnected = append(disconnected, p.ID())
	})
	bans.now = func() time.Time { return now }

	p := newTestPeer(1, "8.8.8.8:51472")
	other := newTestPeer(2, "8.8.4.4:51472")

	// Scores are tracked per peer.
	bans.Misbehaving(p, 60, "bad broadcast")
	bans.Misbehaving(other, 20, "bad ping")
	require.EqualValues(t, 60, bans.scoreOf(1).score(now))
	require.EqualValues(t, 20, bans.scoreOf(2).score(now))

	// Reaching the threshold is still tolerated.
	require.False(t, bans.addBanScore(p, 40, 0, "bad vote"))
	require.False(t, bans.isBanned(p.Addr()))
	require.Empty(t, disconnected)

	// Crossing it bans the host.
	require.True(t, bans.addBanScore(p, 1, 0, "bad vote"))
	require.Equal(t, []int32{1}, disconnected)
	require.True(t, bans.isBanned("8.8.8.8:9999"))
	require.False(t, bans.isBanned(other.Addr()))

	// Transient scores decay.
	require.False(t, bans.addBanScore(other, 0, 80, "getdata"))
	now = now.Add(10 * time.Minute)
	require.EqualValues(t, 20, bans.scoreOf(2).score(now))

	// The ban expires.
	now = now.Add(banDuration)
	require.False(t, bans.isBanned(p.Addr()))

	bans.removePeer(2)
	require.Zero(t, bans.scoreOf(2).score(now))
}

func TestBanManagerDisabled(t *testing.T) {
	bans := newBanManager(true, func(p mnpeer.Peer) {
		t.Fatalf("peer %d disconnected", p.ID())
	})
	p := newTestPeer(1, "8.8.8.8:51472")
	require.False(t, bans.addBanScore(p, 1000, 0, "bad broadcast"))
	require.False(t, bans.isBanned(p.Addr()))
}
