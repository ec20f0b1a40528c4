// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnwire"
)

// ActiveState is the cached liveness state of a masternode.
type ActiveState int32

// Liveness states.  Only StatePreEnabled, StateEnabled and StateExpired are
// reachable from the timers alone; the spent states are sticky.
const (
	StatePreEnabled ActiveState = iota
	StateEnabled
	StateExpired
	StateOutpointSpent
	StateRemove
	StateWatchdogExpired
	StatePoSeBan
	StateVinSpent
	StatePoSError
)

var activeStateStrings = map[ActiveState]string{
	StatePreEnabled:      "PRE_ENABLED",
	StateEnabled:         "ENABLED",
	StateExpired:         "EXPIRED",
	StateOutpointSpent:   "OUTPOINT_SPENT",
	StateRemove:          "REMOVE",
	StateWatchdogExpired: "WATCHDOG_EXPIRED",
	StatePoSeBan:         "POSE_BAN",
	StateVinSpent:        "VIN_SPENT",
	StatePoSError:        "POS_ERROR",
}

// String returns the ActiveState in human-readable form.
func (s ActiveState) String() string {
	if str, ok := activeStateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown ActiveState (%d)", int32(s))
}

// isSpent reports whether the state records a spent collateral.
func (s ActiveState) isSpent() bool {
	return s == StateVinSpent || s == StateOutpointSpent
}

// Masternode is the runtime state kept for each announced node.  Values
// handed out by the Manager are copies; mutate the registry only through
// its methods.
type Masternode struct {
	mnwire.Identity

	LastPing    mnwire.MsgMNPing
	ActiveState ActiveState

	// CacheInputAge is the collateral confirmation count observed at
	// height CacheInputAgeBlock.
	CacheInputAge      int32
	CacheInputAgeBlock int32

	LastDsq                      int64
	ScanningErrorCount           int32
	LastScanningErrorBlockHeight int32

	// lastTimeChecked is the time of the last collateral lookup.
	lastTimeChecked int64
}

// NewMasternode creates the runtime state of a freshly accepted broadcast.
func NewMasternode(mnb *mnwire.MsgMNBroadcast) *Masternode {
	return &Masternode{
		Identity:    mnb.Identity.Copy(),
		LastPing:    mnb.LastPing.Copy(),
		ActiveState: StateEnabled,
		LastDsq:     mnb.LastDsq,
	}
}

// Broadcast returns the announcement describing the node.
func (mn *Masternode) Broadcast() *mnwire.MsgMNBroadcast {
	return &mnwire.MsgMNBroadcast{
		Identity: mn.Identity.Copy(),
		LastPing: mn.LastPing.Copy(),
		LastDsq:  mn.LastDsq,
	}
}

// BroadcastHash returns the identity hash of the node's announcement.
func (mn *Masternode) BroadcastHash() chainhash.Hash {
	return mnwire.BroadcastHash(mn.SigTime, mn.PubKeyCollateral)
}

// copy returns a deep copy of the record.
func (mn *Masternode) copy() Masternode {
	c := *mn
	c.Identity = mn.Identity.Copy()
	c.LastPing = mn.LastPing.Copy()
	return c
}

// IsEnabled returns whether the node is eligible for ranking and payment.
func (mn *Masternode) IsEnabled() bool {
	return mn.ActiveState == StateEnabled
}

// Status returns the liveness state as displayed to users.
func (mn *Masternode) Status() string {
	return mn.ActiveState.String()
}

// IsPingedWithin returns whether the last ping was signed less than
// seconds before now.
func (mn *Masternode) IsPingedWithin(seconds, now int64) bool {
	if mn.LastPing.IsEmpty() {
		return false
	}
	return now-mn.LastPing.SigTime < seconds
}

// IsBroadcastedWithin returns whether the announcement was signed less than
// seconds before now.
func (mn *Masternode) IsBroadcastedWithin(seconds, now int64) bool {
	return now-mn.SigTime < seconds
}

// timedState derives the liveness state from the timestamps alone.
func (mn *Masternode) timedState(now int64) ActiveState {
	if mn.LastPing.IsEmpty() {
		if mn.IsBroadcastedWithin(mnparams.MinMNPSeconds, now) {
			return StatePreEnabled
		}
		return StateRemove
	}
	if !mn.IsPingedWithin(mnparams.RemovalSeconds, now) {
		return StateRemove
	}
	if !mn.IsPingedWithin(mnparams.ExpirationSeconds, now) {
		return StateExpired
	}
	if mn.LastPing.SigTime-mn.SigTime < mnparams.MinMNPSeconds {
		return StatePreEnabled
	}
	return StateEnabled
}

// check re-evaluates the liveness state.  The collateral is looked up at
// most once every CheckSeconds unless force is set, and a busy view leaves
// the previous verdict in place.
func (mn *Masternode) check(now int64, view CollateralView, force bool) {
	if mn.ActiveState.isSpent() {
		return
	}

	state := mn.timedState(now)
	if state != StateEnabled {
		mn.ActiveState = state
		return
	}

	if view == nil || (!force && now-mn.lastTimeChecked < mnparams.CheckSeconds) {
		mn.ActiveState = state
		return
	}
	entry, ok := view.FetchCollateral(mn.Vin)
	if !ok {
		return
	}
	mn.lastTimeChecked = now
	if entry == nil || entry.TxOut == nil || entry.TxOut.Value != mnparams.Collateral {
		log.Debugf("Collateral of masternode %v is spent", mn.Vin)
		mn.ActiveState = StateVinSpent
		return
	}
	mn.ActiveState = StateEnabled
}

// paymentOffset is a deterministic per-node value used to spread nodes that
// share the same payment history.
func (mn *Masternode) paymentOffset() chainhash.Hash {
	var buf [chainhash.HashSize + 4 + 8]byte
	copy(buf[:], mn.Vin.Hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], mn.Vin.Index)
	binary.LittleEndian.PutUint64(buf[chainhash.HashSize+4:], uint64(mn.SigTime))
	return chainhash.DoubleHashH(buf[:])
}

// secondsSincePayment returns how long ago the node was paid given the time
// of its last payment.  Nodes never paid within a month get a deterministic
// value above a month so they sort ahead of every recently paid node.
func (mn *Masternode) secondsSincePayment(now, lastPaid int64) int64 {
	const month = 60 * 60 * 24 * 30
	if lastPaid > 0 {
		sec := now - lastPaid
		if sec < month {
			return sec
		}
	}
	h := mn.paymentOffset()
	return month + int64(binary.LittleEndian.Uint32(h[:4]))
}

// lastPaidOffset spreads the payment time of nodes paid in the same block.
func (mn *Masternode) lastPaidOffset() int64 {
	h := mn.paymentOffset()
	return int64(binary.LittleEndian.Uint64(h[:8]) % 150)
}

// serialize writes the record for the on-disk cache.
func (mn *Masternode) serialize(w io.Writer) error {
	if err := mn.Broadcast().BtcEncode(w, 0, wire.BaseEncoding); err != nil {
		return err
	}
	for _, v := range []int32{int32(mn.ActiveState), mn.CacheInputAge,
		mn.CacheInputAgeBlock, mn.ScanningErrorCount,
		mn.LastScanningErrorBlockHeight} {

		if err := mnwire.WriteUint32(w, uint32(v)); err != nil {
			return err
		}
	}
	return nil
}

// deserialize reads a record written by serialize.
func (mn *Masternode) deserialize(r io.Reader) error {
	var mnb mnwire.MsgMNBroadcast
	if err := mnb.BtcDecode(r, 0, wire.BaseEncoding); err != nil {
		return err
	}
	mn.Identity = mnb.Identity
	mn.LastPing = mnb.LastPing
	mn.LastDsq = mnb.LastDsq
	fields := []*int32{(*int32)(&mn.ActiveState), &mn.CacheInputAge,
		&mn.CacheInputAgeBlock, &mn.ScanningErrorCount,
		&mn.LastScanningErrorBlockHeight}
	for _, f := range fields {
		v, err := mnwire.ReadUint32(r)
		if err != nil {
			return err
		}
		*f = int32(v)
	}
	return nil
}

// updateFromNewBroadcast replaces the announced fields with those of a
// newer broadcast for the same collateral.
func (mn *Masternode) updateFromNewBroadcast(mnb *mnwire.MsgMNBroadcast) {
	mn.Addr = mnb.Addr
	mn.PubKeyCollateral = append([]byte(nil), mnb.PubKeyCollateral...)
	mn.PubKeyMasternode = append([]byte(nil), mnb.PubKeyMasternode...)
	mn.Sig = append([]byte(nil), mnb.Sig...)
	mn.SigTime = mnb.SigTime
	mn.ProtocolVersion = mnb.ProtocolVersion
	if !mnb.LastPing.IsEmpty() {
		mn.LastPing = mnb.LastPing.Copy()
	}
	mn.lastTimeChecked = 0
}
