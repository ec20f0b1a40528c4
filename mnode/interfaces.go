// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnode

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnparams"
)

// Chain provides the views of the best chain needed by the masternode
// subsystems.  Every method must return promptly: implementations that
// guard their state with a lock should try-lock and report !ok instead of
// blocking, and callers simply retry on a later tick.
type Chain interface {
	// TipHeight returns the height of the best block.
	TipHeight() (int32, bool)

	// BlockHash returns the hash of the main chain block at height.
	BlockHash(height int32) (chainhash.Hash, bool)

	// BlockHeight returns the height of the main chain block with the
	// given hash.
	BlockHeight(hash *chainhash.Hash) (int32, bool)

	// BlockTime returns the timestamp of the main chain block at height.
	BlockTime(height int32) (int64, bool)
}

// Sporks reports the state of network-wide feature switches.
type Sporks interface {
	IsActive(id mnparams.SporkID) bool
}

// CollateralEntry describes an unspent collateral candidate.
type CollateralEntry struct {
	TxOut *wire.TxOut

	// Height is the height of the block that mined the output, or zero
	// while it is unconfirmed.
	Height int32
}

// CollateralView looks up unspent outputs.
type CollateralView interface {
	// FetchCollateral returns the unspent output referenced by op, or nil
	// when it is spent or unknown.  The boolean is false when the view
	// could not be consulted right now.
	FetchCollateral(op wire.OutPoint) (*CollateralEntry, bool)
}

// TimeSource provides the network adjusted time.  It is satisfied by the
// median time source used for block validation.
type TimeSource interface {
	AdjustedTime() time.Time
}

// SyncNotifier receives item notifications used by the sync state machine
// to detect progress.  Implementations must not call back into the
// registry.
type SyncNotifier interface {
	AddedMasternodeList(hash chainhash.Hash)
	ForgetMasternodeList(hash chainhash.Hash)
	IsBlockchainSynced() bool
}

// LocalMasternode exposes the identity of the local masternode, if any, and
// receives remote activations of the local operator key.  Implementations
// must not call back into the registry from these methods.
type LocalMasternode interface {
	// LocalIdentity returns the collateral and operator key of the local
	// masternode once it has been activated.
	LocalIdentity() (vin wire.OutPoint, pubKeyMasternode []byte, ok bool)

	// PubKeyMasternode returns the configured operator key.
	PubKeyMasternode() []byte

	// EnableHotColdMasterNode is invoked when a broadcast signed for the
	// local operator key is accepted.
	EnableHotColdMasterNode(vin wire.OutPoint, addr string) bool
}

// PaymentOracle answers payment history questions for the payment queue.
// It is consulted without the registry lock held.
type PaymentOracle interface {
	// IsScheduled returns whether the payee is already elected for a
	// block near the tip other than notHeight.
	IsScheduled(payee []byte, notHeight int32) bool

	// LastPaid returns the time the payee was last paid, or zero.
	LastPaid(payee []byte, tipHeight int32, depth int) int64
}

// MinPaymentsProto returns the minimum protocol version eligible for
// payments given the current feature switches.
func MinPaymentsProto(sporks Sporks) uint32 {
	if sporks != nil && sporks.IsActive(mnparams.SporkPayUpdatedNodes) {
		return mnparams.MinPeerProtoAfterEnforcement
	}
	return mnparams.MinPeerProtoBeforeEnforcement
}
