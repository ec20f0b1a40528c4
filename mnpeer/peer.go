// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpeer

import (
	"github.com/btcsuite/btcd/wire"
)

// Peer is the subset of a connected peer used by the masternode
// subsystems.  The queueing methods match those of the btcd peer so it can
// be adapted without wrapping the message plumbing.
type Peer interface {
	ID() int32
	Addr() string
	ProtocolVersion() uint32
	QueueMessage(msg wire.Message, doneChan chan<- struct{})
	QueueInventory(invVect *wire.InvVect)
}

// Misbehaver records protocol misbehavior of peers.
type Misbehaver interface {
	Misbehaving(p Peer, score uint32, reason string)
}

// Relayer announces inventory to all connected peers.
type Relayer interface {
	RelayInventory(invVect *wire.InvVect, data interface{})
}

// PeerSet enumerates the currently connected peers.
type PeerSet interface {
	ConnectedPeers() []Peer
}
