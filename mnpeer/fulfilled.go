// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpeer

import (
	"net"
	"sync"
)

// Names of the per-peer requests which may only be served or sent once per
// sync round.
const (
	RequestGetSporks  = "getspork"
	RequestList       = "mnsync"
	RequestWinners    = "mnwsync"
	RequestBudget     = "busync"
	RequestServedMNW  = "mnget"
	RequestServedDseg = "dseg"
)

// FulfilledRequests tracks which named requests have already been handled
// for each peer.
//
// The zero value is ready to use.  It is safe for concurrent access.
type FulfilledRequests struct {
	mtx   sync.Mutex
	peers map[int32]map[string]struct{}
}

// Has returns whether the named request was fulfilled for the peer.
func (f *FulfilledRequests) Has(peerID int32, name string) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	_, ok := f.peers[peerID][name]
	return ok
}

// Add marks the named request as fulfilled for the peer.
func (f *FulfilledRequests) Add(peerID int32, name string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.peers == nil {
		f.peers = make(map[int32]map[string]struct{})
	}
	names, ok := f.peers[peerID]
	if !ok {
		names = make(map[string]struct{})
		f.peers[peerID] = names
	}
	names[name] = struct{}{}
}

// ClearAll forgets the named request for every peer.
func (f *FulfilledRequests) ClearAll(name string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for _, names := range f.peers {
		delete(names, name)
	}
}

// RemovePeer drops all state for a disconnected peer.
func (f *FulfilledRequests) RemovePeer(peerID int32) {
	f.mtx.Lock()
	delete(f.peers, peerID)
	f.mtx.Unlock()
}

// IsPrivateAddr reports whether the host of a host:port (or bare host)
// address is in a private or local range.  Such addresses are never
// gossiped and their owners are exempt from list request rate limits.
func IsPrivateAddr(addr string) bool {
	ip := net.ParseIP(HostOf(addr))
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast()
}

// HostOf returns the host part of addr, or addr itself when it has no port.
func HostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
