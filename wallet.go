// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"net"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/activemn"
	"github.com/mnsuite/mnd/mnpeer"
)

// inboundCheckTimeout bounds the connection attempt used to verify that
// the announced address is reachable.
const inboundCheckTimeout = 5 * time.Second

// hotWallet is the wallet of a daemon which holds no funds.  The local
// masternode is then activated by the broadcast of the remote wallet
// holding its collateral.
type hotWallet struct{}

var _ activemn.Wallet = hotWallet{}

func (hotWallet) IsLocked() bool                              { return false }
func (hotWallet) Balance() btcutil.Amount                     { return 0 }
func (hotWallet) AvailableCoins() []activemn.Coin             { return nil }
func (hotWallet) LockCoin(wire.OutPoint)                      {}
func (hotWallet) UnlockCoin(wire.OutPoint)                    {}
func (hotWallet) PrivKeyFor([]byte) (*btcec.PrivateKey, bool) { return nil, false }

// localNetwork reports the reachability of the daemon from the addresses
// of the local interfaces.
type localNetwork struct {
	port string

	// interfaceAddrs lists the addresses of the local interfaces.
	interfaceAddrs func() ([]net.Addr, error)
	dial           func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func newLocalNetwork(port string) *localNetwork {
	return &localNetwork{
		port:           port,
		interfaceAddrs: net.InterfaceAddrs,
		dial:           net.DialTimeout,
	}
}

// LocalAddress returns the first routable address of the local interfaces
// with the network port.
func (n *localNetwork) LocalAddress() (string, bool) {
	addrs, err := n.interfaceAddrs()
	if err != nil {
		srvrLog.Debugf("Unable to list interface addresses: %v", err)
		return "", false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || !ipNet.IP.IsGlobalUnicast() {
			continue
		}
		addr := net.JoinHostPort(ipNet.IP.String(), n.port)
		if mnpeer.IsPrivateAddr(addr) {
			continue
		}
		return addr, true
	}
	return "", false
}

// CheckInbound connects to addr to verify it accepts connections.
func (n *localNetwork) CheckInbound(addr string) error {
	conn, err := n.dial("tcp", addr, inboundCheckTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
