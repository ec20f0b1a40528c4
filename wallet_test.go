// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func ipNet(s string) *net.IPNet {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestLocalAddress(t *testing.T) {
	n := newLocalNetwork("51476")

	n.interfaceAddrs = func() ([]net.Addr, error) {
		return []net.Addr{
			ipNet("127.0.0.1/8"),
			ipNet("192.168.1.7/24"),
			ipNet("fe80::1/64"),
			&net.TCPAddr{IP: net.ParseIP("9.9.9.9")},
			ipNet("8.8.8.8/24"),
			ipNet("1.1.1.1/24"),
		}, nil
	}
	addr, ok := n.LocalAddress()
	require.True(t, ok)
	require.Equal(t, "8.8.8.8:51476", addr)

	n.interfaceAddrs = func() ([]net.Addr, error) {
		return []net.Addr{ipNet("10.0.0.1/8"), ipNet("::1/128")}, nil
	}
	_, ok = n.LocalAddress()
	require.False(t, ok)

	n.interfaceAddrs = func() ([]net.Addr, error) {
		return nil, errors.New("no interfaces")
	}
	_, ok = n.LocalAddress()
	require.False(t, ok)
}

func TestCheckInbound(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	n := newLocalNetwork("51476")
	require.NoError(t, n.CheckInbound(addr))
	<-accepted

	require.NoError(t, l.Close())
	require.Error(t, n.CheckInbound(addr))
}

func TestHotWallet(t *testing.T) {
	var w hotWallet
	require.False(t, w.IsLocked())
	require.Zero(t, w.Balance())
	require.Empty(t, w.AvailableCoins())
	_, ok := w.PrivKeyFor([]byte{0x51})
	require.False(t, ok)
}
