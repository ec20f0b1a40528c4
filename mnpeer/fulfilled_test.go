// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpeer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFulfilledRequests(t *testing.T) {
	var f FulfilledRequests
	require.False(t, f.Has(1, RequestList))

	f.Add(1, RequestList)
	f.Add(1, RequestWinners)
	f.Add(2, RequestList)
	require.True(t, f.Has(1, RequestList))
	require.True(t, f.Has(2, RequestList))
	require.False(t, f.Has(2, RequestWinners))

	f.ClearAll(RequestList)
	require.False(t, f.Has(1, RequestList))
	require.False(t, f.Has(2, RequestList))
	require.True(t, f.Has(1, RequestWinners))

	f.RemovePeer(1)
	require.False(t, f.Has(1, RequestWinners))
}

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.1.2.3:51472", true},
		{"192.168.0.10:51472", true},
		{"172.16.5.4:1", true},
		{"127.0.0.1:51472", true},
		{"[::1]:51472", true},
		{"8.8.8.8:51472", false},
		{"203.0.113.9", false},
		{"not-an-ip:51472", false},
	}
	for _, test := range tests {
		require.Equal(t, test.want, IsPrivateAddr(test.addr), test.addr)
	}
}

func TestHostOf(t *testing.T) {
	require.Equal(t, "8.8.8.8", HostOf("8.8.8.8:51472"))
	require.Equal(t, "::1", HostOf("[::1]:51472"))
	require.Equal(t, "203.0.113.9", HostOf("203.0.113.9"))
	require.Equal(t, "", HostOf(":51472"))
}
