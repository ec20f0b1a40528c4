// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnode

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnwire"
)

// maxCacheEntries bounds every collection read back from the cache.
const maxCacheEntries = 1 << 20

// Serialize writes the registry state: the nodes, the request cooldowns and
// the deduplication maps.  Collections are written in a canonical order so
// equal registries serialize to equal bytes.
func (m *Manager) Serialize(w io.Writer) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	nodes := m.sortedNodes()
	if err := wire.WriteVarInt(w, 0, uint64(len(nodes))); err != nil {
		return err
	}
	for _, mn := range nodes {
		if err := mn.serialize(w); err != nil {
			return err
		}
	}

	for _, hosts := range []map[string]int64{m.askedUsForList, m.weAskedForList} {
		if err := writeHostTimes(w, hosts); err != nil {
			return err
		}
	}

	vins := make([]wire.OutPoint, 0, len(m.weAskedForEntry))
	for vin := range m.weAskedForEntry {
		vins = append(vins, vin)
	}
	sort.Slice(vins, func(i, j int) bool {
		return compareOutPoints(&vins[i], &vins[j]) < 0
	})
	if err := wire.WriteVarInt(w, 0, uint64(len(vins))); err != nil {
		return err
	}
	for _, vin := range vins {
		if err := mnwire.WriteOutPoint(w, &vin); err != nil {
			return err
		}
		if err := mnwire.WriteInt64(w, m.weAskedForEntry[vin]); err != nil {
			return err
		}
	}

	if err := mnwire.WriteInt64(w, m.dsqCount); err != nil {
		return err
	}

	hashes := sortedHashes(m.seenBroadcasts)
	if err := wire.WriteVarInt(w, 0, uint64(len(hashes))); err != nil {
		return err
	}
	for _, h := range hashes {
		if err := m.seenBroadcasts[h].BtcEncode(w, 0, wire.BaseEncoding); err != nil {
			return err
		}
	}

	hashes = sortedHashes(m.seenPings)
	if err := wire.WriteVarInt(w, 0, uint64(len(hashes))); err != nil {
		return err
	}
	for _, h := range hashes {
		if err := m.seenPings[h].BtcEncode(w, 0, wire.BaseEncoding); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize replaces the registry state with one written by Serialize.
// The registry is left untouched when an error is returned.
func (m *Manager) Deserialize(r io.Reader) error {
	n, err := readCount(r, "masternodes")
	if err != nil {
		return err
	}
	nodes := make(map[wire.OutPoint]*Masternode, n)
	for i := uint64(0); i < n; i++ {
		mn := new(Masternode)
		if err := mn.deserialize(r); err != nil {
			return err
		}
		nodes[mn.Vin] = mn
	}

	askedUs, err := readHostTimes(r)
	if err != nil {
		return err
	}
	weAsked, err := readHostTimes(r)
	if err != nil {
		return err
	}

	n, err = readCount(r, "requested entries")
	if err != nil {
		return err
	}
	entries := make(map[wire.OutPoint]int64, n)
	for i := uint64(0); i < n; i++ {
		var vin wire.OutPoint
		if err := mnwire.ReadOutPoint(r, &vin); err != nil {
			return err
		}
		t, err := mnwire.ReadInt64(r)
		if err != nil {
			return err
		}
		entries[vin] = t
	}

	dsqCount, err := mnwire.ReadInt64(r)
	if err != nil {
		return err
	}

	n, err = readCount(r, "seen broadcasts")
	if err != nil {
		return err
	}
	seenBroadcasts := make(map[chainhash.Hash]*mnwire.MsgMNBroadcast, n)
	for i := uint64(0); i < n; i++ {
		mnb := new(mnwire.MsgMNBroadcast)
		if err := mnb.BtcDecode(r, 0, wire.BaseEncoding); err != nil {
			return err
		}
		seenBroadcasts[mnb.Hash()] = mnb
	}

	n, err = readCount(r, "seen pings")
	if err != nil {
		return err
	}
	seenPings := make(map[chainhash.Hash]*mnwire.MsgMNPing, n)
	for i := uint64(0); i < n; i++ {
		mnp := new(mnwire.MsgMNPing)
		if err := mnp.BtcDecode(r, 0, wire.BaseEncoding); err != nil {
			return err
		}
		seenPings[mnp.Hash()] = mnp
	}

	m.mtx.Lock()
	m.nodes = nodes
	m.askedUsForList = askedUs
	m.weAskedForList = weAsked
	m.weAskedForEntry = entries
	m.dsqCount = dsqCount
	m.seenBroadcasts = seenBroadcasts
	m.seenPings = seenPings
	m.mtx.Unlock()
	return nil
}

// String returns a one line summary of the registry.
func (m *Manager) String() string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return fmt.Sprintf("Masternodes: %d, peers who asked us for the list: "+
		"%d, peers we asked for the list: %d, entries in the list we "+
		"asked for: %d, dsq count: %d", len(m.nodes),
		len(m.askedUsForList), len(m.weAskedForList),
		len(m.weAskedForEntry), m.dsqCount)
}

func readCount(r io.Reader, what string) (uint64, error) {
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, err
	}
	if n > maxCacheEntries {
		return 0, fmt.Errorf("too many %s in cache [count %d, max %d]",
			what, n, maxCacheEntries)
	}
	return n, nil
}

func writeHostTimes(w io.Writer, hosts map[string]int64) error {
	keys := make([]string, 0, len(hosts))
	for host := range hosts {
		keys = append(keys, host)
	}
	sort.Strings(keys)
	if err := wire.WriteVarInt(w, 0, uint64(len(keys))); err != nil {
		return err
	}
	for _, host := range keys {
		if err := wire.WriteVarString(w, 0, host); err != nil {
			return err
		}
		if err := mnwire.WriteInt64(w, hosts[host]); err != nil {
			return err
		}
	}
	return nil
}

func readHostTimes(r io.Reader) (map[string]int64, error) {
	n, err := readCount(r, "hosts")
	if err != nil {
		return nil, err
	}
	hosts := make(map[string]int64, n)
	for i := uint64(0); i < n; i++ {
		host, err := wire.ReadVarString(r, 0)
		if err != nil {
			return nil, err
		}
		t, err := mnwire.ReadInt64(r)
		if err != nil {
			return nil, err
		}
		hosts[host] = t
	}
	return hosts, nil
}

// sortedHashes returns the keys of a hash keyed map in byte order.
func sortedHashes[V any](m map[chainhash.Hash]V) []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(m))
	for h := range m {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
	return hashes
}
