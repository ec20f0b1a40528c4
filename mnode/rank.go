// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnode

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
)

// CalculateScore returns the ranking score of the node with collateral vin
// for the block with the given hash.  The score is the distance between two
// hashes interpreted as 256-bit big-endian integers: one derived from the
// block hash and modifier only, the other additionally covering the
// collateral outpoint.
func CalculateScore(vin wire.OutPoint, blockHash chainhash.Hash, mod uint32) *uint256.Int {
	var buf [chainhash.HashSize + 4 + chainhash.HashSize + 4]byte
	copy(buf[:], blockHash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], mod)
	base := chainhash.DoubleHashH(buf[:chainhash.HashSize+4])

	copy(buf[chainhash.HashSize+4:], vin.Hash[:])
	binary.LittleEndian.PutUint32(buf[2*chainhash.HashSize+4:], vin.Index)
	node := chainhash.DoubleHashH(buf[:])

	a := new(uint256.Int).SetBytes32(base[:])
	b := new(uint256.Int).SetBytes32(node[:])
	if b.Gt(a) {
		return b.Sub(b, a)
	}
	return a.Sub(a, b)
}

// compareOutPoints orders outpoints by hash bytes and then index.
func compareOutPoints(a, b *wire.OutPoint) int {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c
	}
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}
	return 0
}

// scoredNode pairs a node with its score for a ranking pass.
type scoredNode struct {
	node  *Masternode
	score *uint256.Int
}

// sortScored orders nodes by descending score.  Equal scores fall back to
// the outpoint so the order is total for any input.
func sortScored(nodes []scoredNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if c := nodes[i].score.Cmp(nodes[j].score); c != 0 {
			return c > 0
		}
		return compareOutPoints(&nodes[i].node.Vin, &nodes[j].node.Vin) < 0
	})
}

// RankedNode is an entry of a full ranking.
type RankedNode struct {
	Rank int
	Node Masternode
}

// rankEligible returns the nodes eligible for a ranking at the given block
// sorted by score.  The caller must hold the registry lock.
func (m *Manager) rankEligible(blockHash chainhash.Hash, minProtocol uint32,
	onlyActive bool, now int64) []scoredNode {

	enforce := m.enforcingPayments()
	scored := make([]scoredNode, 0, len(m.nodes))
	for _, mn := range m.nodes {
		if mn.ProtocolVersion < minProtocol {
			continue
		}
		if enforce && now-mn.SigTime < m.minWinnerAge {
			continue
		}
		if onlyActive {
			mn.check(now, m.cfg.Collateral, false)
			if !mn.IsEnabled() {
				continue
			}
		}
		scored = append(scored, scoredNode{
			node:  mn,
			score: CalculateScore(mn.Vin, blockHash, 1),
		})
	}
	sortScored(scored)
	return scored
}

// GetMasternodeRank returns the 1-based position of the node with
// collateral vin in the ranking for the block at height, or -1 when the
// node is not ranked or the block is unknown.
func (m *Manager) GetMasternodeRank(vin wire.OutPoint, height int32,
	minProtocol uint32, onlyActive bool) int {

	blockHash, ok := m.cfg.Chain.BlockHash(height)
	if !ok {
		return -1
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	scored := m.rankEligible(blockHash, minProtocol, onlyActive, m.now())
	for i := range scored {
		if scored[i].node.Vin == vin {
			return i + 1
		}
	}
	return -1
}

// GetMasternodeRanks returns every node with at least minProtocol ranked
// for the block at height.  Nodes which are not enabled are placed after
// all enabled nodes.
func (m *Manager) GetMasternodeRanks(height int32, minProtocol uint32) []RankedNode {
	blockHash, ok := m.cfg.Chain.BlockHash(height)
	if !ok {
		return nil
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now()
	var enabled, disabled []scoredNode
	for _, mn := range m.nodes {
		mn.check(now, m.cfg.Collateral, false)
		if mn.ProtocolVersion < minProtocol {
			continue
		}
		if !mn.IsEnabled() {
			disabled = append(disabled, scoredNode{node: mn,
				score: new(uint256.Int)})
			continue
		}
		enabled = append(enabled, scoredNode{
			node:  mn,
			score: CalculateScore(mn.Vin, blockHash, 1),
		})
	}
	sortScored(enabled)
	sortScored(disabled)

	ranks := make([]RankedNode, 0, len(enabled)+len(disabled))
	for _, s := range append(enabled, disabled...) {
		ranks = append(ranks, RankedNode{
			Rank: len(ranks) + 1,
			Node: s.node.copy(),
		})
	}
	return ranks
}

// GetMasternodeByRank returns the node at the 1-based rank for the block at
// height.
func (m *Manager) GetMasternodeByRank(rank int, height int32,
	minProtocol uint32, onlyActive bool) (Masternode, bool) {

	blockHash, ok := m.cfg.Chain.BlockHash(height)
	if !ok || rank < 1 {
		return Masternode{}, false
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	scored := m.rankEligible(blockHash, minProtocol, onlyActive, m.now())
	if rank > len(scored) {
		return Masternode{}, false
	}
	return scored[rank-1].node.copy(), true
}

// GetCurrentMasternode returns the enabled node with the highest score for
// the block at height using the given modifier.
func (m *Manager) GetCurrentMasternode(mod uint32, height int32,
	minProtocol uint32) (Masternode, bool) {

	blockHash, ok := m.cfg.Chain.BlockHash(height)
	if !ok {
		return Masternode{}, false
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now()
	var best *scoredNode
	for _, mn := range m.nodes {
		mn.check(now, m.cfg.Collateral, false)
		if mn.ProtocolVersion < minProtocol || !mn.IsEnabled() {
			continue
		}
		s := scoredNode{node: mn, score: CalculateScore(mn.Vin, blockHash, mod)}
		if best == nil || s.score.Gt(best.score) || (s.score.Eq(best.score) &&
			compareOutPoints(&s.node.Vin, &best.node.Vin) < 0) {

			best = &s
		}
	}
	if best == nil {
		return Masternode{}, false
	}
	return best.node.copy(), true
}
