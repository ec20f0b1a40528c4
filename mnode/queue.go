// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnode

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/mnsuite/mnd/mnparams"
)

// queueEntry is a payment candidate together with the time since its last
// payment.
type queueEntry struct {
	node     Masternode
	payee    []byte
	sinceP   int64
	lastPaid int64
}

// GetNextMasternodeInQueueForPayment elects the payee for the block at
// height.  Candidates are the enabled nodes on the payment protocol which
// are not already scheduled, have enough collateral confirmations and,
// when filterSigTime is set, have been announced for at least a full
// payment cycle.  When fewer than a third of the enabled nodes qualify the
// election is retried without the announcement filter.
//
// The tenth of the candidates paid longest ago is scored against the block
// ScoreBlockOffset below height and the highest score wins.  The number of
// candidates is returned along with the winner.
func (m *Manager) GetNextMasternodeInQueueForPayment(oracle PaymentOracle,
	height int32, filterSigTime bool) (Masternode, int, bool) {

	minProto := m.MinPaymentsProto()
	tip, ok := m.cfg.Chain.TipHeight()
	if !ok {
		return Masternode{}, 0, false
	}

	m.mtx.Lock()
	now := m.now()
	enabled := m.countEnabled(minProto, now)
	var candidates []queueEntry
	for _, mn := range m.sortedNodes() {
		if !mn.IsEnabled() || mn.ProtocolVersion < minProto {
			continue
		}
		if filterSigTime && mn.SigTime+int64(enabled)*
			int64(mnparams.ExpectedBlockInterval.Seconds()) > now {

			continue
		}
		if m.inputAge(mn) < int32(enabled) {
			continue
		}
		payee, err := m.cfg.Signer.PayToPubKeyScript(mn.PubKeyCollateral)
		if err != nil {
			continue
		}
		candidates = append(candidates, queueEntry{node: mn.copy(), payee: payee})
	}
	m.mtx.Unlock()

	// The oracle takes the ledger lock, so it is consulted on the
	// snapshot only.
	depth := enabled * 5 / 4
	filtered := candidates[:0]
	for _, c := range candidates {
		if oracle != nil {
			if oracle.IsScheduled(c.payee, height) {
				continue
			}
			if t := oracle.LastPaid(c.payee, tip, depth); t > 0 {
				c.lastPaid = t + c.node.lastPaidOffset()
			}
		}
		c.sinceP = c.node.secondsSincePayment(now, c.lastPaid)
		filtered = append(filtered, c)
	}
	count := len(filtered)

	if filterSigTime && count < enabled/3 {
		return m.GetNextMasternodeInQueueForPayment(oracle, height, false)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].sinceP > filtered[j].sinceP
	})

	scoreHash, ok := m.cfg.Chain.BlockHash(height - mnparams.ScoreBlockOffset)
	if !ok {
		return Masternode{}, count, false
	}

	tenth := enabled / 10
	if tenth < 1 {
		tenth = 1
	}
	var (
		best      *queueEntry
		bestScore *uint256.Int
	)
	for i := range filtered {
		if i >= tenth {
			break
		}
		score := CalculateScore(filtered[i].node.Vin, scoreHash, 1)
		if best == nil || score.Gt(bestScore) {
			best, bestScore = &filtered[i], score
		}
	}
	if best == nil {
		return Masternode{}, count, false
	}
	return best.node, count, true
}
