// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpayments

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/mnsuite/mnd/mnode"
	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/paystore"
)

// TestIsTransactionValidThreshold ensures payments are only mandatory once
// a payee collected the required number of votes.
func TestIsTransactionValidThreshold(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 12)
	height := testTip + 1
	payee := nodes[0].payee

	h.addVotes(t, nodes, mnparams.SignaturesRequired-1, height, payee)
	require.True(t, h.ledger.IsTransactionValid(payingTx(payee, 1), height))
	require.True(t, h.ledger.IsTransactionValid(payingTx(nodes[1].payee, 250), height))

	// Heights without any vote accept anything.
	require.True(t, h.ledger.IsTransactionValid(payingTx(nil, 0), height+1))
}

// TestIsTransactionValidAmount ensures the elected payee must receive at
// least the required amount.
func TestIsTransactionValidAmount(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 20)
	height := testTip + 1
	payee := nodes[3].payee

	h.addVotes(t, nodes, 8, height, payee)
	require.Equal(t, int64(250), h.ledger.RequiredPayment(height))

	tests := []struct {
		name  string
		tx    *wire.MsgTx
		valid bool
	}{
		{"exact payment", payingTx(payee, 250), true},
		{"overpayment", payingTx(payee, 300), true},
		{"underpayment", payingTx(payee, 249), false},
		{"wrong payee", payingTx(nodes[4].payee, 250), false},
	}
	for _, test := range tests {
		got := h.ledger.IsTransactionValid(test.tx, height)
		require.Equal(t, test.valid, got, "%s: %s", test.name,
			spew.Sdump(test.tx.TxOut))
	}
}

// TestIsTransactionValidSplitVote ensures every payee reaching the
// threshold is accepted when the votes are split.
func TestIsTransactionValidSplitVote(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 20)
	height := testTip + 1

	h.addVotes(t, nodes[:10], 7, height, nodes[0].payee)
	h.addVotes(t, nodes[10:], 8, height, nodes[1].payee)

	require.True(t, h.ledger.IsTransactionValid(payingTx(nodes[0].payee, 250), height))
	require.True(t, h.ledger.IsTransactionValid(payingTx(nodes[1].payee, 250), height))
	require.False(t, h.ledger.IsTransactionValid(payingTx(nodes[2].payee, 250), height))

	// The payee with the most votes is elected.
	payee, ok := h.ledger.GetBlockPayee(height)
	require.True(t, ok)
	require.Equal(t, nodes[1].payee, payee)
}

func TestAddWinningMasternode(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 2)

	vote := h.vote(t, nodes[0], testTip+1, nodes[1].payee)
	require.True(t, h.ledger.AddWinningMasternode(vote))
	require.False(t, h.ledger.AddWinningMasternode(vote))

	// The identity does not cover the signature.
	resigned := vote.Copy()
	resigned.Sig = []byte{0x01}
	require.False(t, h.ledger.AddWinningMasternode(&resigned))

	// Votes whose election block is unknown are not recorded.
	far := h.vote(t, nodes[0], testTip+mnparams.ScoreBlockOffset+1, nodes[1].payee)
	require.False(t, h.ledger.AddWinningMasternode(far))

	votes, blocks := h.ledger.Counts()
	require.Equal(t, 1, votes)
	require.Equal(t, 1, blocks)
	require.Equal(t, "Votes: 1, Blocks: 1", h.ledger.String())
}

func TestCanVote(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 2)

	require.True(t, h.ledger.CanVote(nodes[0].vin, 100))
	require.False(t, h.ledger.CanVote(nodes[0].vin, 100))
	require.True(t, h.ledger.CanVote(nodes[1].vin, 100))
	require.True(t, h.ledger.CanVote(nodes[0].vin, 101))

	// A late vote for an earlier height is still a second vote.
	require.False(t, h.ledger.CanVote(nodes[0].vin, 100))
	require.False(t, h.ledger.CanVote(nodes[1].vin, 100))

	// Votes recorded directly count as cast.
	h.addVotes(t, nodes[1:], 1, testTip+2, nodes[0].payee)
	require.False(t, h.ledger.CanVote(nodes[1].vin, testTip+2))
}

// TestCleanPaymentList ensures no tally is kept further below the tip than
// the history limit.
func TestCleanPaymentList(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 12)

	limit := int32(mnparams.MinPaymentHistory)
	for _, height := range []int32{testTip - limit - 5, testTip - limit - 1,
		testTip - limit, testTip - 10, testTip + 5} {

		h.addVotes(t, nodes, 2, height, nodes[0].payee)
	}
	require.False(t, h.ledger.CanVote(nodes[0].vin, testTip-limit-1))

	h.ledger.CleanPaymentList()
	votes, blocks := h.ledger.Counts()
	require.Equal(t, 6, votes)
	require.Equal(t, 3, blocks)
	require.Equal(t, 4, h.sync.forgotten)

	oldest, ok := h.ledger.GetOldestBlock()
	require.True(t, ok)
	require.Equal(t, testTip-limit, oldest)
	newest, ok := h.ledger.GetNewestBlock()
	require.True(t, ok)
	require.Equal(t, testTip+5, newest)

	// The vote record of the pruned height is gone as well.
	require.True(t, h.ledger.CanVote(nodes[0].vin, testTip-limit-1))
}

// TestCleanPaymentListEnabledOnly ensures the history limit follows the
// enabled nodes rather than every known record.
func TestCleanPaymentListEnabledOnly(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 1200)
	for _, n := range nodes[10:] {
		mn := h.registry.nodes[n.vin]
		mn.ActiveState = mnode.StateExpired
		h.registry.nodes[n.vin] = mn
	}
	require.Equal(t, 10, h.registry.CountEnabled(0))
	require.Equal(t, 1200, h.registry.Size())

	limit := int32(mnparams.MinPaymentHistory)
	h.addVotes(t, nodes, 1, testTip-1200, nodes[0].payee)
	h.addVotes(t, nodes, 1, testTip-limit-1, nodes[0].payee)
	h.addVotes(t, nodes, 1, testTip-limit, nodes[0].payee)

	h.ledger.CleanPaymentList()
	votes, blocks := h.ledger.Counts()
	require.Equal(t, 1, votes)
	require.Equal(t, 1, blocks)
	oldest, ok := h.ledger.GetOldestBlock()
	require.True(t, ok)
	require.Equal(t, testTip-limit, oldest)
}

func TestIsScheduled(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 3)

	h.addVotes(t, nodes, 1, testTip+3, nodes[2].payee)
	require.True(t, h.ledger.IsScheduled(nodes[2].payee, testTip+1))
	require.False(t, h.ledger.IsScheduled(nodes[2].payee, testTip+3))
	require.False(t, h.ledger.IsScheduled(nodes[1].payee, testTip+1))
}

// TestLastPaid ensures the payment time comes from the tallies first and
// the payment store otherwise.
func TestLastPaid(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 3)

	// A single vote is not proof of payment.
	h.addVotes(t, nodes, 1, testTip-5, nodes[0].payee)
	require.Zero(t, h.ledger.LastPaid(nodes[0].payee, testTip, 100))

	h.addVotes(t, nodes[1:], 1, testTip-5, nodes[0].payee)
	require.Equal(t, testNow-5*testBlockGap,
		h.ledger.LastPaid(nodes[0].payee, testTip, 100))
	require.Zero(t, h.ledger.LastPaid(nodes[0].payee, testTip, 5))

	store, err := paystore.NewLevelDBMem()
	require.NoError(t, err)
	defer store.Close()
	h.ledger.cfg.Store = store

	tx := payingTx(nodes[0].payee, 250)
	require.NoError(t, h.ledger.RecordBlockPayment(testTip-5, testNow-300, tx))
	require.NoError(t, h.ledger.RecordBlockPayment(testTip-4, testNow-240, tx))

	h.ledger.Clear()
	require.Equal(t, testNow-300, h.ledger.LastPaid(nodes[0].payee, testTip, 100))
	require.Zero(t, h.ledger.LastPaid(nodes[0].payee, testTip, 5))
	require.Zero(t, h.ledger.LastPaid(nodes[1].payee, testTip, 100))
}

func TestRequiredPaymentsString(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 3)

	require.Equal(t, "Unknown", h.ledger.GetRequiredPaymentsString(testTip))

	h.addVotes(t, nodes, 2, testTip, nodes[0].payee)
	h.addVotes(t, nodes[2:], 1, testTip, nodes[1].payee)
	want := h.signer.PayeeString(nodes[0].payee) + ":2, " +
		h.signer.PayeeString(nodes[1].payee) + ":1"
	require.Equal(t, want, h.ledger.GetRequiredPaymentsString(testTip))
}

// TestSerializeRoundTrip ensures the ledger survives a trip through its
// cache encoding.
func TestSerializeRoundTrip(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 10)
	h.addVotes(t, nodes, 8, testTip+1, nodes[0].payee)
	h.addVotes(t, nodes[8:], 2, testTip+1, nodes[1].payee)
	h.addVotes(t, nodes, 3, testTip-40, nodes[2].payee)

	var buf bytes.Buffer
	require.NoError(t, h.ledger.Serialize(&buf))
	encoded := append([]byte(nil), buf.Bytes()...)

	other := newTestHarness(t, testParams())
	require.NoError(t, other.ledger.Deserialize(&buf))
	require.Equal(t, h.ledger.String(), other.ledger.String())

	var again bytes.Buffer
	require.NoError(t, other.ledger.Serialize(&again))
	require.Equal(t, encoded, again.Bytes())

	payee, ok := other.ledger.GetBlockPayee(testTip + 1)
	require.True(t, ok)
	require.Equal(t, nodes[0].payee, payee)

	// The loaded votes count as cast.
	require.False(t, other.ledger.CanVote(nodes[0].vin, testTip-40))
	require.False(t, other.ledger.CanVote(nodes[9].vin, testTip+1))
	require.True(t, other.ledger.CanVote(nodes[9].vin, testTip-40))

	// Truncated input leaves the ledger untouched.
	fresh := newTestHarness(t, testParams())
	fresh.addVotes(t, fresh.addNodes(t, 1), 1, testTip, nodes[0].payee)
	require.Error(t, fresh.ledger.Deserialize(bytes.NewReader(encoded[:len(encoded)/2])))
	require.Equal(t, "Votes: 1, Blocks: 1", fresh.ledger.String())
}
