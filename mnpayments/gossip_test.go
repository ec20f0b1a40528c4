// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpayments

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnwire"
)

func TestProcessWinner(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 12)
	peer := &fakePeer{id: 1, addr: "8.8.8.8:51476"}

	vote := h.vote(t, nodes[0], testTip+5, nodes[7].payee)
	require.NoError(t, h.ledger.ProcessWinner(peer, vote))
	hash := vote.Hash()
	require.True(t, h.ledger.HaveVote(&hash))
	require.Equal(t, 1, h.relayer.count())
	require.Equal(t, 1, h.sync.added)

	// Known votes only count towards sync.
	require.NoError(t, h.ledger.ProcessWinner(peer, vote))
	require.Equal(t, 1, h.relayer.count())
	require.Equal(t, 2, h.sync.added)

	// A second vote of the same node for the height is refused.
	other := h.vote(t, nodes[0], testTip+5, nodes[8].payee)
	err := h.ledger.ProcessWinner(peer, other)
	require.True(t, IsErrorCode(err, ErrDuplicateVote), "%v", err)
	require.Equal(t, 1, h.relayer.count())

	got, ok := h.ledger.VoteByHash(&hash)
	require.True(t, ok)
	require.Equal(t, vote.Payee, got.Payee)
}

// TestProcessWinnerReordered ensures a node can not vote twice for a height
// by sending the second vote after a vote for a later height.
func TestProcessWinnerReordered(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 12)
	peer := &fakePeer{id: 1, addr: "8.8.8.8:51476"}
	height := testTip + 5

	require.NoError(t, h.ledger.ProcessWinner(peer,
		h.vote(t, nodes[0], height, nodes[7].payee)))
	require.NoError(t, h.ledger.ProcessWinner(peer,
		h.vote(t, nodes[0], height+1, nodes[7].payee)))

	late := h.vote(t, nodes[0], height, nodes[8].payee)
	err := h.ledger.ProcessWinner(peer, late)
	require.True(t, IsErrorCode(err, ErrDuplicateVote), "%v", err)

	votes, _ := h.ledger.Counts()
	require.Equal(t, 2, votes)
	lateHash := late.Hash()
	require.False(t, h.ledger.HaveVote(&lateHash))
	payee, ok := h.ledger.GetBlockPayee(height)
	require.True(t, ok)
	require.Equal(t, nodes[7].payee, payee)
	require.Equal(t, 2, h.relayer.count())
}

func TestProcessWinnerRejects(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 25)
	peer := &fakePeer{id: 1, addr: "8.8.8.8:51476"}
	enabledWindow := int32(25 * 5 / 4)

	unknown := &testNode{
		vin:      wire.OutPoint{Index: 77},
		operator: keyFromSeed("unknown"),
	}

	tests := []struct {
		name  string
		vote  func() *mnwire.MsgMNWinner
		code  ErrorCode
		dos   uint32
		asked bool
	}{{
		name: "too old",
		vote: func() *mnwire.MsgMNWinner {
			return h.vote(t, nodes[0], testTip-enabledWindow-1, nodes[1].payee)
		},
		code: ErrVoteOutOfRange,
	}, {
		name: "too far ahead",
		vote: func() *mnwire.MsgMNWinner {
			return h.vote(t, nodes[0], testTip+mnparams.VoteFutureLimit+1, nodes[1].payee)
		},
		code: ErrVoteOutOfRange,
	}, {
		name: "unknown voter",
		vote: func() *mnwire.MsgMNWinner {
			return h.vote(t, unknown, testTip+1, nodes[1].payee)
		},
		code:  ErrUnknownVoter,
		asked: true,
	}, {
		name: "slightly outside the top",
		vote: func() *mnwire.MsgMNWinner {
			return h.vote(t, nodes[mnparams.SignaturesTotal], testTip+1, nodes[1].payee)
		},
		code: ErrVoterRank,
	}, {
		name: "far outside the top",
		vote: func() *mnwire.MsgMNWinner {
			return h.vote(t, nodes[2*mnparams.SignaturesTotal], testTip+1, nodes[1].payee)
		},
		code: ErrVoterRank,
		dos:  20,
	}, {
		name: "bad signature",
		vote: func() *mnwire.MsgMNWinner {
			vote := h.vote(t, nodes[1], testTip+1, nodes[1].payee)
			vote.Payee = nodes[2].payee
			return vote
		},
		code:  ErrBadSignature,
		dos:   20,
		asked: true,
	}}

	for _, test := range tests {
		h.registry.asked = nil
		err := h.ledger.ProcessWinner(peer, test.vote())
		require.True(t, IsErrorCode(err, test.code), "%s: %v", test.name, err)
		require.Equal(t, test.dos, err.(RuleError).DoS, test.name)
		require.Equal(t, test.asked, len(h.registry.asked) > 0, test.name)
	}
	require.Zero(t, h.relayer.count())

	// Messages are dispatched with the penalty applied to the peer.
	bad := h.vote(t, nodes[3], testTip+2, nodes[1].payee)
	bad.Sig[5] ^= 0xff
	h.ledger.ProcessMessage(peer, bad)
	require.Equal(t, uint32(20), h.banned.score(peer.id))

	// The rejected vote is not checked again.
	h.ledger.ProcessMessage(peer, bad)
	require.Equal(t, uint32(20), h.banned.score(peer.id))
}

// TestProcessWinnerNotSynced ensures bad signatures are not penalized
// before the masternode data is synced.
func TestProcessWinnerNotSynced(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 3)
	h.sync.synced = false
	peer := &fakePeer{id: 1, addr: "8.8.8.8:51476"}

	vote := h.vote(t, nodes[0], testTip+1, nodes[1].payee)
	vote.Payee = nodes[2].payee
	h.ledger.ProcessMessage(peer, vote)
	require.Zero(t, h.banned.score(peer.id))
}

func TestProcessGetAndSync(t *testing.T) {
	h := newTestHarness(t, &mnparams.MainNetParams)
	nodes := h.addNodes(t, 12)

	h.addVotes(t, nodes, 3, testTip+1, nodes[0].payee)
	h.addVotes(t, nodes, 2, testTip-10, nodes[1].payee)
	h.addVotes(t, nodes, 4, testTip-200, nodes[2].payee)

	peer := &fakePeer{id: 3, addr: "8.8.8.8:51472"}
	h.ledger.ProcessMessage(peer, mnwire.NewMsgMNGet(1000))

	// The request is capped by the enabled count so the oldest votes are
	// not announced.
	require.Len(t, peer.invs, 5)
	for _, iv := range peer.invs {
		require.Equal(t, mnwire.InvTypeMNWinner, iv.Type)
	}
	require.Len(t, peer.msgs, 1)
	ssc := peer.msgs[0].(*mnwire.MsgSyncStatusCount)
	require.Equal(t, mnwire.SyncMNW, ssc.ItemID)
	require.Equal(t, int32(5), ssc.Count)

	// Asking twice on the main network is penalized.
	h.ledger.ProcessMessage(peer, mnwire.NewMsgMNGet(1000))
	require.Equal(t, uint32(20), h.banned.score(peer.id))
	require.Len(t, peer.msgs, 1)

	// The restriction is per connection.
	h.ledger.PeerDisconnected(peer)
	h.ledger.ProcessMessage(peer, mnwire.NewMsgMNGet(5))
	require.Len(t, peer.msgs, 2)
	require.Equal(t, int32(3), peer.msgs[1].(*mnwire.MsgSyncStatusCount).Count)
}

func TestProcessBlock(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 12)

	// Nothing happens without a local masternode.
	require.False(t, h.ledger.ProcessBlock(testTip+10))

	h.ledger.SetLocal(&fakeLocal{vin: nodes[2].vin, key: nodes[2].operator})
	mn := h.registry.nodes[nodes[9].vin]
	h.registry.next = &mn

	require.True(t, h.ledger.ProcessBlock(testTip+10))
	payee, ok := h.ledger.GetBlockPayee(testTip + 10)
	require.True(t, ok)
	require.Equal(t, nodes[9].payee, payee)
	require.Equal(t, 1, h.relayer.count())
	require.Equal(t, h.ledger, h.registry.oracle)

	// Heights at or below the last vote are skipped.
	require.False(t, h.ledger.ProcessBlock(testTip+10))
	require.False(t, h.ledger.ProcessBlock(testTip+9))

	// Nodes outside the top do not vote.
	h.registry.ranks[nodes[2].vin] = mnparams.SignaturesTotal + 1
	require.False(t, h.ledger.ProcessBlock(testTip+11))
}

func TestFillBlockPayee(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 12)
	height := testTip + 1

	// Without votes the top ranked node is paid.
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxOut(wire.NewTxOut(0, []byte{0x51}))
	require.True(t, h.ledger.FillBlockPayee(coinbase, height, false))
	require.Len(t, coinbase.TxOut, 2)
	require.Equal(t, int64(250), coinbase.TxOut[0].Value)
	require.Equal(t, int64(250), coinbase.TxOut[1].Value)
	require.Equal(t, nodes[0].payee, coinbase.TxOut[1].PkScript)

	// Coinstakes pay out of the last stake output.
	h.addVotes(t, nodes, 7, height, nodes[5].payee)
	coinstake := wire.NewMsgTx(wire.TxVersion)
	coinstake.AddTxOut(wire.NewTxOut(0, nil))
	coinstake.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	require.True(t, h.ledger.FillBlockPayee(coinstake, height, true))
	require.Len(t, coinstake.TxOut, 3)
	require.Equal(t, int64(750), coinstake.TxOut[1].Value)
	require.Equal(t, nodes[5].payee, coinstake.TxOut[2].PkScript)
	require.True(t, h.ledger.IsTransactionValid(coinstake, height))

	// Nothing to pay without a ranked node.
	h.registry.ranks = nil
	require.False(t, h.ledger.FillBlockPayee(wire.NewMsgTx(wire.TxVersion),
		height+1, false))
}

func TestIsBlockPayeeValid(t *testing.T) {
	h := newTestHarness(t, testParams())
	nodes := h.addNodes(t, 20)
	height := h.params.LastPoWBlock + 10
	h.chain.tip = height + 10
	h.addVotes(t, nodes, 8, height, nodes[0].payee)

	block := &wire.MsgBlock{Transactions: []*wire.MsgTx{
		wire.NewMsgTx(wire.TxVersion),
		payingTx(nodes[1].payee, 250),
	}}

	// Not enforced yet.
	require.True(t, h.ledger.IsBlockPayeeValid(block, height))

	h.sporks[mnparams.SporkPaymentEnforcement] = true
	require.False(t, h.ledger.IsBlockPayeeValid(block, height))

	block.Transactions[1] = payingTx(nodes[0].payee, 250)
	require.True(t, h.ledger.IsBlockPayeeValid(block, height))

	// Proof-of-work blocks pay in the coinbase.
	powHeight := h.params.LastPoWBlock
	h.addVotes(t, nodes, 8, powHeight, nodes[2].payee)
	block.Transactions = block.Transactions[:1]
	require.False(t, h.ledger.IsBlockPayeeValid(block, powHeight))
	block.Transactions[0] = payingTx(nodes[2].payee, 250)
	require.True(t, h.ledger.IsBlockPayeeValid(block, powHeight))

	// Unsynced nodes accept every block.
	h.sync.synced = false
	require.True(t, h.ledger.IsBlockPayeeValid(&wire.MsgBlock{}, height))
}

func TestIsBlockValueValid(t *testing.T) {
	h := newTestHarness(t, testParams())
	cycle := h.params.BudgetCycleBlocks

	require.True(t, h.ledger.IsBlockValueValid(cycle*2+101, 500, 500))
	require.False(t, h.ledger.IsBlockValueValid(cycle*2+101, 500, 501))

	// Budget blocks can not be checked before sync.
	h.sync.synced = false
	require.True(t, h.ledger.IsBlockValueValid(cycle*2+5, 500, 900))
	require.False(t, h.ledger.IsBlockValueValid(cycle*2+120, 500, 900))
}
