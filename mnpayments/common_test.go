// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpayments

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/mnsuite/mnd/mnode"
	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnsign"
	"github.com/mnsuite/mnd/mnwire"
)

const (
	testNow      = int64(1700000000)
	testTip      = int32(3000)
	testBlockGap = int64(60)
)

type fakeChain struct {
	mtx sync.Mutex
	tip int32
}

func blockHashAt(height int32) chainhash.Hash {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(height))
	return chainhash.DoubleHashH(b[:])
}

func (c *fakeChain) TipHeight() (int32, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.tip, true
}

func (c *fakeChain) BlockHash(height int32) (chainhash.Hash, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if height < 0 || height > c.tip {
		return chainhash.Hash{}, false
	}
	return blockHashAt(height), true
}

func (c *fakeChain) BlockHeight(hash *chainhash.Hash) (int32, bool) {
	return 0, false
}

func (c *fakeChain) BlockTime(height int32) (int64, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if height < 0 || height > c.tip {
		return 0, false
	}
	return testNow - testBlockGap*int64(c.tip-height), true
}

type fakeSporks map[mnparams.SporkID]bool

func (s fakeSporks) IsActive(id mnparams.SporkID) bool {
	return s[id]
}

// fakeRegistry ranks its nodes by a fixed table regardless of height.
type fakeRegistry struct {
	mtx    sync.Mutex
	nodes  map[wire.OutPoint]mnode.Masternode
	ranks  map[wire.OutPoint]int
	next   *mnode.Masternode
	asked  []wire.OutPoint
	oracle mnode.PaymentOracle
}

func (r *fakeRegistry) Find(vin wire.OutPoint) (mnode.Masternode, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	mn, ok := r.nodes[vin]
	return mn, ok
}

func (r *fakeRegistry) GetMasternodeRank(vin wire.OutPoint, height int32,
	minProtocol uint32, onlyActive bool) int {

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if rank, ok := r.ranks[vin]; ok {
		return rank
	}
	return -1
}

func (r *fakeRegistry) GetNextMasternodeInQueueForPayment(oracle mnode.PaymentOracle,
	height int32, filterSigTime bool) (mnode.Masternode, int, bool) {

	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.oracle = oracle
	if r.next == nil {
		return mnode.Masternode{}, 0, false
	}
	return *r.next, len(r.nodes), true
}

func (r *fakeRegistry) GetCurrentMasternode(mod uint32, height int32,
	minProtocol uint32) (mnode.Masternode, bool) {

	r.mtx.Lock()
	defer r.mtx.Unlock()
	for vin, rank := range r.ranks {
		if rank == 1 {
			return r.nodes[vin], true
		}
	}
	return mnode.Masternode{}, false
}

func (r *fakeRegistry) CountEnabled(protocolVersion uint32) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	count := 0
	for _, mn := range r.nodes {
		if mn.ActiveState == mnode.StateEnabled {
			count++
		}
	}
	return count
}

func (r *fakeRegistry) StableSize() int { return r.Size() }

func (r *fakeRegistry) Size() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.nodes)
}

func (r *fakeRegistry) AskForMN(p mnpeer.Peer, vin wire.OutPoint) {
	r.mtx.Lock()
	r.asked = append(r.asked, vin)
	r.mtx.Unlock()
}

type fakePeer struct {
	mtx  sync.Mutex
	id   int32
	addr string
	msgs []wire.Message
	invs []*wire.InvVect
}

func (p *fakePeer) ID() int32               { return p.id }
func (p *fakePeer) Addr() string            { return p.addr }
func (p *fakePeer) ProtocolVersion() uint32 { return mnparams.ProtocolVersion }

func (p *fakePeer) QueueMessage(msg wire.Message, done chan<- struct{}) {
	p.mtx.Lock()
	p.msgs = append(p.msgs, msg)
	p.mtx.Unlock()
	if done != nil {
		done <- struct{}{}
	}
}

func (p *fakePeer) QueueInventory(iv *wire.InvVect) {
	p.mtx.Lock()
	p.invs = append(p.invs, iv)
	p.mtx.Unlock()
}

type fakeRelayer struct {
	mtx  sync.Mutex
	invs []*wire.InvVect
}

func (r *fakeRelayer) RelayInventory(iv *wire.InvVect, data interface{}) {
	r.mtx.Lock()
	r.invs = append(r.invs, iv)
	r.mtx.Unlock()
}

func (r *fakeRelayer) count() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.invs)
}

type fakeMisbehaver struct {
	mtx    sync.Mutex
	scores map[int32]uint32
}

func (b *fakeMisbehaver) Misbehaving(p mnpeer.Peer, score uint32, reason string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.scores == nil {
		b.scores = make(map[int32]uint32)
	}
	b.scores[p.ID()] += score
}

func (b *fakeMisbehaver) score(id int32) uint32 {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.scores[id]
}

type fakeSync struct {
	mtx       sync.Mutex
	synced    bool
	added     int
	forgotten int
}

func (s *fakeSync) IsBlockchainSynced() bool { return true }

func (s *fakeSync) IsSynced() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.synced
}

func (s *fakeSync) AddedMasternodeWinner(chainhash.Hash) {
	s.mtx.Lock()
	s.added++
	s.mtx.Unlock()
}

func (s *fakeSync) ForgetMasternodeWinner(chainhash.Hash) {
	s.mtx.Lock()
	s.forgotten++
	s.mtx.Unlock()
}

type fakeLocal struct {
	vin wire.OutPoint
	key *btcec.PrivateKey
}

func (l *fakeLocal) LocalIdentity() (wire.OutPoint, []byte, bool) {
	return l.vin, l.key.PubKey().SerializeCompressed(), true
}

func (l *fakeLocal) OperatorKey() (*btcec.PrivateKey, bool) {
	return l.key, true
}

// testNode is a masternode known to the fake registry.
type testNode struct {
	vin      wire.OutPoint
	operator *btcec.PrivateKey
	payee    []byte
}

func keyFromSeed(seed string) *btcec.PrivateKey {
	key, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(seed)))
	return key
}

type testHarness struct {
	params   *mnparams.Params
	signer   *mnsign.Signer
	chain    *fakeChain
	sporks   fakeSporks
	registry *fakeRegistry
	relayer  *fakeRelayer
	banned   *fakeMisbehaver
	sync     *fakeSync
	ledger   *Ledger
}

// testParams returns regression test parameters with a flat block value of
// 500 and a masternode share of half of it.
func testParams() *mnparams.Params {
	params := mnparams.RegressionNetParams
	params.Subsidy = []mnparams.SubsidyStep{{StartHeight: 0, Value: 500}}
	params.RewardTiers = []mnparams.RewardTier{{MinNodes: 0, Percent: 50}}
	return &params
}

func newTestHarness(t *testing.T, params *mnparams.Params) *testHarness {
	t.Helper()

	h := &testHarness{
		params: params,
		signer: mnsign.New(params),
		chain:  &fakeChain{tip: testTip},
		sporks: make(fakeSporks),
		registry: &fakeRegistry{
			nodes: make(map[wire.OutPoint]mnode.Masternode),
			ranks: make(map[wire.OutPoint]int),
		},
		relayer: &fakeRelayer{},
		banned:  &fakeMisbehaver{},
		sync:    &fakeSync{synced: true},
	}
	h.ledger = New(&Config{
		Params:     params,
		Chain:      h.chain,
		Sporks:     h.sporks,
		Registry:   h.registry,
		Signer:     h.signer,
		Relayer:    h.relayer,
		Misbehaver: h.banned,
	})
	h.ledger.SetSyncStatus(h.sync)
	return h
}

// addNodes registers count nodes ranked in creation order.
func (h *testHarness) addNodes(t *testing.T, count int) []*testNode {
	t.Helper()

	nodes := make([]*testNode, count)
	for i := range nodes {
		n := &testNode{
			vin: wire.OutPoint{
				Hash: chainhash.DoubleHashH([]byte(fmt.Sprintf("collateral %d", i))),
			},
			operator: keyFromSeed(fmt.Sprintf("operator %d", i)),
		}
		collateral := keyFromSeed(fmt.Sprintf("collateral %d", i))
		payee, err := h.signer.PayToPubKeyScript(
			collateral.PubKey().SerializeCompressed())
		require.NoError(t, err)
		n.payee = payee

		var mn mnode.Masternode
		mn.Vin = n.vin
		mn.PubKeyCollateral = collateral.PubKey().SerializeCompressed()
		mn.PubKeyMasternode = n.operator.PubKey().SerializeCompressed()
		mn.ProtocolVersion = mnparams.ProtocolVersion
		mn.ActiveState = mnode.StateEnabled
		h.registry.nodes[n.vin] = mn
		h.registry.ranks[n.vin] = i + 1
		nodes[i] = n
	}
	return nodes
}

// vote returns a vote of voter for payee at height signed by the voter.
func (h *testHarness) vote(t *testing.T, voter *testNode, height int32, payee []byte) *mnwire.MsgMNWinner {
	t.Helper()

	vote := mnwire.NewMsgMNWinner(voter.vin, height, payee)
	sig, err := h.signer.SignMessage(voter.operator, vote.SignatureMessage())
	require.NoError(t, err)
	vote.Sig = sig
	return vote
}

// addVotes records votes of the first count nodes for payee at height.
func (h *testHarness) addVotes(t *testing.T, nodes []*testNode, count int, height int32, payee []byte) {
	t.Helper()

	for _, n := range nodes[:count] {
		require.True(t, h.ledger.AddWinningMasternode(h.vote(t, n, height, payee)))
	}
}

// payingTx returns a transaction paying value to script.
func payingTx(script []byte, value btcutil.Amount) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	tx.AddTxOut(wire.NewTxOut(int64(value), script))
	return tx
}
