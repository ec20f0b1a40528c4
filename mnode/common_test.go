// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnode

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnsign"
	"github.com/mnsuite/mnd/mnwire"
)

const (
	testNow       = int64(1700000000)
	testTip       = int32(1000)
	testBlockGap  = int64(60)
	testCollatAt  = int32(100)
	testBroadcast = testNow - 10000
)

// fakeChain is a main chain of fixed length.  Block hashes are derived
// from the height and blocks are testBlockGap seconds apart.
type fakeChain struct {
	mtx  sync.Mutex
	tip  int32
	busy bool
}

func blockHashAt(height int32) chainhash.Hash {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(height))
	return chainhash.DoubleHashH(b[:])
}

func (c *fakeChain) TipHeight() (int32, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.tip, !c.busy
}

func (c *fakeChain) BlockHash(height int32) (chainhash.Hash, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if height < 0 || height > c.tip || c.busy {
		return chainhash.Hash{}, false
	}
	return blockHashAt(height), true
}

func (c *fakeChain) BlockHeight(hash *chainhash.Hash) (int32, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for h := c.tip; h >= 0; h-- {
		if blockHashAt(h) == *hash {
			return h, true
		}
	}
	return 0, false
}

func (c *fakeChain) BlockTime(height int32) (int64, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if height < 0 || height > c.tip {
		return 0, false
	}
	return testNow - testBlockGap*int64(c.tip-height+1), true
}

type fakeSporks map[mnparams.SporkID]bool

func (s fakeSporks) IsActive(id mnparams.SporkID) bool {
	return s[id]
}

type fakeView struct {
	mtx     sync.Mutex
	entries map[wire.OutPoint]*CollateralEntry
	busy    bool
}

func (v *fakeView) FetchCollateral(op wire.OutPoint) (*CollateralEntry, bool) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	if v.busy {
		return nil, false
	}
	return v.entries[op], true
}

type fakeClock struct {
	mtx sync.Mutex
	now int64
}

func (c *fakeClock) AdjustedTime() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) set(now int64) {
	c.mtx.Lock()
	c.now = now
	c.mtx.Unlock()
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

type fakeNotifier struct {
	mtx       sync.Mutex
	added     int
	forgotten int
}

func (n *fakeNotifier) AddedMasternodeList(chainhash.Hash) {
	n.mtx.Lock()
	n.added++
	n.mtx.Unlock()
}

func (n *fakeNotifier) ForgetMasternodeList(chainhash.Hash) {
	n.mtx.Lock()
	n.forgotten++
	n.mtx.Unlock()
}

func (n *fakeNotifier) IsBlockchainSynced() bool { return true }

// testNode holds the keys of a masternode created for a test.
type testNode struct {
	vin        wire.OutPoint
	collateral *btcec.PrivateKey
	operator   *btcec.PrivateKey
	addr       string
}

func keyFromSeed(seed string) *btcec.PrivateKey {
	h := chainhash.HashB([]byte(seed))
	key, _ := btcec.PrivKeyFromBytes(h)
	return key
}

type testHarness struct {
	params   *mnparams.Params
	signer   *mnsign.Signer
	chain    *fakeChain
	sporks   fakeSporks
	view     *fakeView
	clock    *fakeClock
	relayer  *fakeRelayer
	banned   *fakeMisbehaver
	notifier *fakeNotifier
	mgr      *Manager
}

func newTestHarness(t *testing.T, params *mnparams.Params) *testHarness {
	t.Helper()

	h := &testHarness{
		params:   params,
		signer:   mnsign.New(params),
		chain:    &fakeChain{tip: testTip},
		sporks:   make(fakeSporks),
		view:     &fakeView{entries: make(map[wire.OutPoint]*CollateralEntry)},
		clock:    &fakeClock{now: testNow},
		relayer:  &fakeRelayer{},
		banned:   &fakeMisbehaver{},
		notifier: &fakeNotifier{},
	}
	h.mgr = New(&Config{
		Params:     params,
		Chain:      h.chain,
		Sporks:     h.sporks,
		Collateral: h.view,
		TimeSource: h.clock,
		Signer:     h.signer,
		Relayer:    h.relayer,
		Misbehaver: h.banned,
	})
	h.mgr.SetSyncNotifier(h.notifier)
	return h
}

// newNode creates the keys of a node and registers its confirmed collateral.
func (h *testHarness) newNode(t *testing.T, i int) *testNode {
	t.Helper()

	n := &testNode{
		vin: wire.OutPoint{
			Hash:  chainhash.DoubleHashH([]byte(fmt.Sprintf("collateral %d", i))),
			Index: uint32(i % 3),
		},
		collateral: keyFromSeed(fmt.Sprintf("collateral key %d", i)),
		operator:   keyFromSeed(fmt.Sprintf("operator key %d", i)),
		addr:       fmt.Sprintf("8.8.%d.%d:51476", i/250, i%250+1),
	}
	if h.params.IsMainNet() {
		n.addr = fmt.Sprintf("8.8.%d.%d:51472", i/250, i%250+1)
	}
	script, err := h.signer.PayToPubKeyScript(
		n.collateral.PubKey().SerializeCompressed())
	require.NoError(t, err)
	h.view.entries[n.vin] = &CollateralEntry{
		TxOut:  wire.NewTxOut(mnparams.Collateral, script),
		Height: testCollatAt,
	}
	return n
}

// ping returns a signed ping of the node referencing the tip.
func (h *testHarness) ping(t *testing.T, n *testNode, sigTime int64) *mnwire.MsgMNPing {
	t.Helper()

	mnp := mnwire.NewMsgMNPing(n.vin, blockHashAt(testTip), sigTime)
	sig, err := h.signer.SignMessage(n.operator, mnp.SignatureMessage())
	require.NoError(t, err)
	mnp.Sig = sig
	return mnp
}

// broadcast returns a signed broadcast of the node.
func (h *testHarness) broadcast(t *testing.T, n *testNode, sigTime, pingTime int64) *mnwire.MsgMNBroadcast {
	t.Helper()

	id := mnwire.Identity{
		Vin:              n.vin,
		Addr:             n.addr,
		PubKeyCollateral: n.collateral.PubKey().SerializeCompressed(),
		PubKeyMasternode: n.operator.PubKey().SerializeCompressed(),
		SigTime:          sigTime,
		ProtocolVersion:  mnparams.ProtocolVersion,
	}
	mnb := mnwire.NewMsgMNBroadcast(id, *h.ping(t, n, pingTime))
	sig, err := h.signer.SignMessage(n.collateral, mnb.SignatureMessage())
	require.NoError(t, err)
	mnb.Sig = sig
	return mnb
}

// addNodes registers count nodes directly and returns them.
func (h *testHarness) addNodes(t *testing.T, count int) []*testNode {
	t.Helper()

	nodes := make([]*testNode, count)
	for i := range nodes {
		nodes[i] = h.newNode(t, i)
		mnb := h.broadcast(t, nodes[i], testBroadcast, testNow-1000)
		require.True(t, h.mgr.Add(NewMasternode(mnb)))
	}
	return nodes
}
