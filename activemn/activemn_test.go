// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package activemn

import (
	"encoding/binary"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/mnsuite/mnd/mnconfig"
	"github.com/mnsuite/mnd/mnode"
	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnsign"
	"github.com/mnsuite/mnd/mnwire"
)

const (
	testNow  = int64(1700000000)
	testTip  = int32(1000)
	testAddr = "8.8.8.8:51472"
)

func blockHashAt(height int32) chainhash.Hash {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(height))
	return chainhash.DoubleHashH(b[:])
}

type fakeChain struct{}

func (fakeChain) TipHeight() (int32, bool) { return testTip, true }

func (fakeChain) BlockHash(height int32) (chainhash.Hash, bool) {
	if height < 0 || height > testTip {
		return chainhash.Hash{}, false
	}
	return blockHashAt(height), true
}

func (fakeChain) BlockHeight(*chainhash.Hash) (int32, bool) { return 0, false }
func (fakeChain) BlockTime(int32) (int64, bool)             { return testNow, true }

type fakeClock struct{}

func (fakeClock) AdjustedTime() time.Time { return time.Unix(testNow, 0) }

type fakeSync struct{ synced bool }

func (s *fakeSync) IsBlockchainSynced() bool { return s.synced }

type fakeRegistry struct {
	mtx       sync.Mutex
	byPubKey  map[string]mnode.Masternode
	announced []*mnwire.MsgMNBroadcast
	pings     []*mnwire.MsgMNPing
	pingErr   error
}

func (r *fakeRegistry) FindByPubKey(pubKey []byte) (mnode.Masternode, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	mn, ok := r.byPubKey[string(pubKey)]
	return mn, ok
}

func (r *fakeRegistry) UpdateMasternodeList(mnb *mnwire.MsgMNBroadcast) {
	r.mtx.Lock()
	r.announced = append(r.announced, mnb)
	r.mtx.Unlock()
}

func (r *fakeRegistry) UpdateLastPing(mnp *mnwire.MsgMNPing) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.pingErr != nil {
		return r.pingErr
	}
	r.pings = append(r.pings, mnp)
	return nil
}

type fakeWallet struct {
	locked  bool
	balance btcutil.Amount
	coins   []Coin
	keys    map[string]*btcec.PrivateKey

	// unlocked tracks coins currently unlocked while listing.
	unlocked map[wire.OutPoint]bool
	calls    []string
}

func (w *fakeWallet) IsLocked() bool          { return w.locked }
func (w *fakeWallet) Balance() btcutil.Amount { return w.balance }

func (w *fakeWallet) AvailableCoins() []Coin {
	w.calls = append(w.calls, "list")
	var coins []Coin
	for _, c := range w.coins {
		if !w.isLocked(c.OutPoint) {
			coins = append(coins, c)
		}
	}
	return coins
}

// isLocked reports coins locked by the wallet.  Coins of the
// configuration are locked unless explicitly unlocked.
func (w *fakeWallet) isLocked(op wire.OutPoint) bool {
	unlocked, ok := w.unlocked[op]
	return ok && !unlocked
}

func (w *fakeWallet) LockCoin(op wire.OutPoint) {
	w.calls = append(w.calls, "lock "+strconv.Itoa(int(op.Index)))
	w.unlocked[op] = false
}

func (w *fakeWallet) UnlockCoin(op wire.OutPoint) {
	w.calls = append(w.calls, "unlock "+strconv.Itoa(int(op.Index)))
	w.unlocked[op] = true
}

func (w *fakeWallet) PrivKeyFor(pkScript []byte) (*btcec.PrivateKey, bool) {
	key, ok := w.keys[string(pkScript)]
	return key, ok
}

type fakeNetwork struct {
	addr       string
	inboundErr error
	checked    []string
}

func (n *fakeNetwork) LocalAddress() (string, bool) {
	return n.addr, n.addr != ""
}

func (n *fakeNetwork) CheckInbound(addr string) error {
	n.checked = append(n.checked, addr)
	return n.inboundErr
}

type fakeAger map[wire.OutPoint]int32

func (a fakeAger) InputAge(vin wire.OutPoint) int32 { return a[vin] }

type fakeRelayer struct {
	invs []*wire.InvVect
}

func (r *fakeRelayer) RelayInventory(iv *wire.InvVect, data interface{}) {
	r.invs = append(r.invs, iv)
}

func keyFromSeed(seed string) *btcec.PrivateKey {
	key, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(seed)))
	return key
}

type testHarness struct {
	params     *mnparams.Params
	signer     *mnsign.Signer
	sync       *fakeSync
	registry   *fakeRegistry
	wallet     *fakeWallet
	network    *fakeNetwork
	ager       fakeAger
	relayer    *fakeRelayer
	operator   *btcec.PrivateKey
	collateral *btcec.PrivateKey
	coin       Coin
	cfg        Config
}

// newTestHarness returns a funded wallet holding a confirmed collateral.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	params := &mnparams.MainNetParams
	h := &testHarness{
		params:     params,
		signer:     mnsign.New(params),
		sync:       &fakeSync{synced: true},
		registry:   &fakeRegistry{byPubKey: make(map[string]mnode.Masternode)},
		network:    &fakeNetwork{addr: testAddr},
		ager:       make(fakeAger),
		relayer:    &fakeRelayer{},
		operator:   keyFromSeed("operator"),
		collateral: keyFromSeed("collateral"),
	}

	script, err := h.signer.PayToPubKeyScript(
		h.collateral.PubKey().SerializeCompressed())
	require.NoError(t, err)
	h.coin = Coin{
		OutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte("funding")), Index: 1},
		TxOut:    wire.NewTxOut(mnparams.Collateral, script),
	}
	h.ager[h.coin.OutPoint] = mnparams.MinConfirmations + 5
	h.wallet = &fakeWallet{
		balance: btcutil.Amount(mnparams.Collateral),
		coins: []Coin{
			{OutPoint: wire.OutPoint{Index: 9}, TxOut: wire.NewTxOut(5, script)},
			h.coin,
		},
		keys:     map[string]*btcec.PrivateKey{string(script): h.collateral},
		unlocked: make(map[wire.OutPoint]bool),
	}

	wif, err := h.signer.EncodeKey(h.operator)
	require.NoError(t, err)
	h.cfg = Config{
		Params:     params,
		Chain:      fakeChain{},
		TimeSource: fakeClock{},
		Signer:     h.signer,
		Registry:   h.registry,
		Sync:       h.sync,
		Wallet:     h.wallet,
		Network:    h.network,
		InputAger:  h.ager,
		Relayer:    h.relayer,
		Enabled:    true,
		PrivKey:    wif,
	}
	return h
}

func (h *testHarness) newActive(t *testing.T) *ActiveMasternode {
	t.Helper()
	a, err := New(&h.cfg)
	require.NoError(t, err)
	return a
}

func TestNew(t *testing.T) {
	h := newTestHarness(t)

	a := h.newActive(t)
	require.Equal(t, h.operator.PubKey().SerializeCompressed(), a.PubKeyMasternode())
	key, ok := a.OperatorKey()
	require.True(t, ok)
	require.Equal(t, h.operator, key)
	require.Equal(t, StatusInitial, a.Status())
	require.Equal(t, "Node just started, not yet activated", a.GetStatus())

	h.cfg.PrivKey = "garbage"
	_, err := New(&h.cfg)
	require.Error(t, err)

	h.cfg.PrivKey = ""
	_, err = New(&h.cfg)
	require.Error(t, err)

	// Plain nodes need no key.
	h.cfg.Enabled = false
	a, err = New(&h.cfg)
	require.NoError(t, err)
	_, ok = a.OperatorKey()
	require.False(t, ok)
	a.ManageStatus()
	require.Equal(t, StatusInitial, a.Status())
}

// TestManageStatusStartsLocalNode ensures a funded node announces itself
// and pings afterwards.
func TestManageStatusStartsLocalNode(t *testing.T) {
	h := newTestHarness(t)
	a := h.newActive(t)

	_, _, ok := a.LocalIdentity()
	require.False(t, ok)

	a.ManageStatus()
	require.Equal(t, StatusStarted, a.Status(), a.GetStatus())
	require.Equal(t, []string{testAddr}, h.network.checked)
	require.True(t, h.wallet.isLocked(h.coin.OutPoint))

	vin, pubKey, ok := a.LocalIdentity()
	require.True(t, ok)
	require.Equal(t, h.coin.OutPoint, vin)
	require.Equal(t, a.PubKeyMasternode(), pubKey)

	require.Len(t, h.registry.announced, 1)
	mnb := h.registry.announced[0]
	require.Equal(t, testAddr, mnb.Addr)
	require.Equal(t, testNow, mnb.SigTime)
	require.Equal(t, mnparams.ProtocolVersion, mnb.ProtocolVersion)
	require.NoError(t, h.signer.VerifyMessage(mnb.PubKeyCollateral, mnb.Sig,
		mnb.SignatureMessage()))
	require.NoError(t, h.signer.VerifyMessage(mnb.PubKeyMasternode,
		mnb.LastPing.Sig, mnb.LastPing.SignatureMessage()))
	require.Equal(t, blockHashAt(testTip-pingBlockDepth), mnb.LastPing.BlockHash)

	require.Len(t, h.relayer.invs, 1)
	require.Equal(t, mnwire.InvTypeMNAnnounce, h.relayer.invs[0].Type)
	require.Equal(t, mnb.Hash(), h.relayer.invs[0].Hash)

	// Started nodes ping.
	a.ManageStatus()
	require.Len(t, h.registry.pings, 1)
	mnp := h.registry.pings[0]
	require.Equal(t, h.coin.OutPoint, mnp.Vin)
	require.NoError(t, h.signer.VerifyMessage(pubKey, mnp.Sig, mnp.SignatureMessage()))
}

func TestManageStatusNotCapable(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *testHarness)
		status Status
		reason string
	}{{
		name:   "wallet locked",
		setup:  func(h *testHarness) { h.wallet.locked = true },
		status: StatusNotCapable,
		reason: "Not capable masternode: Wallet is locked.",
	}, {
		name:   "hot node",
		setup:  func(h *testHarness) { h.wallet.balance = 0 },
		status: StatusNotCapable,
		reason: "Not capable masternode: Hot node, waiting for remote activation.",
	}, {
		name:   "no address",
		setup:  func(h *testHarness) { h.network.addr = "" },
		status: StatusNotCapable,
		reason: "Not capable masternode: Can't detect external address. " +
			"Please use the masternodeaddr configuration option.",
	}, {
		name:   "unreachable",
		setup:  func(h *testHarness) { h.network.inboundErr = errors.New("refused") },
		status: StatusNotCapable,
		reason: "Not capable masternode: Could not connect to " + testAddr,
	}, {
		name:   "no collateral",
		setup:  func(h *testHarness) { h.wallet.coins = h.wallet.coins[:1] },
		status: StatusNotCapable,
		reason: "Not capable masternode: Could not find suitable coins!",
	}, {
		name:   "unknown key",
		setup:  func(h *testHarness) { h.wallet.keys = nil },
		status: StatusNotCapable,
		reason: "Not capable masternode: Could not find suitable coins!",
	}, {
		name:   "young collateral",
		setup:  func(h *testHarness) { h.ager[h.coin.OutPoint] = 3 },
		status: StatusInputTooNew,
		reason: "Masternode input must have at least 7 confirmations",
	}, {
		name:   "syncing",
		setup:  func(h *testHarness) { h.sync.synced = false },
		status: StatusSyncInProcess,
		reason: "Sync in progress. Must wait until sync is complete to start Masternode",
	}}

	for _, test := range tests {
		h := newTestHarness(t)
		test.setup(h)
		a := h.newActive(t)
		a.ManageStatus()
		require.Equal(t, test.status, a.Status(), test.name)
		require.Equal(t, test.reason, a.GetStatus(), test.name)
		require.Empty(t, h.registry.announced, test.name)
		_, _, ok := a.LocalIdentity()
		require.False(t, ok, test.name)
	}
}

// TestManageStatusOverride ensures a configured address is used and the
// regression test network does not wait for the chain.
func TestManageStatusOverride(t *testing.T) {
	h := newTestHarness(t)
	h.network.addr = ""
	h.sync.synced = false
	h.cfg.ServiceAddr = "1.2.3.4:51476"
	params := mnparams.RegressionNetParams
	h.cfg.Params = &params
	h.signer = mnsign.New(&params)
	h.cfg.Signer = h.signer
	wif, err := h.signer.EncodeKey(h.operator)
	require.NoError(t, err)
	h.cfg.PrivKey = wif

	// The collateral script is network independent.
	a := h.newActive(t)
	a.ManageStatus()
	require.Equal(t, StatusStarted, a.Status(), a.GetStatus())
	require.Equal(t, []string{"1.2.3.4:51476"}, h.network.checked)
}

// TestHotColdActivation ensures a node without funds is started by the
// announcement of its operator key.
func TestHotColdActivation(t *testing.T) {
	h := newTestHarness(t)
	h.wallet.balance = 0
	a := h.newActive(t)

	a.ManageStatus()
	require.Equal(t, StatusNotCapable, a.Status())
	require.Error(t, a.SendMasternodePing())

	remote := wire.OutPoint{Hash: chainhash.HashH([]byte("remote")), Index: 0}
	require.True(t, a.EnableHotColdMasterNode(remote, "9.9.9.9:51472"))
	require.Equal(t, StatusStarted, a.Status())
	vin, addr, ok := a.Identity()
	require.True(t, ok)
	require.Equal(t, remote, vin)
	require.Equal(t, "9.9.9.9:51472", addr)

	a.ManageStatus()
	require.Len(t, h.registry.pings, 1)
	require.Equal(t, remote, h.registry.pings[0].Vin)

	h.cfg.Enabled = false
	disabled := h.newActive(t)
	require.False(t, disabled.EnableHotColdMasterNode(remote, "9.9.9.9:51472"))
}

// TestActivationFromRegistry ensures a node already announced for the
// operator key is adopted on start.
func TestActivationFromRegistry(t *testing.T) {
	h := newTestHarness(t)
	h.wallet.balance = 0

	var mn mnode.Masternode
	mn.Vin = wire.OutPoint{Index: 3}
	mn.Addr = "9.9.9.9:51472"
	mn.ProtocolVersion = mnparams.ProtocolVersion
	mn.ActiveState = mnode.StateEnabled
	h.registry.byPubKey[string(h.operator.PubKey().SerializeCompressed())] = mn

	a := h.newActive(t)
	a.ManageStatus()
	require.Equal(t, StatusStarted, a.Status())
	require.Len(t, h.registry.pings, 1)
	require.Empty(t, h.registry.announced)
}

// TestPingUnknownNode ensures pinging stops once the network forgot the
// node.
func TestPingUnknownNode(t *testing.T) {
	h := newTestHarness(t)
	a := h.newActive(t)
	a.ManageStatus()
	require.Equal(t, StatusStarted, a.Status())

	h.registry.pingErr = mnode.RuleError{ErrorCode: mnode.ErrPingTooEarly}
	require.Error(t, a.SendMasternodePing())
	require.Equal(t, StatusStarted, a.Status())

	h.registry.pingErr = mnode.RuleError{ErrorCode: mnode.ErrUnknownMasternode}
	require.Error(t, a.SendMasternodePing())
	require.Equal(t, StatusNotCapable, a.Status())
	_, _, ok := a.LocalIdentity()
	require.False(t, ok)
}

func TestRegister(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.Enabled = false
	a := h.newActive(t)

	remoteKey := keyFromSeed("remote operator")
	wif, err := h.signer.EncodeKey(remoteKey)
	require.NoError(t, err)
	entry := mnconfig.Entry{
		Alias:       "mn1",
		IP:          "5.5.5.5:51472",
		PrivKey:     wif,
		TxHash:      h.coin.OutPoint.Hash.String(),
		OutputIndex: "1",
	}

	require.NoError(t, a.Register(entry))
	require.Len(t, h.registry.announced, 1)
	mnb := h.registry.announced[0]
	require.Equal(t, h.coin.OutPoint, mnb.Vin)
	require.Equal(t, entry.IP, mnb.Addr)
	require.Equal(t, remoteKey.PubKey().SerializeCompressed(), mnb.PubKeyMasternode)
	require.Len(t, h.relayer.invs, 1)

	bad := entry
	bad.OutputIndex = "0"
	require.Error(t, a.Register(bad))
	bad = entry
	bad.OutputIndex = "one"
	require.Error(t, a.Register(bad))
	bad = entry
	bad.PrivKey = "garbage"
	require.Error(t, a.Register(bad))
	bad = entry
	bad.TxHash = "zz"
	require.Error(t, a.Register(bad))

	h.sync.synced = false
	require.Error(t, a.Register(entry))
	require.Len(t, h.registry.announced, 1)
}

// TestSelectCoinsMasternode ensures only exact collateral outputs are
// selected and configured collateral is only unlocked while listing.
func TestSelectCoinsMasternode(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.ConfLock = true
	h.cfg.ConfEntries = []mnconfig.Entry{{
		Alias:       "mn1",
		TxHash:      h.coin.OutPoint.Hash.String(),
		OutputIndex: "1",
	}, {
		Alias:       "broken",
		TxHash:      h.coin.OutPoint.Hash.String(),
		OutputIndex: "x",
	}}
	h.wallet.unlocked[h.coin.OutPoint] = false
	a := h.newActive(t)

	coins := a.SelectCoinsMasternode()
	require.Equal(t, []Coin{h.coin}, coins)
	require.Equal(t, []string{"unlock 1", "list", "lock 1"}, h.wallet.calls)
	require.True(t, h.wallet.isLocked(h.coin.OutPoint))

	coin, key, err := a.GetMasterNodeVin(&h.coin.OutPoint.Hash, 1)
	require.NoError(t, err)
	require.Equal(t, h.coin, coin)
	require.Equal(t, h.collateral, key)

	_, _, err = a.GetMasterNodeVin(&h.coin.OutPoint.Hash, 2)
	require.Error(t, err)

	// Without the lock option configured collateral stays locked.
	h.cfg.ConfLock = false
	a = h.newActive(t)
	require.Empty(t, a.SelectCoinsMasternode())
	_, _, err = a.GetMasterNodeVin(nil, 0)
	require.Error(t, err)
}

type fakeView map[wire.OutPoint]*mnode.CollateralEntry

func (v fakeView) FetchCollateral(op wire.OutPoint) (*mnode.CollateralEntry, bool) {
	return v[op], true
}

func TestChainInputAger(t *testing.T) {
	confirmed := wire.OutPoint{Index: 1}
	pending := wire.OutPoint{Index: 2}
	ager := &ChainInputAger{
		Chain: fakeChain{},
		Collateral: fakeView{
			confirmed: {Height: testTip - 9},
			pending:   {Height: 0},
		},
	}
	require.Equal(t, int32(10), ager.InputAge(confirmed))
	require.Zero(t, ager.InputAge(pending))
	require.Zero(t, ager.InputAge(wire.OutPoint{Index: 3}))
}
