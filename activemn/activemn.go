// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package activemn

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnconfig"
	"github.com/mnsuite/mnd/mnode"
	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnpeer"
	"github.com/mnsuite/mnd/mnsign"
	"github.com/mnsuite/mnd/mnwire"
)

// pingBlockDepth is the depth below the tip of the block referenced by
// pings of the local node.
const pingBlockDepth = 12

// Status describes how far the local masternode got in activating itself.
type Status int

// These constants define the activation states of the local masternode.
const (
	StatusInitial Status = iota
	StatusSyncInProcess
	StatusInputTooNew
	StatusNotCapable
	StatusStarted
)

// Map of Status values back to their constant names for pretty printing.
var statusStrings = map[Status]string{
	StatusInitial:       "INITIAL",
	StatusSyncInProcess: "SYNC_IN_PROCESS",
	StatusInputTooNew:   "INPUT_TOO_NEW",
	StatusNotCapable:    "NOT_CAPABLE",
	StatusStarted:       "STARTED",
}

// String returns the Status as a human-readable name.
func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown Status (%d)", int(s))
}

// Coin is an unspent output of the wallet.
type Coin struct {
	OutPoint wire.OutPoint
	TxOut    *wire.TxOut
}

// Wallet is the subset of the wallet needed to locate and lock collateral.
type Wallet interface {
	IsLocked() bool
	Balance() btcutil.Amount
	AvailableCoins() []Coin
	LockCoin(op wire.OutPoint)
	UnlockCoin(op wire.OutPoint)

	// PrivKeyFor returns the key able to spend outputs paying to
	// pkScript.
	PrivKeyFor(pkScript []byte) (*btcec.PrivateKey, bool)
}

// Network exposes the reachability of the local node.
type Network interface {
	// LocalAddress returns the detected external host:port.
	LocalAddress() (string, bool)

	// CheckInbound verifies that addr accepts connections.
	CheckInbound(addr string) error
}

// InputAger reports the confirmations of a collateral output.
type InputAger interface {
	InputAge(vin wire.OutPoint) int32
}

// Registry is the view of the masternode registry used by the local node.
// It is implemented by *mnode.Manager.
type Registry interface {
	FindByPubKey(pubKey []byte) (mnode.Masternode, bool)
	UpdateMasternodeList(mnb *mnwire.MsgMNBroadcast)
	UpdateLastPing(mnp *mnwire.MsgMNPing) error
}

// SyncStatus reports whether the chain can be trusted.
type SyncStatus interface {
	IsBlockchainSynced() bool
}

// Config is a descriptor containing the local masternode configuration.
type Config struct {
	Params     *mnparams.Params
	Chain      mnode.Chain
	TimeSource mnode.TimeSource
	Signer     *mnsign.Signer
	Registry   Registry
	Sync       SyncStatus
	Wallet     Wallet
	Network    Network
	InputAger  InputAger
	Relayer    mnpeer.Relayer

	// Enabled makes the node operate as a masternode.
	Enabled bool

	// PrivKey is the WIF encoded operator key.
	PrivKey string

	// ServiceAddr overrides the detected external address.
	ServiceAddr string

	// ConfEntries are the remote nodes of masternode.conf.  When
	// ConfLock is set their collateral stays locked in the wallet and is
	// only unlocked while selecting coins.
	ConfEntries []mnconfig.Entry
	ConfLock    bool
}

// identity is the published identity of the started node.
type identity struct {
	vin  wire.OutPoint
	addr string
}

// ActiveMasternode manages the local masternode: it waits for the chain,
// locates the collateral, announces the node and keeps it alive with
// pings.  A node without funds can be started remotely by the wallet
// holding the collateral.
//
// The identity of the started node is published atomically so the
// registry may read it while holding its own lock.
type ActiveMasternode struct {
	cfg Config

	operator       *btcec.PrivateKey
	operatorPubKey []byte

	started atomic.Pointer[identity]

	mtx              sync.Mutex
	status           Status
	notCapableReason string
	vin              wire.OutPoint
	service          string
}

// New returns the local masternode controller.  The operator key must be
// valid when the node is enabled.
func New(cfg *Config) (*ActiveMasternode, error) {
	a := &ActiveMasternode{cfg: *cfg}
	if cfg.PrivKey == "" {
		if cfg.Enabled {
			return nil, errors.New("masternode private key is required")
		}
		return a, nil
	}

	key, pub, err := cfg.Signer.DecodeKey(cfg.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("invalid masternode private key: %v", err)
	}
	a.operator = key
	a.operatorPubKey = pub.SerializeCompressed()
	return a, nil
}

func (a *ActiveMasternode) now() int64 {
	return a.cfg.TimeSource.AdjustedTime().Unix()
}

// LocalIdentity returns the collateral and operator key of the started
// node.
func (a *ActiveMasternode) LocalIdentity() (wire.OutPoint, []byte, bool) {
	id := a.started.Load()
	if id == nil {
		return wire.OutPoint{}, nil, false
	}
	return id.vin, a.operatorPubKey, true
}

// PubKeyMasternode returns the configured operator key.
func (a *ActiveMasternode) PubKeyMasternode() []byte {
	return a.operatorPubKey
}

// OperatorKey returns the key signing pings and payment votes.
func (a *ActiveMasternode) OperatorKey() (*btcec.PrivateKey, bool) {
	return a.operator, a.operator != nil
}

// Status returns the activation state.
func (a *ActiveMasternode) Status() Status {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.status
}

// GetStatus returns a human readable description of the activation state.
func (a *ActiveMasternode) GetStatus() string {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.statusString()
}

func (a *ActiveMasternode) statusString() string {
	switch a.status {
	case StatusInitial:
		return "Node just started, not yet activated"
	case StatusSyncInProcess:
		return "Sync in progress. Must wait until sync is complete to start Masternode"
	case StatusInputTooNew:
		return fmt.Sprintf("Masternode input must have at least %d confirmations",
			mnparams.MinConfirmations)
	case StatusNotCapable:
		return "Not capable masternode: " + a.notCapableReason
	case StatusStarted:
		return "Masternode successfully started"
	}
	return "unknown"
}

// notCapable records why the node can not start.  The caller must hold
// the lock.
func (a *ActiveMasternode) notCapable(reason string) {
	a.status = StatusNotCapable
	a.notCapableReason = reason
	log.Infof("Not capable: %s", reason)
}

// ManageStatus drives the activation of the local node and pings once it
// is started.  It is called periodically and retries after every failure.
func (a *ActiveMasternode) ManageStatus() {
	if !a.cfg.Enabled {
		return
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()

	log.Tracef("Managing status %v", a.status)

	if !a.cfg.Params.IsRegTest() && !a.cfg.Sync.IsBlockchainSynced() {
		a.status = StatusSyncInProcess
		log.Infof("%s", a.statusString())
		return
	}
	if a.status == StatusSyncInProcess {
		a.status = StatusInitial
	}

	// A remote start may have announced the node already.
	if a.status == StatusInitial {
		mn, ok := a.cfg.Registry.FindByPubKey(a.operatorPubKey)
		if ok && mn.IsEnabled() &&
			mn.ProtocolVersion == mnparams.ProtocolVersion {

			a.enable(mn.Vin, mn.Addr)
		}
	}

	if a.status != StatusStarted {
		a.startLocal()
		return
	}

	if err := a.sendPing(); err != nil {
		log.Infof("Error on ping: %v", err)
	}
}

// startLocal announces the node using collateral held by the local wallet.
// The caller must hold the lock.
func (a *ActiveMasternode) startLocal() {
	a.status = StatusNotCapable
	a.notCapableReason = ""

	wallet := a.cfg.Wallet
	if wallet.IsLocked() {
		a.notCapable("Wallet is locked.")
		return
	}
	if wallet.Balance() == 0 {
		a.notCapable("Hot node, waiting for remote activation.")
		return
	}

	service := a.cfg.ServiceAddr
	if service == "" {
		addr, ok := a.cfg.Network.LocalAddress()
		if !ok {
			a.notCapable("Can't detect external address. Please use " +
				"the masternodeaddr configuration option.")
			return
		}
		service = addr
	}

	log.Infof("Checking inbound connection to '%s'", service)
	if err := a.cfg.Network.CheckInbound(service); err != nil {
		a.notCapable("Could not connect to " + service)
		return
	}

	coin, collateralKey, err := a.getMasterNodeVin(nil, 0)
	if err != nil {
		a.notCapable("Could not find suitable coins!")
		return
	}

	age := a.cfg.InputAger.InputAge(coin.OutPoint)
	if age < mnparams.MinConfirmations {
		a.status = StatusInputTooNew
		a.notCapableReason = fmt.Sprintf("%s - %d confirmations",
			a.statusString(), age)
		log.Infof("%s", a.notCapableReason)
		return
	}

	wallet.LockCoin(coin.OutPoint)

	mnb, err := a.CreateBroadcast(coin.OutPoint, service, collateralKey,
		a.operator)
	if err != nil {
		a.notCapable("Error on Register: " + err.Error())
		return
	}
	a.announce(mnb)

	log.Infof("Is capable master node!")
	a.vin = coin.OutPoint
	a.service = service
	a.status = StatusStarted
	a.started.Store(&identity{vin: coin.OutPoint, addr: service})
}

// EnableHotColdMasterNode starts the node with a collateral held by a
// remote wallet once its announcement signed for the local operator key
// was accepted.
func (a *ActiveMasternode) EnableHotColdMasterNode(vin wire.OutPoint, addr string) bool {
	if !a.cfg.Enabled {
		return false
	}

	a.mtx.Lock()
	a.enable(vin, addr)
	a.mtx.Unlock()
	return true
}

// enable marks the node started.  The caller must hold the lock.
func (a *ActiveMasternode) enable(vin wire.OutPoint, addr string) {
	a.status = StatusStarted
	a.vin = vin
	a.service = addr
	a.started.Store(&identity{vin: vin, addr: addr})
	log.Infof("Enabled! You may shut down the cold daemon.")
}

// SendMasternodePing signs and relays a fresh ping for the started node.
func (a *ActiveMasternode) SendMasternodePing() error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.sendPing()
}

// sendPing signs and relays a ping.  The caller must hold the lock.
func (a *ActiveMasternode) sendPing() error {
	if a.status != StatusStarted {
		return errors.New("masternode is not in a running status")
	}

	mnp, err := a.newPing(a.vin, a.operator)
	if err != nil {
		return err
	}

	log.Debugf("Relay masternode ping vin = %v", a.vin)
	err = a.cfg.Registry.UpdateLastPing(mnp)
	if mnode.IsErrorCode(err, mnode.ErrUnknownMasternode) {
		// The network does not know the node so pinging is pointless.
		str := fmt.Sprintf("masternode list doesn't include our "+
			"masternode, shutting down masternode pinging service! %v",
			a.vin)
		a.notCapable(str)
		a.started.Store(nil)
		return errors.New(str)
	}
	return err
}

// newPing returns a ping for vin signed by key referencing a recent block.
func (a *ActiveMasternode) newPing(vin wire.OutPoint, key *btcec.PrivateKey) (*mnwire.MsgMNPing, error) {
	tip, ok := a.cfg.Chain.TipHeight()
	if !ok {
		return nil, errors.New("chain is busy")
	}
	height := tip - pingBlockDepth
	if height < 0 {
		height = 0
	}
	blockHash, ok := a.cfg.Chain.BlockHash(height)
	if !ok {
		return nil, fmt.Errorf("no block at height %d", height)
	}

	mnp := mnwire.NewMsgMNPing(vin, blockHash, a.now())
	sig, err := a.cfg.Signer.SignMessage(key, mnp.SignatureMessage())
	if err != nil {
		return nil, fmt.Errorf("couldn't sign masternode ping: %v", err)
	}
	mnp.Sig = sig
	return mnp, nil
}

// CreateBroadcast returns the signed announcement of a node with the given
// collateral, address and keys.
func (a *ActiveMasternode) CreateBroadcast(vin wire.OutPoint, service string,
	collateralKey, operatorKey *btcec.PrivateKey) (*mnwire.MsgMNBroadcast, error) {

	mnp, err := a.newPing(vin, operatorKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign ping, vin %v: %v", vin, err)
	}

	id := mnwire.Identity{
		Vin:              vin,
		Addr:             service,
		PubKeyCollateral: collateralKey.PubKey().SerializeCompressed(),
		PubKeyMasternode: operatorKey.PubKey().SerializeCompressed(),
		SigTime:          a.now(),
		ProtocolVersion:  mnparams.ProtocolVersion,
	}
	mnb := mnwire.NewMsgMNBroadcast(id, *mnp)
	sig, err := a.cfg.Signer.SignMessage(collateralKey, mnb.SignatureMessage())
	if err != nil {
		return nil, fmt.Errorf("failed to sign broadcast, vin %v: %v",
			vin, err)
	}
	mnb.Sig = sig
	return mnb, nil
}

// announce adds the broadcast to the registry and relays it.
func (a *ActiveMasternode) announce(mnb *mnwire.MsgMNBroadcast) {
	log.Infof("Adding to masternode list service: %s vin: %v", mnb.Addr,
		mnb.Vin)
	a.cfg.Registry.UpdateMasternodeList(mnb)

	if a.cfg.Relayer != nil {
		hash := mnb.Hash()
		a.cfg.Relayer.RelayInventory(wire.NewInvVect(
			mnwire.InvTypeMNAnnounce, &hash), mnb)
	}
}

// Register starts the remote node of a masternode.conf entry.  The
// collateral must be held by the local wallet.
func (a *ActiveMasternode) Register(entry mnconfig.Entry) error {
	if !a.cfg.Sync.IsBlockchainSynced() {
		return errors.New(a.GetStatus())
	}

	operator, _, err := a.cfg.Signer.DecodeKey(entry.PrivKey)
	if err != nil {
		return fmt.Errorf("can't find keys for masternode %s: %v",
			entry.IP, err)
	}

	txHash, err := chainhash.NewHashFromStr(entry.TxHash)
	if err != nil {
		return fmt.Errorf("invalid collateral hash for masternode %s: %v",
			entry.IP, err)
	}
	index, err := entry.CastOutputIndex()
	if err != nil {
		return err
	}

	a.mtx.Lock()
	coin, collateralKey, err := a.getMasterNodeVin(txHash, index)
	a.mtx.Unlock()
	if err != nil {
		return fmt.Errorf("could not allocate vin %s:%d for masternode "+
			"%s: %v", entry.TxHash, index, entry.IP, err)
	}

	mnb, err := a.CreateBroadcast(coin.OutPoint, entry.IP, collateralKey,
		operator)
	if err != nil {
		return err
	}
	a.announce(mnb)
	return nil
}

// GetMasterNodeVin returns a collateral coin of the wallet and the key
// owning it.  A nil hash selects the first candidate.
func (a *ActiveMasternode) GetMasterNodeVin(txHash *chainhash.Hash, index uint32) (Coin, *btcec.PrivateKey, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.getMasterNodeVin(txHash, index)
}

func (a *ActiveMasternode) getMasterNodeVin(txHash *chainhash.Hash, index uint32) (Coin, *btcec.PrivateKey, error) {
	coins := a.selectCoins()

	var selected *Coin
	if txHash != nil {
		for i := range coins {
			op := coins[i].OutPoint
			if op.Hash == *txHash && op.Index == index {
				selected = &coins[i]
				break
			}
		}
		if selected == nil {
			return Coin{}, nil, errors.New("could not locate valid vin")
		}
	} else {
		if len(coins) == 0 {
			return Coin{}, nil, errors.New("could not locate specified " +
				"vin from possible list")
		}
		selected = &coins[0]
	}

	key, ok := a.cfg.Wallet.PrivKeyFor(selected.TxOut.PkScript)
	if !ok {
		return Coin{}, nil, errors.New("private key for address is not known")
	}
	pubKey := key.PubKey().SerializeCompressed()
	if !a.cfg.Signer.IsVinAssociatedWithPubkey(selected.TxOut, pubKey) {
		return Coin{}, nil, errors.New("address does not refer to a key")
	}
	return *selected, key, nil
}

// SelectCoinsMasternode returns the wallet outputs carrying exactly the
// collateral amount.
func (a *ActiveMasternode) SelectCoinsMasternode() []Coin {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.selectCoins()
}

func (a *ActiveMasternode) selectCoins() []Coin {
	wallet := a.cfg.Wallet

	// Collateral of remote nodes is unlocked while the coins are listed.
	var confLocked []wire.OutPoint
	if a.cfg.ConfLock {
		for _, entry := range a.cfg.ConfEntries {
			hash, err := chainhash.NewHashFromStr(entry.TxHash)
			if err != nil {
				continue
			}
			index, err := entry.CastOutputIndex()
			if err != nil {
				continue
			}
			op := wire.OutPoint{Hash: *hash, Index: index}
			confLocked = append(confLocked, op)
			wallet.UnlockCoin(op)
		}
	}

	coins := wallet.AvailableCoins()

	for _, op := range confLocked {
		wallet.LockCoin(op)
	}

	filtered := make([]Coin, 0, len(coins))
	for _, c := range coins {
		if c.TxOut != nil && c.TxOut.Value == mnparams.Collateral {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// ChainInputAger computes collateral confirmations from the chain and the
// collateral view.
type ChainInputAger struct {
	Chain      mnode.Chain
	Collateral mnode.CollateralView
}

// InputAge returns the confirmations of vin, or zero when it is unknown
// or unconfirmed.
func (c *ChainInputAger) InputAge(vin wire.OutPoint) int32 {
	entry, ok := c.Collateral.FetchCollateral(vin)
	if !ok || entry == nil || entry.Height <= 0 {
		return 0
	}
	tip, ok := c.Chain.TipHeight()
	if !ok {
		return 0
	}
	return tip - entry.Height + 1
}

// Identity returns the collateral and address of the started node.
func (a *ActiveMasternode) Identity() (wire.OutPoint, string, bool) {
	id := a.started.Load()
	if id == nil {
		return wire.OutPoint{}, "", false
	}
	return id.vin, id.addr, true
}
