// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpayments

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnparams"
	"github.com/mnsuite/mnd/mnwire"
	"github.com/mnsuite/mnd/paystore"
)

// ProcessBlock votes for the payee of the block at height when the local
// masternode is among the SignaturesTotal top ranked nodes for it.  It
// returns whether a vote was cast.
func (l *Ledger) ProcessBlock(height int32) bool {
	if l.cfg.LiteMode {
		return false
	}
	_, local := l.bound()
	if local == nil {
		return false
	}
	vin, _, ok := local.LocalIdentity()
	if !ok {
		return false
	}

	minProto := l.GetMinMasternodePaymentsProto()
	rank := l.cfg.Registry.GetMasternodeRank(vin,
		height-mnparams.ScoreBlockOffset, minProto, true)
	if rank == -1 {
		log.Debugf("Unknown masternode %v, not voting for block %d",
			vin, height)
		return false
	}
	if rank > mnparams.SignaturesTotal {
		log.Tracef("Masternode %v not in the top %d (rank %d) for block %d",
			vin, mnparams.SignaturesTotal, rank, height)
		return false
	}

	l.mtx.Lock()
	last := l.lastBlockHeight
	l.mtx.Unlock()
	if height <= last {
		return false
	}

	winner, count, ok := l.cfg.Registry.GetNextMasternodeInQueueForPayment(
		l, height, true)
	if !ok {
		log.Debugf("Failed to find a masternode to pay for block %d", height)
		return false
	}
	payee, err := l.cfg.Signer.PayToPubKeyScript(winner.PubKeyCollateral)
	if err != nil {
		log.Errorf("Unable to create payee script for %v: %v", winner.Vin,
			err)
		return false
	}

	key, ok := local.OperatorKey()
	if !ok {
		return false
	}
	vote := mnwire.NewMsgMNWinner(vin, height, payee)
	vote.Sig, err = l.cfg.Signer.SignMessage(key, vote.SignatureMessage())
	if err != nil {
		log.Errorf("Unable to sign payment vote: %v", err)
		return false
	}

	log.Infof("Voting for %s (%v) as payee of block %d out of %d "+
		"candidates", l.cfg.Signer.PayeeString(payee), winner.Vin, height,
		count)
	if !l.AddWinningMasternode(vote) {
		return false
	}
	l.relay(vote)

	l.mtx.Lock()
	if height > l.lastBlockHeight {
		l.lastBlockHeight = height
	}
	l.mtx.Unlock()
	return true
}

func (l *Ledger) relay(vote *mnwire.MsgMNWinner) {
	if l.cfg.Relayer == nil {
		return
	}
	hash := vote.Hash()
	c := vote.Copy()
	l.cfg.Relayer.RelayInventory(wire.NewInvVect(mnwire.InvTypeMNWinner,
		&hash), &c)
}

// FillBlockPayee adds the masternode payment to the reward transaction of
// the block at height.  Proof-of-stake blocks pay the masternode out of the
// last coinstake output; proof-of-work blocks split the coinbase in two.
// It returns false when no payee is known.
func (l *Ledger) FillBlockPayee(tx *wire.MsgTx, height int32, proofOfStake bool) bool {
	payee, ok := l.GetBlockPayee(height)
	if !ok {
		mn, found := l.cfg.Registry.GetCurrentMasternode(1, height-1, 0)
		if !found {
			log.Debugf("No masternode to pay for block %d", height)
			return false
		}
		var err error
		payee, err = l.cfg.Signer.PayToPubKeyScript(mn.PubKeyCollateral)
		if err != nil {
			log.Errorf("Unable to create payee script for %v: %v",
				mn.Vin, err)
			return false
		}
	}

	blockValue := l.cfg.Params.BlockValue(height)
	payment := int64(l.cfg.Params.MasternodePayment(height, blockValue, 0))

	if proofOfStake {
		n := len(tx.TxOut)
		if n == 0 {
			return false
		}
		tx.AddTxOut(wire.NewTxOut(payment, payee))
		tx.TxOut[n-1].Value -= payment
	} else {
		if len(tx.TxOut) == 0 {
			tx.AddTxOut(wire.NewTxOut(0, nil))
		}
		tx.TxOut = append(tx.TxOut[:1], wire.NewTxOut(payment, payee))
		tx.TxOut[0].Value = int64(blockValue) - payment
	}

	log.Infof("Masternode payment of %v to %s for block %d",
		btcutil.Amount(payment), l.cfg.Signer.PayeeString(payee), height)
	return true
}

// IsBlockPayeeValid returns whether the block at height pays the elected
// masternode.  Before the masternode data is synced every block is
// accepted, and a missing payment is only fatal while payments are
// enforced.
func (l *Ledger) IsBlockPayeeValid(block *wire.MsgBlock, height int32) bool {
	if s, _ := l.bound(); s == nil || !s.IsSynced() {
		log.Debugf("Not synced, skipping payee checks of block %d", height)
		return true
	}

	idx := 0
	if height > l.cfg.Params.LastPoWBlock {
		idx = 1
	}
	if len(block.Transactions) <= idx {
		return false
	}
	if l.IsTransactionValid(block.Transactions[idx], height) {
		return true
	}

	if l.enforcingPayments() {
		return false
	}
	log.Warnf("Invalid masternode payment detected in block %d, not "+
		"enforcing", height)
	return true
}

// IsBlockValueValid returns whether a block at height minting minted is
// within the expected value.  Before the masternode data is synced the
// first blocks of each budget cycle are not checked since they may carry
// budget payments.
func (l *Ledger) IsBlockValueValid(height int32, expected, minted btcutil.Amount) bool {
	s, _ := l.bound()
	if (s == nil || !s.IsSynced()) && l.cfg.Params.BudgetCycleBlocks > 0 &&
		height%l.cfg.Params.BudgetCycleBlocks < 100 {

		return true
	}
	return minted <= expected
}

// RecordBlockPayment stores the payment of the elected payee made by tx in
// the connected block at height.
func (l *Ledger) RecordBlockPayment(height int32, blockTime int64, tx *wire.MsgTx) error {
	if l.cfg.Store == nil {
		return nil
	}
	payee, ok := l.GetBlockPayee(height)
	if !ok {
		return nil
	}
	for _, out := range tx.TxOut {
		if !bytes.Equal(out.PkScript, payee) {
			continue
		}
		return l.cfg.Store.PutPayment(&paystore.Payment{
			Payee:  payee,
			Height: height,
			Time:   blockTime,
		})
	}
	return nil
}
