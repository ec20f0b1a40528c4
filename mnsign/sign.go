// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnsign

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnparams"
)

var (
	// ErrBadSignature is returned when a signature does not verify against
	// the expected key.
	ErrBadSignature = errors.New("signature does not match public key")

	// ErrWrongNetwork is returned when a private key is encoded for
	// another network.
	ErrWrongNetwork = errors.New("private key is for a different network")
)

// Signer signs and verifies the text messages carried by masternode gossip.
// The zero value is not usable; create one with New.
type Signer struct {
	params *mnparams.Params
}

// New returns a signer for the given network.
func New(params *mnparams.Params) *Signer {
	return &Signer{params: params}
}

// messageHash returns the digest committed to by a message signature.
func (s *Signer) messageHash(message string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, s.params.MessageMagic)
	_ = wire.WriteVarString(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// SignMessage signs message with key and returns a compact signature.
func (s *Signer) SignMessage(key *btcec.PrivateKey, message string) ([]byte, error) {
	return ecdsa.SignCompact(key, s.messageHash(message), true), nil
}

// VerifyMessage checks that sig is a signature of message by the serialized
// public key pubKey.
func (s *Signer) VerifyMessage(pubKey []byte, sig []byte, message string) error {
	recovered, _, err := ecdsa.RecoverCompact(sig, s.messageHash(message))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !bytes.Equal(recovered.SerializeCompressed(), pubKey) &&
		!bytes.Equal(recovered.SerializeUncompressed(), pubKey) {

		return ErrBadSignature
	}
	return nil
}

// DecodeKey parses a WIF encoded private key and returns the key pair.
func (s *Signer) DecodeKey(wif string) (*btcec.PrivateKey, *btcec.PublicKey, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, nil, err
	}
	if !decoded.IsForNet(s.params.Params) {
		return nil, nil, ErrWrongNetwork
	}
	return decoded.PrivKey, decoded.PrivKey.PubKey(), nil
}

// EncodeKey returns the WIF encoding of key for the network.
func (s *Signer) EncodeKey(key *btcec.PrivateKey) (string, error) {
	wif, err := btcutil.NewWIF(key, s.params.Params, true)
	if err != nil {
		return "", err
	}
	return wif.String(), nil
}

// PayToPubKeyScript returns the pay-to-pubkey-hash script of the serialized
// public key.  This is the payee script of a masternode.
func (s *Signer) PayToPubKeyScript(pubKey []byte) ([]byte, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey),
		s.params.Params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// IsVinAssociatedWithPubkey returns whether out is a valid collateral output
// owned by pubKey: it must pay exactly the collateral amount to the
// pay-to-pubkey-hash script of the key.
func (s *Signer) IsVinAssociatedWithPubkey(out *wire.TxOut, pubKey []byte) bool {
	if out == nil || out.Value != mnparams.Collateral {
		return false
	}
	script, err := s.PayToPubKeyScript(pubKey)
	if err != nil {
		return false
	}
	return bytes.Equal(out.PkScript, script)
}

// PayeeString renders a payee script as an address, falling back to the
// hex encoded script.
func (s *Signer) PayeeString(script []byte) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, s.params.Params)
	if err != nil || len(addrs) != 1 {
		return fmt.Sprintf("%x", script)
	}
	return addrs[0].EncodeAddress()
}
