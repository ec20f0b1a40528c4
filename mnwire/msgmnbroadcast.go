// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"encoding/hex"
	"io"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Identity is the announced, signed description of a masternode.  It is a
// plain value shared by the broadcast message and the registry records.
type Identity struct {
	// Vin is the collateral outpoint and the primary key of the node.
	Vin wire.OutPoint

	// Addr is the host:port the node serves on.
	Addr string

	// PubKeyCollateral is the serialized key owning the collateral.  Its
	// pay-to-pubkey-hash script is the payee of the node.
	PubKeyCollateral []byte

	// PubKeyMasternode is the serialized operator key which signs pings
	// and payment votes.
	PubKeyMasternode []byte

	Sig             []byte
	SigTime         int64
	ProtocolVersion uint32
}

// Copy returns a deep copy of the identity.
func (id *Identity) Copy() Identity {
	c := *id
	c.PubKeyCollateral = append([]byte(nil), id.PubKeyCollateral...)
	c.PubKeyMasternode = append([]byte(nil), id.PubKeyMasternode...)
	c.Sig = append([]byte(nil), id.Sig...)
	return c
}

func (id *Identity) decode(r io.Reader, pver uint32) error {
	if err := readOutPoint(r, &id.Vin); err != nil {
		return err
	}
	var err error
	id.Addr, err = wire.ReadVarString(r, pver)
	if err != nil {
		return err
	}
	if len(id.Addr) > MaxAddrLen {
		return messageError("Identity.decode", "address too long")
	}
	id.PubKeyCollateral, err = wire.ReadVarBytes(r, pver, MaxPubKeyLen,
		"Identity.PubKeyCollateral")
	if err != nil {
		return err
	}
	id.PubKeyMasternode, err = wire.ReadVarBytes(r, pver, MaxPubKeyLen,
		"Identity.PubKeyMasternode")
	if err != nil {
		return err
	}
	id.Sig, err = wire.ReadVarBytes(r, pver, MaxSigLen, "Identity.Sig")
	if err != nil {
		return err
	}
	if id.SigTime, err = readInt64(r); err != nil {
		return err
	}
	id.ProtocolVersion, err = readUint32(r)
	return err
}

func (id *Identity) encode(w io.Writer, pver uint32) error {
	if err := writeOutPoint(w, &id.Vin); err != nil {
		return err
	}
	if err := wire.WriteVarString(w, pver, id.Addr); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, id.PubKeyCollateral); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, id.PubKeyMasternode); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, id.Sig); err != nil {
		return err
	}
	if err := writeInt64(w, id.SigTime); err != nil {
		return err
	}
	return writeUint32(w, id.ProtocolVersion)
}

// MsgMNBroadcast implements the wire.Message interface and represents the
// announcement of a masternode together with its most recent ping.
type MsgMNBroadcast struct {
	Identity
	LastPing MsgMNPing
	LastDsq  int64
}

// BtcDecode decodes r using the wire protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgMNBroadcast) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	if err := msg.Identity.decode(r, pver); err != nil {
		return err
	}
	if err := msg.LastPing.BtcDecode(r, pver, enc); err != nil {
		return err
	}
	var err error
	msg.LastDsq, err = readInt64(r)
	return err
}

// BtcEncode encodes the receiver to w using the wire protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgMNBroadcast) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	if err := msg.Identity.encode(w, pver); err != nil {
		return err
	}
	if err := msg.LastPing.BtcEncode(w, pver, enc); err != nil {
		return err
	}
	return writeInt64(w, msg.LastDsq)
}

// Command returns the protocol command string for the message.  This is part
// of the wire.Message interface implementation.
func (msg *MsgMNBroadcast) Command() string {
	return CmdMNBroadcast
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the wire.Message interface implementation.
func (msg *MsgMNBroadcast) MaxPayloadLength(pver uint32) uint32 {
	identity := outPointLen + wire.MaxVarIntPayload + MaxAddrLen +
		2*(wire.MaxVarIntPayload+MaxPubKeyLen) +
		wire.MaxVarIntPayload + MaxSigLen + 8 + 4
	return uint32(identity) + msg.LastPing.MaxPayloadLength(pver) + 8
}

// Hash returns the identity of the broadcast.  It covers only the signature
// time and the collateral key so re-signed announcements of the same node
// at the same time collapse to one entry.
func (msg *MsgMNBroadcast) Hash() chainhash.Hash {
	return BroadcastHash(msg.SigTime, msg.PubKeyCollateral)
}

// BroadcastHash computes the identity hash of a broadcast from its
// signature time and collateral key.
func BroadcastHash(sigTime int64, pubKeyCollateral []byte) chainhash.Hash {
	return hashBuf(func(w io.Writer) error {
		if err := writeInt64(w, sigTime); err != nil {
			return err
		}
		return wire.WriteVarBytes(w, 0, pubKeyCollateral)
	})
}

// SignatureMessage returns the string covered by the broadcast signature.
func (msg *MsgMNBroadcast) SignatureMessage() string {
	return msg.Addr + strconv.FormatInt(msg.SigTime, 10) +
		hex.EncodeToString(btcutil.Hash160(msg.PubKeyCollateral)) +
		hex.EncodeToString(btcutil.Hash160(msg.PubKeyMasternode)) +
		strconv.FormatUint(uint64(msg.ProtocolVersion), 10)
}

// NewMsgMNBroadcast returns a broadcast for the given identity and ping.
func NewMsgMNBroadcast(id Identity, lastPing MsgMNPing) *MsgMNBroadcast {
	return &MsgMNBroadcast{
		Identity: id,
		LastPing: lastPing,
	}
}
