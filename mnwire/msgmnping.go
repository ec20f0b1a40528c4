// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"io"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MsgMNPing implements the wire.Message interface and represents a signed
// liveness proof of a masternode.
//
// The ping references a recent block so stale pings can not be replayed.
// Its identity hash covers only the collateral outpoint and the signature
// time.
type MsgMNPing struct {
	Vin       wire.OutPoint
	BlockHash chainhash.Hash
	SigTime   int64
	Sig       []byte
}

// BtcDecode decodes r using the wire protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgMNPing) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	if err := readOutPoint(r, &msg.Vin); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, msg.BlockHash[:]); err != nil {
		return err
	}
	sigTime, err := readInt64(r)
	if err != nil {
		return err
	}
	msg.SigTime = sigTime
	msg.Sig, err = wire.ReadVarBytes(r, pver, MaxSigLen, "MsgMNPing.Sig")
	return err
}

// BtcEncode encodes the receiver to w using the wire protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgMNPing) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	if err := writeOutPoint(w, &msg.Vin); err != nil {
		return err
	}
	if _, err := w.Write(msg.BlockHash[:]); err != nil {
		return err
	}
	if err := writeInt64(w, msg.SigTime); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, msg.Sig)
}

// Command returns the protocol command string for the message.  This is part
// of the wire.Message interface implementation.
func (msg *MsgMNPing) Command() string {
	return CmdMNPing
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the wire.Message interface implementation.
func (msg *MsgMNPing) MaxPayloadLength(pver uint32) uint32 {
	return outPointLen + chainhash.HashSize + 8 + wire.MaxVarIntPayload + MaxSigLen
}

// Hash returns the identity of the ping.
func (msg *MsgMNPing) Hash() chainhash.Hash {
	return hashBuf(func(w io.Writer) error {
		if err := writeOutPoint(w, &msg.Vin); err != nil {
			return err
		}
		return writeInt64(w, msg.SigTime)
	})
}

// SignatureMessage returns the string covered by the ping signature.
func (msg *MsgMNPing) SignatureMessage() string {
	return msg.Vin.String() + msg.BlockHash.String() +
		strconv.FormatInt(msg.SigTime, 10)
}

// IsEmpty returns whether the ping is the zero value, which is used for
// nodes that have not pinged yet.
func (msg *MsgMNPing) IsEmpty() bool {
	return msg.SigTime == 0 && msg.Vin == (wire.OutPoint{}) &&
		msg.BlockHash == (chainhash.Hash{})
}

// Copy returns a deep copy of the ping.
func (msg *MsgMNPing) Copy() MsgMNPing {
	c := *msg
	if msg.Sig != nil {
		c.Sig = append([]byte(nil), msg.Sig...)
	}
	return c
}

// NewMsgMNPing returns a new unsigned ping for the given collateral
// outpoint.
func NewMsgMNPing(vin wire.OutPoint, blockHash chainhash.Hash, sigTime int64) *MsgMNPing {
	return &MsgMNPing{
		Vin:       vin,
		BlockHash: blockHash,
		SigTime:   sigTime,
	}
}
