// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"encoding/hex"
	"io"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MsgMNWinner implements the wire.Message interface and represents a vote by
// a top ranked masternode for the payee of a future block.
type MsgMNWinner struct {
	// VinMasternode is the collateral outpoint of the voting node.
	VinMasternode wire.OutPoint
	BlockHeight   int32
	Payee         []byte
	Sig           []byte
}

// BtcDecode decodes r using the wire protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgMNWinner) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	if err := readOutPoint(r, &msg.VinMasternode); err != nil {
		return err
	}
	height, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.BlockHeight = int32(height)
	msg.Payee, err = wire.ReadVarBytes(r, pver, MaxPayeeScriptLen,
		"MsgMNWinner.Payee")
	if err != nil {
		return err
	}
	msg.Sig, err = wire.ReadVarBytes(r, pver, MaxSigLen, "MsgMNWinner.Sig")
	return err
}

// BtcEncode encodes the receiver to w using the wire protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgMNWinner) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	if err := writeOutPoint(w, &msg.VinMasternode); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(msg.BlockHeight)); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.Payee); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, msg.Sig)
}

// Command returns the protocol command string for the message.  This is part
// of the wire.Message interface implementation.
func (msg *MsgMNWinner) Command() string {
	return CmdMNWinner
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the wire.Message interface implementation.
func (msg *MsgMNWinner) MaxPayloadLength(pver uint32) uint32 {
	return outPointLen + 4 + 2*wire.MaxVarIntPayload + MaxPayeeScriptLen +
		MaxSigLen
}

// Hash returns the identity of the vote.  The signature and voter key are
// not covered, so a vote is identified by what it says rather than by who
// signed it last.
func (msg *MsgMNWinner) Hash() chainhash.Hash {
	return hashBuf(func(w io.Writer) error {
		if err := wire.WriteVarBytes(w, 0, msg.Payee); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(msg.BlockHeight)); err != nil {
			return err
		}
		return writeOutPoint(w, &msg.VinMasternode)
	})
}

// SignatureMessage returns the string covered by the vote signature.
func (msg *MsgMNWinner) SignatureMessage() string {
	return OutPointShortString(&msg.VinMasternode) +
		strconv.FormatInt(int64(msg.BlockHeight), 10) +
		hex.EncodeToString(msg.Payee)
}

// Copy returns a deep copy of the vote.
func (msg *MsgMNWinner) Copy() MsgMNWinner {
	c := *msg
	c.Payee = append([]byte(nil), msg.Payee...)
	c.Sig = append([]byte(nil), msg.Sig...)
	return c
}

// NewMsgMNWinner returns an unsigned vote.
func NewMsgMNWinner(vin wire.OutPoint, height int32, payee []byte) *MsgMNWinner {
	return &MsgMNWinner{
		VinMasternode: vin,
		BlockHeight:   height,
		Payee:         payee,
	}
}
