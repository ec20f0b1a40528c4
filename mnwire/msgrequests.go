// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MsgMNGet implements the wire.Message interface and represents a request
// for recent payment votes.
type MsgMNGet struct {
	CountNeeded int32
}

// BtcDecode decodes r using the wire protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgMNGet) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	count, err := readUint32(r)
	msg.CountNeeded = int32(count)
	return err
}

// BtcEncode encodes the receiver to w using the wire protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgMNGet) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	return writeUint32(w, uint32(msg.CountNeeded))
}

// Command returns the protocol command string for the message.  This is part
// of the wire.Message interface implementation.
func (msg *MsgMNGet) Command() string {
	return CmdMNGet
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the wire.Message interface implementation.
func (msg *MsgMNGet) MaxPayloadLength(pver uint32) uint32 {
	return 4
}

// NewMsgMNGet returns a payment vote request.
func NewMsgMNGet(countNeeded int32) *MsgMNGet {
	return &MsgMNGet{CountNeeded: countNeeded}
}

// MsgBudgetVoteSync implements the wire.Message interface and requests
// budget items.  The zero hash asks for everything.
type MsgBudgetVoteSync struct {
	Hash chainhash.Hash
}

// BtcDecode decodes r using the wire protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgBudgetVoteSync) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	_, err := io.ReadFull(r, msg.Hash[:])
	return err
}

// BtcEncode encodes the receiver to w using the wire protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgBudgetVoteSync) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	_, err := w.Write(msg.Hash[:])
	return err
}

// Command returns the protocol command string for the message.  This is part
// of the wire.Message interface implementation.
func (msg *MsgBudgetVoteSync) Command() string {
	return CmdBudgetVoteSync
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the wire.Message interface implementation.
func (msg *MsgBudgetVoteSync) MaxPayloadLength(pver uint32) uint32 {
	return chainhash.HashSize
}

// MsgGetSporks implements the wire.Message interface and requests the
// current feature switch values.  It has no payload.
type MsgGetSporks struct{}

// BtcDecode decodes r using the wire protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgGetSporks) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	return nil
}

// BtcEncode encodes the receiver to w using the wire protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgGetSporks) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	return nil
}

// Command returns the protocol command string for the message.  This is part
// of the wire.Message interface implementation.
func (msg *MsgGetSporks) Command() string {
	return CmdGetSporks
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the wire.Message interface implementation.
func (msg *MsgGetSporks) MaxPayloadLength(pver uint32) uint32 {
	return 0
}
