// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"io"

	"github.com/btcsuite/btcd/wire"
)

// MsgDseg implements the wire.Message interface and represents a request for
// the masternode list.  A zero outpoint asks for every known node, otherwise
// only the node with the given collateral is requested.
type MsgDseg struct {
	Vin wire.OutPoint
}

// BtcDecode decodes r using the wire protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgDseg) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	return readOutPoint(r, &msg.Vin)
}

// BtcEncode encodes the receiver to w using the wire protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgDseg) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	return writeOutPoint(w, &msg.Vin)
}

// Command returns the protocol command string for the message.  This is part
// of the wire.Message interface implementation.
func (msg *MsgDseg) Command() string {
	return CmdDseg
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the wire.Message interface implementation.
func (msg *MsgDseg) MaxPayloadLength(pver uint32) uint32 {
	return outPointLen
}

// IsFullList returns whether the request asks for the whole list.
func (msg *MsgDseg) IsFullList() bool {
	return msg.Vin == (wire.OutPoint{})
}

// NewMsgDseg returns a list request.  Pass the zero outpoint to request the
// whole list.
func NewMsgDseg(vin wire.OutPoint) *MsgDseg {
	return &MsgDseg{Vin: vin}
}
