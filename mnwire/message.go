// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// Commands used in masternode message headers which describe the type of
// message.
const (
	CmdMNBroadcast     = "mnb"
	CmdMNPing          = "mnp"
	CmdDseg            = "dseg"
	CmdSyncStatusCount = "ssc"
	CmdMNWinner        = "mnw"
	CmdMNGet           = "mnget"
	CmdBudgetVoteSync  = "mnvs"
	CmdGetSporks       = "getsporks"
)

// Inventory vector types announcing masternode data.
const (
	InvTypeMNWinner   wire.InvType = 7
	InvTypeMNAnnounce wire.InvType = 14
	InvTypeMNPing     wire.InvType = 15
)

// makeEmptyMessage creates a message of the appropriate concrete type based
// on the command.
func makeEmptyMessage(command string) (wire.Message, error) {
	var msg wire.Message
	switch command {
	case CmdMNBroadcast:
		msg = &MsgMNBroadcast{}

	case CmdMNPing:
		msg = &MsgMNPing{}

	case CmdDseg:
		msg = &MsgDseg{}

	case CmdSyncStatusCount:
		msg = &MsgSyncStatusCount{}

	case CmdMNWinner:
		msg = &MsgMNWinner{}

	case CmdMNGet:
		msg = &MsgMNGet{}

	case CmdBudgetVoteSync:
		msg = &MsgBudgetVoteSync{}

	case CmdGetSporks:
		msg = &MsgGetSporks{}

	default:
		return nil, fmt.Errorf("unhandled command [%s]", command)
	}
	return msg, nil
}

// DecodePayload decodes the payload of a masternode message with the given
// command.  Framing is handled by the peer layer, which hands over the
// command and raw payload of messages it does not know.
func DecodePayload(command string, payload []byte, pver uint32) (wire.Message, error) {
	msg, err := makeEmptyMessage(command)
	if err != nil {
		return nil, err
	}
	if uint32(len(payload)) > msg.MaxPayloadLength(pver) {
		str := fmt.Sprintf("payload exceeds max length - header "+
			"indicates %v bytes, but max payload size for "+
			"messages of type [%v] is %v.", len(payload), command,
			msg.MaxPayloadLength(pver))
		return nil, messageError("DecodePayload", str)
	}
	if err := msg.BtcDecode(bytes.NewReader(payload), pver, wire.BaseEncoding); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodePayload serializes msg without any framing.
func EncodePayload(msg wire.Message, pver uint32) ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.BtcEncode(&buf, pver, wire.BaseEncoding); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
