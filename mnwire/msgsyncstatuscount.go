// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"io"

	"github.com/btcsuite/btcd/wire"
)

// Sync item identifiers carried by MsgSyncStatusCount.  The same values
// number the stages of the sync state machine.
const (
	SyncInitial    int32 = 0
	SyncSporks     int32 = 1
	SyncList       int32 = 2
	SyncMNW        int32 = 3
	SyncBudget     int32 = 4
	SyncBudgetProp int32 = 10
	SyncBudgetFin  int32 = 11
	SyncFailed     int32 = 998
	SyncFinished   int32 = 999
)

// MsgSyncStatusCount implements the wire.Message interface.  A peer sends it
// after answering a sync request to report how many items of the given
// stage it announced.
type MsgSyncStatusCount struct {
	ItemID int32
	Count  int32
}

// BtcDecode decodes r using the wire protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgSyncStatusCount) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	id, err := readUint32(r)
	if err != nil {
		return err
	}
	count, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.ItemID = int32(id)
	msg.Count = int32(count)
	return nil
}

// BtcEncode encodes the receiver to w using the wire protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgSyncStatusCount) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	if err := writeUint32(w, uint32(msg.ItemID)); err != nil {
		return err
	}
	return writeUint32(w, uint32(msg.Count))
}

// Command returns the protocol command string for the message.  This is part
// of the wire.Message interface implementation.
func (msg *MsgSyncStatusCount) Command() string {
	return CmdSyncStatusCount
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the wire.Message interface implementation.
func (msg *MsgSyncStatusCount) MaxPayloadLength(pver uint32) uint32 {
	return 8
}

// NewMsgSyncStatusCount returns a status count message.
func NewMsgSyncStatusCount(itemID, count int32) *MsgSyncStatusCount {
	return &MsgSyncStatusCount{ItemID: itemID, Count: count}
}
