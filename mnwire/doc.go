// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package mnwire implements the masternode gossip protocol messages.

Every message implements the wire.Message interface from the btcd wire
package so it can be framed with wire.WriteMessage and share the var-int
and var-bytes primitives.  The peer layer recognizes the commands defined
here and hands the raw payload to DecodePayload.

Message Types

	mnb        MsgMNBroadcast      announcement of a masternode
	mnp        MsgMNPing           liveness proof
	dseg       MsgDseg             list request
	ssc        MsgSyncStatusCount  per stage item count sent after a sync reply
	mnw        MsgMNWinner         payment vote
	mnget      MsgMNGet            payment vote request
	mnvs       MsgBudgetVoteSync   budget item request
	getsporks  MsgGetSporks        feature switch request

Identity Hashes

Broadcasts, pings and votes are deduplicated by a double-SHA256 hash over a
subset of their fields.  Signatures never contribute to the identity.
*/
package mnwire
