// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnode

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrSigTimeInFuture indicates a signature timestamp too far ahead of
	// the adjusted time.
	ErrSigTimeInFuture ErrorCode = iota

	// ErrSigTimeTooOld indicates a ping signed too long ago.
	ErrSigTimeTooOld

	// ErrBadSignature indicates a broadcast or ping signature which does
	// not verify.
	ErrBadSignature

	// ErrBadPubKey indicates a key which can not be turned into a
	// pay-to-pubkey-hash script.
	ErrBadPubKey

	// ErrBadAddress indicates a service address which is malformed or
	// uses the wrong port for the network.
	ErrBadAddress

	// ErrMissingPing indicates a broadcast without a valid embedded ping.
	ErrMissingPing

	// ErrProtocolTooOld indicates a node below the minimum payment
	// protocol version.
	ErrProtocolTooOld

	// ErrStaleBroadcast indicates a broadcast which is not newer than the
	// stored one.
	ErrStaleBroadcast

	// ErrMismatchedCollateral indicates a collateral output not owned by
	// the announced collateral key.
	ErrMismatchedCollateral

	// ErrCollateralUnavailable indicates the collateral is spent, unknown
	// or has the wrong value.
	ErrCollateralUnavailable

	// ErrCollateralTooNew indicates the collateral has too few
	// confirmations or the broadcast predates them.
	ErrCollateralTooNew

	// ErrUnknownBlock indicates a ping referencing a block not in the main
	// chain.
	ErrUnknownBlock

	// ErrPingBlockTooOld indicates a ping referencing a block too far
	// below the tip.
	ErrPingBlockTooOld

	// ErrPingTooEarly indicates a ping arriving before the minimum ping
	// interval elapsed.
	ErrPingTooEarly

	// ErrUnknownMasternode indicates a message for a node not in the
	// registry.
	ErrUnknownMasternode

	// ErrNotEnabled indicates a node which is not in the enabled state.
	ErrNotEnabled

	// ErrListRequestTooSoon indicates a peer asking for the full list
	// again before its cooldown expired.
	ErrListRequestTooSoon

	// ErrChainUnavailable indicates the chain view could not be consulted
	// right now.  The message is dropped without penalty and may be
	// retried.
	ErrChainUnavailable

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrSigTimeInFuture:       "ErrSigTimeInFuture",
	ErrSigTimeTooOld:         "ErrSigTimeTooOld",
	ErrBadSignature:          "ErrBadSignature",
	ErrBadPubKey:             "ErrBadPubKey",
	ErrBadAddress:            "ErrBadAddress",
	ErrMissingPing:           "ErrMissingPing",
	ErrProtocolTooOld:        "ErrProtocolTooOld",
	ErrStaleBroadcast:        "ErrStaleBroadcast",
	ErrMismatchedCollateral:  "ErrMismatchedCollateral",
	ErrCollateralUnavailable: "ErrCollateralUnavailable",
	ErrCollateralTooNew:      "ErrCollateralTooNew",
	ErrUnknownBlock:          "ErrUnknownBlock",
	ErrPingBlockTooOld:       "ErrPingBlockTooOld",
	ErrPingTooEarly:          "ErrPingTooEarly",
	ErrUnknownMasternode:     "ErrUnknownMasternode",
	ErrNotEnabled:            "ErrNotEnabled",
	ErrListRequestTooSoon:    "ErrListRequestTooSoon",
	ErrChainUnavailable:      "ErrChainUnavailable",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a gossip message failed due to one of the many validation
// rules.  The caller can use type assertions to determine if a failure was
// specifically due to a rule violation and access the ErrorCode field to
// ascertain the specific reason for the rule violation.
//
// DoS is the misbehavior score the sending peer earned with the message.
// A zero score means the message was dropped without penalty.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	DoS         uint32    // Penalty for the peer that relayed the message
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, dos uint32, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc, DoS: dos}
}

// IsErrorCode returns whether err is a RuleError with the given code.
func IsErrorCode(err error, c ErrorCode) bool {
	rerr, ok := err.(RuleError)
	return ok && rerr.ErrorCode == c
}

// DoSScore returns the misbehavior score carried by err, or zero.
func DoSScore(err error) uint32 {
	if rerr, ok := err.(RuleError); ok {
		return rerr.DoS
	}
	return 0
}
