// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpayments

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrVoteOutOfRange indicates a vote for a height too far below or
	// above the tip.
	ErrVoteOutOfRange ErrorCode = iota

	// ErrUnknownVoter indicates a vote cast by a node not in the registry.
	ErrUnknownVoter

	// ErrVoterProtocol indicates a vote cast by a node below the payment
	// protocol version.
	ErrVoterProtocol

	// ErrVoterRank indicates a vote cast by a node outside the top ranked
	// voters of the height.
	ErrVoterRank

	// ErrDuplicateVote indicates a second vote of the same node for a
	// height.
	ErrDuplicateVote

	// ErrBadSignature indicates a vote signature which does not verify.
	ErrBadSignature

	// ErrRequestTooSoon indicates a peer asking for the votes twice.
	ErrRequestTooSoon

	// ErrChainUnavailable indicates the chain view could not be consulted
	// right now.
	ErrChainUnavailable

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrVoteOutOfRange:   "ErrVoteOutOfRange",
	ErrUnknownVoter:     "ErrUnknownVoter",
	ErrVoterProtocol:    "ErrVoterProtocol",
	ErrVoterRank:        "ErrVoterRank",
	ErrDuplicateVote:    "ErrDuplicateVote",
	ErrBadSignature:     "ErrBadSignature",
	ErrRequestTooSoon:   "ErrRequestTooSoon",
	ErrChainUnavailable: "ErrChainUnavailable",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation of a payment vote or request.  DoS
// is the misbehavior score earned by the sending peer.
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
