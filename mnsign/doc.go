// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mnsign signs and verifies the text messages embedded in
// masternode gossip with compact secp256k1 signatures, and derives the
// payee scripts bound to collateral keys.
package mnsign
