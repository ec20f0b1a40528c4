// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/mnsuite/mnd/mnparams"
)

// activeNetParams is a pointer to the parameters specific to the
// currently active network.
var activeNetParams = &mnparams.MainNetParams

// netParams returns the parameters of the network selected by the testnet
// and regtest flags.  A non-negative countDrift replaces the network
// default.  The returned value is a copy and may be modified.
func netParams(testNet, regTest bool, countDrift int) *mnparams.Params {
	var params mnparams.Params
	switch {
	case testNet:
		params = mnparams.TestNetParams
	case regTest:
		params = mnparams.RegressionNetParams
	default:
		params = mnparams.MainNetParams
	}
	if countDrift >= 0 {
		params.MasternodeCountDrift = countDrift
	}
	return &params
}
