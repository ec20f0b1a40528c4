// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sampleconfig provides a single constant that contains the contents
// of the sample configuration file for mnd.  It is written on the first run
// so the generated configuration file lists every option.
package sampleconfig

// FileContents is a string containing the commented example config for mnd.
const FileContents = `[Application Options]

; ------------------------------------------------------------------------------
; Data settings
; ------------------------------------------------------------------------------

; The directory to store the masternode caches and the payment history.  The
; default is ~/.mnd/data on POSIX OSes, $LOCALAPPDATA/Mnd/data on Windows,
; ~/Library/Application Support/Mnd/data on macOS.  Environment variables are
; expanded so they may be used.
; datadir=~/.mnd/data

; Database backend of the payment history.  Choices are leveldb and pebble.
; dbtype=leveldb


; ------------------------------------------------------------------------------
; Network settings
; ------------------------------------------------------------------------------

; Use testnet.
; testnet=1

; Use the regression test network.
; regtest=1


; ------------------------------------------------------------------------------
; Masternode settings
; ------------------------------------------------------------------------------

; Disable all masternode processing.  Blocks are then accepted without checking
; their masternode payment.
; litemode=1

; Operate as a masternode.  The operator key is the WIF encoded key printed by
; the wallet when the masternode was set up.
; masternode=1
; masternodeprivkey=

; External address announced by the local masternode.  Only port 51472 is
; accepted on mainnet while the other networks reject it.  When unset, the first
; routable address of the local interfaces is used.
; masternodeaddr=203.0.113.7:51472

; Path to the list of masternodes controlled by the local wallet.  The default
; is masternode.conf in the data directory.
; mnconf=
; mnconflock=1

; Override the number of masternodes added to the count used to compute the
; payment of a block.  Negative values use the network default.
; mncountdrift=-1


; ------------------------------------------------------------------------------
; Payment enforcement
; ------------------------------------------------------------------------------

; Reject blocks which do not pay the elected masternode.
; enforcepayments=1

; Only pay masternodes running the current protocol version.
; payupdatednodes=1


; ------------------------------------------------------------------------------
; Debug
; ------------------------------------------------------------------------------

; Debug logging level.
; Valid levels are {trace, debug, info, warn, error, critical}
; You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set
; log level for individual subsystems.  Use mnd --debuglevel=show to list
; available subsystems.
; debuglevel=info

; The directory to store the log files.
; logdir=~/.mnd/logs

; Serve prometheus metrics on the given address.
; prometheus=127.0.0.1:9390
`
