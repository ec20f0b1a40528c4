// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mncache persists the masternode registry and the payment ledger
// in flat files.
//
// A cache file is laid out as follows:
//
//	varstr   magic message identifying the content
//	uint32   network magic
//	[]byte   serialized object
//	[32]byte double SHA-256 of everything above
package mncache

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnwire"
)

// These are the file names and magic messages of the caches.
const (
	RegistryFile    = "mncache.dat"
	RegistryMagic   = "MasternodeCache"
	PaymentsFile    = "mnpayments.dat"
	PaymentsMagic   = "MasternodePayments"
	maxMagicMessage = 64
)

// Serializable is an object stored in a cache file.  Deserialize must
// leave the object unchanged when it fails.
type Serializable interface {
	Serialize(w io.Writer) error
	Deserialize(r io.Reader) error
	String() string
}

// ReadResult identifies why a cache file could not be read.
type ReadResult int

// These constants are used to identify a specific ReadError.
const (
	// FileError indicates the file could not be opened or read.
	FileError ReadResult = iota + 1

	// HashReadError indicates the file is too short to hold a checksum.
	HashReadError

	// IncorrectHash indicates the checksum does not match the content.
	IncorrectHash

	// IncorrectMagicMessage indicates the file holds a different kind
	// of object.
	IncorrectMagicMessage

	// IncorrectMagicNumber indicates the file belongs to another
	// network.
	IncorrectMagicNumber

	// IncorrectFormat indicates the object could not be decoded.
	IncorrectFormat
)

// Map of ReadResult values back to their constant names for pretty
// printing.
var readResultStrings = map[ReadResult]string{
	FileError:             "FileError",
	HashReadError:         "HashReadError",
	IncorrectHash:         "IncorrectHash",
	IncorrectMagicMessage: "IncorrectMagicMessage",
	IncorrectMagicNumber:  "IncorrectMagicNumber",
	IncorrectFormat:       "IncorrectFormat",
}

// String returns the ReadResult as a human-readable name.
func (r ReadResult) String() string {
	if s := readResultStrings[r]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ReadResult (%d)", int(r))
}

// ReadError describes a failure to read a cache file.
type ReadError struct {
	Result ReadResult
	Err    error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ReadError) Error() string {
	return fmt.Sprintf("%v: %v", e.Result, e.Err)
}

// Unwrap returns the underlying error.
func (e ReadError) Unwrap() error {
	return e.Err
}

// IsReadResult returns whether err is a ReadError with the given result.
func IsReadResult(err error, r ReadResult) bool {
	rerr, ok := err.(ReadError)
	return ok && rerr.Result == r
}

// FlatDB reads and writes one cache file.
type FlatDB struct {
	Path         string
	MagicMessage string
	Net          wire.BitcoinNet
}

// New returns a cache file handle.
func New(path, magicMessage string, net wire.BitcoinNet) *FlatDB {
	return &FlatDB{Path: path, MagicMessage: magicMessage, Net: net}
}

// Write replaces the cache file with the serialized object.
func (db *FlatDB) Write(obj Serializable) error {
	start := time.Now()

	var buf bytes.Buffer
	if err := wire.WriteVarString(&buf, 0, db.MagicMessage); err != nil {
		return err
	}
	if err := mnwire.WriteUint32(&buf, uint32(db.Net)); err != nil {
		return err
	}
	if err := obj.Serialize(&buf); err != nil {
		return err
	}
	hash := chainhash.DoubleHashH(buf.Bytes())
	buf.Write(hash[:])

	tmp := db.Path + ".new"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, db.Path); err != nil {
		return err
	}

	log.Debugf("Written info to %s %dms", db.Path,
		time.Since(start).Milliseconds())
	log.Debugf("  %v", obj)
	return nil
}

// Read loads the cache file into obj.  A dry run only checks that the
// file can be decoded and does not log its content.  The returned error
// is a ReadError.
func (db *FlatDB) Read(obj Serializable, dryRun bool) error {
	start := time.Now()

	data, err := os.ReadFile(db.Path)
	if err != nil {
		return ReadError{Result: FileError, Err: err}
	}
	if len(data) < chainhash.HashSize {
		return ReadError{Result: HashReadError,
			Err: fmt.Errorf("%s is too short to hold a checksum", db.Path)}
	}

	payload := data[:len(data)-chainhash.HashSize]
	var stored chainhash.Hash
	copy(stored[:], data[len(data)-chainhash.HashSize:])
	if computed := chainhash.DoubleHashH(payload); computed != stored {
		return ReadError{Result: IncorrectHash,
			Err: fmt.Errorf("checksum mismatch, data corrupted")}
	}

	r := bytes.NewReader(payload)
	magic, err := wire.ReadVarString(r, 0)
	if err != nil || len(magic) > maxMagicMessage {
		return ReadError{Result: IncorrectMagicMessage,
			Err: fmt.Errorf("invalid magic message")}
	}
	if magic != db.MagicMessage {
		return ReadError{Result: IncorrectMagicMessage,
			Err: fmt.Errorf("magic message %q, expected %q", magic,
				db.MagicMessage)}
	}
	net, err := mnwire.ReadUint32(r)
	if err != nil {
		return ReadError{Result: IncorrectMagicNumber, Err: err}
	}
	if wire.BitcoinNet(net) != db.Net {
		return ReadError{Result: IncorrectMagicNumber,
			Err: fmt.Errorf("network magic %v, expected %v",
				wire.BitcoinNet(net), db.Net)}
	}
	if err := obj.Deserialize(r); err != nil {
		return ReadError{Result: IncorrectFormat, Err: err}
	}

	log.Debugf("Loaded info from %s %dms", db.Path,
		time.Since(start).Milliseconds())
	if !dryRun {
		log.Infof("  %v", obj)
	}
	return nil
}

// Dump writes live to the cache file after verifying the current file
// with a dry run into scratch.  A missing file or undecodable content is
// replaced; any other failure leaves the file untouched and is returned.
func (db *FlatDB) Dump(live, scratch Serializable) error {
	start := time.Now()

	log.Debugf("Verifying %s format...", db.Path)
	err := db.Read(scratch, true)
	switch {
	case err == nil:
	case IsReadResult(err, FileError):
		log.Infof("Missing file %s, will try to recreate", db.Path)
	case IsReadResult(err, IncorrectFormat):
		log.Warnf("Magic is ok but data has invalid format in %s, "+
			"will try to recreate", db.Path)
	default:
		log.Errorf("File format of %s is unknown or invalid, please "+
			"fix it manually: %v", db.Path, err)
		return err
	}

	log.Debugf("Writing info to %s...", db.Path)
	if err := db.Write(live); err != nil {
		return err
	}
	log.Debugf("%s dump finished %dms", db.Path,
		time.Since(start).Milliseconds())
	return nil
}
