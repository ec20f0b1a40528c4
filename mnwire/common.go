// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Limits applied while decoding variable length fields.
const (
	// MaxAddrLen is the maximum length of a textual service address.
	MaxAddrLen = 256

	// MaxPubKeyLen is the maximum length of a serialized public key.
	MaxPubKeyLen = 65

	// MaxSigLen is the maximum length of a message signature.
	MaxSigLen = 128

	// MaxPayeeScriptLen is the maximum length of a payee script.
	MaxPayeeScriptLen = 10000

	// outPointLen is the serialized size of an outpoint.
	outPointLen = chainhash.HashSize + 4
)

// littleEndian is a convenience variable since binary.LittleEndian is quite
// long.
var littleEndian = binary.LittleEndian

// readOutPoint reads the next sequence of bytes from r as an outpoint.
func readOutPoint(r io.Reader, op *wire.OutPoint) error {
	if _, err := io.ReadFull(r, op.Hash[:]); err != nil {
		return err
	}
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	op.Index = littleEndian.Uint32(buf[:])
	return nil
}

// writeOutPoint encodes op to w.
func writeOutPoint(w io.Writer, op *wire.OutPoint) error {
	if _, err := w.Write(op.Hash[:]); err != nil {
		return err
	}
	return writeUint32(w, op.Index)
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return littleEndian.Uint32(buf[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	littleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(littleEndian.Uint64(buf[:])), nil
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	littleEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadOutPoint decodes an outpoint from r.  It is exported for the on-disk
// caches which share the wire encoding.
func ReadOutPoint(r io.Reader, op *wire.OutPoint) error {
	return readOutPoint(r, op)
}

// WriteOutPoint encodes op to w using the wire encoding.
func WriteOutPoint(w io.Writer, op *wire.OutPoint) error {
	return writeOutPoint(w, op)
}

// ReadInt64 decodes a little-endian int64 from r.
func ReadInt64(r io.Reader) (int64, error) {
	return readInt64(r)
}

// WriteInt64 encodes v to w as a little-endian int64.
func WriteInt64(w io.Writer, v int64) error {
	return writeInt64(w, v)
}

// ReadUint32 decodes a little-endian uint32 from r.
func ReadUint32(r io.Reader) (uint32, error) {
	return readUint32(r)
}

// WriteUint32 encodes v to w as a little-endian uint32.
func WriteUint32(w io.Writer, v uint32) error {
	return writeUint32(w, v)
}

// hashBuf is a helper which double-SHA256 hashes whatever fill writes.
func hashBuf(fill func(w io.Writer) error) chainhash.Hash {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer never fail.
	_ = fill(&buf)
	return chainhash.DoubleHashH(buf.Bytes())
}

// messageError creates an error for the given function and description.
func messageError(f string, desc string) *wire.MessageError {
	return &wire.MessageError{Func: f, Description: desc}
}

// OutPointShortString returns the compact "hash-index" form of an outpoint
// used inside signed messages.
func OutPointShortString(op *wire.OutPoint) string {
	var b bytes.Buffer
	b.WriteString(op.Hash.String())
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(uint64(op.Index), 10))
	return b.String()
}
