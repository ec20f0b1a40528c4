// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package paystore

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Payment is a confirmed masternode payment.
type Payment struct {
	Payee  []byte
	Height int32
	Time   int64
}

// Store is a durable index of the last payment of each payee.
type Store interface {
	// PutPayment records a payment.  A payment at or below the height of
	// the stored one for the same payee is ignored.
	PutPayment(p *Payment) error

	// LastPayment returns the last recorded payment of payee.
	LastPayment(payee []byte) (*Payment, bool, error)

	// Close flushes and closes the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendLevelDB = "leveldb"
	BackendPebble  = "pebble"
)

// Backends returns the supported backend names.
func Backends() []string {
	return []string{BackendLevelDB, BackendPebble}
}

// Open opens or creates the store of the given backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendLevelDB:
		return NewLevelDB(path)
	case BackendPebble:
		return NewPebble(path)
	}
	return nil, errors.Errorf("unknown payment store backend %q", backend)
}

// paymentPrefix prefixes the keys of the last payment index.
var paymentPrefix = []byte("p|")

// paymentValueLen is the serialized size of a payment value.
const paymentValueLen = 4 + 8

func paymentKey(payee []byte) []byte {
	key := make([]byte, 0, len(paymentPrefix)+len(payee))
	key = append(key, paymentPrefix...)
	return append(key, payee...)
}

func encodePayment(p *Payment) []byte {
	var buf [paymentValueLen]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(p.Height))
	binary.BigEndian.PutUint64(buf[4:], uint64(p.Time))
	return buf[:]
}

func decodePayment(payee, value []byte) (*Payment, error) {
	if len(value) != paymentValueLen {
		return nil, fmt.Errorf("malformed payment entry of length %d",
			len(value))
	}
	return &Payment{
		Payee:  append([]byte(nil), payee...),
		Height: int32(binary.BigEndian.Uint32(value[:4])),
		Time:   int64(binary.BigEndian.Uint64(value[4:])),
	}, nil
}
