// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package paystore

import (
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

// Pebble is a Store backed by pebble.
type Pebble struct {
	// mtx serializes the read-modify-write of PutPayment.
	mtx sync.Mutex
	db  *pebble.DB
}

// NewPebble opens or creates a pebble store at path.
func NewPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache:        pebble.NewCache(16 << 20),
		MaxOpenFiles: 2000,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	log.Debugf("Opened pebble payment store at %s", path)
	return &Pebble{db: db}, nil
}

// NewPebbleMem returns a pebble store kept in memory.
func NewPebbleMem() (*Pebble, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "unable to open memory storage")
	}
	return &Pebble{db: db}, nil
}

// get returns the stored payment of payee, or nil.
func (s *Pebble) get(payee []byte) (*Payment, error) {
	value, closer, err := s.db.Get(paymentKey(payee))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "in get")
	}
	defer closer.Close()
	return decodePayment(payee, value)
}

// PutPayment records a payment.  This is part of the Store interface.
func (s *Pebble) PutPayment(p *Payment) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	prev, err := s.get(p.Payee)
	if err != nil {
		return err
	}
	if prev != nil && prev.Height >= p.Height {
		return nil
	}
	err = s.db.Set(paymentKey(p.Payee), encodePayment(p), pebble.NoSync)
	return errors.Wrap(err, "in set")
}

// LastPayment returns the last payment of payee.  This is part of the
// Store interface.
func (s *Pebble) LastPayment(payee []byte) (*Payment, bool, error) {
	p, err := s.get(payee)
	if err != nil || p == nil {
		return nil, false, err
	}
	return p, true, nil
}

// Close flushes and closes the database.  This is part of the Store
// interface.
func (s *Pebble) Close() error {
	if err := s.db.Flush(); err != nil {
		return errors.Wrap(err, "on flush")
	}
	return errors.Wrap(s.db.Close(), "on close")
}
