// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package paystore

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDB is a Store backed by goleveldb.
type LevelDB struct {
	// mtx serializes the read-modify-write of PutPayment.
	mtx sync.Mutex
	db  *leveldb.DB
}

// NewLevelDB opens or creates a leveldb store at path.
func NewLevelDB(path string) (*LevelDB, error) {
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, &opts)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	log.Debugf("Opened leveldb payment store at %s", path)
	return &LevelDB{db: db}, nil
}

// NewLevelDBMem returns a leveldb store kept in memory.
func NewLevelDBMem() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open memory storage")
	}
	return &LevelDB{db: db}, nil
}

// PutPayment records a payment.  This is part of the Store interface.
func (s *LevelDB) PutPayment(p *Payment) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	key := paymentKey(p.Payee)
	value, err := s.db.Get(key, nil)
	switch {
	case err == nil:
		prev, err := decodePayment(p.Payee, value)
		if err != nil {
			return errors.Wrap(err, "in get")
		}
		if prev.Height >= p.Height {
			return nil
		}
	case err != leveldb.ErrNotFound:
		return errors.Wrap(err, "in get")
	}
	return errors.Wrap(s.db.Put(key, encodePayment(p), nil), "in put")
}

// LastPayment returns the last payment of payee.  This is part of the
// Store interface.
func (s *LevelDB) LastPayment(payee []byte) (*Payment, bool, error) {
	value, err := s.db.Get(paymentKey(payee), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "in get")
	}
	p, err := decodePayment(payee, value)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Close closes the database.  This is part of the Store interface.
func (s *LevelDB) Close() error {
	return errors.Wrap(s.db.Close(), "on close")
}
