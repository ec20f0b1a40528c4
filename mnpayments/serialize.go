// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnpayments

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnwire"
)

// maxCacheEntries bounds every count read from a ledger cache.
const maxCacheEntries = 1 << 20

// Serialize writes the votes and tallies of the ledger for the on-disk
// cache.  The encoding is canonical: equal ledgers produce equal bytes.
func (l *Ledger) Serialize(w io.Writer) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if err := wire.WriteVarInt(w, 0, uint64(len(l.votes))); err != nil {
		return err
	}
	for _, hash := range sortedHashes(l.votes) {
		if err := l.votes[hash].BtcEncode(w, 0, wire.BaseEncoding); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(l.blocks))); err != nil {
		return err
	}
	for _, height := range l.sortedHeights() {
		b := l.blocks[height]
		if err := mnwire.WriteUint32(w, uint32(height)); err != nil {
			return err
		}
		if err := wire.WriteVarInt(w, 0, uint64(len(b.payees))); err != nil {
			return err
		}
		for _, p := range b.payees {
			if err := wire.WriteVarBytes(w, 0, p.script); err != nil {
				return err
			}
			if err := mnwire.WriteUint32(w, uint32(p.votes)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Deserialize replaces the votes and tallies of the ledger with those read
// from r.  The ledger is left untouched when r can not be decoded.
func (l *Ledger) Deserialize(r io.Reader) error {
	n, err := readCount(r, "votes")
	if err != nil {
		return err
	}
	votes := make(map[chainhash.Hash]*mnwire.MsgMNWinner, n)
	for i := uint64(0); i < n; i++ {
		var vote mnwire.MsgMNWinner
		if err := vote.BtcDecode(r, 0, wire.BaseEncoding); err != nil {
			return err
		}
		votes[vote.Hash()] = &vote
	}

	n, err = readCount(r, "blocks")
	if err != nil {
		return err
	}
	blocks := make(map[int32]*blockPayees, n)
	for i := uint64(0); i < n; i++ {
		height, err := mnwire.ReadUint32(r)
		if err != nil {
			return err
		}
		b := &blockPayees{height: int32(height)}
		count, err := readCount(r, "payees")
		if err != nil {
			return err
		}
		for j := uint64(0); j < count; j++ {
			script, err := wire.ReadVarBytes(r, 0,
				mnwire.MaxPayeeScriptLen, "payee")
			if err != nil {
				return err
			}
			v, err := mnwire.ReadUint32(r)
			if err != nil {
				return err
			}
			b.payees = append(b.payees, payeeVotes{
				script: script,
				votes:  int(v),
			})
		}
		blocks[b.height] = b
	}

	l.mtx.Lock()
	l.votes = votes
	l.blocks = blocks
	l.lastVote = make(map[wire.OutPoint]int32)
	l.voters = make(map[int32]map[wire.OutPoint]struct{})
	for _, vote := range votes {
		l.addVoter(vote.VinMasternode, vote.BlockHeight)
		if last, ok := l.lastVote[vote.VinMasternode]; !ok || vote.BlockHeight > last {
			l.lastVote[vote.VinMasternode] = vote.BlockHeight
		}
	}
	l.mtx.Unlock()
	return nil
}

func readCount(r io.Reader, what string) (uint64, error) {
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, err
	}
	if n > maxCacheEntries {
		return 0, fmt.Errorf("too many %s in cache [count %d, max %d]",
			what, n, maxCacheEntries)
	}
	return n, nil
}

func sortHashes(hashes []chainhash.Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
}
