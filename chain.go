// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/mnsuite/mnd/mnode"
	"github.com/mnsuite/mnd/mnparams"
)

// maxReorgDepth is the number of blocks which can be disconnected.  The
// spent collateral of older blocks is forgotten.
const maxReorgDepth = 100

// blockNode is a main chain block known to the index.
type blockNode struct {
	hash      chainhash.Hash
	timestamp int64
}

// spentCollateral is a collateral output spent by a connected block.
type spentCollateral struct {
	outPoint wire.OutPoint
	entry    mnode.CollateralEntry
}

// chainIndex follows the best chain announced by the host node.  It keeps
// the hashes and timestamps of the main chain blocks and the unspent
// outputs carrying exactly the collateral amount.
//
// The readers never block: when the index is being updated they report the
// data as unavailable and the callers retry on their next tick.
type chainIndex struct {
	mtx        sync.RWMutex
	base       int32
	nodes      []blockNode
	heights    map[chainhash.Hash]int32
	collateral map[wire.OutPoint]mnode.CollateralEntry
	spent      map[int32][]spentCollateral
}

// newChainIndex returns an empty chain index.
func newChainIndex() *chainIndex {
	return &chainIndex{
		heights:    make(map[chainhash.Hash]int32),
		collateral: make(map[wire.OutPoint]mnode.CollateralEntry),
		spent:      make(map[int32][]spentCollateral),
	}
}

// tip returns the height of the best block.  The caller must hold the lock.
func (c *chainIndex) tip() (int32, bool) {
	if len(c.nodes) == 0 {
		return 0, false
	}
	return c.base + int32(len(c.nodes)) - 1, true
}

func (c *chainIndex) node(height int32) (blockNode, bool) {
	if height < c.base || height >= c.base+int32(len(c.nodes)) {
		return blockNode{}, false
	}
	return c.nodes[height-c.base], true
}

// connectBlock extends the index with the block at height.  The first
// block connected sets the base of the index.
func (c *chainIndex) connectBlock(block *wire.MsgBlock, height int32) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if tip, ok := c.tip(); ok && height != tip+1 {
		return fmt.Errorf("block at height %d does not extend the tip %d",
			height, tip)
	}
	if len(c.nodes) == 0 {
		c.base = height
	}

	hash := block.BlockHash()
	c.nodes = append(c.nodes, blockNode{
		hash:      hash,
		timestamp: block.Header.Timestamp.Unix(),
	})
	c.heights[hash] = height

	var spent []spentCollateral
	for _, tx := range block.Transactions {
		for _, in := range tx.TxIn {
			entry, ok := c.collateral[in.PreviousOutPoint]
			if !ok {
				continue
			}
			spent = append(spent, spentCollateral{
				outPoint: in.PreviousOutPoint,
				entry:    entry,
			})
			delete(c.collateral, in.PreviousOutPoint)
		}

		txHash := tx.TxHash()
		for i, out := range tx.TxOut {
			if out.Value != mnparams.Collateral {
				continue
			}
			op := wire.OutPoint{Hash: txHash, Index: uint32(i)}
			c.collateral[op] = mnode.CollateralEntry{
				TxOut:  out,
				Height: height,
			}
		}
	}
	if len(spent) > 0 {
		c.spent[height] = spent
	}
	delete(c.spent, height-maxReorgDepth)
	return nil
}

// disconnectBlock removes the tip block from the index and restores the
// collateral it spent.
func (c *chainIndex) disconnectBlock(block *wire.MsgBlock) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	tip, ok := c.tip()
	if !ok {
		return fmt.Errorf("no block to disconnect")
	}
	hash := block.BlockHash()
	if c.nodes[len(c.nodes)-1].hash != hash {
		return fmt.Errorf("block %v is not the tip", hash)
	}

	for _, s := range c.spent[tip] {
		c.collateral[s.outPoint] = s.entry
	}
	delete(c.spent, tip)
	for _, tx := range block.Transactions {
		txHash := tx.TxHash()
		for i := range tx.TxOut {
			delete(c.collateral, wire.OutPoint{Hash: txHash, Index: uint32(i)})
		}
	}

	delete(c.heights, hash)
	c.nodes = c.nodes[:len(c.nodes)-1]
	return nil
}

// TipHeight returns the height of the best block.
func (c *chainIndex) TipHeight() (int32, bool) {
	if !c.mtx.TryRLock() {
		return 0, false
	}
	defer c.mtx.RUnlock()
	return c.tip()
}

// BlockHash returns the hash of the main chain block at height.
func (c *chainIndex) BlockHash(height int32) (chainhash.Hash, bool) {
	if !c.mtx.TryRLock() {
		return chainhash.Hash{}, false
	}
	defer c.mtx.RUnlock()
	n, ok := c.node(height)
	return n.hash, ok
}

// BlockHeight returns the height of the main chain block with the given
// hash.
func (c *chainIndex) BlockHeight(hash *chainhash.Hash) (int32, bool) {
	if !c.mtx.TryRLock() {
		return 0, false
	}
	defer c.mtx.RUnlock()
	height, ok := c.heights[*hash]
	return height, ok
}

// BlockTime returns the timestamp of the main chain block at height.
func (c *chainIndex) BlockTime(height int32) (int64, bool) {
	if !c.mtx.TryRLock() {
		return 0, false
	}
	defer c.mtx.RUnlock()
	n, ok := c.node(height)
	return n.timestamp, ok
}

// FetchCollateral returns the unspent collateral output op, or nil when it
// is spent or unknown.
func (c *chainIndex) FetchCollateral(op wire.OutPoint) (*mnode.CollateralEntry, bool) {
	if !c.mtx.TryRLock() {
		return nil, false
	}
	defer c.mtx.RUnlock()
	entry, ok := c.collateral[op]
	if !ok {
		return nil, true
	}
	return &entry, true
}
