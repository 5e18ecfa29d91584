// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wtxmgr holds the unspent outputs and previous transactions a
// descriptor wallet discovers while syncing. The store lives in memory for
// the duration of a single wallet view.
package wtxmgr

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Credit is an unspent output paying to one of the wallet's scripts.
type Credit struct {
	wire.OutPoint

	Amount   btcutil.Amount
	PkScript []byte

	// Height is the block height the output was mined in, or -1 when it
	// is still in the mempool.
	Height int32

	// Branch and Index locate the paid script in the address manager.
	Branch uint32
	Index  uint32
}

// Confirmed returns true if the credit has been mined.
func (c *Credit) Confirmed() bool {
	return c.Height >= 0
}

// Store is an in-memory view of the wallet's unspent outputs.
type Store struct {
	mu      sync.RWMutex
	credits map[wire.OutPoint]*Credit
	spent   fn.Set[wire.OutPoint]
	txs     map[chainhash.Hash]*wire.MsgTx
}

// New returns an empty store.
func New() *Store {
	return &Store{
		credits: make(map[wire.OutPoint]*Credit),
		spent:   fn.NewSet[wire.OutPoint](),
		txs:     make(map[chainhash.Hash]*wire.MsgTx),
	}
}

// AddCredit records an unspent output. Adding the same credit twice is a
// no-op, which lets backends report a script found on both branches. Outputs
// already seen spent by an inserted transaction are ignored.
func (s *Store) AddCredit(c *Credit) error {
	if len(c.PkScript) == 0 {
		str := fmt.Sprintf("credit %v has no output script", c.OutPoint)
		return txStoreError(ErrInput, str, nil)
	}
	if c.Amount < 0 || c.Amount > btcutil.MaxSatoshi {
		str := fmt.Sprintf("credit %v has invalid amount %v",
			c.OutPoint, c.Amount)
		return txStoreError(ErrInput, str, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spent.Contains(c.OutPoint) {
		log.Debugf("Ignoring spent output %v", c.OutPoint)
		return nil
	}

	if old, ok := s.credits[c.OutPoint]; ok {
		if old.Amount != c.Amount ||
			!bytes.Equal(old.PkScript, c.PkScript) {

			str := fmt.Sprintf("conflicting credit for %v",
				c.OutPoint)
			return txStoreError(ErrDuplicate, str, nil)
		}

		return nil
	}

	cp := *c
	s.credits[c.OutPoint] = &cp

	log.Tracef("Added credit %v of %v", c.OutPoint, c.Amount)

	return nil
}

// InsertTx records a transaction so it can be attached to PSBT inputs. Any
// credits the transaction spends are removed.
func (s *Store) InsertTx(tx *wire.MsgTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txs[tx.TxHash()] = tx
	for _, in := range tx.TxIn {
		s.spent.Add(in.PreviousOutPoint)
		if _, ok := s.credits[in.PreviousOutPoint]; ok {
			log.Debugf("Credit %v spent by %v",
				in.PreviousOutPoint, tx.TxHash())
			delete(s.credits, in.PreviousOutPoint)
		}
	}
}

// Tx returns a previously inserted transaction.
func (s *Store) Tx(hash *chainhash.Hash) (*wire.MsgTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[*hash]
	if !ok {
		str := fmt.Sprintf("transaction %v not found", hash)
		return nil, txStoreError(ErrTxHashNotFound, str, nil)
	}

	return tx, nil
}

// Credit returns the unspent output at op.
func (s *Store) Credit(op wire.OutPoint) (*Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credits[op]
	if !ok {
		str := fmt.Sprintf("output %v is not an unspent credit", op)
		return nil, txStoreError(ErrCreditNotFound, str, nil)
	}

	cp := *c
	return &cp, nil
}

// UnspentOutputs returns all unspent credits ordered by outpoint.
func (s *Store) UnspentOutputs() []Credit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credits := make([]Credit, 0, len(s.credits))
	for _, c := range s.credits {
		credits = append(credits, *c)
	}
	sort.Slice(credits, func(i, j int) bool {
		a, b := credits[i].OutPoint, credits[j].OutPoint
		if a.Hash != b.Hash {
			return bytes.Compare(a.Hash[:], b.Hash[:]) < 0
		}
		return a.Index < b.Index
	})

	return credits
}

// Balance returns the total value of all unspent credits.
func (s *Store) Balance() btcutil.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total btcutil.Amount
	for _, c := range s.credits {
		total += c.Amount
	}

	return total
}
