// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
)

const (
	// ExternalBranch and InternalBranch are the descriptor branches a
	// backend scans during Sync.
	ExternalBranch uint32 = 0
	InternalBranch uint32 = 1

	// DefaultStopGap is the number of consecutive unused scripts after
	// which a branch scan stops.
	DefaultStopGap uint32 = 20
)

// BackEnds returns a list of the available back ends.
func BackEnds() []string {
	return []string{
		"esplora",
		"bitcoind",
	}
}

// Interface is the remote blockchain data source a descriptor wallet uses
// for fee estimates, discovering its unspent outputs and broadcasting.
type Interface interface {
	// EstimateFee returns the fee rate expected to confirm a transaction
	// within target blocks.
	EstimateFee(ctx context.Context, target uint32) (btcunit.SatPerVByte,
		error)

	// Sync scans the cache's scripts and reports their unspent outputs.
	Sync(ctx context.Context, cache Cache) error

	// Broadcast submits a finalized transaction to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)

	// BackEnd returns the name of the driver.
	BackEnd() string

	// Stop releases the connections held by the client. The client must
	// not be used afterwards.
	Stop()
}

// Cache is the wallet state a backend fills in during Sync.
type Cache interface {
	// ChainParams returns the network scripts are encoded for.
	ChainParams() *chaincfg.Params

	// IsRange reports whether branch has a script per index. Only index
	// zero is scanned on other branches.
	IsRange(branch uint32) bool

	// ScriptAt returns the output script at index on branch.
	ScriptAt(branch, index uint32) ([]byte, error)

	// MarkUsed records that the script at index has on-chain history.
	MarkUsed(branch, index uint32)

	// AddUtxo records an unspent output paying to the script at index.
	AddUtxo(branch, index uint32, utxo *Utxo) error
}

// Utxo is an unspent output found by a backend.
type Utxo struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte

	// Height is -1 for outputs still in the mempool.
	Height int32

	// PrevTx is the transaction creating the output, nil if the backend
	// could not provide it.
	PrevTx *wire.MsgTx
}
