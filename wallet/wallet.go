// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet implements a descriptor wallet: it derives addresses from
// output descriptors, builds, decodes, signs and broadcasts PSBTs, and
// converts between fee rates and absolute fees.
//
// There is no persistent state. Every entry point builds a fresh view of the
// wallet from a Config, syncing it against the chain backend when the
// operation needs unspent outputs.
package wallet

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
)

// Wallet is an in-memory view of a descriptor wallet.
type Wallet struct {
	// Manager derives and looks up the scripts of both branches.
	Manager *waddrmgr.Manager

	// TxStore holds the unspent outputs found by the last sync.
	TxStore *wtxmgr.Store

	chainParams *chaincfg.Params
	chainClient chain.Interface
}

// NewOffline creates a wallet view that never talks to the chain backend.
func NewOffline(cfg *Config) (*Wallet, error) {
	external, err := descriptor.Parse(cfg.DepositDesc)
	if err != nil {
		return nil, err
	}

	var internal *descriptor.Descriptor
	if cfg.ChangeDesc != "" {
		internal, err = descriptor.Parse(cfg.ChangeDesc)
		if err != nil {
			return nil, err
		}
	}

	mgr, err := waddrmgr.New(cfg.Network, external, internal, 0)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		Manager:     mgr,
		TxStore:     wtxmgr.New(),
		chainParams: cfg.Network,
	}, nil
}

// New creates a wallet view backed by the configuration's chain client. The
// view is empty until Sync is called.
func New(cfg *Config) (*Wallet, error) {
	if cfg.Client == nil {
		return nil, ErrNoChainClient
	}

	w, err := NewOffline(cfg)
	if err != nil {
		return nil, err
	}
	w.chainClient = cfg.Client

	return w, nil
}

// ChainParams returns the network parameters for the blockchain the wallet
// belongs to.
func (w *Wallet) ChainParams() *chaincfg.Params {
	return w.chainParams
}

// requireChainClient returns the chain client or ErrNoChainClient for
// offline wallets.
func (w *Wallet) requireChainClient() (chain.Interface, error) {
	if w.chainClient == nil {
		return nil, ErrNoChainClient
	}
	return w.chainClient, nil
}

// Sync asks the chain backend for the unspent outputs of both branches. Sync
// is not retried; a failed sync leaves the view partially filled.
func (w *Wallet) Sync(ctx context.Context) error {
	chainClient, err := w.requireChainClient()
	if err != nil {
		return err
	}

	log.Debugf("Syncing wallet with %s backend", chainClient.BackEnd())

	if err := chainClient.Sync(ctx, &syncCache{w: w}); err != nil {
		return err
	}

	utxos := w.TxStore.UnspentOutputs()
	log.Infof("Synced %d unspent %s worth %v", len(utxos),
		pickNoun(len(utxos), "output", "outputs"), w.TxStore.Balance())

	return nil
}

// syncCache lets a chain backend fill in the wallet's address manager and
// transaction store.
type syncCache struct {
	w *Wallet
}

// Compile time check to ensure syncCache satisfies the chain.Cache
// interface.
var _ chain.Cache = (*syncCache)(nil)

func (c *syncCache) ChainParams() *chaincfg.Params {
	return c.w.chainParams
}

func (c *syncCache) IsRange(branch uint32) bool {
	return c.w.Manager.IsRange(branch)
}

func (c *syncCache) ScriptAt(branch, index uint32) ([]byte, error) {
	return c.w.Manager.ScriptAt(branch, index)
}

func (c *syncCache) MarkUsed(branch, index uint32) {
	c.w.Manager.MarkUsed(branch, index)
}

func (c *syncCache) AddUtxo(branch, index uint32, utxo *chain.Utxo) error {
	if utxo.PrevTx != nil {
		c.w.TxStore.InsertTx(utxo.PrevTx)
	}

	return c.w.TxStore.AddCredit(&wtxmgr.Credit{
		OutPoint: utxo.OutPoint,
		Amount:   utxo.Value,
		PkScript: utxo.PkScript,
		Height:   utxo.Height,
		Branch:   branch,
		Index:    index,
	})
}
