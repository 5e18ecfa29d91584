// Copyright (c) 2016-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
)

// BitcoindConfig describes how to reach a bitcoind JSON-RPC server.
type BitcoindConfig struct {
	// Host is the host:port of the RPC server.
	Host string

	User string
	Pass string

	// Proxy is an optional SOCKS5 proxy address in host:port form.
	Proxy string

	// ChainParams is the network the node is expected to run on.
	ChainParams *chaincfg.Params

	// StopGap is the number of consecutive unused scripts that ends a
	// branch scan. Zero selects DefaultStopGap.
	StopGap uint32
}

// rpcBackend is the subset of rpcclient.Client used by BitcoindClient.
type rpcBackend interface {
	EstimateSmartFee(confTarget int64,
		mode *btcjson.EstimateSmartFeeMode) (
		*btcjson.EstimateSmartFeeResult, error)

	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)

	SendRawTransaction(tx *wire.MsgTx,
		allowHighFees bool) (*chainhash.Hash, error)

	RawRequest(method string,
		params []json.RawMessage) (json.RawMessage, error)

	Shutdown()
	WaitForShutdown()
}

// BitcoindClient is a chain.Interface backed by a bitcoind node. Outputs are
// discovered with scantxoutset, so the node needs no wallet, but only
// confirmed outputs are found.
type BitcoindClient struct {
	cfg    BitcoindConfig
	client rpcBackend
}

// Compile time check to ensure BitcoindClient satisfies the Interface.
var _ Interface = (*BitcoindClient)(nil)

// NewBitcoindClient creates a client for the server described by cfg. The
// client uses HTTP POST mode, so no connection is made until the first call.
func NewBitcoindClient(cfg *BitcoindConfig) (*BitcoindClient, error) {
	c := *cfg
	if c.ChainParams == nil {
		return nil, errors.New("bitcoind chain params are required")
	}
	if c.StopGap == 0 {
		c.StopGap = DefaultStopGap
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         c.Host,
		User:         c.User,
		Pass:         c.Pass,
		Proxy:        c.Proxy,
		DisableTLS:   true,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return nil, err
	}

	log.Infof("Using bitcoind backend at %s", c.Host)

	return &BitcoindClient{cfg: c, client: client}, nil
}

// BackEnd returns the name of the driver.
func (c *BitcoindClient) BackEnd() string {
	return "bitcoind"
}

// Stop shuts down the RPC client and waits for its handlers to exit.
func (c *BitcoindClient) Stop() {
	c.client.Shutdown()
	c.client.WaitForShutdown()
}

// mapErr classifies an rpcclient error. Anything that is not a JSON-RPC
// error reply from the node is a transport failure.
func (c *BitcoindClient) mapErr(err error) error {
	if err == nil {
		return nil
	}

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return err
	}

	return &NetworkError{BackEnd: c.BackEnd(), Err: err}
}

// EstimateFee returns the conservative smart fee estimate for target.
func (c *BitcoindClient) EstimateFee(ctx context.Context,
	target uint32) (btcunit.SatPerVByte, error) {

	if err := ctx.Err(); err != nil {
		return btcunit.SatPerVByte{}, err
	}

	mode := btcjson.EstimateModeConservative
	res, err := c.client.EstimateSmartFee(int64(target), &mode)
	if err != nil {
		return btcunit.SatPerVByte{}, c.mapErr(err)
	}
	if res.FeeRate == nil {
		return btcunit.SatPerVByte{}, fmt.Errorf("no fee estimate "+
			"for target %d: %v", target, res.Errors)
	}

	// The node reports BTC/kvB.
	perKvb, err := btcutil.NewAmount(*res.FeeRate)
	if err != nil {
		return btcunit.SatPerVByte{}, err
	}

	return btcunit.SatPerKVByteFromAmount(perKvb).FeePerVByte(), nil
}

type scanTxOutSetUnspent struct {
	Txid         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	ScriptPubKey string  `json:"scriptPubKey"`
	Amount       float64 `json:"amount"`
	Height       int32   `json:"height"`
}

type scanTxOutSetResult struct {
	Success  bool                  `json:"success"`
	Unspents []scanTxOutSetUnspent `json:"unspents"`
}

// Sync scans both branches of cache against the node's UTXO set.
func (c *BitcoindClient) Sync(ctx context.Context, cache Cache) error {
	return scanBranches(ctx, cache, c.cfg.StopGap, c.probe)
}

// probe looks up a batch of scripts with a single scantxoutset call.
func (c *BitcoindClient) probe(ctx context.Context,
	scripts [][]byte) ([]scriptResult, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objects := make([]string, len(scripts))
	byScript := make(map[string]int, len(scripts))
	for i, script := range scripts {
		scriptHex := hex.EncodeToString(script)
		objects[i] = "raw(" + scriptHex + ")"
		byScript[scriptHex] = i
	}

	action, err := json.Marshal("start")
	if err != nil {
		return nil, err
	}
	scanObjects, err := json.Marshal(objects)
	if err != nil {
		return nil, err
	}

	raw, err := c.client.RawRequest(
		"scantxoutset", []json.RawMessage{action, scanObjects},
	)
	if err != nil {
		return nil, c.mapErr(err)
	}

	var res scanTxOutSetResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("invalid scantxoutset reply: %w", err)
	}
	if !res.Success {
		return nil, errors.New("scantxoutset did not complete")
	}

	results := make([]scriptResult, len(scripts))
	for _, u := range res.Unspents {
		i, ok := byScript[u.ScriptPubKey]
		if !ok {
			return nil, fmt.Errorf("scantxoutset returned unknown "+
				"script %s", u.ScriptPubKey)
		}

		hash, err := chainhash.NewHashFromStr(u.Txid)
		if err != nil {
			return nil, err
		}
		value, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, err
		}

		results[i].used = true
		results[i].utxos = append(results[i].utxos, &Utxo{
			OutPoint: wire.OutPoint{Hash: *hash, Index: u.Vout},
			Value:    value,
			PkScript: scripts[i],
			Height:   u.Height,
			PrevTx:   c.prevTx(hash),
		})
	}

	return results, nil
}

// prevTx fetches a transaction if the node can serve it. Without txindex
// only mempool transactions are available, so failures are not fatal.
func (c *BitcoindClient) prevTx(hash *chainhash.Hash) *wire.MsgTx {
	tx, err := c.client.GetRawTransaction(hash)
	if err != nil {
		log.Debugf("Previous transaction %v unavailable: %v", hash, err)
		return nil
	}

	return tx.MsgTx()
}

// Broadcast submits tx with sendrawtransaction.
func (c *BitcoindClient) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := c.client.SendRawTransaction(tx, false)
	if err != nil {
		return nil, MapRPCErr(c.mapErr(err))
	}

	log.Infof("Broadcast transaction %v", hash)

	return hash, nil
}
