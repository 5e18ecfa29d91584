// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"go.uber.org/ratelimit"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout is the read and write timeout of backend requests.
	DefaultTimeout = 5 * time.Second

	// DefaultSyncWorkers is the number of scripts an Esplora sync looks
	// up concurrently.
	DefaultSyncWorkers = 4

	// defaultFeeRate is used when the server has no estimate for a target
	// at or below the requested one, in sat/vB.
	defaultFeeRate = 1.0

	// maxResponseSize bounds the body read from the server.
	maxResponseSize = 4 << 20
)

// ErrUnexpectedResponse is returned when the server answers with a status
// or body the client cannot use.
var ErrUnexpectedResponse = errors.New("unexpected esplora response")

// EsploraConfig describes how to reach an Esplora HTTP API.
type EsploraConfig struct {
	// URL is the API base, for example https://blockstream.info/api.
	URL string

	// ChainParams selects the network addresses are encoded for.
	ChainParams *chaincfg.Params

	// Proxy is an optional SOCKS5 proxy address in host:port form.
	Proxy string

	// Timeout bounds every request. Zero selects DefaultTimeout.
	Timeout time.Duration

	// StopGap is the number of consecutive unused scripts that ends a
	// branch scan. Zero selects DefaultStopGap.
	StopGap uint32

	// SyncWorkers bounds concurrent lookups. Zero selects
	// DefaultSyncWorkers.
	SyncWorkers int

	// RateLimit is the maximum number of requests per second, zero
	// meaning unlimited.
	RateLimit int
}

// EsploraClient is a chain.Interface backed by an Esplora HTTP API.
type EsploraClient struct {
	cfg     EsploraConfig
	http    *http.Client
	limiter ratelimit.Limiter

	txMtx   sync.Mutex
	txCache map[chainhash.Hash]*wire.MsgTx
}

// Compile time check to ensure EsploraClient satisfies the Interface.
var _ Interface = (*EsploraClient)(nil)

// NewEsploraClient creates a client for the API described by cfg. No request
// is made until the client is used.
func NewEsploraClient(cfg *EsploraConfig) (*EsploraClient, error) {
	c := *cfg
	c.URL = strings.TrimRight(c.URL, "/")
	if c.URL == "" {
		return nil, errors.New("esplora url is required")
	}
	if c.ChainParams == nil {
		return nil, errors.New("esplora chain params are required")
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.StopGap == 0 {
		c.StopGap = DefaultStopGap
	}
	if c.SyncWorkers <= 0 {
		c.SyncWorkers = DefaultSyncWorkers
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: c.Timeout,
		TLSHandshakeTimeout:   c.Timeout,
	}
	if c.Proxy != "" {
		dialer, err := proxy.SOCKS5("tcp", c.Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("unable to create socks5 dialer: "+
				"%w", err)
		}

		// The proxy resolves names, so environment proxies must not
		// apply on top of it.
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network,
				addr string) (net.Conn, error) {

				return dialer.Dial(network, addr)
			}
		}
	}

	limiter := ratelimit.NewUnlimited()
	if c.RateLimit > 0 {
		limiter = ratelimit.New(c.RateLimit)
	}

	log.Infof("Using esplora backend at %s", c.URL)

	return &EsploraClient{
		cfg: c,
		http: &http.Client{
			Transport: transport,
			Timeout:   c.Timeout,
		},
		limiter: limiter,
		txCache: make(map[chainhash.Hash]*wire.MsgTx),
	}, nil
}

// BackEnd returns the name of the driver.
func (c *EsploraClient) BackEnd() string {
	return "esplora"
}

// Stop closes idle connections to the server.
func (c *EsploraClient) Stop() {
	c.http.CloseIdleConnections()
}

// request performs an API call and returns the response body. Transport
// failures and server errors are returned as *NetworkError.
func (c *EsploraClient) request(ctx context.Context, method, path string,
	body []byte) ([]byte, error) {

	c.limiter.Take()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.cfg.URL+path, reader,
	)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{BackEnd: c.BackEnd(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &NetworkError{BackEnd: c.BackEnd(), Err: err}
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests:

		return nil, &NetworkError{
			BackEnd: c.BackEnd(),
			Err: fmt.Errorf("%s %s: %s", method, path,
				resp.Status),
		}

	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s %s: %s: %s",
			ErrUnexpectedResponse, method, path, resp.Status,
			strings.TrimSpace(string(data)))
	}

	return data, nil
}

func (c *EsploraClient) getJSON(ctx context.Context, path string,
	v interface{}) error {

	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedResponse, path, err)
	}

	return nil
}

// EstimateFee returns the server's estimate for the largest confirmation
// target not above target, or 1 sat/vB if there is none.
func (c *EsploraClient) EstimateFee(ctx context.Context,
	target uint32) (btcunit.SatPerVByte, error) {

	var estimates map[string]float64
	if err := c.getJSON(ctx, "/fee-estimates", &estimates); err != nil {
		return btcunit.SatPerVByte{}, err
	}

	return btcunit.SatPerVByteFromFloat(
		selectFeeEstimate(estimates, target),
	), nil
}

// selectFeeEstimate picks the estimate for the largest target not above
// target.
func selectFeeEstimate(estimates map[string]float64, target uint32) float64 {
	type estimate struct {
		target uint64
		rate   float64
	}

	parsed := make([]estimate, 0, len(estimates))
	for k, v := range estimates {
		t, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}
		parsed = append(parsed, estimate{target: t, rate: v})
	}
	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].target > parsed[j].target
	})

	for _, e := range parsed {
		if e.target <= uint64(target) {
			return e.rate
		}
	}

	return defaultFeeRate
}

type esploraAddressStats struct {
	ChainStats struct {
		TxCount int `json:"tx_count"`
	} `json:"chain_stats"`
	MempoolStats struct {
		TxCount int `json:"tx_count"`
	} `json:"mempool_stats"`
}

type esploraUtxo struct {
	Txid   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int32 `json:"block_height"`
	} `json:"status"`
}

// Sync scans both branches of cache and records the unspent outputs of every
// script with history.
func (c *EsploraClient) Sync(ctx context.Context, cache Cache) error {
	start := time.Now()
	err := scanBranches(ctx, cache, c.cfg.StopGap, c.probe)
	if err != nil {
		return err
	}

	log.Debugf("Esplora sync finished in %v", time.Since(start))

	return nil
}

// probe looks up a batch of scripts concurrently.
func (c *EsploraClient) probe(ctx context.Context,
	scripts [][]byte) ([]scriptResult, error) {

	results := make([]scriptResult, len(scripts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.SyncWorkers)
	for i, script := range scripts {
		g.Go(func() error {
			res, err := c.probeScript(gctx, script)
			if err != nil {
				return err
			}
			results[i] = res

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (c *EsploraClient) probeScript(ctx context.Context,
	script []byte) (scriptResult, error) {

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		script, c.cfg.ChainParams,
	)
	if err != nil || len(addrs) != 1 {
		return scriptResult{}, fmt.Errorf("script %x has no address",
			script)
	}
	addr := addrs[0].EncodeAddress()

	var stats esploraAddressStats
	err = c.getJSON(ctx, "/address/"+addr, &stats)
	if err != nil {
		return scriptResult{}, err
	}
	if stats.ChainStats.TxCount+stats.MempoolStats.TxCount == 0 {
		return scriptResult{}, nil
	}

	var unspent []esploraUtxo
	err = c.getJSON(ctx, "/address/"+addr+"/utxo", &unspent)
	if err != nil {
		return scriptResult{}, err
	}

	res := scriptResult{used: true}
	for _, u := range unspent {
		hash, err := chainhash.NewHashFromStr(u.Txid)
		if err != nil {
			return scriptResult{}, fmt.Errorf("%w: bad txid %q",
				ErrUnexpectedResponse, u.Txid)
		}

		prevTx, err := c.fetchTx(ctx, hash)
		if err != nil {
			return scriptResult{}, err
		}
		if int(u.Vout) >= len(prevTx.TxOut) ||
			!bytes.Equal(prevTx.TxOut[u.Vout].PkScript, script) {

			return scriptResult{}, fmt.Errorf("%w: output %s:%d "+
				"does not pay to %s", ErrUnexpectedResponse,
				u.Txid, u.Vout, addr)
		}

		height := int32(-1)
		if u.Status.Confirmed {
			height = u.Status.BlockHeight
		}

		res.utxos = append(res.utxos, &Utxo{
			OutPoint: wire.OutPoint{Hash: *hash, Index: u.Vout},
			Value:    btcutil.Amount(u.Value),
			PkScript: script,
			Height:   height,
			PrevTx:   prevTx,
		})
	}

	log.Tracef("Address %s has %d unspent outputs", addr, len(res.utxos))

	return res, nil
}

// fetchTx returns the transaction with the given hash, caching it for the
// lifetime of the client.
func (c *EsploraClient) fetchTx(ctx context.Context,
	hash *chainhash.Hash) (*wire.MsgTx, error) {

	c.txMtx.Lock()
	tx, ok := c.txCache[*hash]
	c.txMtx.Unlock()
	if ok {
		return tx, nil
	}

	data, err := c.request(
		ctx, http.MethodGet, "/tx/"+hash.String()+"/hex", nil,
	)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: tx %v: %v", ErrUnexpectedResponse,
			hash, err)
	}

	tx = wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: tx %v: %v", ErrUnexpectedResponse,
			hash, err)
	}
	if tx.TxHash() != *hash {
		return nil, fmt.Errorf("%w: tx %v hashes to %v",
			ErrUnexpectedResponse, hash, tx.TxHash())
	}

	c.txMtx.Lock()
	c.txCache[*hash] = tx
	c.txMtx.Unlock()

	return tx, nil
}

// Broadcast posts the hex encoded transaction and returns the txid the
// server reports.
func (c *EsploraClient) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	data, err := c.request(
		ctx, http.MethodPost, "/tx",
		[]byte(hex.EncodeToString(buf.Bytes())),
	)
	if err != nil {
		return nil, MapRPCErr(err)
	}

	hash, err := chainhash.NewHashFromStr(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: bad txid %q", ErrUnexpectedResponse,
			data)
	}

	log.Infof("Broadcast transaction %v", hash)

	return hash, nil
}
