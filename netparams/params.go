// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// RPCClientPort is the default bitcoind RPC port.
	RPCClientPort string

	// EsploraURL is the default Esplora API endpoint.
	EsploraURL string
}

// MainNetParams contains parameters specific to running against the main
// network (wire.MainNet).
var MainNetParams = Params{
	Params:        &chaincfg.MainNetParams,
	RPCClientPort: "8332",
	EsploraURL:    "https://blockstream.info/api",
}

// TestNet3Params contains parameters specific to running against the test
// network (version 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:        &chaincfg.TestNet3Params,
	RPCClientPort: "18332",
	EsploraURL:    "https://blockstream.info/testnet/api",
}

// SigNetParams contains parameters specific to the default signet.
var SigNetParams = Params{
	Params:        &chaincfg.SigNetParams,
	RPCClientPort: "38332",
	EsploraURL:    "https://mempool.space/signet/api",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:        &chaincfg.RegressionNetParams,
	RPCClientPort: "18443",
	EsploraURL:    "http://127.0.0.1:3002",
}

// ForChain returns the Params wrapping chainParams.
func ForChain(chainParams *chaincfg.Params) (*Params, error) {
	for _, p := range []*Params{
		&MainNetParams, &TestNet3Params, &SigNetParams,
		&RegressionNetParams,
	} {
		if p.Net == chainParams.Net {
			return p, nil
		}
	}

	return nil, fmt.Errorf("unknown network %s", chainParams.Name)
}
