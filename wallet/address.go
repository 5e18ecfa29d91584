// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/descwallet/waddrmgr"
)

// WalletAddress is a deposit address.
type WalletAddress struct {
	Address string `json:"address"`
}

// GenerateAddress returns the deposit address at index. No chain access is
// needed and no address index is advanced, so the same index always yields
// the same address.
func GenerateAddress(cfg *Config, index uint32) (*WalletAddress, error) {
	w, err := NewOffline(cfg)
	if err != nil {
		return nil, internalError(err)
	}

	// Derive directly rather than through the manager, which fills in
	// every index below the requested one.
	desc, err := w.Manager.Descriptor(waddrmgr.ExternalBranch)
	if err != nil {
		return nil, internalError(err)
	}
	derived, err := desc.Derive(index)
	if err != nil {
		return nil, internalError(err)
	}
	addr, err := derived.Address(w.chainParams)
	if err != nil {
		return nil, internalError(err)
	}

	return &WalletAddress{Address: addr.EncodeAddress()}, nil
}
