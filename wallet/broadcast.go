// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
)

// Txid is the hash of a broadcast transaction.
type Txid struct {
	Txid string `json:"txid"`
}

// Broadcast extracts the transaction of a base64 encoded PSBT and submits it
// to the chain backend. Backend rejections are returned with the backend's
// message.
func Broadcast(ctx context.Context, cfg *Config, encoded string) (*Txid,
	error) {

	w, err := New(cfg)
	if err != nil {
		return nil, walletError(ErrInternal, DescWalletInit, err)
	}
	if err := w.Sync(ctx); err != nil {
		return nil, chainError(DescWalletSync, err)
	}

	packet, err := decodePacket(encoded, DescPsbtDecode, DescPsbtDeserialize)
	if err != nil {
		return nil, err
	}

	tx, err := extractTx(packet)
	if err != nil {
		return nil, internalError(err)
	}

	chainClient, err := w.requireChainClient()
	if err != nil {
		return nil, internalError(err)
	}

	txid, err := chainClient.Broadcast(ctx, tx)
	if err != nil {
		return nil, internalError(err)
	}

	log.Infof("Broadcast transaction %v via %s", txid,
		chainClient.BackEnd())

	return &Txid{Txid: txid.String()}, nil
}
