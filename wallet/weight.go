// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/descriptor"
)

// TransactionWeight is the estimated weight of a signed transaction.
type TransactionWeight struct {
	Weight int `json:"weight"`
}

// GetWeight estimates the weight of the PSBT once every input is signed,
// assuming each input spends an output of depositDesc. The descriptor's
// maximum satisfaction weight is added once per input, not once per
// transaction, so the estimate never falls short of the signed weight for
// multi-input transactions.
func GetWeight(depositDesc, encoded string) (*TransactionWeight, error) {
	packet, err := decodePacket(encoded, DescBase64Decode, DescDeserialize)
	if err != nil {
		return nil, err
	}

	desc, err := descriptor.Parse(depositDesc)
	if err != nil {
		return nil, walletError(ErrInternal, DescDescriptorParse, err)
	}
	satisfaction, err := desc.MaxSatisfactionWeight()
	if err != nil {
		return nil, internalError(err)
	}

	tx := packet.UnsignedTx
	base := blockchain.GetTransactionWeight(btcutil.NewTx(tx))
	weight := int(base) + satisfaction*len(tx.TxIn)

	log.Debugf("Estimated weight %d for %d %s (base %d)", weight,
		len(tx.TxIn), pickNoun(len(tx.TxIn), "input", "inputs"), base)

	return &TransactionWeight{Weight: weight}, nil
}
