// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// MinerOutput is the destination of the pseudo output carrying the
	// fee of a decoded transaction.
	MinerOutput = "miner"

	// UnknownDestination is shown for outputs without a single standard
	// address.
	UnknownDestination = "None"
)

// DecodedTxIO is a value moved to a destination.
type DecodedTxIO struct {
	Value int64  `json:"value"`
	To    string `json:"to"`
}

// DecodedTx lists the outputs of a PSBT followed by the fee paid to the
// miner.
type DecodedTx struct {
	Outputs []DecodedTxIO `json:"outputs"`
}

// Decode summarizes the outputs and fee of a base64 encoded PSBT.
func Decode(net *chaincfg.Params, encoded string) (*DecodedTx, error) {
	packet, err := decodePacket(encoded, DescBase64Decode, DescDeserialize)
	if err != nil {
		return nil, err
	}

	return DecodePacket(net, packet)
}

// DecodePacket summarizes the outputs and fee of packet. The fee entry is
// total input value minus total output value and is not clamped at zero.
func DecodePacket(net *chaincfg.Params, packet *psbt.Packet) (*DecodedTx,
	error) {

	outputs := make([]DecodedTxIO, 0, len(packet.UnsignedTx.TxOut)+1)

	var totalOut int64
	for _, out := range packet.UnsignedTx.TxOut {
		outputs = append(outputs, DecodedTxIO{
			Value: out.Value,
			To:    outputDestination(out.PkScript, net),
		})
		totalOut += out.Value
	}

	var totalIn int64
	for idx := range packet.UnsignedTx.TxIn {
		utxo, err := inputUtxo(packet, idx)
		if err != nil {
			return nil, walletError(
				ErrInternal, DescMissingInputUtxo, err,
			)
		}
		totalIn += utxo.Value
	}

	outputs = append(outputs, DecodedTxIO{
		Value: totalIn - totalOut,
		To:    MinerOutput,
	})

	return &DecodedTx{Outputs: outputs}, nil
}

// outputDestination returns the address paid by pkScript on net or
// UnknownDestination.
func outputDestination(pkScript []byte, net *chaincfg.Params) string {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, net)
	if err != nil || len(addrs) != 1 {
		return UnknownDestination
	}

	switch class {
	case txscript.PubKeyHashTy, txscript.ScriptHashTy,
		txscript.WitnessV0PubKeyHashTy, txscript.WitnessV0ScriptHashTy,
		txscript.WitnessV1TaprootTy:

		return addrs[0].EncodeAddress()

	default:
		return UnknownDestination
	}
}
