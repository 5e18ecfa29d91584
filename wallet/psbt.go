// Copyright (c) 2020-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// decodePacket parses a base64 encoded PSBT. Invalid base64 is reported with
// b64Desc, an invalid PSBT structure with psbtDesc.
func decodePacket(encoded, b64Desc, psbtDesc string) (*psbt.Packet, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, walletError(ErrInternal, b64Desc, err)
	}

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, walletError(ErrInternal, psbtDesc, err)
	}

	return packet, nil
}

// inputUtxo returns the output spent by input idx of packet, preferring the
// witness UTXO over the full previous transaction.
func inputUtxo(packet *psbt.Packet, idx int) (*wire.TxOut, error) {
	in := &packet.Inputs[idx]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo, nil
	}

	if in.NonWitnessUtxo != nil {
		prevOut := packet.UnsignedTx.TxIn[idx].PreviousOutPoint
		if in.NonWitnessUtxo.TxHash() != prevOut.Hash {
			return nil, fmt.Errorf("input %d: previous transaction "+
				"does not match outpoint %v", idx, prevOut)
		}
		if int(prevOut.Index) >= len(in.NonWitnessUtxo.TxOut) {
			return nil, fmt.Errorf("input %d: previous transaction "+
				"has no output %d", idx, prevOut.Index)
		}

		return in.NonWitnessUtxo.TxOut[prevOut.Index], nil
	}

	return nil, fmt.Errorf("input %d: %w", idx, ErrMissingInputUtxo)
}

// PsbtPrevOutputFetcher returns a txscript.PrevOutFetcher built from the UTXO
// information in a PSBT packet. Inputs without UTXO information map to an
// empty output so sighash midstate computation never sees a nil output.
func PsbtPrevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		utxo, err := inputUtxo(packet, idx)
		if err != nil {
			utxo = &wire.TxOut{}
		}

		fetcher.AddPrevOut(txIn.PreviousOutPoint, utxo)
	}

	return fetcher
}

// isFinalized reports whether in carries a final scriptSig or witness.
func isFinalized(in *psbt.PInput) bool {
	return len(in.FinalScriptSig) > 0 || len(in.FinalScriptWitness) > 0
}

// extractTx returns the network transaction of packet. A complete packet is
// extracted as is. Otherwise the unsigned transaction is copied with the
// final scripts of the inputs that have them, which lets the backend report
// exactly what is missing.
func extractTx(packet *psbt.Packet) (*wire.MsgTx, error) {
	if packet.IsComplete() {
		return psbt.Extract(packet)
	}

	log.Warnf("Extracting incomplete PSBT, some inputs are not finalized")

	tx := packet.UnsignedTx.Copy()
	for idx, txIn := range tx.TxIn {
		in := &packet.Inputs[idx]
		if len(in.FinalScriptSig) > 0 {
			txIn.SignatureScript = in.FinalScriptSig
		}
		if len(in.FinalScriptWitness) > 0 {
			witness, err := parseWitness(in.FinalScriptWitness)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", idx, err)
			}
			txIn.Witness = witness
		}
	}

	return tx, nil
}

// parseWitness decodes a serialized witness stack as stored in a PSBT final
// witness field.
func parseWitness(raw []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(raw)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > uint64(len(raw)) {
		return nil, fmt.Errorf("witness claims %d items in %d bytes",
			count, len(raw))
	}

	witness := make(wire.TxWitness, count)
	for i := range witness {
		witness[i], err = wire.ReadVarBytes(
			r, 0, uint32(len(raw)), "witness item",
		)
		if err != nil {
			return nil, err
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after witness",
			r.Len())
	}

	return witness, nil
}
