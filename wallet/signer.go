// Copyright (c) 2020-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/waddrmgr"
)

// maxLookupIndex bounds the derivation index taken from a PSBT's BIP32
// records. Every index below it is derived to resolve the record.
const maxLookupIndex = 10000

// Sign adds the signatures the wallet's descriptors can produce to a base64
// encoded PSBT and finalizes every input that becomes satisfiable.
func Sign(cfg *Config, encoded string) (*WalletPSBT, error) {
	w, err := NewOffline(cfg)
	if err != nil {
		return nil, walletError(ErrInternal, DescWalletInit, err)
	}

	packet, err := decodePacket(
		encoded, DescDeserializePsbt, DescDeserializePsbt,
	)
	if err != nil {
		return nil, err
	}

	signed, err := w.SignPsbt(packet)
	if err != nil {
		return nil, walletError(ErrInternal, DescSign, err)
	}

	b64, err := packet.B64Encode()
	if err != nil {
		return nil, walletError(ErrInternal, DescSign, err)
	}

	complete := packet.IsComplete()
	log.Infof("Signed %d %s, finalized=%v", len(signed),
		pickNoun(len(signed), "input", "inputs"), complete)

	return &WalletPSBT{PSBT: b64, IsFinalized: complete}, nil
}

// SignPsbt signs every input of packet that spends one of the wallet's
// scripts with every private key the script's descriptor holds, then
// finalizes the inputs whose descriptor is satisfied. Inputs that are not
// the wallet's are finalized when their partial signatures suffice. The
// indices of the inputs that received new signatures are returned.
func (w *Wallet) SignPsbt(packet *psbt.Packet) ([]uint32, error) {
	tx := packet.UnsignedTx
	if len(tx.TxIn) != len(packet.Inputs) {
		return nil, fmt.Errorf("packet has %d inputs for %d "+
			"transaction inputs", len(packet.Inputs), len(tx.TxIn))
	}

	prevOutFetcher := PsbtPrevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	var signed []uint32
	for idx := range tx.TxIn {
		in := &packet.Inputs[idx]
		if isFinalized(in) {
			continue
		}

		utxo, err := inputUtxo(packet, idx)
		if err != nil {
			log.Debugf("Skipping input %d: %v", idx, err)
			continue
		}

		ms, ok := w.findScript(in, utxo.PkScript)
		if !ok {
			finalizeForeign(packet, idx)
			continue
		}

		n, err := signInput(packet, idx, sigHashes, ms, utxo)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}
		if n > 0 {
			signed = append(signed, uint32(idx))
		}

		if err := finalizeInput(packet, idx, ms); err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}
	}

	return signed, nil
}

// findScript maps a PSBT input to one of the wallet's scripts, first through
// its BIP32 derivation records and then by scanning the lookahead window of
// both branches.
func (w *Wallet) findScript(in *psbt.PInput,
	pkScript []byte) (*waddrmgr.ManagedScript, bool) {

	for _, d := range in.Bip32Derivation {
		path := d.Bip32Path
		if len(path) > 0 {
			last := path[len(path)-1]
			if last >= maxLookupIndex &&
				last < hdkeychain.HardenedKeyStart {

				continue
			}
		}

		ms, _, err := w.Manager.LookupDerivation(
			d.MasterKeyFingerprint, path,
		)
		if err != nil {
			continue
		}
		if bytes.Equal(ms.PkScript, pkScript) {
			return ms, true
		}
	}

	for _, branch := range []uint32{
		waddrmgr.ExternalBranch, waddrmgr.InternalBranch,
	} {

		if err := w.Manager.ExtendLookahead(branch); err != nil {
			log.Debugf("Unable to extend %s lookahead: %v",
				keychainName(branch), err)
			return nil, false
		}
	}

	ms, err := w.Manager.LookupScript(pkScript)
	if err != nil {
		return nil, false
	}

	return ms, true
}

// signInput adds a partial signature for every private key of ms that has
// not signed input idx yet and returns how many were added.
func signInput(packet *psbt.Packet, idx int, sigHashes *txscript.TxSigHashes,
	ms *waddrmgr.ManagedScript, utxo *wire.TxOut) (int, error) {

	in := &packet.Inputs[idx]
	hashType := in.SighashType
	if hashType == 0 {
		hashType = txscript.SigHashAll
	}

	tx := packet.UnsignedTx
	typ := ms.Descriptor().Type()

	var added int
	for _, key := range ms.Keys {
		if key.PrivKey == nil {
			continue
		}

		pubKey := key.PubKey.SerializeCompressed()
		if hasPartialSig(in, pubKey) {
			continue
		}

		var (
			sig []byte
			err error
		)
		switch typ {
		case descriptor.TypePkh:
			sig, err = txscript.RawTxInSignature(
				tx, idx, ms.PkScript, hashType, key.PrivKey,
			)

		case descriptor.TypeSh:
			sig, err = txscript.RawTxInSignature(
				tx, idx, ms.RedeemScript, hashType, key.PrivKey,
			)

		case descriptor.TypeWpkh:
			sig, err = txscript.RawTxInWitnessSignature(
				tx, sigHashes, idx, utxo.Value, ms.PkScript,
				hashType, key.PrivKey,
			)

		case descriptor.TypeShWpkh:
			sig, err = txscript.RawTxInWitnessSignature(
				tx, sigHashes, idx, utxo.Value, ms.RedeemScript,
				hashType, key.PrivKey,
			)

		default:
			sig, err = txscript.RawTxInWitnessSignature(
				tx, sigHashes, idx, utxo.Value,
				ms.WitnessScript, hashType, key.PrivKey,
			)
		}
		if err != nil {
			return added, err
		}

		in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
			PubKey:    pubKey,
			Signature: sig,
		})
		added++
	}

	return added, nil
}

func hasPartialSig(in *psbt.PInput, pubKey []byte) bool {
	for _, ps := range in.PartialSigs {
		if bytes.Equal(ps.PubKey, pubKey) {
			return true
		}
	}

	return false
}

// finalizeInput builds the final scripts of input idx from its partial
// signatures. An input that cannot be satisfied yet is left untouched.
func finalizeInput(packet *psbt.Packet, idx int,
	ms *waddrmgr.ManagedScript) error {

	in := &packet.Inputs[idx]
	sigs := make(map[string][]byte, len(in.PartialSigs))
	for _, ps := range in.PartialSigs {
		sigs[hex.EncodeToString(ps.PubKey)] = ps.Signature
	}

	tx := packet.UnsignedTx
	sigScript, witness, err := ms.Satisfy(
		sigs, tx.LockTime, tx.TxIn[idx].Sequence, tx.Version,
	)
	if errors.Is(err, descriptor.ErrCannotSatisfy) {
		log.Debugf("Input %d is not satisfiable with %d %s yet", idx,
			len(sigs), pickNoun(len(sigs), "signature",
				"signatures"))
		return nil
	}
	if err != nil {
		return err
	}

	// Only the UTXO and the final scripts survive finalization.
	finalized := psbt.NewPsbtInput(in.NonWitnessUtxo, in.WitnessUtxo)
	finalized.FinalScriptSig = sigScript
	if len(witness) > 0 {
		var buf bytes.Buffer
		if err := psbt.WriteTxWitness(&buf, witness); err != nil {
			return err
		}
		finalized.FinalScriptWitness = buf.Bytes()
	}
	*in = *finalized

	return nil
}

// finalizeForeign finalizes input idx, which does not belong to the wallet,
// if its partial signatures satisfy a standard script.
func finalizeForeign(packet *psbt.Packet, idx int) {
	if len(packet.Inputs[idx].PartialSigs) == 0 {
		return
	}

	if _, err := psbt.MaybeFinalize(packet, idx); err != nil {
		log.Debugf("Foreign input %d not finalized: %v", idx, err)
	}
}
