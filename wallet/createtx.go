// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// txVersion is the version of built transactions. Version 2 is needed
	// for relative timelocks.
	txVersion = 2

	// rbfSequence is the input sequence of built transactions when no
	// relative timelock applies. It signals replaceability and keeps
	// nLockTime enforced.
	rbfSequence = wire.MaxTxInSequenceNum - 2

	// txInBaseWeight is the weight of an input without its scriptSig and
	// witness: outpoint and sequence.
	txInBaseWeight = (32 + 4 + 4) * 4
)

// BuildRequest describes the transaction to build.
type BuildRequest struct {
	// To is the recipient address.
	To string

	// Amount is paid to To. It may only be None for a sweep.
	Amount fn.Option[uint64]

	// FeeAbsolute is the exact fee of the transaction in satoshis.
	FeeAbsolute uint64

	// Sweep spends every unspent output to To when no amount is given.
	Sweep bool

	// PolicyPaths selects the spending branches of descriptors whose
	// policy has alternatives with different timelocks.
	PolicyPaths *SpendingPolicyPaths

	// Strategy orders the candidate outputs. nil selects
	// CoinSelectionLargest.
	Strategy CoinSelectionStrategy
}

// WalletPSBT is a base64 encoded PSBT and whether all of its inputs are
// finalized.
type WalletPSBT struct {
	PSBT        string `json:"psbt"`
	IsFinalized bool   `json:"is_finalized"`
}

// Build syncs the wallet and returns an unsigned PSBT for req.
func Build(ctx context.Context, cfg *Config,
	req *BuildRequest) (*WalletPSBT, error) {

	w, err := New(cfg)
	if err != nil {
		return nil, walletError(ErrInternal, DescWalletInit, err)
	}
	if err := w.Sync(ctx); err != nil {
		return nil, chainError(DescWalletSync, err)
	}

	to, err := decodeAddress(req.To, w.chainParams)
	if err != nil {
		return nil, walletError(ErrInternal, DescAddressParse, err)
	}

	packet, err := w.CreatePsbt(to, req)
	if err != nil {
		return nil, internalError(err)
	}

	b64, err := packet.B64Encode()
	if err != nil {
		return nil, internalError(err)
	}

	return &WalletPSBT{PSBT: b64, IsFinalized: false}, nil
}

// decodeAddress parses addr and requires it to belong to net.
func decodeAddress(addr string, net *chaincfg.Params) (btcutil.Address,
	error) {

	decoded, err := btcutil.DecodeAddress(addr, net)
	if err != nil {
		return nil, err
	}
	if !decoded.IsForNet(net) {
		return nil, fmt.Errorf("address %s is not for %s", addr,
			net.Name)
	}

	return decoded, nil
}

// CreatePsbt selects coins from the synced outputs and returns an unsigned,
// BIP69 sorted PSBT paying to. Every input carries its UTXO, BIP32
// derivations and scripts, and so does the change output if there is one.
func (w *Wallet) CreatePsbt(to btcutil.Address,
	req *BuildRequest) (*psbt.Packet, error) {

	pkScript, err := txscript.PayToAddrScript(to)
	if err != nil {
		return nil, err
	}
	if req.PolicyPaths != nil && (req.PolicyPaths.External == nil ||
		req.PolicyPaths.Internal == nil) {

		return nil, ErrIncompletePolicyPaths
	}

	strategy := req.Strategy
	if strategy == nil {
		strategy = CoinSelectionLargest
	}
	eligible := strategy.ArrangeCoins(w.eligibleCredits())
	fee := btcutil.Amount(req.FeeAbsolute)

	var (
		tx       *txauthor.AuthoredTx
		selected []wtxmgr.Credit
		change   *waddrmgr.ManagedScript
	)
	switch {
	case req.Sweep && req.Amount.IsNone():
		tx, selected, err = w.authorSweep(eligible, pkScript, fee)

	case req.Amount.IsNone():
		return nil, ErrMissingAmount

	default:
		amount := btcutil.Amount(req.Amount.UnwrapOr(0))
		tx, selected, change, err = w.authorPayment(
			eligible, pkScript, amount, fee,
		)
	}
	if err != nil {
		return nil, err
	}

	cond, err := w.spendConditions(selected, req.PolicyPaths)
	if err != nil {
		return nil, err
	}

	w.checkRelayFee(tx, selected, fee)

	packet, err := w.newPacket(tx, selected, change, cond)
	if err != nil {
		return nil, err
	}
	if err := psbt.InPlaceSort(packet); err != nil {
		return nil, err
	}

	log.Infof("Built transaction spending %d %s worth %v with fee %v",
		len(selected), pickNoun(len(selected), "input", "inputs"),
		tx.TotalInput, fee)
	log.Tracef("Unsigned transaction: %v", newLogClosure(func() string {
		return spew.Sdump(packet.UnsignedTx)
	}))

	return packet, nil
}

// authorSweep spends every eligible output to a single output at pkScript.
func (w *Wallet) authorSweep(eligible []wtxmgr.Credit, pkScript []byte,
	fee btcutil.Amount) (*txauthor.AuthoredTx, []wtxmgr.Credit, error) {

	if len(eligible) == 0 {
		return nil, nil, ErrNoUtxos
	}

	var selected []wtxmgr.Credit
	inputSource := makeInputSource(eligible, &selected)
	total, inputs, inputValues, scripts, err := inputSource(
		btcutil.MaxSatoshi,
	)
	if err != nil {
		return nil, nil, err
	}

	if total <= fee {
		return nil, nil, fmt.Errorf("%w: fee %v exceeds the balance %v",
			ErrInsufficientFunds, fee, total)
	}

	output := wire.NewTxOut(int64(total-fee), pkScript)
	if err := txrules.CheckOutput(
		output, txrules.DefaultRelayFeePerKb,
	); err != nil {
		return nil, nil, fmt.Errorf("sweep output of %v: %w",
			total-fee, err)
	}

	return &txauthor.AuthoredTx{
		Tx: &wire.MsgTx{
			Version: txVersion,
			TxIn:    inputs,
			TxOut:   []*wire.TxOut{output},
		},
		PrevScripts:     scripts,
		PrevInputValues: inputValues,
		TotalInput:      total,
		ChangeIndex:     -1,
	}, selected, nil
}

// authorPayment pays amount to pkScript and returns what is left after the
// fee to the next unused change script. Change too small to be relayed is
// added to the fee.
func (w *Wallet) authorPayment(eligible []wtxmgr.Credit, pkScript []byte,
	amount, fee btcutil.Amount) (*txauthor.AuthoredTx, []wtxmgr.Credit,
	*waddrmgr.ManagedScript, error) {

	outputs := []*wire.TxOut{wire.NewTxOut(int64(amount), pkScript)}
	if err := txrules.CheckOutput(
		outputs[0], txrules.DefaultRelayFeePerKb,
	); err != nil {
		return nil, nil, nil, err
	}

	var selected []wtxmgr.Credit
	inputSource := makeInputSource(eligible, &selected)
	target := txauthor.SumOutputValues(outputs) + fee
	total, inputs, inputValues, scripts, err := inputSource(target)
	if err != nil {
		return nil, nil, nil, err
	}
	if total < target {
		return nil, nil, nil, fmt.Errorf("%w: need %v, have %v",
			ErrInsufficientFunds, target, total)
	}

	tx := &txauthor.AuthoredTx{
		Tx: &wire.MsgTx{
			Version: txVersion,
			TxIn:    inputs,
			TxOut:   outputs,
		},
		PrevScripts:     scripts,
		PrevInputValues: inputValues,
		TotalInput:      total,
		ChangeIndex:     -1,
	}

	changeAmount := total - target
	if changeAmount == 0 {
		return tx, selected, nil, nil
	}

	changeSource, change, err := w.changeSource()
	if err != nil {
		return nil, nil, nil, err
	}
	if txrules.IsDustAmount(
		changeAmount, changeSource.ScriptSize,
		txrules.DefaultRelayFeePerKb,
	) {

		log.Debugf("Adding dust change of %v to the fee", changeAmount)
		return tx, selected, nil, nil
	}

	changeScript, err := changeSource.NewScript()
	if err != nil {
		return nil, nil, nil, err
	}
	tx.Tx.TxOut = append(
		tx.Tx.TxOut, wire.NewTxOut(int64(changeAmount), changeScript),
	)
	tx.ChangeIndex = len(tx.Tx.TxOut) - 1

	return tx, selected, change, nil
}

// changeSource returns a change source paying to the next unused script of
// the internal branch, along with that script.
func (w *Wallet) changeSource() (*txauthor.ChangeSource,
	*waddrmgr.ManagedScript, error) {

	ms, err := w.Manager.NextUnused(waddrmgr.InternalBranch)
	if err != nil {
		return nil, nil, err
	}

	return &txauthor.ChangeSource{
		ScriptSize: len(ms.PkScript),
		NewScript: func() ([]byte, error) {
			return ms.PkScript, nil
		},
	}, ms, nil
}

// spendConditions returns the timelocks the transaction must carry to spend
// the selected outputs under the chosen policy paths.
func (w *Wallet) spendConditions(selected []wtxmgr.Credit,
	paths *SpendingPolicyPaths) (descriptor.Condition, error) {

	branches := fn.NewSet[uint32]()
	for _, c := range selected {
		branches.Add(c.Branch)
	}

	var cond descriptor.Condition
	for _, branch := range []uint32{
		waddrmgr.ExternalBranch, waddrmgr.InternalBranch,
	} {

		if !branches.Contains(branch) {
			continue
		}

		desc, err := w.Manager.Descriptor(branch)
		if err != nil {
			return descriptor.Condition{}, err
		}

		var path descriptor.SpendingPolicyPath
		if paths != nil {
			path = paths.forBranch(branch)
		}

		branchCond, err := desc.Policy().Conditions(path)
		if err != nil {
			return descriptor.Condition{}, fmt.Errorf("%s keychain: "+
				"%w", keychainName(branch), err)
		}

		cond, err = cond.Merge(branchCond)
		if err != nil {
			return descriptor.Condition{}, err
		}
	}

	return cond, nil
}

// newPacket creates the PSBT for tx and fills in what signers need to know
// about the inputs and the change output.
func (w *Wallet) newPacket(tx *txauthor.AuthoredTx, selected []wtxmgr.Credit,
	change *waddrmgr.ManagedScript,
	cond descriptor.Condition) (*psbt.Packet, error) {

	lockTime := cond.Timelock.UnwrapOr(0)
	sequence := cond.CSV.UnwrapOr(rbfSequence)

	outpoints := make([]*wire.OutPoint, len(tx.Tx.TxIn))
	sequences := make([]uint32, len(tx.Tx.TxIn))
	for i, txIn := range tx.Tx.TxIn {
		op := txIn.PreviousOutPoint
		outpoints[i] = &op
		sequences[i] = sequence
	}

	packet, err := psbt.New(
		outpoints, tx.Tx.TxOut, txVersion, lockTime, sequences,
	)
	if err != nil {
		return nil, err
	}

	for i := range selected {
		err := w.addInputInfo(&packet.Inputs[i], &selected[i])
		if err != nil {
			return nil, fmt.Errorf("input %v: %w",
				selected[i].OutPoint, err)
		}
	}

	if tx.ChangeIndex >= 0 && change != nil {
		out := &packet.Outputs[tx.ChangeIndex]
		out.RedeemScript = change.RedeemScript
		out.WitnessScript = change.WitnessScript
		out.Bip32Derivation = bip32Derivations(change.Keys)
	}

	return packet, nil
}

// addInputInfo adds the UTXO, scripts and BIP32 derivations of credit to in.
func (w *Wallet) addInputInfo(in *psbt.PInput, credit *wtxmgr.Credit) error {
	ms, err := w.Manager.DeriveScript(credit.Branch, credit.Index)
	if err != nil {
		return err
	}
	if !bytes.Equal(ms.PkScript, credit.PkScript) {
		return fmt.Errorf("script %x does not match derived script %x",
			credit.PkScript, ms.PkScript)
	}

	isWitness := ms.Descriptor().Type().IsWitness()
	if isWitness {
		in.WitnessUtxo = wire.NewTxOut(
			int64(credit.Amount), credit.PkScript,
		)
	}

	prevTx, err := w.TxStore.Tx(&credit.OutPoint.Hash)
	switch {
	case err == nil:
		in.NonWitnessUtxo = prevTx

	case !isWitness:
		return ErrMissingPrevTx
	}

	in.SighashType = txscript.SigHashAll
	in.RedeemScript = ms.RedeemScript
	in.WitnessScript = ms.WitnessScript
	in.Bip32Derivation = bip32Derivations(ms.Keys)

	return nil
}

// bip32Derivations returns the PSBT derivation records of keys.
func bip32Derivations(keys []*descriptor.DerivedKey) []*psbt.Bip32Derivation {
	derivations := make([]*psbt.Bip32Derivation, 0, len(keys))
	for _, key := range keys {
		derivations = append(derivations, &psbt.Bip32Derivation{
			PubKey:               key.PubKey.SerializeCompressed(),
			MasterKeyFingerprint: key.Fingerprint,
			Bip32Path:            key.Path,
		})
	}

	return derivations
}

// checkRelayFee warns when the absolute fee is below the default minimum
// relay fee for the estimated size of the signed transaction.
func (w *Wallet) checkRelayFee(tx *txauthor.AuthoredTx,
	selected []wtxmgr.Credit, fee btcutil.Amount) {

	vsize := w.estimateVirtualSize(tx.Tx, selected)
	minFee := txrules.FeeForSerializeSize(
		txrules.DefaultRelayFeePerKb, vsize,
	)
	if fee < minFee {
		log.Warnf("Fee %v is below the minimum relay fee %v for an "+
			"estimated %d vbytes", fee, minFee, vsize)
	}
}

// estimateVirtualSize estimates the size of tx once signed. Key hash inputs
// use the standard estimates, script inputs their descriptor's maximum
// satisfaction weight.
func (w *Wallet) estimateVirtualSize(tx *wire.MsgTx,
	selected []wtxmgr.Credit) int {

	var p2pkh, p2wpkh, nested, scriptWeight int
	for _, c := range selected {
		desc, err := w.Manager.Descriptor(c.Branch)
		if err != nil {
			continue
		}

		switch desc.Type() {
		case descriptor.TypePkh:
			p2pkh++

		case descriptor.TypeWpkh:
			p2wpkh++

		case descriptor.TypeShWpkh:
			nested++

		default:
			sat, err := desc.MaxSatisfactionWeight()
			if err != nil {
				continue
			}
			scriptWeight += txInBaseWeight + sat
		}
	}

	vsize := txsizes.EstimateVirtualSize(
		p2pkh, 0, p2wpkh, nested, tx.TxOut, 0,
	)

	return vsize + (scriptWeight+3)/4
}
