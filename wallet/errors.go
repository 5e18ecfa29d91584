// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/descwallet/chain"
)

// ErrorKind identifies a kind of error.
type ErrorKind uint8

const (
	// ErrNetwork indicates the chain backend could not be reached.
	ErrNetwork ErrorKind = iota

	// ErrInternal indicates every other failure: malformed input, a
	// backend reply that could not be used, or a transaction that cannot
	// be built or signed.
	ErrInternal
)

// String returns the ErrorKind as a human-readable name.
func (k ErrorKind) String() string {
	switch k {
	case ErrNetwork:
		return "Network"
	case ErrInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown ErrorKind (%d)", uint8(k))
	}
}

// Descriptions used by the wallet's entry points. They name the step that
// failed and are stable for callers matching on them.
const (
	DescWalletInit       = "Wallet-Initialization"
	DescWalletSync       = "Wallet-Sync"
	DescAddressParse     = "Address-Parse"
	DescBase64Decode     = "Base64-Decode"
	DescDeserialize      = "Deserialize-Error"
	DescDeserializePsbt  = "Deserialize-Psbt-Error"
	DescSign             = "Sign-Error"
	DescPsbtDecode       = "PSBT-Decode"
	DescPsbtDeserialize  = "PSBT-Deserialize"
	DescMissingInputUtxo = "Missing-Input-Utxo"
	DescDescriptorParse  = "Descriptor-Parse"
)

// Error is the error type returned by the wallet's entry points.
type Error struct {
	Kind        ErrorKind // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err == nil || e.Err.Error() == e.Description {
		return e.Description
	}
	return e.Description + ": " + e.Err.Error()
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// walletError creates an Error given a set of arguments.
func walletError(k ErrorKind, desc string, err error) Error {
	return Error{Kind: k, Description: desc, Err: err}
}

// internalError creates an ErrInternal error described by the message of
// err itself.
func internalError(err error) Error {
	return Error{Kind: ErrInternal, Description: err.Error(), Err: err}
}

// chainError creates an Error for a failed backend call, classifying it as
// ErrNetwork when the backend could not be reached.
func chainError(desc string, err error) Error {
	if chain.IsNetworkError(err) {
		return walletError(ErrNetwork, desc, err)
	}
	return walletError(ErrInternal, desc, err)
}

// IsError returns whether the error is an Error with a matching kind.
func IsError(err error, kind ErrorKind) bool {
	var werr Error
	return errors.As(err, &werr) && werr.Kind == kind
}

// HasDescription returns whether the error is an Error with the given
// description.
func HasDescription(err error, desc string) bool {
	var werr Error
	return errors.As(err, &werr) && werr.Description == desc
}

var (
	// ErrNoChainClient is returned when an operation needs the chain
	// backend but the wallet was created offline.
	ErrNoChainClient = errors.New("wallet has no chain client")

	// ErrInsufficientFunds is returned when the wallet's unspent outputs
	// cannot pay for the requested outputs and fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrMissingAmount is returned when a transaction with a recipient
	// output is requested without an amount.
	ErrMissingAmount = errors.New("amount is required unless sweeping")

	// ErrNoUtxos is returned when a sweep is requested but the wallet has
	// nothing to spend.
	ErrNoUtxos = errors.New("no unspent outputs to spend")

	// ErrIncompletePolicyPaths is returned when spending policy paths are
	// given for only one of the two keychains.
	ErrIncompletePolicyPaths = errors.New("spending policy paths must be " +
		"given for both keychains")

	// ErrMissingPrevTx is returned when a non-witness input is spent but
	// the transaction creating it is unknown.
	ErrMissingPrevTx = errors.New("previous transaction unavailable for " +
		"non-witness input")

	// ErrMissingInputUtxo is returned when a PSBT input carries neither a
	// witness nor a non-witness UTXO.
	ErrMissingInputUtxo = errors.New("input has no utxo information")

	// ErrNotRaftPolicy is returned when the two branch policy helper is
	// used on a descriptor that is not of that shape.
	ErrNotRaftPolicy = errors.New("descriptor is not a primary/secondary " +
		"policy")
)
