// Copyright (c) 2014-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific TxStoreError.
const (
	// ErrInput indicates an error in the input supplied by the caller.
	ErrInput ErrorCode = iota

	// ErrDuplicate indicates that a credit was already recorded with
	// different contents.
	ErrDuplicate

	// ErrTxHashNotFound indicates that the requested tx hash is not known
	// to the tx store.
	ErrTxHashNotFound

	// ErrCreditNotFound indicates that the requested outpoint is not an
	// unspent wallet output.
	ErrCreditNotFound
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInput:          "ErrInput",
	ErrDuplicate:      "ErrDuplicate",
	ErrTxHashNotFound: "ErrTxHashNotFound",
	ErrCreditNotFound: "ErrCreditNotFound",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// TxStoreError provides a single type for errors that can happen during tx
// store operation. It is similar to waddrmgr.ManagerError.
type TxStoreError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxStoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e TxStoreError) Unwrap() error {
	return e.Err
}

// txStoreError creates a TxStoreError given a set of arguments.
func txStoreError(c ErrorCode, desc string, err error) TxStoreError {
	return TxStoreError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether err is a TxStoreError with a matching code.
func IsError(err error, code ErrorCode) bool {
	var serr TxStoreError
	return errors.As(err, &serr) && serr.ErrorCode == code
}
