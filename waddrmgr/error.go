// Copyright (c) 2014-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific ManagerError.
const (
	// ErrKeyChain indicates an error with deriving a script from a
	// descriptor. When this error code is set, the Err field of the
	// ManagerError will be set to the underlying error.
	ErrKeyChain ErrorCode = iota

	// ErrInvalidBranch indicates a branch other than the external or
	// internal one was requested.
	ErrInvalidBranch

	// ErrAddressNotFound indicates that the requested script or
	// derivation path is not known to the manager.
	ErrAddressNotFound

	// ErrTooManyAddresses indicates that more than the maximum allowed
	// number of scripts was requested for a branch.
	ErrTooManyAddresses

	// ErrWrongNet indicates that a descriptor key belongs to a different
	// network than the manager.
	ErrWrongNet
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrKeyChain:         "ErrKeyChain",
	ErrInvalidBranch:    "ErrInvalidBranch",
	ErrAddressNotFound:  "ErrAddressNotFound",
	ErrTooManyAddresses: "ErrTooManyAddresses",
	ErrWrongNet:         "ErrWrongNet",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ManagerError provides a single type for errors that can happen during
// address manager operation.
type ManagerError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ManagerError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e ManagerError) Unwrap() error {
	return e.Err
}

// managerError creates a ManagerError given a set of arguments.
func managerError(c ErrorCode, desc string, err error) ManagerError {
	return ManagerError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is a ManagerError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	var merr ManagerError
	return errors.As(err, &merr) && merr.ErrorCode == code
}
