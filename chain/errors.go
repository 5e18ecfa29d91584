// Copyright (c) 2023-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// NetworkError wraps a failure to reach the backend, as opposed to a
// response the backend sent that could not be used.
type NetworkError struct {
	BackEnd string
	Err     error
}

// Error returns a human readable description of the failure.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.BackEnd, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError returns true if err was caused by the backend being
// unreachable.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var (
		netErr *NetworkError
		urlErr *url.Error
		opErr  *net.OpError
	)
	switch {
	case errors.As(err, &netErr), errors.As(err, &urlErr),
		errors.As(err, &opErr):

		return true

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):

		return true
	}

	return false
}

// RPCErr represents an error returned by a backend when a transaction is
// rejected.
type RPCErr uint32

const (
	// ErrMissingInputs is returned when one or more inputs are unknown or
	// already spent.
	ErrMissingInputs RPCErr = iota

	// ErrTxAlreadyKnown is returned when the transaction is already in
	// the mempool.
	ErrTxAlreadyKnown

	// ErrTxAlreadyConfirmed is returned when the transaction is already
	// in the chain.
	ErrTxAlreadyConfirmed

	// ErrInsufficientFee is returned when the transaction does not pay
	// the minimum relay fee.
	ErrInsufficientFee

	// ErrMempoolMinFeeNotMet is returned when the transaction's fee rate
	// is below the mempool's current minimum.
	ErrMempoolMinFeeNotMet

	// ErrReplacementRejected is returned when a replacement does not
	// satisfy the BIP125 rules.
	ErrReplacementRejected

	// ErrNonFinal is returned when the transaction's locktime or sequence
	// locks are not yet satisfied.
	ErrNonFinal

	// ErrDust is returned when an output is below the dust limit.
	ErrDust

	// ErrScriptVerify is returned when an input fails script validation.
	ErrScriptVerify

	// errSentinel is used to indicate the end of the error list. This
	// should always be the last error code.
	errSentinel
)

// Error implements the error interface.
func (r RPCErr) Error() string {
	switch r {
	case ErrMissingInputs:
		return "missing inputs"

	case ErrTxAlreadyKnown:
		return "txn already known"

	case ErrTxAlreadyConfirmed:
		return "txn already confirmed"

	case ErrInsufficientFee:
		return "min relay fee not met"

	case ErrMempoolMinFeeNotMet:
		return "mempool min fee not met"

	case ErrReplacementRejected:
		return "insufficient fee"

	case ErrNonFinal:
		return "non final"

	case ErrDust:
		return "dust"

	case ErrScriptVerify:
		return "mandatory script verify flag failed"
	}

	return "unknown error"
}

// matchErrStr takes an error returned from a backend and matches it against
// the specified string. Dashes found in the error string are replaced with
// spaces before matching and the comparison ignores case.
func matchErrStr(err error, s string) bool {
	errStr := strings.ReplaceAll(strings.ToLower(err.Error()), "-", " ")
	s = strings.ReplaceAll(strings.ToLower(s), "-", " ")

	return strings.Contains(errStr, s)
}

// rejectionPatterns maps known rejection strings, as reported by bitcoind
// and relayed by Esplora, to an RPCErr.
var rejectionPatterns = []struct {
	pattern string
	err     RPCErr
}{
	{"bad txns inputs missingorspent", ErrMissingInputs},
	{"missing inputs", ErrMissingInputs},
	{"txn already in mempool", ErrTxAlreadyKnown},
	{"txn already known", ErrTxAlreadyKnown},
	{"transaction already in block chain", ErrTxAlreadyConfirmed},
	{"min relay fee not met", ErrInsufficientFee},
	{"mempool min fee not met", ErrMempoolMinFeeNotMet},
	{"insufficient fee", ErrReplacementRejected},
	{"non final", ErrNonFinal},
	{"non bip68 final", ErrNonFinal},
	{"dust", ErrDust},
	{"mandatory script verify flag failed", ErrScriptVerify},
}

// MapRPCErr wraps a broadcast rejection with the matching RPCErr so callers
// can use errors.Is. Unrecognized errors are returned unchanged.
func MapRPCErr(err error) error {
	if err == nil || IsNetworkError(err) {
		return err
	}

	for _, p := range rejectionPatterns {
		if matchErrStr(err, p.pattern) {
			return fmt.Errorf("%w: %w", p.err, err)
		}
	}

	return err
}
