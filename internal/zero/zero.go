// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero contains functions to clear secrets from memory.
package zero

// Bytes sets all bytes in the passed slice to zero.  This is used to
// explicitly clear secrets, such as a descriptor holding private keys read
// from the terminal, once they have been consumed.
func Bytes(b []byte) {
	z := [32]byte{}
	n := uint(copy(b, z[:]))
	for n < uint(len(b)) {
		copy(b[n:], b[:n])
		n <<= 1
	}
}
