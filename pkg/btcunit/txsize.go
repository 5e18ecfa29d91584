// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
)

// WeightUnit defines a unit to express the transaction size. One weight unit
// is 1/4_000_000 of the max block size. The tx weight is calculated using
// `Base tx size * 3 + Total tx size`.
type WeightUnit struct {
	val uint64
}

// NewWeightUnit creates a new WeightUnit from a uint64.
func NewWeightUnit(val uint64) WeightUnit {
	return WeightUnit{val: val}
}

// Uint64 returns the raw number of weight units.
func (wu WeightUnit) Uint64() uint64 {
	return wu.val
}

// Add returns the sum of two weights.
func (wu WeightUnit) Add(other WeightUnit) WeightUnit {
	return WeightUnit{val: wu.val + other.val}
}

// ToVB converts a value expressed in weight units to virtual bytes, rounding
// up as BIP141 requires.
func (wu WeightUnit) ToVB() VByte {
	const scale = blockchain.WitnessScaleFactor
	return VByte{val: (wu.val + scale - 1) / scale}
}

// String returns the string representation of the weight unit.
func (wu WeightUnit) String() string {
	return fmt.Sprintf("%d wu", wu.val)
}

// VByte defines a unit to express the transaction size. One virtual byte is
// four weight units.
type VByte struct {
	val uint64
}

// NewVByte creates a new VByte from a uint64.
func NewVByte(val uint64) VByte {
	return VByte{val: val}
}

// Uint64 returns the raw number of virtual bytes.
func (vb VByte) Uint64() uint64 {
	return vb.val
}

// ToWU converts a value expressed in virtual bytes to weight units.
func (vb VByte) ToWU() WeightUnit {
	return WeightUnit{val: vb.val * blockchain.WitnessScaleFactor}
}

// String returns the string representation of the virtual byte.
func (vb VByte) String() string {
	return fmt.Sprintf("%d vb", vb.val)
}
