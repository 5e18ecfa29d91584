// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides exact fee rate and transaction size units used by
// the wallet's fee model.
package btcunit

import (
	"math"
	"math/big"
	"strconv"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// SatsPerKilo is the number of satoshis in a kilo-satoshi.
	SatsPerKilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string.
	floatStringPrecision = 2
)

// SatPerVByte represents a fee rate in sat/vbyte. The fee rate is encoded
// as a big.Rat to allow for fractional (sub-satoshi) fee rates.
type SatPerVByte struct {
	*big.Rat
}

// NewSatPerVByte creates a new fee rate in sat/vb from an absolute fee paid
// for the given virtual size.
func NewSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	if vb.val == 0 {
		return SatPerVByte{big.NewRat(0, 1)}
	}

	return SatPerVByte{
		big.NewRat(int64(fee), safeUint64ToInt64(vb.val)),
	}
}

// SatPerVByteFromFloat converts a floating point sat/vb rate, as reported by
// fee estimators and entered by users, into the rational value of its
// shortest decimal form, so 0.1 is exactly one tenth. Negative and non-finite
// rates map to zero.
func SatPerVByteFromFloat(rate float64) SatPerVByte {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return SatPerVByte{big.NewRat(0, 1)}
	}

	r, ok := new(big.Rat).SetString(
		strconv.FormatFloat(rate, 'f', -1, 64),
	)
	if !ok {
		r = new(big.Rat).SetFloat64(rate)
	}

	return SatPerVByte{r}
}

// Float64 returns the nearest float64 value of the fee rate.
func (s SatPerVByte) Float64() float64 {
	f, _ := s.Rat.Float64()
	return f
}

// FeeForVSizeRoundUp returns the fee for the given virtual size, rounded up
// to the next whole satoshi.
func (s SatPerVByte) FeeForVSizeRoundUp(vb VByte) btcutil.Amount {
	fee := new(big.Rat).Mul(
		s.Rat, new(big.Rat).SetInt64(safeUint64ToInt64(vb.val)),
	)

	return ceilAmount(fee)
}

// FeePerKWeight converts the current fee rate from sat/vb to sat/kw.
func (s SatPerVByte) FeePerKWeight() SatPerKWeight {
	vbToKwRate := big.NewRat(SatsPerKilo, blockchain.WitnessScaleFactor)
	kwRate := new(big.Rat).Mul(s.Rat, vbToKwRate)

	return SatPerKWeight{kwRate}
}

// FeePerKVByte converts the current fee rate from sat/vb to sat/kvb.
func (s SatPerVByte) FeePerKVByte() SatPerKVByte {
	kvbRate := new(big.Rat).Mul(s.Rat, big.NewRat(SatsPerKilo, 1))
	return SatPerKVByte{kvbRate}
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	return s.FloatString(floatStringPrecision) + " sat/vb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.Cmp(other.Rat) == 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.Cmp(other.Rat) < 0
}

// SatPerKVByte represents a fee rate in sat/kvb. This is the unit bitcoind
// reports its estimates and relay fee in.
type SatPerKVByte struct {
	*big.Rat
}

// SatPerKVByteFromAmount converts a per-kvB amount, such as the BTC/kvB
// value returned by estimatesmartfee, into a fee rate.
func SatPerKVByteFromAmount(perKvb btcutil.Amount) SatPerKVByte {
	return SatPerKVByte{big.NewRat(int64(perKvb), 1)}
}

// FeePerVByte converts the current fee rate from sat/kvb to sat/vb.
func (s SatPerKVByte) FeePerVByte() SatPerVByte {
	vbRate := new(big.Rat).Mul(s.Rat, big.NewRat(1, SatsPerKilo))
	return SatPerVByte{vbRate}
}

// Amount returns the fee rate as a whole number of satoshis per kvB, rounded
// up, in the form accepted by txrules.
func (s SatPerKVByte) Amount() btcutil.Amount {
	return ceilAmount(s.Rat)
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return s.FloatString(floatStringPrecision) + " sat/kvb"
}

// SatPerKWeight represents a fee rate in sat/kw. The fee rate is encoded as a
// big.Rat to allow for fractional (sub-satoshi) fee rates.
type SatPerKWeight struct {
	*big.Rat
}

// NewSatPerKWeight creates a new fee rate in sat/kw. The given fee and weight
// are used to calculate the fee rate.
func NewSatPerKWeight(fee btcutil.Amount, wu WeightUnit) SatPerKWeight {
	if wu.val == 0 {
		return SatPerKWeight{big.NewRat(0, 1)}
	}

	return SatPerKWeight{
		big.NewRat(
			int64(fee)*SatsPerKilo, safeUint64ToInt64(wu.val),
		),
	}
}

// FeeForWeight calculates the fee resulting from this fee rate and the given
// weight, rounded down.
func (s SatPerKWeight) FeeForWeight(wu WeightUnit) btcutil.Amount {
	fee := new(big.Rat).Mul(
		s.Rat, big.NewRat(safeUint64ToInt64(wu.val), SatsPerKilo),
	)

	return btcutil.Amount(new(big.Int).Div(fee.Num(), fee.Denom()).Int64())
}

// FeeForWeightRoundUp calculates the fee resulting from this fee rate and the
// given weight, rounding up to the nearest satoshi.
func (s SatPerKWeight) FeeForWeightRoundUp(wu WeightUnit) btcutil.Amount {
	fee := new(big.Rat).Mul(
		s.Rat, big.NewRat(safeUint64ToInt64(wu.val), SatsPerKilo),
	)

	return ceilAmount(fee)
}

// FeePerVByte converts the current fee rate from sat/kw to sat/vb.
func (s SatPerKWeight) FeePerVByte() SatPerVByte {
	kwToVbRate := big.NewRat(blockchain.WitnessScaleFactor, SatsPerKilo)
	vbRate := new(big.Rat).Mul(s.Rat, kwToVbRate)

	return SatPerVByte{vbRate}
}

// String returns a human-readable string of the fee rate.
func (s SatPerKWeight) String() string {
	return s.FloatString(floatStringPrecision) + " sat/kw"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKWeight) Equal(other SatPerKWeight) bool {
	return s.Cmp(other.Rat) == 0
}

// ceilAmount rounds a non-negative rational up to a whole satoshi amount
// using (num + den - 1) / den.
func ceilAmount(r *big.Rat) btcutil.Amount {
	num := new(big.Int).Set(r.Num())
	den := r.Denom()
	num.Add(num, den)
	num.Sub(num, big.NewInt(1))
	num.Div(num, den)

	return btcutil.Amount(num.Int64())
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}
