// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// NetworkFee is a fee rate in sat/vB and, when a transaction weight is
// known, the absolute fee in satoshis.
type NetworkFee struct {
	Rate     float64
	Absolute fn.Option[uint64]
}

// MarshalJSON encodes the fee as {"rate": ..., "absolute": ... | null}.
func (f NetworkFee) MarshalJSON() ([]byte, error) {
	var absolute *uint64
	f.Absolute.WhenSome(func(a uint64) {
		absolute = &a
	})

	return json.Marshal(struct {
		Rate     float64 `json:"rate"`
		Absolute *uint64 `json:"absolute"`
	}{f.Rate, absolute})
}

// EstimateRate asks the chain backend for the fee rate expected to confirm a
// transaction within target blocks.
func EstimateRate(ctx context.Context, cfg *Config,
	target uint32) (*NetworkFee, error) {

	if cfg.Client == nil {
		return nil, internalError(ErrNoChainClient)
	}

	rate, err := cfg.Client.EstimateFee(ctx, target)
	if err != nil {
		return nil, internalError(err)
	}

	log.Debugf("Fee estimate for %d %s: %v", target,
		pickNoun(int(target), "block", "blocks"), rate)

	return &NetworkFee{
		Rate:     rate.Float64(),
		Absolute: fn.None[uint64](),
	}, nil
}

// RateToAbsolute returns the fee paid by a transaction of the given weight
// at rate sat/vB. The weight is rounded up to whole virtual bytes and the
// fee up to a whole satoshi.
func RateToAbsolute(rate float64, weight int) *NetworkFee {
	vsize := weightUnits(weight).ToVB()
	fee := btcunit.SatPerVByteFromFloat(rate).FeeForVSizeRoundUp(vsize)

	return &NetworkFee{
		Rate:     rate,
		Absolute: fn.Some(uint64(fee)),
	}
}

// AbsoluteToRate returns the rate in sat/vB at which a transaction of the
// given weight pays absolute satoshis. A zero weight yields a zero rate.
func AbsoluteToRate(absolute uint64, weight int) *NetworkFee {
	vsize := weightUnits(weight).ToVB()
	rate := btcunit.NewSatPerVByte(btcutil.Amount(absolute), vsize)

	return &NetworkFee{
		Rate:     rate.Float64(),
		Absolute: fn.Some(absolute),
	}
}

func weightUnits(weight int) btcunit.WeightUnit {
	if weight < 0 {
		weight = 0
	}
	return btcunit.NewWeightUnit(uint64(weight))
}
