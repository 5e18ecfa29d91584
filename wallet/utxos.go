// Copyright (c) 2016-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"math/rand"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/descwallet/wtxmgr"
)

// CoinSelectionStrategy orders the candidate outputs before coins are
// picked from the front of the list.
type CoinSelectionStrategy interface {
	// ArrangeCoins takes a list of coins and arranges them according to
	// the strategy.
	ArrangeCoins(eligible []wtxmgr.Credit) []wtxmgr.Credit
}

var (
	// CoinSelectionLargest always picks the largest available utxo to add
	// to the transaction next.
	CoinSelectionLargest CoinSelectionStrategy = &LargestFirstCoinSelector{}

	// CoinSelectionRandom randomly selects the next utxo to add to the
	// transaction. This strategy prevents the creation of ever smaller
	// utxos over time.
	CoinSelectionRandom CoinSelectionStrategy = &RandomCoinSelector{}
)

// byAmount defines the methods needed to satisify sort.Interface to
// sort credits by their output amount.
type byAmount []wtxmgr.Credit

func (s byAmount) Len() int           { return len(s) }
func (s byAmount) Less(i, j int) bool { return s[i].Amount < s[j].Amount }
func (s byAmount) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// LargestFirstCoinSelector is an implementation of the CoinSelectionStrategy
// that always selects the largest coins first.
type LargestFirstCoinSelector struct{}

// ArrangeCoins sorts the coins by descending amount. Ties keep outpoint
// order so the result is deterministic.
func (*LargestFirstCoinSelector) ArrangeCoins(
	eligible []wtxmgr.Credit) []wtxmgr.Credit {

	sort.Stable(sort.Reverse(byAmount(eligible)))

	return eligible
}

// RandomCoinSelector is an implementation of the CoinSelectionStrategy that
// selects coins at random.
type RandomCoinSelector struct{}

// ArrangeCoins shuffles the coins.
func (*RandomCoinSelector) ArrangeCoins(
	eligible []wtxmgr.Credit) []wtxmgr.Credit {

	rand.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})

	return eligible
}

// ParseCoinSelectionStrategy returns the strategy with the given name.
func ParseCoinSelectionStrategy(name string) (CoinSelectionStrategy, bool) {
	switch name {
	case "", "largest":
		return CoinSelectionLargest, true
	case "random":
		return CoinSelectionRandom, true
	default:
		return nil, false
	}
}

// makeInputSource returns an input source that hands out the credits in
// order until the target is reached. The selected credits are appended to
// *selected so the caller can map inputs back to their derivation.
func makeInputSource(eligible []wtxmgr.Credit,
	selected *[]wtxmgr.Credit) txauthor.InputSource {

	// Current inputs and their total value. These are closed over by the
	// returned input source and reused across multiple calls.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(eligible))
	currentScripts := make([][]byte, 0, len(eligible))
	currentInputValues := make([]btcutil.Amount, 0, len(eligible))

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		for currentTotal < target && len(eligible) != 0 {
			nextCredit := eligible[0]
			eligible = eligible[1:]

			nextInput := wire.NewTxIn(&nextCredit.OutPoint, nil, nil)
			currentTotal += nextCredit.Amount
			currentInputs = append(currentInputs, nextInput)
			currentScripts = append(
				currentScripts, nextCredit.PkScript,
			)
			currentInputValues = append(
				currentInputValues, nextCredit.Amount,
			)
			*selected = append(*selected, nextCredit)
		}

		return currentTotal, currentInputs, currentInputValues,
			currentScripts, nil
	}
}

// eligibleCredits returns the wallet's spendable outputs. Unconfirmed
// outputs are included.
func (w *Wallet) eligibleCredits() []wtxmgr.Credit {
	credits := w.TxStore.UnspentOutputs()

	log.Debugf("Found %d eligible %s", len(credits),
		pickNoun(len(credits), "output", "outputs"))

	return credits
}
