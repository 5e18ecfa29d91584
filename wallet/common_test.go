package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

const (
	testTpub = "[db7d25b5/84'/1'/6']tpubDCCh4SuT3pSAQ1qAN86qKEzsLoBeiu" +
		"goGGQeibmieRUKv8z6fCTTmEXsb9yeueBkUWjGVzJr91bCzeCNShorbBqjZV4" +
		"WRGjz3CrJsCboXUe"

	testTprv = "[db7d25b5/84'/1'/6']tprv8fWev2sCuSkVWYoNUUSEuqLkmmfiZa" +
		"VtgxosS5jRE9fw5ejL2odsajv1QyiLrPri3ppgyta6dsFaoDVCF4ZdEAR6qqY" +
		"4tnaosujsPzLxB49"

	testSecondTpub = "[66a0c105/84'/1'/5']tpubDCKvnVh6U56wTSUEJGamQzdb3" +
		"ByAc6gTPbjxXQqts5Bf1dBMopknipUUSmAV3UuihKPTddruSZCiqhyiYyhFWhz" +
		"62SAGuC3PYmtAafUuG6R"

	testSecondTprv = "[66a0c105/84'/1'/5']tprv8fdte5erKhRGZySSQcvB1ayUU" +
		"ATESmVYpJ9BEtobSoPGB8vbBRwCYKrcGcmKaRqTp1hdpprDpwVq4Fd7p7Vacgw" +
		"dMywv1Lmet6ZtYHV3uc1"

	testDepositDesc = "wpkh(" + testTpub + "/0/*)"
	testSigningDesc = "wpkh(" + testTprv + "/0/*)"

	// testPsbt spends external index 1 of testDepositDesc, 100000
	// satoshis, paying 5000 to testRecipient with change to internal
	// index 1 and a fee of 420.
	testPsbt = "cHNidP8BAHQBAAAAAf3cLERUN9+6X5+1yk3x9XzSCq1417WtB+gB5qNyj" +
		"+xpAAAAAAD9////AnRxAQAAAAAAFgAUVyorkNVSCsiE4/7OspP52IwquzqIEwA" +
		"AAAAAABl2qRQ0Sg9IyhUOwrkDgXZgubaLE6ZwJoisAAAAAAABAN4CAAAAAAEBy" +
		"vn9X3PvFqemGsrTv8ivAO07IOeRhBz7J0huqXJLfVgBAAAAAP7///8CoIYBAAA" +
		"AAAAWABQTXAMs/1Qr5n6pDVK9O15ODZ/UCVZWjQAAAAAAFgAUIixaISTPlO8fw" +
		"yT3hCL+An5+Km4CRzBEAiBFsQJfBur3eQgO5Vw+EvEgr2CagcVGXw9oYw3FOaM" +
		"SSgIgch0CV+W3oRCKNBwxqiqIK0C5b1TsGk32HvNM+4Z7IksBIQNP/rsBHKbA9" +
		"8977TzmriFrOuO8hQjNg4ON3goI9/Uwjp0BIAABAR+ghgEAAAAAABYAFBNcAyz" +
		"/VCvmfqkNUr07Xk4Nn9QJIgYD9WhlKKSeNh6567KTmyKrlitDWZOz/+mms7emV" +
		"sWjGTsY230ltVQAAIABAACABgAAgAAAAAABAAAAACICAgHPrE7CShQkK90ApPF" +
		"8xdr+8o7T/sHggOlZNOHIUft/GNt9JbVUAACAAQAAgAYAAIABAAAAAQAAAAAA"

	testRecipient = "mkHS9ne12qx9pS9VojpwU5xtRd4T7X7ZUt"
)

var errMockUnreachable = &chain.NetworkError{
	BackEnd: "mock",
	Err:     errors.New("connection refused"),
}

// mockUtxo is an output the mock backend reports for the script at
// branch/index.
type mockUtxo struct {
	branch uint32
	index  uint32
	value  btcutil.Amount
}

// mockChain is a chain.Interface serving canned outputs.
type mockChain struct {
	utxos   []mockUtxo
	feeRate float64

	// omitPrevTx reports outputs without their creating transaction.
	omitPrevTx bool

	syncErr      error
	feeErr       error
	broadcastErr error

	mu          sync.Mutex
	broadcasted []*wire.MsgTx
	stopped     bool
}

var _ chain.Interface = (*mockChain)(nil)

func (m *mockChain) EstimateFee(_ context.Context,
	_ uint32) (btcunit.SatPerVByte, error) {

	if m.feeErr != nil {
		return btcunit.SatPerVByte{}, m.feeErr
	}

	return btcunit.SatPerVByteFromFloat(m.feeRate), nil
}

func (m *mockChain) Sync(_ context.Context, cache chain.Cache) error {
	if m.syncErr != nil {
		return m.syncErr
	}

	for i, u := range m.utxos {
		pkScript, err := cache.ScriptAt(u.branch, u.index)
		if err != nil {
			return err
		}

		prevTx := wire.NewMsgTx(2)
		prevTx.AddTxIn(wire.NewTxIn(
			&wire.OutPoint{Index: uint32(i)}, nil, nil,
		))
		prevTx.AddTxOut(wire.NewTxOut(int64(u.value), pkScript))

		utxo := &chain.Utxo{
			OutPoint: wire.OutPoint{Hash: prevTx.TxHash()},
			Value:    u.value,
			PkScript: pkScript,
			Height:   100,
			PrevTx:   prevTx,
		}
		if m.omitPrevTx {
			utxo.PrevTx = nil
		}

		cache.MarkUsed(u.branch, u.index)
		err = cache.AddUtxo(u.branch, u.index, utxo)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *mockChain) Broadcast(_ context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	if m.broadcastErr != nil {
		return nil, m.broadcastErr
	}

	m.mu.Lock()
	m.broadcasted = append(m.broadcasted, tx)
	m.mu.Unlock()

	hash := tx.TxHash()
	return &hash, nil
}

func (m *mockChain) BackEnd() string {
	return "mock"
}

func (m *mockChain) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

// testConfig returns a testnet configuration for depositDesc backed by
// client.
func testConfig(t *testing.T, depositDesc string,
	client chain.Interface) *Config {

	t.Helper()

	changeDesc, err := ChangeDescriptor(depositDesc)
	require.NoError(t, err)

	return &Config{
		DepositDesc: depositDesc,
		ChangeDesc:  changeDesc,
		Network:     &chaincfg.TestNet3Params,
		Client:      client,
	}
}
