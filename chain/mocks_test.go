package chain

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var testParams = &chaincfg.RegressionNetParams

// testScript returns a distinct P2WPKH script for branch and index.
func testScript(branch, index uint32) []byte {
	hash := make([]byte, 20)
	hash[0] = byte(branch)
	hash[1] = byte(index)
	hash[2] = 0xaa

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(hash).Script()
	if err != nil {
		panic(err)
	}

	return script
}

// testAddress returns the address of testScript(branch, index).
func testAddress(branch, index uint32) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		testScript(branch, index), testParams,
	)
	if err != nil {
		panic(err)
	}

	return addrs[0].EncodeAddress()
}

type cachedUtxo struct {
	branch, index uint32
	utxo          *Utxo
}

// mockCache is a Cache recording what a backend reports.
type mockCache struct {
	ranged bool

	mu       sync.Mutex
	used     map[uint32][]uint32
	utxos    []cachedUtxo
	maxIndex map[uint32]uint32
}

func newMockCache(ranged bool) *mockCache {
	return &mockCache{
		ranged:   ranged,
		used:     make(map[uint32][]uint32),
		maxIndex: make(map[uint32]uint32),
	}
}

func (m *mockCache) ChainParams() *chaincfg.Params {
	return testParams
}

func (m *mockCache) IsRange(uint32) bool {
	return m.ranged
}

func (m *mockCache) ScriptAt(branch, index uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ranged {
		index = 0
	}
	if index > m.maxIndex[branch] {
		m.maxIndex[branch] = index
	}

	return testScript(branch, index), nil
}

func (m *mockCache) MarkUsed(branch, index uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used[branch] = append(m.used[branch], index)
}

func (m *mockCache) AddUtxo(branch, index uint32, utxo *Utxo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.utxos = append(m.utxos, cachedUtxo{branch, index, utxo})

	return nil
}

// fundingTx returns a transaction paying value to each of the given
// scripts, in order.
func fundingTx(values []btcutil.Amount, scripts ...[]byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 7}, nil, nil))
	for i, script := range scripts {
		tx.AddTxOut(wire.NewTxOut(int64(values[i]), script))
	}

	return tx
}
