package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// mockRPC is an in-memory rpcBackend.
type mockRPC struct {
	feeRate  *float64
	unspents []scanTxOutSetUnspent
	txs      map[chainhash.Hash]*wire.MsgTx

	sendErr error
	scanErr error
	scans   [][]string

	shutdown bool
	waited   bool
}

func (m *mockRPC) EstimateSmartFee(int64, *btcjson.EstimateSmartFeeMode) (
	*btcjson.EstimateSmartFeeResult, error) {

	return &btcjson.EstimateSmartFeeResult{
		FeeRate: m.feeRate,
		Errors:  []string{"insufficient data"},
	}, nil
}

func (m *mockRPC) GetRawTransaction(hash *chainhash.Hash) (*btcutil.Tx,
	error) {

	tx, ok := m.txs[*hash]
	if !ok {
		return nil, &btcjson.RPCError{
			Code:    btcjson.RPCErrorCode(-5),
			Message: "No such mempool transaction",
		}
	}

	return btcutil.NewTx(tx), nil
}

func (m *mockRPC) SendRawTransaction(tx *wire.MsgTx,
	_ bool) (*chainhash.Hash, error) {

	if m.sendErr != nil {
		return nil, m.sendErr
	}

	hash := tx.TxHash()
	return &hash, nil
}

func (m *mockRPC) RawRequest(method string,
	params []json.RawMessage) (json.RawMessage, error) {

	if m.scanErr != nil {
		return nil, m.scanErr
	}
	if method != "scantxoutset" || len(params) != 2 {
		return nil, errors.New("unexpected request")
	}

	var objects []string
	if err := json.Unmarshal(params[1], &objects); err != nil {
		return nil, err
	}
	m.scans = append(m.scans, objects)

	res := scanTxOutSetResult{Success: true}
	for _, u := range m.unspents {
		for _, obj := range objects {
			if obj == "raw("+u.ScriptPubKey+")" {
				res.Unspents = append(res.Unspents, u)
			}
		}
	}

	return json.Marshal(res)
}

func (m *mockRPC) Shutdown() {
	m.shutdown = true
}

func (m *mockRPC) WaitForShutdown() {
	m.waited = m.shutdown
}

func newTestBitcoind(rpc *mockRPC) *BitcoindClient {
	return &BitcoindClient{
		cfg: BitcoindConfig{
			ChainParams: testParams,
			StopGap:     2,
		},
		client: rpc,
	}
}

// TestBitcoindSync checks scantxoutset results are attributed to the
// scanned scripts.
func TestBitcoindSync(t *testing.T) {
	t.Parallel()

	script := testScript(ExternalBranch, 1)
	tx := fundingTx([]btcutil.Amount{12345}, script)

	rpc := &mockRPC{
		unspents: []scanTxOutSetUnspent{{
			Txid:         tx.TxHash().String(),
			Vout:         0,
			ScriptPubKey: hex.EncodeToString(script),
			Amount:       0.00012345,
			Height:       200,
		}},
		txs: map[chainhash.Hash]*wire.MsgTx{tx.TxHash(): tx},
	}
	client := newTestBitcoind(rpc)

	cache := newMockCache(true)
	require.NoError(t, client.Sync(context.Background(), cache))

	require.Equal(t, []uint32{1}, cache.used[ExternalBranch])
	require.Empty(t, cache.used[InternalBranch])
	require.Len(t, cache.utxos, 1)

	got := cache.utxos[0]
	require.Equal(t, uint32(1), got.index)
	require.Equal(t, btcutil.Amount(12345), got.utxo.Value)
	require.Equal(t, int32(200), got.utxo.Height)
	require.Equal(t, tx.TxHash(), got.utxo.PrevTx.TxHash())

	// External: [0,1] [2,3]. Internal: [0,1].
	require.Len(t, rpc.scans, 3)
	require.True(t, strings.HasPrefix(rpc.scans[0][0], "raw(0014"))
}

// TestBitcoindSyncWithoutTxIndex checks outputs are kept when the previous
// transaction cannot be fetched.
func TestBitcoindSyncWithoutTxIndex(t *testing.T) {
	t.Parallel()

	script := testScript(InternalBranch, 0)
	rpc := &mockRPC{
		unspents: []scanTxOutSetUnspent{{
			Txid:         strings.Repeat("ab", 32),
			Vout:         1,
			ScriptPubKey: hex.EncodeToString(script),
			Amount:       1,
			Height:       5,
		}},
	}
	client := newTestBitcoind(rpc)

	cache := newMockCache(true)
	require.NoError(t, client.Sync(context.Background(), cache))
	require.Len(t, cache.utxos, 1)
	require.Nil(t, cache.utxos[0].utxo.PrevTx)
	require.Equal(t, btcutil.SatoshiPerBitcoin,
		float64(cache.utxos[0].utxo.Value))
}

// TestBitcoindEstimateFee checks BTC/kvB estimates are converted to sat/vB.
func TestBitcoindEstimateFee(t *testing.T) {
	t.Parallel()

	rate := 0.00012
	client := newTestBitcoind(&mockRPC{feeRate: &rate})

	fee, err := client.EstimateFee(context.Background(), 6)
	require.NoError(t, err)
	require.True(t, fee.Equal(btcunit.SatPerVByteFromFloat(12)))

	client = newTestBitcoind(&mockRPC{})
	_, err = client.EstimateFee(context.Background(), 6)
	require.ErrorContains(t, err, "insufficient data")
}

// TestBitcoindErrors checks RPC rejections and transport failures are
// classified.
func TestBitcoindErrors(t *testing.T) {
	t.Parallel()

	rpc := &mockRPC{
		sendErr: &btcjson.RPCError{
			Code:    btcjson.RPCErrorCode(-26),
			Message: "min relay fee not met, 100 < 141",
		},
	}
	client := newTestBitcoind(rpc)

	tx := fundingTx([]btcutil.Amount{1000}, testScript(0, 0))
	_, err := client.Broadcast(context.Background(), tx)
	require.ErrorIs(t, err, ErrInsufficientFee)
	require.False(t, IsNetworkError(err))

	rpc.sendErr = nil
	hash, err := client.Broadcast(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), *hash)

	rpc.scanErr = errors.New("post failed")
	err = client.Sync(context.Background(), newMockCache(true))
	require.True(t, IsNetworkError(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Broadcast(ctx, tx)
	require.ErrorIs(t, err, context.Canceled)
}

// TestBitcoindStop checks stopping the client shuts down the RPC client and
// waits for it.
func TestBitcoindStop(t *testing.T) {
	t.Parallel()

	rpc := &mockRPC{}
	client := newTestBitcoind(rpc)
	client.Stop()

	require.True(t, rpc.shutdown)
	require.True(t, rpc.waited)
}
