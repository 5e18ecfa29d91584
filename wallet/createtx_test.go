package wallet

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const (
	testRaftPrimary = "wsh(thresh(1,pk(" + testTprv + "/0/*),snj:and_v(v:pk(" +
		testSecondTpub + "/0/*),after(2105103))))"

	testRaftSecondary = "wsh(thresh(1,pk(" + testTpub + "/0/*),snj:and_v(v:pk(" +
		testSecondTprv + "/0/*),after(2105103))))"

	testRaftLock = 2105103
)

// TestBuild checks a payment with change.
func TestBuild(t *testing.T) {
	t.Parallel()

	client := &mockChain{utxos: []mockUtxo{{0, 0, 100000}}}
	cfg := testConfig(t, testDepositDesc, client)

	built, err := Build(context.Background(), cfg, &BuildRequest{
		To:          testRecipient,
		Amount:      fn.Some(uint64(5000)),
		FeeAbsolute: 420,
	})
	require.NoError(t, err)
	require.False(t, built.IsFinalized)

	decoded, err := Decode(cfg.Network, built.PSBT)
	require.NoError(t, err)

	change, err := GenerateAddress(testConfig(
		t, "wpkh("+testTpub+"/1/*)", nil,
	), 0)
	require.NoError(t, err)

	// Outputs are sorted by amount.
	require.Equal(t, []DecodedTxIO{
		{Value: 5000, To: testRecipient},
		{Value: 94580, To: change.Address},
		{Value: 420, To: MinerOutput},
	}, decoded.Outputs)

	packet := decodePsbt(t, built.PSBT)
	tx := packet.UnsignedTx
	require.Equal(t, int32(2), tx.Version)
	require.Zero(t, tx.LockTime)
	require.Equal(t, uint32(wire.MaxTxInSequenceNum-2), tx.TxIn[0].Sequence)

	in := packet.Inputs[0]
	require.NotNil(t, in.WitnessUtxo)
	require.Equal(t, int64(100000), in.WitnessUtxo.Value)
	require.NotNil(t, in.NonWitnessUtxo)
	require.Equal(t, txscript.SigHashAll, in.SighashType)
	require.Len(t, in.Bip32Derivation, 1)
	require.Equal(t, uint32(0xb5257ddb),
		in.Bip32Derivation[0].MasterKeyFingerprint)
	require.Equal(t, []uint32{
		84 + 0x80000000, 1 + 0x80000000, 6 + 0x80000000, 0, 0,
	}, in.Bip32Derivation[0].Bip32Path)

	// Only the change output carries derivation data.
	require.Empty(t, packet.Outputs[0].Bip32Derivation)
	require.Len(t, packet.Outputs[1].Bip32Derivation, 1)
	require.Equal(t, []uint32{
		84 + 0x80000000, 1 + 0x80000000, 6 + 0x80000000, 1, 0,
	}, packet.Outputs[1].Bip32Derivation[0].Bip32Path)
}

// TestBuildSweep checks a sweep spends every output to a single output.
func TestBuildSweep(t *testing.T) {
	t.Parallel()

	client := &mockChain{utxos: []mockUtxo{
		{0, 0, 60000},
		{0, 3, 40000},
		{1, 0, 5000},
	}}
	cfg := testConfig(t, testDepositDesc, client)

	built, err := Build(context.Background(), cfg, &BuildRequest{
		To:          testRecipient,
		FeeAbsolute: 300,
		Sweep:       true,
	})
	require.NoError(t, err)

	decoded, err := Decode(cfg.Network, built.PSBT)
	require.NoError(t, err)
	require.Equal(t, []DecodedTxIO{
		{Value: 104700, To: testRecipient},
		{Value: 300, To: MinerOutput},
	}, decoded.Outputs)

	packet := decodePsbt(t, built.PSBT)
	require.Len(t, packet.UnsignedTx.TxIn, 3)

	// A sweep with an amount is a regular payment.
	built, err = Build(context.Background(), cfg, &BuildRequest{
		To:          testRecipient,
		Amount:      fn.Some(uint64(10000)),
		FeeAbsolute: 300,
		Sweep:       true,
	})
	require.NoError(t, err)
	decoded, err = Decode(cfg.Network, built.PSBT)
	require.NoError(t, err)
	require.Len(t, decoded.Outputs, 3)
}

// TestBuildDustChange checks change below the dust limit goes to the fee.
func TestBuildDustChange(t *testing.T) {
	t.Parallel()

	client := &mockChain{utxos: []mockUtxo{{0, 0, 10000}}}
	cfg := testConfig(t, testDepositDesc, client)

	built, err := Build(context.Background(), cfg, &BuildRequest{
		To:          testRecipient,
		Amount:      fn.Some(uint64(9500)),
		FeeAbsolute: 300,
	})
	require.NoError(t, err)

	decoded, err := Decode(cfg.Network, built.PSBT)
	require.NoError(t, err)
	require.Equal(t, []DecodedTxIO{
		{Value: 9500, To: testRecipient},
		{Value: 500, To: MinerOutput},
	}, decoded.Outputs)
}

// TestBuildErrors checks the failure modes of Build.
func TestBuildErrors(t *testing.T) {
	t.Parallel()

	funded := []mockUtxo{{0, 0, 100000}}

	testCases := []struct {
		name   string
		desc   string
		client *mockChain
		req    *BuildRequest
		kind   ErrorKind
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unreachable backend",
			client: &mockChain{syncErr: errMockUnreachable},
			req: &BuildRequest{
				To: testRecipient, Amount: fn.Some(uint64(5000)),
			},
			kind: ErrNetwork,
			check: func(t *testing.T, err error) {
				require.True(t, HasDescription(err, DescWalletSync))
			},
		},
		{
			name:   "wrong network address",
			client: &mockChain{utxos: funded},
			req: &BuildRequest{
				To:     "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2",
				Amount: fn.Some(uint64(5000)),
			},
			kind: ErrInternal,
			check: func(t *testing.T, err error) {
				require.True(t, HasDescription(err, DescAddressParse))
			},
		},
		{
			name:   "missing amount",
			client: &mockChain{utxos: funded},
			req:    &BuildRequest{To: testRecipient},
			kind:   ErrInternal,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrMissingAmount)
			},
		},
		{
			name:   "insufficient funds",
			client: &mockChain{utxos: funded},
			req: &BuildRequest{
				To: testRecipient, Amount: fn.Some(uint64(100000)),
				FeeAbsolute: 1,
			},
			kind: ErrInternal,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInsufficientFunds)
			},
		},
		{
			name:   "dust amount",
			client: &mockChain{utxos: funded},
			req: &BuildRequest{
				To: testRecipient, Amount: fn.Some(uint64(100)),
			},
			kind: ErrInternal,
		},
		{
			name:   "empty sweep",
			client: &mockChain{},
			req:    &BuildRequest{To: testRecipient, Sweep: true},
			kind:   ErrInternal,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNoUtxos)
			},
		},
		{
			name:   "sweep fee exceeds balance",
			client: &mockChain{utxos: funded},
			req: &BuildRequest{
				To: testRecipient, Sweep: true,
				FeeAbsolute: 100000,
			},
			kind: ErrInternal,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInsufficientFunds)
			},
		},
		{
			name:   "legacy input without previous transaction",
			desc:   "pkh(" + testTpub + "/0/*)",
			client: &mockChain{utxos: funded, omitPrevTx: true},
			req: &BuildRequest{
				To: testRecipient, Amount: fn.Some(uint64(5000)),
			},
			kind: ErrInternal,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrMissingPrevTx)
			},
		},
		{
			name:   "policy path required",
			desc:   testRaftPrimary,
			client: &mockChain{utxos: funded},
			req: &BuildRequest{
				To: testRecipient, Amount: fn.Some(uint64(5000)),
			},
			kind: ErrInternal,
			check: func(t *testing.T, err error) {
				require.ErrorIs(
					t, err, descriptor.ErrSpendingPolicyRequired,
				)
			},
		},
		{
			name:   "policy paths for one keychain",
			desc:   testRaftPrimary,
			client: &mockChain{utxos: funded},
			req: &BuildRequest{
				To: testRecipient, Amount: fn.Some(uint64(5000)),
				PolicyPaths: &SpendingPolicyPaths{
					External: SpendingPolicyPath{"x": {0}},
				},
			},
			kind: ErrInternal,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrIncompletePolicyPaths)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			desc := tc.desc
			if desc == "" {
				desc = testDepositDesc
			}
			cfg := testConfig(t, desc, tc.client)

			_, err := Build(context.Background(), cfg, tc.req)
			require.Error(t, err)
			require.True(t, IsError(err, tc.kind), "kind of %v", err)
			if tc.check != nil {
				tc.check(t, err)
			}
		})
	}

	// Without a chain client the wallet cannot be initialized.
	_, err := Build(
		context.Background(), testConfig(t, testDepositDesc, nil),
		&BuildRequest{To: testRecipient, Amount: fn.Some(uint64(1))},
	)
	require.True(t, HasDescription(err, DescWalletInit))
}

// TestBuildPolicyPaths checks the selected branch of a timelocked policy
// sets the transaction lock time.
func TestBuildPolicyPaths(t *testing.T) {
	t.Parallel()

	client := &mockChain{utxos: []mockUtxo{{0, 0, 100000}}}
	cfg := testConfig(t, testRaftPrimary, client)

	paths, err := RaftPolicyPaths(cfg)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		paths    SpendingPolicyPaths
		lockTime uint32
	}{
		{"primary", paths.Primary, 0},
		{"secondary", paths.Secondary, testRaftLock},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			built, err := Build(context.Background(), cfg, &BuildRequest{
				To:          testRecipient,
				Amount:      fn.Some(uint64(5000)),
				FeeAbsolute: 500,
				PolicyPaths: &tc.paths,
			})
			require.NoError(t, err)

			packet := decodePsbt(t, built.PSBT)
			require.Equal(t, tc.lockTime, packet.UnsignedTx.LockTime)
			require.Equal(t, uint32(wire.MaxTxInSequenceNum-2),
				packet.UnsignedTx.TxIn[0].Sequence)

			in := packet.Inputs[0]
			require.NotEmpty(t, in.WitnessScript)
			require.Len(t, in.Bip32Derivation, 2)

			for _, out := range packet.Outputs {
				if len(out.Bip32Derivation) > 0 {
					require.NotEmpty(t, out.WitnessScript)
				}
			}
		})
	}
}

// TestBuildLegacyInputs checks non-witness inputs carry the previous
// transaction only.
func TestBuildLegacyInputs(t *testing.T) {
	t.Parallel()

	client := &mockChain{utxos: []mockUtxo{{0, 2, 50000}}}
	cfg := testConfig(t, "pkh("+testTpub+"/0/*)", client)

	built, err := Build(context.Background(), cfg, &BuildRequest{
		To:          testRecipient,
		Amount:      fn.Some(uint64(20000)),
		FeeAbsolute: 1000,
	})
	require.NoError(t, err)

	packet := decodePsbt(t, built.PSBT)
	in := packet.Inputs[0]
	require.Nil(t, in.WitnessUtxo)
	require.NotNil(t, in.NonWitnessUtxo)

	decoded, err := DecodePacket(cfg.Network, packet)
	require.NoError(t, err)
	require.Equal(t, DecodedTxIO{Value: 1000, To: MinerOutput},
		decoded.Outputs[len(decoded.Outputs)-1])
}

// TestCoinSelectionLargestFirst checks the largest outputs are spent first.
func TestCoinSelectionLargestFirst(t *testing.T) {
	t.Parallel()

	client := &mockChain{utxos: []mockUtxo{
		{0, 0, 20000},
		{0, 1, 70000},
		{0, 2, 30000},
	}}
	cfg := testConfig(t, testDepositDesc, client)

	built, err := Build(context.Background(), cfg, &BuildRequest{
		To:          testRecipient,
		Amount:      fn.Some(uint64(60000)),
		FeeAbsolute: 500,
		Strategy:    CoinSelectionLargest,
	})
	require.NoError(t, err)

	packet := decodePsbt(t, built.PSBT)
	require.Len(t, packet.Inputs, 1)
	require.Equal(t, int64(70000), packet.Inputs[0].WitnessUtxo.Value)
}

func decodePsbt(t *testing.T, encoded string) *psbt.Packet {
	t.Helper()

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)

	return packet
}

// requireValidSpend executes the input scripts of a finalized packet.
func requireValidSpend(t *testing.T, packet *psbt.Packet) {
	t.Helper()

	tx, err := psbt.Extract(packet)
	require.NoError(t, err)

	fetcher := PsbtPrevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for idx, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, idx, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", idx)
	}
}
