package wallet

import (
	"context"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestSignFixture checks a single key input is signed and finalized.
func TestSignFixture(t *testing.T) {
	t.Parallel()

	signed, err := Sign(testConfig(t, testSigningDesc, nil), testPsbt)
	require.NoError(t, err)
	require.True(t, signed.IsFinalized)

	packet := decodePsbt(t, signed.PSBT)
	in := packet.Inputs[0]
	require.NotEmpty(t, in.FinalScriptWitness)
	require.Empty(t, in.FinalScriptSig)
	require.Empty(t, in.PartialSigs)
	require.Empty(t, in.Bip32Derivation)
	require.NotNil(t, in.WitnessUtxo)

	requireValidSpend(t, packet)

	// Signing a finalized PSBT again changes nothing.
	again, err := Sign(testConfig(t, testSigningDesc, nil), signed.PSBT)
	require.NoError(t, err)
	require.Equal(t, signed, again)
}

// TestSignWatchOnly checks a wallet without private keys leaves the PSBT
// unsigned.
func TestSignWatchOnly(t *testing.T) {
	t.Parallel()

	signed, err := Sign(testConfig(t, testDepositDesc, nil), testPsbt)
	require.NoError(t, err)
	require.False(t, signed.IsFinalized)

	packet := decodePsbt(t, signed.PSBT)
	require.Empty(t, packet.Inputs[0].PartialSigs)
	require.Empty(t, packet.Inputs[0].FinalScriptWitness)
}

// TestSignErrors checks undecodable PSBTs are reported as such.
func TestSignErrors(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, testSigningDesc, nil)

	_, err := Sign(cfg, "not a psbt")
	require.True(t, IsError(err, ErrInternal))
	require.True(t, HasDescription(err, DescDeserializePsbt))

	_, err = Sign(cfg, "cHNidP8=")
	require.True(t, HasDescription(err, DescDeserializePsbt))
}

// TestSignLookaheadScan checks inputs without derivation records are found
// by their script.
func TestSignLookaheadScan(t *testing.T) {
	t.Parallel()

	packet := testPacket(t)
	packet.Inputs[0].Bip32Derivation = nil

	w, err := NewOffline(testConfig(t, testSigningDesc, nil))
	require.NoError(t, err)

	signedInputs, err := w.SignPsbt(packet)
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, signedInputs)
	require.True(t, packet.IsComplete())
}

// TestBuildAndSign checks a built transaction is signed into a valid spend.
func TestBuildAndSign(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		desc string
	}{
		{"wpkh", testSigningDesc},
		{"pkh", "pkh(" + testTprv + "/0/*)"},
		{"sh-wpkh", "sh(wpkh(" + testTprv + "/0/*))"},
		{"wsh", "wsh(pk(" + testTprv + "/0/*))"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := &mockChain{utxos: []mockUtxo{
				{0, 0, 30000},
				{0, 4, 40000},
			}}
			cfg := testConfig(t, tc.desc, client)

			built, err := Build(context.Background(), cfg, &BuildRequest{
				To:          testRecipient,
				Amount:      fn.Some(uint64(50000)),
				FeeAbsolute: 1000,
			})
			require.NoError(t, err)

			signed, err := Sign(cfg, built.PSBT)
			require.NoError(t, err)
			require.True(t, signed.IsFinalized)

			packet := decodePsbt(t, signed.PSBT)
			require.Len(t, packet.Inputs, 2)
			requireValidSpend(t, packet)
		})
	}
}

// TestSignRaft checks each branch of a timelocked policy is satisfiable by
// its own key once the transaction meets the branch's conditions.
func TestSignRaft(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		desc      string
		secondary bool
	}{
		{"primary key", testRaftPrimary, false},
		{"secondary key", testRaftSecondary, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := &mockChain{utxos: []mockUtxo{{0, 0, 100000}}}
			cfg := testConfig(t, tc.desc, client)

			paths, err := RaftPolicyPaths(cfg)
			require.NoError(t, err)
			selected := paths.Primary
			if tc.secondary {
				selected = paths.Secondary
			}

			built, err := Build(context.Background(), cfg, &BuildRequest{
				To:          testRecipient,
				Amount:      fn.Some(uint64(5000)),
				FeeAbsolute: 500,
				PolicyPaths: &selected,
			})
			require.NoError(t, err)

			signed, err := Sign(cfg, built.PSBT)
			require.NoError(t, err)
			require.True(t, signed.IsFinalized)
			requireValidSpend(t, decodePsbt(t, signed.PSBT))
		})
	}

	// The secondary key cannot spend before the lock time.
	client := &mockChain{utxos: []mockUtxo{{0, 0, 100000}}}
	cfg := testConfig(t, testRaftSecondary, client)
	paths, err := RaftPolicyPaths(cfg)
	require.NoError(t, err)

	built, err := Build(context.Background(), cfg, &BuildRequest{
		To:          testRecipient,
		Amount:      fn.Some(uint64(5000)),
		FeeAbsolute: 500,
		PolicyPaths: &paths.Primary,
	})
	require.NoError(t, err)

	signed, err := Sign(cfg, built.PSBT)
	require.NoError(t, err)
	require.False(t, signed.IsFinalized)
	require.Len(t, decodePsbt(t, signed.PSBT).Inputs[0].PartialSigs, 1)
}

// TestSignMultisig checks a 2-of-2 input collects one signature per signer
// and is finalized by the second.
func TestSignMultisig(t *testing.T) {
	t.Parallel()

	first := "wsh(multi(2," + testTprv + "/0/*," + testSecondTpub + "/0/*))"
	second := "wsh(multi(2," + testTpub + "/0/*," + testSecondTprv + "/0/*))"

	client := &mockChain{utxos: []mockUtxo{{0, 1, 80000}}}
	built, err := Build(
		context.Background(), testConfig(t, first, client),
		&BuildRequest{
			To:          testRecipient,
			Amount:      fn.Some(uint64(30000)),
			FeeAbsolute: 800,
		},
	)
	require.NoError(t, err)

	partial, err := Sign(testConfig(t, first, nil), built.PSBT)
	require.NoError(t, err)
	require.False(t, partial.IsFinalized)

	packet := decodePsbt(t, partial.PSBT)
	require.Len(t, packet.Inputs[0].PartialSigs, 1)
	require.Len(t, packet.Inputs[0].Bip32Derivation, 2)

	complete, err := Sign(testConfig(t, second, nil), partial.PSBT)
	require.NoError(t, err)
	require.True(t, complete.IsFinalized)
	requireValidSpend(t, decodePsbt(t, complete.PSBT))
}
