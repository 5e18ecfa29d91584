package wallet

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestDecode checks outputs are listed with their addresses followed by the
// fee.
func TestDecode(t *testing.T) {
	t.Parallel()

	decoded, err := Decode(&chaincfg.TestNet3Params, testPsbt)
	require.NoError(t, err)
	require.Equal(t, []DecodedTxIO{
		{Value: 94580, To: "tb1q2u4zhyx42g9v3p8rlm8t9ylemzxz4we6glds8q"},
		{Value: 5000, To: testRecipient},
		{Value: 420, To: MinerOutput},
	}, decoded.Outputs)

	again, err := Decode(&chaincfg.TestNet3Params, testPsbt)
	require.NoError(t, err)
	require.Equal(t, decoded, again)
}

// TestDecodeErrors checks the failure descriptions of Decode.
func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	_, err := Decode(&chaincfg.TestNet3Params, "not base64!")
	require.True(t, HasDescription(err, DescBase64Decode))

	_, err = Decode(&chaincfg.TestNet3Params,
		base64.StdEncoding.EncodeToString([]byte("garbage")))
	require.True(t, HasDescription(err, DescDeserialize))

	// An input without UTXO information is an error, not a zero value.
	packet := testPacket(t)
	packet.Inputs[0].WitnessUtxo = nil
	packet.Inputs[0].NonWitnessUtxo = nil
	_, err = DecodePacket(&chaincfg.TestNet3Params, packet)
	require.True(t, IsError(err, ErrInternal))
	require.True(t, HasDescription(err, DescMissingInputUtxo))
	require.ErrorIs(t, err, ErrMissingInputUtxo)
}

// TestDecodeNonWitnessUtxo checks the input value falls back to the previous
// transaction.
func TestDecodeNonWitnessUtxo(t *testing.T) {
	t.Parallel()

	packet := testPacket(t)
	packet.Inputs[0].WitnessUtxo = nil

	decoded, err := DecodePacket(&chaincfg.TestNet3Params, packet)
	require.NoError(t, err)
	require.Equal(t, DecodedTxIO{Value: 420, To: MinerOutput},
		decoded.Outputs[len(decoded.Outputs)-1])
}

// TestDecodeUnknownDestination checks non-standard outputs and an overpaying
// transaction.
func TestDecodeUnknownDestination(t *testing.T) {
	t.Parallel()

	packet := testPacket(t)
	packet.UnsignedTx.TxOut = append(packet.UnsignedTx.TxOut,
		wire.NewTxOut(1000, []byte{0x6a, 0x01, 0x01}))
	packet.UnsignedTx.TxOut[0].Value = 100000
	packet.Outputs = append(packet.Outputs, psbt.POutput{})

	decoded, err := DecodePacket(&chaincfg.TestNet3Params, packet)
	require.NoError(t, err)
	require.Len(t, decoded.Outputs, 4)
	require.Equal(t, UnknownDestination, decoded.Outputs[2].To)

	// The fee is not clamped at zero.
	require.Equal(t, DecodedTxIO{Value: -6000, To: MinerOutput},
		decoded.Outputs[3])
}

// TestGetWeight checks the weight estimate of the fixture PSBT.
func TestGetWeight(t *testing.T) {
	t.Parallel()

	weight, err := GetWeight(testDepositDesc, testPsbt)
	require.NoError(t, err)
	require.Equal(t, 576, weight.Weight)

	// Every input adds its own satisfaction weight on top of its 41
	// byte outpoint, script length and sequence.
	packet := testPacket(t)
	packet.UnsignedTx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Index: 7}, nil, nil,
	))
	packet.Inputs = append(packet.Inputs, psbt.PInput{})
	twoInputs, err := packet.B64Encode()
	require.NoError(t, err)

	weight, err = GetWeight(testDepositDesc, twoInputs)
	require.NoError(t, err)
	require.Equal(t, 576+41*4+112, weight.Weight)

	_, err = GetWeight(testDepositDesc, "%%%")
	require.True(t, HasDescription(err, DescBase64Decode))

	_, err = GetWeight("wpkh(", testPsbt)
	require.True(t, IsError(err, ErrInternal))
	require.True(t, HasDescription(err, DescDescriptorParse))
}

func testPacket(t *testing.T) *psbt.Packet {
	t.Helper()

	raw, err := base64.StdEncoding.DecodeString(testPsbt)
	require.NoError(t, err)

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)

	return packet
}
