package btcunit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTxSizeConversion checks that the conversion between weight units and
// virtual bytes is correct.
func TestTxSizeConversion(t *testing.T) {
	t.Parallel()

	wu := NewWeightUnit(1000)

	require.Equal(t, NewVByte(250), wu.ToVB())
	require.Equal(t, wu, NewVByte(250).ToWU())

	// Partial vbytes round up.
	require.Equal(t, NewVByte(63), NewWeightUnit(250).ToVB())
	require.Equal(t, NewVByte(144), NewWeightUnit(576).ToVB())
}

// TestTxSizeArithmetic checks the accessors and addition.
func TestTxSizeArithmetic(t *testing.T) {
	t.Parallel()

	sum := NewWeightUnit(464).Add(NewWeightUnit(112))
	require.Equal(t, uint64(576), sum.Uint64())
	require.Equal(t, uint64(144), sum.ToVB().Uint64())
}

// TestTxSizeStringer tests the stringer methods of the tx size types.
func TestTxSizeStringer(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1000 wu", NewWeightUnit(1000).String())
	require.Equal(t, "250 vb", NewVByte(250).String())
}
