package cfgutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestAmountFlag checks amounts in BTC and satoshi notation.
func TestAmountFlag(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		value    string
		expected btcutil.Amount
		fail     bool
	}{
		{value: "0.0005", expected: 50000},
		{value: "1 BTC", expected: btcutil.SatoshiPerBitcoin},
		{value: "5000sat", expected: 5000},
		{value: "5000 sat", expected: 5000},
		{value: "-1", fail: true},
		{value: "-5 sat", fail: true},
		{value: "1.5sat", fail: true},
		{value: "lots", fail: true},
		{value: "22000000", fail: true},
	}

	for _, tc := range testCases {
		var a AmountFlag
		err := a.UnmarshalFlag(tc.value)
		if tc.fail {
			require.Error(t, err, tc.value)
			continue
		}
		require.NoError(t, err, tc.value)
		require.Equal(t, tc.expected, a.Amount, tc.value)
	}

	s, err := NewAmountFlag(50000).MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "0.0005 BTC", s)
}

// TestExplicitString checks a flag remembers being set.
func TestExplicitString(t *testing.T) {
	t.Parallel()

	e := NewExplicitString("default")
	require.False(t, e.ExplicitlySet())

	require.NoError(t, e.UnmarshalFlag("default"))
	require.True(t, e.ExplicitlySet())
	require.Equal(t, "default", e.Value)

	s, err := e.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "default", s)

	var unset *ExplicitString
	require.False(t, unset.ExplicitlySet())
	require.Empty(t, unset.String())
}

// TestNormalizeAddress checks a default port is added only when missing.
func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	addr, err := NormalizeAddress("localhost", "18332")
	require.NoError(t, err)
	require.Equal(t, "localhost:18332", addr)

	addr, err = NormalizeAddress("127.0.0.1:8332", "18332")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8332", addr)

	addr, err = NormalizeAddress("::1", "18332")
	require.NoError(t, err)
	require.Equal(t, "[::1]:18332", addr)

	_, err = NormalizeAddress("[::1", "18332")
	require.Error(t, err)
}

// TestFileExists checks existing, missing and directory paths.
func TestFileExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "descwallet.conf")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	ok, err := FileExists(file)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = FileExists(dir)
	require.ErrorContains(t, err, "is a directory")
}
