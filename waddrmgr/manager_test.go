package waddrmgr

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/stretchr/testify/require"
)

const (
	testTpub = "[db7d25b5/84'/1'/6']tpubDCCh4SuT3pSAQ1qAN86qKEzsLoBeiu" +
		"goGGQeibmieRUKv8z6fCTTmEXsb9yeueBkUWjGVzJr91bCzeCNShorbBqjZV4" +
		"WRGjz3CrJsCboXUe"

	testFingerprint uint32 = 0xb5257ddb

	pubG = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
)

func newTestManager(t *testing.T, external, internal string) *Manager {
	t.Helper()

	ext, err := descriptor.Parse(external)
	require.NoError(t, err)

	var in *descriptor.Descriptor
	if internal != "" {
		in, err = descriptor.Parse(internal)
		require.NoError(t, err)
	}

	m, err := New(&chaincfg.TestNet3Params, ext, in, 5)
	require.NoError(t, err)

	return m
}

func hardened(i uint32) uint32 {
	return i + hdkeychain.HardenedKeyStart
}

// TestDeriveScript checks that scripts derived on demand match the known
// deposit addresses and can be looked up by script.
func TestDeriveScript(t *testing.T) {
	t.Parallel()

	m := newTestManager(
		t, "wpkh("+testTpub+"/0/*)", "wpkh("+testTpub+"/1/*)",
	)

	ms, err := m.DeriveScript(ExternalBranch, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), ms.Index)
	require.False(t, ms.Internal())
	require.Equal(t,
		"tb1qzdwqxt8l2s47vl4fp4ft6w67fcxel4qf5j96ld",
		ms.Address().EncodeAddress(),
	)

	// Index 0 was derived along the way.
	scripts := m.Scripts(ExternalBranch)
	require.Len(t, scripts, 2)
	require.Equal(t,
		"tb1q093gl5yxww0hlvlkajdmf8wh3a6rlvsdk9e6d3",
		scripts[0].Address().EncodeAddress(),
	)

	found, err := m.LookupScript(ms.PkScript)
	require.NoError(t, err)
	require.Same(t, ms, found)

	_, err = m.LookupScript([]byte{0x51})
	require.True(t, IsError(err, ErrAddressNotFound))

	_, err = m.DeriveScript(2, 0)
	require.True(t, IsError(err, ErrInvalidBranch))

	_, err = m.DeriveScript(ExternalBranch, MaxAddressesPerBranch+1)
	require.True(t, IsError(err, ErrTooManyAddresses))
}

// TestNextUnused checks the change cursor follows MarkUsed.
func TestNextUnused(t *testing.T) {
	t.Parallel()

	m := newTestManager(
		t, "wpkh("+testTpub+"/0/*)", "wpkh("+testTpub+"/1/*)",
	)

	ms, err := m.NextUnused(InternalBranch)
	require.NoError(t, err)
	require.Equal(t, uint32(0), ms.Index)
	require.True(t, ms.Internal())
	require.True(t, m.LastUsed(InternalBranch).IsNone())

	m.MarkUsed(InternalBranch, 3)
	m.MarkUsed(InternalBranch, 1)
	require.Equal(t, uint32(3), m.LastUsed(InternalBranch).UnwrapOr(0))

	ms, err = m.NextUnused(InternalBranch)
	require.NoError(t, err)
	require.Equal(t, uint32(4), ms.Index)

	require.NoError(t, m.ExtendLookahead(InternalBranch))
	require.Len(t, m.Scripts(InternalBranch), 9)

	require.NoError(t, m.ExtendLookahead(ExternalBranch))
	require.Len(t, m.Scripts(ExternalBranch), 5)
}

// TestLookupDerivation checks keys are found by their BIP32 origin on both
// branches.
func TestLookupDerivation(t *testing.T) {
	t.Parallel()

	m := newTestManager(
		t, "wpkh("+testTpub+"/0/*)", "wpkh("+testTpub+"/1/*)",
	)

	path := []uint32{hardened(84), hardened(1), hardened(6), 1, 7}
	ms, key, err := m.LookupDerivation(testFingerprint, path)
	require.NoError(t, err)
	require.Equal(t, InternalBranch, ms.Branch)
	require.Equal(t, uint32(7), ms.Index)
	require.Equal(t, path, key.Path)

	path = []uint32{hardened(84), hardened(1), hardened(6), 0, 2}
	ms, _, err = m.LookupDerivation(testFingerprint, path)
	require.NoError(t, err)
	require.Equal(t, ExternalBranch, ms.Branch)

	_, _, err = m.LookupDerivation(0xdeadbeef, path)
	require.True(t, IsError(err, ErrAddressNotFound))
}

// TestSingleKey checks a non-ranged descriptor yields one script for every
// index and reuses it for change.
func TestSingleKey(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, "wpkh("+pubG+")", "")
	require.False(t, m.IsRange(ExternalBranch))

	a, err := m.DeriveScript(ExternalBranch, 9)
	require.NoError(t, err)
	require.Equal(t, uint32(0), a.Index)

	m.MarkUsed(InternalBranch, 0)
	b, err := m.NextUnused(InternalBranch)
	require.NoError(t, err)
	require.Equal(t, a.PkScript, b.PkScript)

	// The external branch derived the script first and owns it.
	found, err := m.LookupScript(a.PkScript)
	require.NoError(t, err)
	require.Equal(t, ExternalBranch, found.Branch)
}

// TestWrongNetwork checks that keys for another network are rejected.
func TestWrongNetwork(t *testing.T) {
	t.Parallel()

	desc, err := descriptor.Parse("wpkh(" + testTpub + "/0/*)")
	require.NoError(t, err)

	_, err = New(&chaincfg.MainNetParams, desc, nil, 0)
	require.True(t, IsError(err, ErrWrongNet))
	require.ErrorIs(t, err, descriptor.ErrWrongNetwork)
}
