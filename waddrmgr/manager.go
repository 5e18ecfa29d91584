// Copyright (c) 2014-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package waddrmgr keeps the scripts derived from a wallet's deposit and
// change descriptors. The manager is ephemeral: it is rebuilt for every
// wallet view and never persisted.
package waddrmgr

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// ExternalBranch is the branch whose scripts are handed out as
	// deposit addresses.
	ExternalBranch uint32 = 0

	// InternalBranch is the branch used for change outputs.
	InternalBranch uint32 = 1

	// DefaultLookahead is the number of unused scripts past the last used
	// one that are derived ahead of time, also known as the stop gap.
	DefaultLookahead uint32 = 20

	// MaxAddressesPerBranch is the maximum number of scripts that can be
	// derived on a single branch.
	MaxAddressesPerBranch = hdkeychain.HardenedKeyStart - 1
)

// ManagedScript is a script derived from one of the manager's descriptors.
type ManagedScript struct {
	*descriptor.Derived

	// Branch is ExternalBranch or InternalBranch.
	Branch uint32

	addr btcutil.Address
}

// Address returns the address paid to by the script.
func (s *ManagedScript) Address() btcutil.Address {
	return s.addr
}

// Internal returns true if the script belongs to the change branch.
func (s *ManagedScript) Internal() bool {
	return s.Branch == InternalBranch
}

// branchState tracks the scripts derived on one branch. scripts is dense:
// scripts[i] is the script at index i.
type branchState struct {
	desc     *descriptor.Descriptor
	scripts  []*ManagedScript
	lastUsed fn.Option[uint32]
}

// Manager hands out scripts for the external and internal branches of a
// descriptor wallet and maps output scripts back to their derivation.
type Manager struct {
	chainParams *chaincfg.Params
	lookahead   uint32

	mu       sync.RWMutex
	branches [2]*branchState
	byScript map[string]*ManagedScript
}

// New returns a manager for the given deposit and change descriptors. A nil
// internal descriptor reuses the external one for change. A lookahead of zero
// selects DefaultLookahead.
func New(chainParams *chaincfg.Params, external,
	internal *descriptor.Descriptor, lookahead uint32) (*Manager, error) {

	if internal == nil {
		internal = external
	}
	if lookahead == 0 {
		lookahead = DefaultLookahead
	}

	for _, desc := range []*descriptor.Descriptor{external, internal} {
		if err := desc.CheckNetwork(chainParams); err != nil {
			return nil, managerError(ErrWrongNet, "descriptor "+
				"key does not match network", err)
		}
	}

	m := &Manager{
		chainParams: chainParams,
		lookahead:   lookahead,
		byScript:    make(map[string]*ManagedScript),
	}
	m.branches[ExternalBranch] = &branchState{desc: external}
	m.branches[InternalBranch] = &branchState{desc: internal}

	return m, nil
}

// ChainParams returns the network the manager derives addresses for.
func (m *Manager) ChainParams() *chaincfg.Params {
	return m.chainParams
}

// Lookahead returns the stop gap of the manager.
func (m *Manager) Lookahead() uint32 {
	return m.lookahead
}

func (m *Manager) branch(branch uint32) (*branchState, error) {
	if branch != ExternalBranch && branch != InternalBranch {
		str := fmt.Sprintf("branch %d does not exist", branch)
		return nil, managerError(ErrInvalidBranch, str, nil)
	}

	return m.branches[branch], nil
}

// Descriptor returns the descriptor backing branch.
func (m *Manager) Descriptor(branch uint32) (*descriptor.Descriptor, error) {
	b, err := m.branch(branch)
	if err != nil {
		return nil, err
	}

	return b.desc, nil
}

// IsRange reports whether branch derives a different script per index.
func (m *Manager) IsRange(branch uint32) bool {
	b, err := m.branch(branch)
	if err != nil {
		return false
	}

	return b.desc.IsRange()
}

// DeriveScript returns the script at index on branch, deriving it and every
// lower index on first use. Non-ranged descriptors have a single script which
// is returned for every index.
func (m *Manager) DeriveScript(branch, index uint32) (*ManagedScript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.deriveScript(branch, index)
}

// deriveScript must be called with the mutex held for writes.
func (m *Manager) deriveScript(branch, index uint32) (*ManagedScript, error) {
	b, err := m.branch(branch)
	if err != nil {
		return nil, err
	}
	if !b.desc.IsRange() {
		index = 0
	}
	if index > MaxAddressesPerBranch {
		str := fmt.Sprintf("index %d exceeds the maximum of %d",
			index, MaxAddressesPerBranch)
		return nil, managerError(ErrTooManyAddresses, str, nil)
	}

	for i := uint32(len(b.scripts)); i <= index; i++ {
		derived, err := b.desc.Derive(i)
		if err != nil {
			str := fmt.Sprintf("failed to derive index %d on "+
				"branch %d", i, branch)
			return nil, managerError(ErrKeyChain, str, err)
		}
		addr, err := derived.Address(m.chainParams)
		if err != nil {
			str := fmt.Sprintf("no address for index %d on "+
				"branch %d", i, branch)
			return nil, managerError(ErrKeyChain, str, err)
		}

		ms := &ManagedScript{
			Derived: derived,
			Branch:  branch,
			addr:    addr,
		}
		b.scripts = append(b.scripts, ms)

		// The first branch to derive a script owns it, so a change
		// descriptor identical to the deposit one maps to external.
		key := string(derived.PkScript)
		if _, ok := m.byScript[key]; !ok {
			m.byScript[key] = ms
		}

		log.Tracef("Derived %v at %d/%d", addr, branch, i)
	}

	return b.scripts[index], nil
}

// ScriptAt returns the output script at index on branch.
func (m *Manager) ScriptAt(branch, index uint32) ([]byte, error) {
	ms, err := m.DeriveScript(branch, index)
	if err != nil {
		return nil, err
	}

	return ms.PkScript, nil
}

// ExtendLookahead derives scripts on branch up to the stop gap past the last
// used index.
func (m *Manager) ExtendLookahead(branch uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.branch(branch)
	if err != nil {
		return err
	}

	target := m.lookahead - 1
	b.lastUsed.WhenSome(func(last uint32) {
		target = last + m.lookahead
	})
	_, err = m.deriveScript(branch, target)

	return err
}

// MarkUsed records that the script at index on branch has on-chain history.
func (m *Manager) MarkUsed(branch, index uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.branch(branch)
	if err != nil {
		return
	}
	if !b.desc.IsRange() {
		index = 0
	}

	if b.lastUsed.IsNone() || b.lastUsed.UnwrapOr(0) < index {
		b.lastUsed = fn.Some(index)
	}
}

// LastUsed returns the highest index on branch known to have history.
func (m *Manager) LastUsed(branch uint32) fn.Option[uint32] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.branch(branch)
	if err != nil {
		return fn.None[uint32]()
	}

	return b.lastUsed
}

// NextUnused returns the script directly after the last used one on branch.
// A non-ranged branch always returns its single script.
func (m *Manager) NextUnused(branch uint32) (*ManagedScript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.branch(branch)
	if err != nil {
		return nil, err
	}

	var next uint32
	b.lastUsed.WhenSome(func(i uint32) {
		next = i + 1
	})

	return m.deriveScript(branch, next)
}

// LookupScript returns the derived script matching pkScript among the
// scripts derived so far.
func (m *Manager) LookupScript(pkScript []byte) (*ManagedScript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.byScript[string(pkScript)]
	if !ok {
		str := fmt.Sprintf("script %x not found", pkScript)
		return nil, managerError(ErrAddressNotFound, str, nil)
	}

	return ms, nil
}

// LookupDerivation finds the derived key with the given master fingerprint
// and full derivation path. The final path element selects the index on
// ranged branches, so keys outside the lookahead window are found as well.
func (m *Manager) LookupDerivation(fingerprint uint32,
	path []uint32) (*ManagedScript, *descriptor.DerivedKey, error) {

	var index uint32
	if len(path) > 0 {
		index = path[len(path)-1]
	}

	for _, branch := range []uint32{ExternalBranch, InternalBranch} {
		if index >= hdkeychain.HardenedKeyStart && m.IsRange(branch) {
			continue
		}

		ms, err := m.DeriveScript(branch, index)
		if err != nil {
			return nil, nil, err
		}
		for _, key := range ms.Keys {
			if key.Fingerprint == fingerprint &&
				pathsEqual(key.Path, path) {

				return ms, key, nil
			}
		}
	}

	str := fmt.Sprintf("no key with fingerprint %08x and path %v",
		fingerprint, path)
	return nil, nil, managerError(ErrAddressNotFound, str, nil)
}

// Scripts returns the scripts derived so far on branch in index order.
func (m *Manager) Scripts(branch uint32) []*ManagedScript {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.branch(branch)
	if err != nil {
		return nil
	}

	scripts := make([]*ManagedScript, len(b.scripts))
	copy(scripts, b.scripts)

	return scripts
}

func pathsEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
