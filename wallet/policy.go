// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/waddrmgr"
)

// SpendingPolicyPath selects, per policy node id, the indices of the
// children that will be satisfied.
type SpendingPolicyPath = descriptor.SpendingPolicyPath

// SpendingPolicyPaths holds the path of each keychain.
type SpendingPolicyPaths struct {
	External SpendingPolicyPath `json:"external"`
	Internal SpendingPolicyPath `json:"internal"`
}

func (p *SpendingPolicyPaths) forBranch(branch uint32) SpendingPolicyPath {
	if branch == waddrmgr.InternalBranch {
		return p.Internal
	}
	return p.External
}

func keychainName(branch uint32) string {
	if branch == waddrmgr.InternalBranch {
		return "internal"
	}
	return "external"
}

// PolicyKey is a key of a policy node. Private keys are shown in their
// public form.
type PolicyKey struct {
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint,omitempty"`
	CanSign     bool   `json:"can_sign"`
}

// PolicyNode is a node of a descriptor's spending policy tree. ID is the
// key to use in a SpendingPolicyPath.
type PolicyNode struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Threshold    int           `json:"threshold,omitempty"`
	Keys         []PolicyKey   `json:"keys,omitempty"`
	Value        uint32        `json:"value,omitempty"`
	RequiresPath bool          `json:"requires_path"`
	Items        []*PolicyNode `json:"items,omitempty"`
}

// SpendingPolicy returns the spending policy of the descriptor on branch. A
// nil node means outputs of the descriptor can be spent unconditionally.
func SpendingPolicy(cfg *Config, branch uint32) (*PolicyNode, error) {
	w, err := NewOffline(cfg)
	if err != nil {
		return nil, walletError(ErrInternal, DescWalletInit, err)
	}

	desc, err := w.Manager.Descriptor(branch)
	if err != nil {
		return nil, internalError(err)
	}

	return newPolicyNode(desc.Policy()), nil
}

func newPolicyNode(p *descriptor.Policy) *PolicyNode {
	if p == nil {
		return nil
	}

	node := &PolicyNode{
		ID:           p.ID,
		Type:         p.Kind.String(),
		Threshold:    p.Threshold,
		Value:        p.Value,
		RequiresPath: p.RequiresPath(),
	}
	for _, k := range p.Keys {
		node.Keys = append(node.Keys, PolicyKey{
			Key:         k.PublicString(),
			Fingerprint: originFingerprint(k),
			CanSign:     k.HasPrivate(),
		})
	}
	for _, item := range p.Items {
		node.Items = append(node.Items, newPolicyNode(item))
	}

	return node
}

// originFingerprint returns the hex master fingerprint of k's origin as
// written in descriptors, or an empty string without origin.
func originFingerprint(k *descriptor.Key) string {
	origin := k.Origin()
	if origin == nil {
		return ""
	}

	var fp [4]byte
	binary.LittleEndian.PutUint32(fp[:], origin.Fingerprint)

	return hex.EncodeToString(fp[:])
}

// RaftPaths are the policy paths of a descriptor with a primary branch and a
// timelocked secondary branch.
type RaftPaths struct {
	Primary   SpendingPolicyPaths `json:"primary"`
	Secondary SpendingPolicyPaths `json:"secondary"`
}

// RaftPolicyPaths returns the paths selecting the primary and secondary
// branches of descriptors of the form thresh(1, primary, secondary) where
// only the secondary branch carries timelocks.
func RaftPolicyPaths(cfg *Config) (*RaftPaths, error) {
	w, err := NewOffline(cfg)
	if err != nil {
		return nil, walletError(ErrInternal, DescWalletInit, err)
	}

	var paths RaftPaths
	for _, branch := range []uint32{
		waddrmgr.ExternalBranch, waddrmgr.InternalBranch,
	} {

		desc, err := w.Manager.Descriptor(branch)
		if err != nil {
			return nil, internalError(err)
		}

		primary, secondary, err := raftPaths(desc.Policy())
		if err != nil {
			return nil, internalError(fmt.Errorf("%s keychain: %w",
				keychainName(branch), err))
		}

		if branch == waddrmgr.InternalBranch {
			paths.Primary.Internal = primary
			paths.Secondary.Internal = secondary
		} else {
			paths.Primary.External = primary
			paths.Secondary.External = secondary
		}
	}

	return &paths, nil
}

func raftPaths(p *descriptor.Policy) (SpendingPolicyPath, SpendingPolicyPath,
	error) {

	if p == nil || p.Kind != descriptor.PolicyThresh ||
		p.Threshold != 1 || len(p.Items) != 2 {

		return nil, nil, ErrNotRaftPolicy
	}

	primary := -1
	for i, item := range p.Items {
		if len(item.Timelocks()) != 0 {
			continue
		}
		if primary >= 0 {
			return nil, nil, ErrNotRaftPolicy
		}
		primary = i
	}
	if primary < 0 {
		return nil, nil, ErrNotRaftPolicy
	}

	return SpendingPolicyPath{p.ID: {primary}},
		SpendingPolicyPath{p.ID: {1 - primary}}, nil
}
