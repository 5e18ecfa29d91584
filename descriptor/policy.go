// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrSpendingPolicyRequired is returned when a policy has branches
	// with different spending conditions and no path selects between
	// them.
	ErrSpendingPolicyRequired = errors.New("spending policy required")

	// ErrIncompatibleConditions is returned when a selected path mixes
	// block based and time based locks.
	ErrIncompatibleConditions = errors.New("incompatible timelock " +
		"conditions")

	// ErrInvalidPolicyPath is returned for selections that do not fit the
	// policy node they refer to.
	ErrInvalidPolicyPath = errors.New("invalid spending policy path")
)

// PolicyKind identifies the kind of a policy node.
type PolicyKind uint8

const (
	PolicySignature PolicyKind = iota
	PolicyMultisig
	PolicyAbsoluteTimelock
	PolicyRelativeTimelock
	PolicyThresh
	PolicyUnsatisfiable
)

// String returns the JSON name of the kind.
func (k PolicyKind) String() string {
	switch k {
	case PolicySignature:
		return "signature"
	case PolicyMultisig:
		return "multisig"
	case PolicyAbsoluteTimelock:
		return "absolute_timelock"
	case PolicyRelativeTimelock:
		return "relative_timelock"
	case PolicyThresh:
		return "thresh"
	default:
		return "unsatisfiable"
	}
}

// Policy is the spending policy lifted from a descriptor: a tree of
// signature, timelock and threshold requirements.
type Policy struct {
	ID        string
	Kind      PolicyKind
	Threshold int
	Keys      []*Key
	Value     uint32
	Items     []*Policy
}

// SpendingPolicyPath selects, per thresh policy node id, the indices of
// the children that will be satisfied.
type SpendingPolicyPath map[string][]int

// Condition is the transaction level requirement implied by a selected
// spending path.
type Condition struct {
	// CSV is the relative lock that must be set in every input's
	// sequence.
	CSV fn.Option[uint32]

	// Timelock is the minimum nLockTime.
	Timelock fn.Option[uint32]
}

// String renders the policy in a compact textual form which also serves as
// the preimage of the node id.
func (p *Policy) String() string {
	switch p.Kind {
	case PolicySignature:
		return "pk(" + p.Keys[0].String() + ")"

	case PolicyMultisig:
		keys := make([]string, 0, len(p.Keys))
		for _, k := range p.Keys {
			keys = append(keys, k.String())
		}
		return fmt.Sprintf("multi(%d,%s)", p.Threshold,
			strings.Join(keys, ","))

	case PolicyAbsoluteTimelock:
		return "after(" + strconv.FormatUint(uint64(p.Value), 10) + ")"

	case PolicyRelativeTimelock:
		return "older(" + strconv.FormatUint(uint64(p.Value), 10) + ")"

	case PolicyThresh:
		items := make([]string, 0, len(p.Items))
		for _, item := range p.Items {
			items = append(items, item.String())
		}
		return fmt.Sprintf("thresh(%d,%s)", p.Threshold,
			strings.Join(items, ","))
	}

	return "unsatisfiable"
}

func (p *Policy) setID() *Policy {
	sum := sha256.Sum256([]byte(p.String()))
	p.ID = hex.EncodeToString(sum[:4])

	return p
}

func signaturePolicy(k *Key) *Policy {
	return (&Policy{Kind: PolicySignature, Keys: []*Key{k}}).setID()
}

// thresh builds a threshold node over items. nil items are trivially true.
// The result is simplified: satisfied thresholds lift to nil and a 1-of-1
// collapses to its only child.
func thresh(k int, items ...*Policy) *Policy {
	var kept []*Policy
	for _, item := range items {
		switch {
		case item == nil:
			k--
		case item.Kind == PolicyUnsatisfiable:
		default:
			kept = append(kept, item)
		}
	}

	switch {
	case k <= 0:
		return nil
	case k > len(kept):
		return &Policy{Kind: PolicyUnsatisfiable, ID: "unsatisfiable"}
	case k == 1 && len(kept) == 1:
		return kept[0]
	}

	return (&Policy{Kind: PolicyThresh, Threshold: k, Items: kept}).setID()
}

// lift converts a miniscript node into its policy. A nil result means the
// node is always satisfied.
func (n *Node) lift() *Policy {
	switch n.frag {
	case fragFalse:
		return &Policy{Kind: PolicyUnsatisfiable, ID: "unsatisfiable"}

	case fragTrue:
		return nil

	case fragPkK, fragPkH:
		return signaturePolicy(n.keys[0])

	case fragOlder:
		return (&Policy{Kind: PolicyRelativeTimelock, Value: n.k}).setID()

	case fragAfter:
		return (&Policy{Kind: PolicyAbsoluteTimelock, Value: n.k}).setID()

	case fragMulti, fragSortedMulti:
		return (&Policy{
			Kind:      PolicyMultisig,
			Threshold: int(n.k),
			Keys:      n.keys,
		}).setID()

	case fragWrapA, fragWrapS, fragWrapC, fragWrapD, fragWrapV,
		fragWrapJ, fragWrapN:

		return n.subs[0].lift()

	case fragAndV, fragAndB:
		return thresh(2, n.subs[0].lift(), n.subs[1].lift())

	case fragAndOr:
		return thresh(1,
			thresh(2, n.subs[0].lift(), n.subs[1].lift()),
			n.subs[2].lift(),
		)

	case fragOrB, fragOrC, fragOrD, fragOrI:
		return thresh(1, n.subs[0].lift(), n.subs[1].lift())

	case fragThresh:
		items := make([]*Policy, 0, len(n.subs))
		for _, sub := range n.subs {
			items = append(items, sub.lift())
		}
		return thresh(int(n.k), items...)
	}

	return nil
}

// Conditions returns the transaction requirements of the branches chosen by
// path. Threshold nodes whose children carry different conditions need an
// explicit selection unless all children are required.
func (p *Policy) Conditions(path SpendingPolicyPath) (Condition, error) {
	if p == nil {
		return Condition{}, nil
	}

	switch p.Kind {
	case PolicyAbsoluteTimelock:
		return Condition{Timelock: fn.Some(p.Value)}, nil

	case PolicyRelativeTimelock:
		return Condition{CSV: fn.Some(p.Value)}, nil

	case PolicyThresh:

	default:
		return Condition{}, nil
	}

	selected, ok := path[p.ID]
	if !ok {
		conds := make([]Condition, len(p.Items))
		for i, item := range p.Items {
			c, err := item.Conditions(path)
			if err != nil {
				return Condition{}, err
			}
			conds[i] = c
		}

		if p.Threshold == len(p.Items) {
			return mergeAll(conds)
		}
		for _, c := range conds[1:] {
			if !c.equal(conds[0]) {
				return Condition{}, fmt.Errorf("%w: node %s",
					ErrSpendingPolicyRequired, p.ID)
			}
		}
		return conds[0], nil
	}

	if len(selected) < p.Threshold {
		return Condition{}, fmt.Errorf("%w: node %s needs %d items, "+
			"got %d", ErrInvalidPolicyPath, p.ID, p.Threshold,
			len(selected))
	}

	// Items left out of the selection are never satisfied, so their
	// conditions do not apply.
	seen := make(map[int]struct{}, len(selected))
	chosen := make([]Condition, 0, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= len(p.Items) {
			return Condition{}, fmt.Errorf("%w: node %s has no item "+
				"%d", ErrInvalidPolicyPath, p.ID, idx)
		}
		if _, dup := seen[idx]; dup {
			return Condition{}, fmt.Errorf("%w: node %s item %d "+
				"selected twice", ErrInvalidPolicyPath, p.ID, idx)
		}
		seen[idx] = struct{}{}

		c, err := p.Items[idx].Conditions(path)
		if err != nil {
			return Condition{}, err
		}
		chosen = append(chosen, c)
	}

	return mergeAll(chosen)
}

// RequiresPath reports whether Conditions fails without a selection.
func (p *Policy) RequiresPath() bool {
	_, err := p.Conditions(nil)
	return errors.Is(err, ErrSpendingPolicyRequired)
}

// Walk calls f for every node of the tree, parents first.
func (p *Policy) Walk(f func(*Policy)) {
	if p == nil {
		return
	}
	f(p)
	for _, item := range p.Items {
		item.Walk(f)
	}
}

// Timelocks returns the distinct absolute and relative lock values found in
// the tree, sorted.
func (p *Policy) Timelocks() []uint32 {
	seen := make(map[uint32]struct{})
	p.Walk(func(n *Policy) {
		if n.Kind == PolicyAbsoluteTimelock ||
			n.Kind == PolicyRelativeTimelock {

			seen[n.Value] = struct{}{}
		}
	})

	values := make([]uint32, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return values
}

func (c Condition) equal(o Condition) bool {
	return c.CSV.UnwrapOr(0) == o.CSV.UnwrapOr(0) &&
		c.CSV.IsSome() == o.CSV.IsSome() &&
		c.Timelock.UnwrapOr(0) == o.Timelock.UnwrapOr(0) &&
		c.Timelock.IsSome() == o.Timelock.IsSome()
}

// Merge combines two conditions into one that satisfies both.
func (c Condition) Merge(o Condition) (Condition, error) {
	csv, err := mergeLock(c.CSV, o.CSV, func(a, b uint32) bool {
		return a&sequenceTypeFlag == b&sequenceTypeFlag
	})
	if err != nil {
		return Condition{}, err
	}

	lock, err := mergeLock(c.Timelock, o.Timelock, func(a, b uint32) bool {
		return (a < lockTimeThreshold) == (b < lockTimeThreshold)
	})
	if err != nil {
		return Condition{}, err
	}

	return Condition{CSV: csv, Timelock: lock}, nil
}

func mergeAll(conds []Condition) (Condition, error) {
	var merged Condition
	for _, c := range conds {
		var err error
		merged, err = merged.Merge(c)
		if err != nil {
			return Condition{}, err
		}
	}

	return merged, nil
}

func mergeLock(a, b fn.Option[uint32],
	sameType func(a, b uint32) bool) (fn.Option[uint32], error) {

	if a.IsNone() {
		return b, nil
	}
	if b.IsNone() {
		return a, nil
	}

	av, bv := a.UnwrapOr(0), b.UnwrapOr(0)
	if !sameType(av, bv) {
		return fn.None[uint32](), fmt.Errorf("%w: %d and %d",
			ErrIncompatibleConditions, av, bv)
	}

	return fn.Some(max(av, bv)), nil
}
