// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/hex"
	"errors"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// ErrCannotSatisfy is returned when the available signatures and timelocks
// do not satisfy a script.
var ErrCannotSatisfy = errors.New("unable to satisfy descriptor")

const (
	// maxSigSize is the size of a DER signature with sighash byte plus
	// its length prefix.
	maxSigSize = 1 + 72

	// pubKeySize is a compressed key plus its length prefix.
	pubKeySize = 1 + 33

	// lockTimeThreshold separates block heights from timestamps.
	lockTimeThreshold = 500000000

	sequenceDisableFlag = 1 << 31
	sequenceTypeFlag    = 1 << 22
	sequenceLockMask    = 0x0000ffff
)

// satCost is the worst case witness element count and serialized size of a
// satisfaction or dissatisfaction.
type satCost struct {
	ok    bool
	elems int
	size  int
}

func cost(elems, size int) satCost {
	return satCost{ok: true, elems: elems, size: size}
}

var noCost = satCost{}

func (c satCost) plus(o satCost) satCost {
	if !c.ok || !o.ok {
		return noCost
	}

	return cost(c.elems+o.elems, c.size+o.size)
}

func maxCost(a, b satCost) satCost {
	switch {
	case !a.ok:
		return b
	case !b.ok:
		return a
	}

	return cost(max(a.elems, b.elems), max(a.size, b.size))
}

// maxSatisfaction returns the worst case satisfaction and dissatisfaction
// cost of n.
func (n *Node) maxSatisfaction() (satCost, satCost) {
	switch n.frag {
	case fragFalse:
		return noCost, cost(0, 0)

	case fragTrue:
		return cost(0, 0), noCost

	case fragPkK:
		return cost(1, maxSigSize), cost(1, 1)

	case fragPkH:
		return cost(2, maxSigSize+pubKeySize), cost(2, 1+pubKeySize)

	case fragOlder, fragAfter:
		return cost(0, 0), noCost

	case fragMulti, fragSortedMulti:
		k := int(n.k)
		return cost(k+1, 1+maxSigSize*k), cost(k+1, k+1)

	case fragWrapA, fragWrapS, fragWrapC, fragWrapN:
		return n.subs[0].maxSatisfaction()

	case fragWrapD:
		sat, _ := n.subs[0].maxSatisfaction()
		return sat.plus(cost(1, 2)), cost(1, 1)

	case fragWrapV:
		sat, _ := n.subs[0].maxSatisfaction()
		return sat, noCost

	case fragWrapJ:
		sat, _ := n.subs[0].maxSatisfaction()
		return sat, cost(1, 1)

	case fragAndV:
		xs, _ := n.subs[0].maxSatisfaction()
		ys, yd := n.subs[1].maxSatisfaction()
		return xs.plus(ys), xs.plus(yd)

	case fragAndB:
		xs, xd := n.subs[0].maxSatisfaction()
		ys, yd := n.subs[1].maxSatisfaction()
		return xs.plus(ys), xd.plus(yd)

	case fragAndOr:
		xs, xd := n.subs[0].maxSatisfaction()
		ys, _ := n.subs[1].maxSatisfaction()
		zs, zd := n.subs[2].maxSatisfaction()
		return maxCost(xs.plus(ys), xd.plus(zs)), xd.plus(zd)

	case fragOrB:
		xs, xd := n.subs[0].maxSatisfaction()
		zs, zd := n.subs[1].maxSatisfaction()
		return maxCost(xs.plus(zd), xd.plus(zs)), xd.plus(zd)

	case fragOrC:
		xs, xd := n.subs[0].maxSatisfaction()
		zs, _ := n.subs[1].maxSatisfaction()
		return maxCost(xs, xd.plus(zs)), noCost

	case fragOrD:
		xs, xd := n.subs[0].maxSatisfaction()
		zs, zd := n.subs[1].maxSatisfaction()
		return maxCost(xs, xd.plus(zs)), xd.plus(zd)

	case fragOrI:
		xs, xd := n.subs[0].maxSatisfaction()
		zs, zd := n.subs[1].maxSatisfaction()
		return maxCost(xs.plus(cost(1, 2)), zs.plus(cost(1, 1))),
			maxCost(xd.plus(cost(1, 2)), zd.plus(cost(1, 1)))

	case fragThresh:
		return n.threshMaxSatisfaction()
	}

	return noCost, noCost
}

// threshMaxSatisfaction maximizes element count and size independently:
// every child is dissatisfied and the k children with the largest gain from
// satisfying are switched over.
func (n *Node) threshMaxSatisfaction() (satCost, satCost) {
	dissat := cost(0, 0)
	var elemGain, sizeGain []int
	for _, sub := range n.subs {
		s, d := sub.maxSatisfaction()
		dissat = dissat.plus(d)
		if s.ok && d.ok {
			elemGain = append(elemGain, s.elems-d.elems)
			sizeGain = append(sizeGain, s.size-d.size)
		}
	}
	if !dissat.ok || len(sizeGain) < int(n.k) {
		return noCost, dissat
	}

	sort.Sort(sort.Reverse(sort.IntSlice(elemGain)))
	sort.Sort(sort.Reverse(sort.IntSlice(sizeGain)))

	sat := dissat
	for i := 0; i < int(n.k); i++ {
		sat.elems += elemGain[i]
		sat.size += sizeGain[i]
	}

	return sat, dissat
}

// witness is a candidate witness stack, bottom element first.
type witness struct {
	ok    bool
	stack [][]byte
}

func stack(items ...[]byte) witness {
	return witness{ok: true, stack: items}
}

var unavailable = witness{}

// then returns w with o's elements pushed on top.
func (w witness) then(o witness) witness {
	if !w.ok || !o.ok {
		return unavailable
	}

	s := make([][]byte, 0, len(w.stack)+len(o.stack))
	s = append(s, w.stack...)
	s = append(s, o.stack...)

	return witness{ok: true, stack: s}
}

func (w witness) size() int {
	total := 0
	for _, item := range w.stack {
		total += 1 + len(item)
	}

	return total
}

// smaller returns the cheaper of two candidates.
func smaller(a, b witness) witness {
	switch {
	case !a.ok:
		return b
	case !b.ok:
		return a
	case b.size() < a.size():
		return b
	}

	return a
}

// satisfier holds what is known about the spending transaction.
type satisfier struct {
	sigs     map[string][]byte
	resolve  keyResolver
	lockTime uint32
	sequence uint32
	version  int32
}

func (s *satisfier) sig(key *Key) ([]byte, []byte, bool) {
	pub, err := s.resolve(key)
	if err != nil {
		return nil, nil, false
	}

	ser := pub.SerializeCompressed()
	sig, ok := s.sigs[hex.EncodeToString(ser)]

	return sig, ser, ok
}

func (s *satisfier) afterOK(v uint32) bool {
	if s.sequence == wire.MaxTxInSequenceNum {
		return false
	}
	if (v < lockTimeThreshold) != (s.lockTime < lockTimeThreshold) {
		return false
	}

	return s.lockTime >= v
}

func (s *satisfier) olderOK(v uint32) bool {
	if s.version < 2 || s.sequence&sequenceDisableFlag != 0 {
		return false
	}
	if v&sequenceTypeFlag != s.sequence&sequenceTypeFlag {
		return false
	}

	return s.sequence&sequenceLockMask >= v&sequenceLockMask
}

// satisfy returns the cheapest satisfaction and dissatisfaction of n.
func (s *satisfier) satisfy(n *Node) (witness, witness) {
	switch n.frag {
	case fragFalse:
		return unavailable, stack()

	case fragTrue:
		return stack(), unavailable

	case fragPkK:
		sig, _, ok := s.sig(n.keys[0])
		if !ok {
			return unavailable, stack(nil)
		}
		return stack(sig), stack(nil)

	case fragPkH:
		sig, pub, ok := s.sig(n.keys[0])
		if pub == nil {
			return unavailable, unavailable
		}
		if !ok {
			return unavailable, stack(nil, pub)
		}
		return stack(sig, pub), stack(nil, pub)

	case fragOlder:
		if s.olderOK(n.k) {
			return stack(), unavailable
		}
		return unavailable, unavailable

	case fragAfter:
		if s.afterOK(n.k) {
			return stack(), unavailable
		}
		return unavailable, unavailable

	case fragMulti, fragSortedMulti:
		return s.satisfyMulti(n)

	case fragWrapA, fragWrapS, fragWrapC, fragWrapN:
		return s.satisfy(n.subs[0])

	case fragWrapD:
		sat, _ := s.satisfy(n.subs[0])
		return sat.then(stack([]byte{1})), stack(nil)

	case fragWrapV:
		sat, _ := s.satisfy(n.subs[0])
		return sat, unavailable

	case fragWrapJ:
		sat, _ := s.satisfy(n.subs[0])
		return sat, stack(nil)

	case fragAndV:
		xs, _ := s.satisfy(n.subs[0])
		ys, yd := s.satisfy(n.subs[1])
		return ys.then(xs), yd.then(xs)

	case fragAndB:
		xs, xd := s.satisfy(n.subs[0])
		ys, yd := s.satisfy(n.subs[1])
		return ys.then(xs), yd.then(xd)

	case fragAndOr:
		xs, xd := s.satisfy(n.subs[0])
		ys, _ := s.satisfy(n.subs[1])
		zs, zd := s.satisfy(n.subs[2])
		return smaller(ys.then(xs), zs.then(xd)), zd.then(xd)

	case fragOrB:
		xs, xd := s.satisfy(n.subs[0])
		zs, zd := s.satisfy(n.subs[1])
		return smaller(zd.then(xs), zs.then(xd)), zd.then(xd)

	case fragOrC:
		xs, xd := s.satisfy(n.subs[0])
		zs, _ := s.satisfy(n.subs[1])
		return smaller(xs, zs.then(xd)), unavailable

	case fragOrD:
		xs, xd := s.satisfy(n.subs[0])
		zs, zd := s.satisfy(n.subs[1])
		return smaller(xs, zs.then(xd)), zd.then(xd)

	case fragOrI:
		xs, xd := s.satisfy(n.subs[0])
		zs, zd := s.satisfy(n.subs[1])
		one, zero := stack([]byte{1}), stack(nil)
		return smaller(xs.then(one), zs.then(zero)),
			smaller(xd.then(one), zd.then(zero))

	case fragThresh:
		return s.satisfyThresh(n)
	}

	return unavailable, unavailable
}

func (s *satisfier) satisfyMulti(n *Node) (witness, witness) {
	pubs, err := multiKeys(n, s.resolve)
	if err != nil {
		return unavailable, unavailable
	}

	dissat := stack(nil)
	for i := 0; i < int(n.k); i++ {
		dissat = dissat.then(stack(nil))
	}

	sat := stack(nil)
	count := 0
	for _, pub := range pubs {
		if count == int(n.k) {
			break
		}
		if sig, ok := s.sigs[hex.EncodeToString(pub)]; ok {
			sat = sat.then(stack(sig))
			count++
		}
	}
	if count < int(n.k) {
		return unavailable, dissat
	}

	return sat, dissat
}

// satisfyThresh satisfies the k children that are cheapest to satisfy
// relative to dissatisfying them, and dissatisfies the rest. The witness of
// the last child sits at the bottom of the stack.
func (s *satisfier) satisfyThresh(n *Node) (witness, witness) {
	type choice struct {
		sat, dissat witness
	}

	choices := make([]choice, len(n.subs))
	for i, sub := range n.subs {
		choices[i].sat, choices[i].dissat = s.satisfy(sub)
	}

	build := func(useSat []bool) witness {
		w := stack()
		for i := len(choices) - 1; i >= 0; i-- {
			if useSat[i] {
				w = w.then(choices[i].sat)
			} else {
				w = w.then(choices[i].dissat)
			}
		}
		return w
	}

	// Dissatisfaction of every child.
	none := make([]bool, len(choices))
	dissat := build(none)

	// Children that cannot be dissatisfied must be satisfied.
	useSat := make([]bool, len(choices))
	picked := 0
	var optional []int
	for i, c := range choices {
		switch {
		case !c.dissat.ok:
			if !c.sat.ok {
				return unavailable, dissat
			}
			useSat[i] = true
			picked++

		case c.sat.ok:
			optional = append(optional, i)
		}
	}
	if picked > int(n.k) {
		return unavailable, dissat
	}

	sort.SliceStable(optional, func(a, b int) bool {
		ca, cb := choices[optional[a]], choices[optional[b]]
		return ca.sat.size()-ca.dissat.size() <
			cb.sat.size()-cb.dissat.size()
	})
	for _, i := range optional {
		if picked == int(n.k) {
			break
		}
		useSat[i] = true
		picked++
	}
	if picked < int(n.k) {
		return unavailable, dissat
	}

	return build(useSat), dissat
}

// pubKeyResolver returns a resolver over keys already derived at one index.
func pubKeyResolver(keys map[*Key]*DerivedKey) keyResolver {
	return func(k *Key) (*btcec.PublicKey, error) {
		d, ok := keys[k]
		if !ok {
			return nil, errors.New("key not derived: " + k.String())
		}

		return d.PubKey, nil
	}
}
