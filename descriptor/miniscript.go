// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrTypeCheck is returned for miniscript expressions that are well formed
// but not correctly typed.
var ErrTypeCheck = errors.New("miniscript type check failed")

// fragment identifies a miniscript fragment or wrapper.
type fragment uint8

const (
	fragFalse fragment = iota
	fragTrue
	fragPkK
	fragPkH
	fragOlder
	fragAfter
	fragMulti
	fragSortedMulti
	fragWrapA
	fragWrapS
	fragWrapC
	fragWrapD
	fragWrapV
	fragWrapJ
	fragWrapN
	fragAndV
	fragAndB
	fragAndOr
	fragOrB
	fragOrC
	fragOrD
	fragOrI
	fragThresh
)

var fragmentNames = map[fragment]string{
	fragFalse:       "0",
	fragTrue:        "1",
	fragPkK:         "pk_k",
	fragPkH:         "pk_h",
	fragOlder:       "older",
	fragAfter:       "after",
	fragMulti:       "multi",
	fragSortedMulti: "sortedmulti",
	fragAndV:        "and_v",
	fragAndB:        "and_b",
	fragAndOr:       "andor",
	fragOrB:         "or_b",
	fragOrC:         "or_c",
	fragOrD:         "or_d",
	fragOrI:         "or_i",
	fragThresh:      "thresh",
}

var wrapperFragments = map[byte]fragment{
	'a': fragWrapA,
	's': fragWrapS,
	'c': fragWrapC,
	'd': fragWrapD,
	'v': fragWrapV,
	'j': fragWrapJ,
	'n': fragWrapN,
}

// basicType is one of the four miniscript basic types.
type basicType uint8

const (
	typeB basicType = iota
	typeV
	typeK
	typeW
)

func (b basicType) String() string {
	return [...]string{"B", "V", "K", "W"}[b]
}

// typeInfo is the basic type together with the z, o, n, d and u properties.
type typeInfo struct {
	base basicType
	z    bool
	o    bool
	n    bool
	d    bool
	u    bool
}

// Node is a typed miniscript expression.
type Node struct {
	frag fragment
	k    uint32
	keys []*Key
	subs []*Node
	typ  typeInfo
}

// maxTimelock is the largest value accepted by older and after.
const maxTimelock = 1<<31 - 1

// parseMiniscript parses e as a miniscript expression. sortedmulti is only
// accepted when top is set.
func parseMiniscript(e *expr, top bool) (*Node, error) {
	name := e.name
	var wrappers string
	if i := strings.IndexByte(name, ':'); i >= 0 {
		wrappers, name = name[:i], name[i+1:]
		if wrappers == "" {
			return nil, fmt.Errorf("empty wrapper list in %q", e.name)
		}
	}

	node, err := parseFragment(name, e, top && wrappers == "")
	if err != nil {
		return nil, err
	}

	for i := len(wrappers) - 1; i >= 0; i-- {
		node, err = wrap(wrappers[i], node)
		if err != nil {
			return nil, err
		}
	}

	return node, nil
}

func parseFragment(name string, e *expr, top bool) (*Node, error) {
	args := e.args

	subs := func(want int) ([]*Node, error) {
		if want >= 0 && len(args) != want {
			return nil, fmt.Errorf("%s takes %d arguments, got %d",
				name, want, len(args))
		}

		nodes := make([]*Node, 0, len(args))
		for _, arg := range args {
			n, err := parseMiniscript(arg, false)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}

		return nodes, nil
	}

	oneKey := func() (*Key, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes one key", name)
		}
		s, err := args[0].leaf()
		if err != nil {
			return nil, err
		}

		return parseKey(s)
	}

	switch name {
	case "0", "1":
		if e.call {
			return nil, fmt.Errorf("%s takes no arguments", name)
		}
		if name == "0" {
			return newNode(fragFalse, 0, nil, nil)
		}
		return newNode(fragTrue, 0, nil, nil)

	case "pk_k", "pk_h", "pk", "pkh":
		key, err := oneKey()
		if err != nil {
			return nil, err
		}

		frag := fragPkK
		if name == "pk_h" || name == "pkh" {
			frag = fragPkH
		}
		n, err := newNode(frag, 0, []*Key{key}, nil)
		if err != nil {
			return nil, err
		}
		if name == "pk" || name == "pkh" {
			return newNode(fragWrapC, 0, nil, []*Node{n})
		}
		return n, nil

	case "older", "after":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes one argument", name)
		}
		v, err := parseThreshold(args[0])
		if err != nil {
			return nil, err
		}
		if v == 0 || v > maxTimelock {
			return nil, fmt.Errorf("%s value %d out of range", name, v)
		}
		if name == "older" {
			return newNode(fragOlder, v, nil, nil)
		}
		return newNode(fragAfter, v, nil, nil)

	case "multi", "sortedmulti":
		if name == "sortedmulti" && !top {
			return nil, errors.New("sortedmulti is only allowed " +
				"at the top level")
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("%s needs a threshold and keys", name)
		}

		k, err := parseThreshold(args[0])
		if err != nil {
			return nil, err
		}

		keys := make([]*Key, 0, len(args)-1)
		for _, arg := range args[1:] {
			s, err := arg.leaf()
			if err != nil {
				return nil, err
			}
			key, err := parseKey(s)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		if k == 0 || int(k) > len(keys) || len(keys) > 20 {
			return nil, fmt.Errorf("invalid %s threshold %d of %d",
				name, k, len(keys))
		}

		frag := fragMulti
		if name == "sortedmulti" {
			frag = fragSortedMulti
		}
		return newNode(frag, k, keys, nil)

	case "and_v", "and_b", "or_b", "or_c", "or_d", "or_i":
		nodes, err := subs(2)
		if err != nil {
			return nil, err
		}
		frags := map[string]fragment{
			"and_v": fragAndV, "and_b": fragAndB, "or_b": fragOrB,
			"or_c": fragOrC, "or_d": fragOrD, "or_i": fragOrI,
		}
		return newNode(frags[name], 0, nil, nodes)

	case "and_n":
		nodes, err := subs(2)
		if err != nil {
			return nil, err
		}
		zero, _ := newNode(fragFalse, 0, nil, nil)
		return newNode(fragAndOr, 0, nil, append(nodes, zero))

	case "andor":
		nodes, err := subs(3)
		if err != nil {
			return nil, err
		}
		return newNode(fragAndOr, 0, nil, nodes)

	case "thresh":
		if len(args) < 2 {
			return nil, errors.New("thresh needs a threshold and " +
				"subexpressions")
		}
		k, err := parseThreshold(args[0])
		if err != nil {
			return nil, err
		}
		args = args[1:]
		nodes, err := subs(-1)
		if err != nil {
			return nil, err
		}
		if k == 0 || int(k) > len(nodes) {
			return nil, fmt.Errorf("invalid thresh %d of %d", k,
				len(nodes))
		}
		return newNode(fragThresh, k, nil, nodes)
	}

	return nil, fmt.Errorf("unknown miniscript fragment %q", name)
}

func parseThreshold(e *expr) (uint32, error) {
	s, err := e.leaf()
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}

	return uint32(v), nil
}

// wrap applies a single wrapper letter to n.
func wrap(w byte, n *Node) (*Node, error) {
	switch w {
	case 't':
		one, _ := newNode(fragTrue, 0, nil, nil)
		return newNode(fragAndV, 0, nil, []*Node{n, one})

	case 'l':
		zero, _ := newNode(fragFalse, 0, nil, nil)
		return newNode(fragOrI, 0, nil, []*Node{zero, n})

	case 'u':
		zero, _ := newNode(fragFalse, 0, nil, nil)
		return newNode(fragOrI, 0, nil, []*Node{n, zero})
	}

	frag, ok := wrapperFragments[w]
	if !ok {
		return nil, fmt.Errorf("unknown wrapper %q", w)
	}

	return newNode(frag, 0, nil, []*Node{n})
}

// newNode builds a node and computes its type.
func newNode(frag fragment, k uint32, keys []*Key,
	subs []*Node) (*Node, error) {

	n := &Node{frag: frag, k: k, keys: keys, subs: subs}
	typ, err := n.computeType()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTypeCheck, n, err)
	}
	n.typ = typ

	return n, nil
}

func (n *Node) computeType() (typeInfo, error) {
	var x, y, z typeInfo
	if len(n.subs) > 0 {
		x = n.subs[0].typ
	}
	if len(n.subs) > 1 {
		y = n.subs[1].typ
	}
	if len(n.subs) > 2 {
		z = n.subs[2].typ
	}

	switch n.frag {
	case fragFalse:
		return typeInfo{base: typeB, z: true, u: true, d: true}, nil

	case fragTrue:
		return typeInfo{base: typeB, z: true, u: true}, nil

	case fragPkK:
		return typeInfo{base: typeK, o: true, n: true, d: true, u: true},
			nil

	case fragPkH:
		return typeInfo{base: typeK, n: true, d: true, u: true}, nil

	case fragOlder, fragAfter:
		return typeInfo{base: typeB, z: true}, nil

	case fragMulti, fragSortedMulti:
		return typeInfo{base: typeB, n: true, d: true, u: true}, nil

	case fragWrapA:
		if x.base != typeB {
			return typeInfo{}, errors.New("a: requires B")
		}
		return typeInfo{base: typeW, d: x.d, u: x.u}, nil

	case fragWrapS:
		if x.base != typeB || !x.o {
			return typeInfo{}, errors.New("s: requires Bo")
		}
		return typeInfo{base: typeW, d: x.d, u: x.u}, nil

	case fragWrapC:
		if x.base != typeK {
			return typeInfo{}, errors.New("c: requires K")
		}
		return typeInfo{base: typeB, o: x.o, n: x.n, d: x.d, u: true},
			nil

	case fragWrapD:
		if x.base != typeV || !x.z {
			return typeInfo{}, errors.New("d: requires Vz")
		}
		return typeInfo{base: typeB, o: true, n: true, d: true}, nil

	case fragWrapV:
		if x.base != typeB {
			return typeInfo{}, errors.New("v: requires B")
		}
		return typeInfo{base: typeV, z: x.z, o: x.o, n: x.n}, nil

	case fragWrapJ:
		if x.base != typeB || !x.n {
			return typeInfo{}, errors.New("j: requires Bn")
		}
		return typeInfo{base: typeB, o: x.o, n: true, d: true, u: x.u},
			nil

	case fragWrapN:
		if x.base != typeB {
			return typeInfo{}, errors.New("n: requires B")
		}
		return typeInfo{
			base: typeB, z: x.z, o: x.o, n: x.n, d: x.d, u: true,
		}, nil

	case fragAndV:
		if x.base != typeV {
			return typeInfo{}, errors.New("and_v: X must be V")
		}
		if y.base == typeW {
			return typeInfo{}, errors.New("and_v: Y must be B, K or V")
		}
		return typeInfo{
			base: y.base,
			z:    x.z && y.z,
			o:    (x.z && y.o) || (x.o && y.z),
			n:    x.n || (x.z && y.n),
			u:    y.u,
		}, nil

	case fragAndB:
		if x.base != typeB || y.base != typeW {
			return typeInfo{}, errors.New("and_b: requires B and W")
		}
		return typeInfo{
			base: typeB,
			z:    x.z && y.z,
			o:    (x.z && y.o) || (x.o && y.z),
			n:    x.n || (x.z && y.n),
			d:    x.d && y.d,
			u:    true,
		}, nil

	case fragAndOr:
		if x.base != typeB || !x.d || !x.u {
			return typeInfo{}, errors.New("andor: X must be Bdu")
		}
		if y.base != z.base || y.base == typeW {
			return typeInfo{}, errors.New("andor: Y and Z must " +
				"share a B, K or V type")
		}
		return typeInfo{
			base: y.base,
			z:    x.z && y.z && z.z,
			o:    (x.z && y.o && z.o) || (x.o && y.z && z.z),
			d:    z.d,
			u:    y.u && z.u,
		}, nil

	case fragOrB:
		if x.base != typeB || !x.d || y.base != typeW || !y.d {
			return typeInfo{}, errors.New("or_b: requires Bd and Wd")
		}
		return typeInfo{
			base: typeB,
			z:    x.z && y.z,
			o:    (x.z && y.o) || (x.o && y.z),
			d:    true,
			u:    true,
		}, nil

	case fragOrC:
		if x.base != typeB || !x.d || !x.u || y.base != typeV {
			return typeInfo{}, errors.New("or_c: requires Bdu and V")
		}
		return typeInfo{
			base: typeV,
			z:    x.z && y.z,
			o:    x.o && y.z,
		}, nil

	case fragOrD:
		if x.base != typeB || !x.d || !x.u || y.base != typeB {
			return typeInfo{}, errors.New("or_d: requires Bdu and B")
		}
		return typeInfo{
			base: typeB,
			z:    x.z && y.z,
			o:    x.o && y.z,
			d:    y.d,
			u:    y.u,
		}, nil

	case fragOrI:
		if x.base != y.base || x.base == typeW {
			return typeInfo{}, errors.New("or_i: X and Y must share " +
				"a B, K or V type")
		}
		return typeInfo{
			base: x.base,
			o:    x.z && y.z,
			d:    x.d || y.d,
			u:    x.u && y.u,
		}, nil

	case fragThresh:
		zCount, oCount := 0, 0
		for i, sub := range n.subs {
			t := sub.typ
			want := typeW
			if i == 0 {
				want = typeB
			}
			if t.base != want || !t.d || !t.u {
				return typeInfo{}, fmt.Errorf("thresh: argument "+
					"%d must be %sdu", i, want)
			}
			if t.z {
				zCount++
			}
			if t.o {
				oCount++
			}
		}
		all := len(n.subs)
		return typeInfo{
			base: typeB,
			z:    zCount == all,
			o:    zCount == all-1 && oCount == 1,
			d:    true,
			u:    true,
		}, nil
	}

	return typeInfo{}, fmt.Errorf("unknown fragment %d", n.frag)
}

// String returns the miniscript text of the node. Wrappers are written out
// explicitly; the pk and pkh shorthands are not restored.
func (n *Node) String() string {
	var wrappers strings.Builder
	for {
		var w byte
		switch n.frag {
		case fragWrapA:
			w = 'a'
		case fragWrapS:
			w = 's'
		case fragWrapC:
			w = 'c'
		case fragWrapD:
			w = 'd'
		case fragWrapV:
			w = 'v'
		case fragWrapJ:
			w = 'j'
		case fragWrapN:
			w = 'n'
		}
		if w == 0 {
			break
		}
		wrappers.WriteByte(w)
		n = n.subs[0]
	}

	var sb strings.Builder
	if wrappers.Len() > 0 {
		sb.WriteString(wrappers.String())
		sb.WriteByte(':')
	}
	sb.WriteString(fragmentNames[n.frag])

	var args []string
	switch n.frag {
	case fragFalse, fragTrue:
		return sb.String()

	case fragOlder, fragAfter:
		args = append(args, strconv.FormatUint(uint64(n.k), 10))

	case fragMulti, fragSortedMulti, fragThresh:
		args = append(args, strconv.FormatUint(uint64(n.k), 10))
	}
	for _, key := range n.keys {
		args = append(args, key.String())
	}
	for _, sub := range n.subs {
		args = append(args, sub.String())
	}

	sb.WriteByte('(')
	sb.WriteString(strings.Join(args, ","))
	sb.WriteByte(')')

	return sb.String()
}

// walkKeys calls f for every key in the tree in script order.
func (n *Node) walkKeys(f func(*Key)) {
	for _, key := range n.keys {
		f(key)
	}
	for _, sub := range n.subs {
		sub.walkKeys(f)
	}
}
