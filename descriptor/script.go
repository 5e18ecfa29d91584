// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// token is a single script element. Scripts are assembled as token lists so
// that the v: wrapper can rewrite the final opcode.
type token struct {
	op     byte
	data   []byte
	num    int64
	isData bool
	isNum  bool
}

func opTok(op byte) token {
	return token{op: op}
}

func dataTok(data []byte) token {
	return token{data: data, isData: true}
}

func numTok(n int64) token {
	return token{num: n, isNum: true}
}

// keyResolver maps a key expression to the public key used at the index
// being compiled.
type keyResolver func(*Key) (*btcec.PublicKey, error)

// compile returns the script tokens for n.
func (n *Node) compile(resolve keyResolver) ([]token, error) {
	sub := func(i int) ([]token, error) {
		return n.subs[i].compile(resolve)
	}

	switch n.frag {
	case fragFalse:
		return []token{opTok(txscript.OP_0)}, nil

	case fragTrue:
		return []token{opTok(txscript.OP_1)}, nil

	case fragPkK:
		pub, err := resolve(n.keys[0])
		if err != nil {
			return nil, err
		}
		return []token{dataTok(pub.SerializeCompressed())}, nil

	case fragPkH:
		pub, err := resolve(n.keys[0])
		if err != nil {
			return nil, err
		}
		return []token{
			opTok(txscript.OP_DUP), opTok(txscript.OP_HASH160),
			dataTok(btcutil.Hash160(pub.SerializeCompressed())),
			opTok(txscript.OP_EQUALVERIFY),
		}, nil

	case fragOlder:
		return []token{
			numTok(int64(n.k)), opTok(txscript.OP_CHECKSEQUENCEVERIFY),
		}, nil

	case fragAfter:
		return []token{
			numTok(int64(n.k)), opTok(txscript.OP_CHECKLOCKTIMEVERIFY),
		}, nil

	case fragMulti, fragSortedMulti:
		pubs, err := multiKeys(n, resolve)
		if err != nil {
			return nil, err
		}

		toks := []token{numTok(int64(n.k))}
		for _, pub := range pubs {
			toks = append(toks, dataTok(pub))
		}
		return append(toks,
			numTok(int64(len(pubs))),
			opTok(txscript.OP_CHECKMULTISIG),
		), nil

	case fragWrapA:
		x, err := sub(0)
		if err != nil {
			return nil, err
		}
		toks := []token{opTok(txscript.OP_TOALTSTACK)}
		toks = append(toks, x...)
		return append(toks, opTok(txscript.OP_FROMALTSTACK)), nil

	case fragWrapS:
		x, err := sub(0)
		if err != nil {
			return nil, err
		}
		return append([]token{opTok(txscript.OP_SWAP)}, x...), nil

	case fragWrapC:
		x, err := sub(0)
		if err != nil {
			return nil, err
		}
		return append(x, opTok(txscript.OP_CHECKSIG)), nil

	case fragWrapD:
		x, err := sub(0)
		if err != nil {
			return nil, err
		}
		toks := []token{opTok(txscript.OP_DUP), opTok(txscript.OP_IF)}
		toks = append(toks, x...)
		return append(toks, opTok(txscript.OP_ENDIF)), nil

	case fragWrapV:
		x, err := sub(0)
		if err != nil {
			return nil, err
		}
		return verify(x), nil

	case fragWrapJ:
		x, err := sub(0)
		if err != nil {
			return nil, err
		}
		toks := []token{
			opTok(txscript.OP_SIZE), opTok(txscript.OP_0NOTEQUAL),
			opTok(txscript.OP_IF),
		}
		toks = append(toks, x...)
		return append(toks, opTok(txscript.OP_ENDIF)), nil

	case fragWrapN:
		x, err := sub(0)
		if err != nil {
			return nil, err
		}
		return append(x, opTok(txscript.OP_0NOTEQUAL)), nil
	}

	// The remaining fragments combine several children.
	parts := make([][]token, len(n.subs))
	for i := range n.subs {
		part, err := sub(i)
		if err != nil {
			return nil, err
		}
		parts[i] = part
	}

	var toks []token
	switch n.frag {
	case fragAndV:
		toks = append(parts[0], parts[1]...)

	case fragAndB:
		toks = append(parts[0], parts[1]...)
		toks = append(toks, opTok(txscript.OP_BOOLAND))

	case fragOrB:
		toks = append(parts[0], parts[1]...)
		toks = append(toks, opTok(txscript.OP_BOOLOR))

	case fragAndOr:
		toks = append(parts[0], opTok(txscript.OP_NOTIF))
		toks = append(toks, parts[2]...)
		toks = append(toks, opTok(txscript.OP_ELSE))
		toks = append(toks, parts[1]...)
		toks = append(toks, opTok(txscript.OP_ENDIF))

	case fragOrC:
		toks = append(parts[0], opTok(txscript.OP_NOTIF))
		toks = append(toks, parts[1]...)
		toks = append(toks, opTok(txscript.OP_ENDIF))

	case fragOrD:
		toks = append(parts[0], opTok(txscript.OP_IFDUP),
			opTok(txscript.OP_NOTIF))
		toks = append(toks, parts[1]...)
		toks = append(toks, opTok(txscript.OP_ENDIF))

	case fragOrI:
		toks = []token{opTok(txscript.OP_IF)}
		toks = append(toks, parts[0]...)
		toks = append(toks, opTok(txscript.OP_ELSE))
		toks = append(toks, parts[1]...)
		toks = append(toks, opTok(txscript.OP_ENDIF))

	case fragThresh:
		toks = parts[0]
		for _, part := range parts[1:] {
			toks = append(toks, part...)
			toks = append(toks, opTok(txscript.OP_ADD))
		}
		toks = append(toks, numTok(int64(n.k)), opTok(txscript.OP_EQUAL))
	}

	return toks, nil
}

// verify turns the final opcode of a script into its VERIFY form, appending
// OP_VERIFY when no such form exists.
func verify(toks []token) []token {
	if len(toks) > 0 {
		last := &toks[len(toks)-1]
		if !last.isData && !last.isNum {
			switch last.op {
			case txscript.OP_CHECKSIG:
				last.op = txscript.OP_CHECKSIGVERIFY
				return toks

			case txscript.OP_CHECKMULTISIG:
				last.op = txscript.OP_CHECKMULTISIGVERIFY
				return toks

			case txscript.OP_EQUAL:
				last.op = txscript.OP_EQUALVERIFY
				return toks

			case txscript.OP_NUMEQUAL:
				last.op = txscript.OP_NUMEQUALVERIFY
				return toks
			}
		}
	}

	return append(toks, opTok(txscript.OP_VERIFY))
}

// multiKeys returns the serialized keys of a multi fragment in script
// order, sorted for sortedmulti.
func multiKeys(n *Node, resolve keyResolver) ([][]byte, error) {
	pubs := make([][]byte, 0, len(n.keys))
	for _, key := range n.keys {
		pub, err := resolve(key)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub.SerializeCompressed())
	}

	if n.frag == fragSortedMulti {
		sort.Slice(pubs, func(i, j int) bool {
			return bytes.Compare(pubs[i], pubs[j]) < 0
		})
	}

	return pubs, nil
}

// assemble serializes tokens into a script.
func assemble(toks []token) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	for _, t := range toks {
		switch {
		case t.isData:
			b.AddData(t.data)
		case t.isNum:
			b.AddInt64(t.num)
		default:
			b.AddOp(t.op)
		}
	}

	return b.Script()
}
