// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package descriptor parses output descriptors and derives the scripts,
// addresses, keys and spending policies they describe.
//
// Supported forms are pkh(KEY), wpkh(KEY), sh(wpkh(KEY)), wsh(MS),
// sh(wsh(MS)) and sh(MS), where MS is miniscript or sortedmulti. Keys are
// hex public keys, WIF private keys or extended keys with an optional
// origin, derivation path and trailing wildcard.
package descriptor

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrUnsupported is returned for descriptor types this package does
	// not implement.
	ErrUnsupported = errors.New("unsupported descriptor")

	// ErrWrongNetwork is returned when a key's version bytes do not match
	// the network the descriptor is used on.
	ErrWrongNetwork = errors.New("key is not for the expected network")
)

const (
	// maxStandardP2WSHScriptSize is the largest standard witness script.
	maxStandardP2WSHScriptSize = 3600

	// maxScriptElementSize is the largest push, which bounds a redeem
	// script.
	maxScriptElementSize = 520
)

// Type identifies the outer structure of a descriptor.
type Type uint8

const (
	TypePkh Type = iota
	TypeWpkh
	TypeShWpkh
	TypeSh
	TypeWsh
	TypeShWsh
)

// String returns the descriptor function name for the type.
func (t Type) String() string {
	switch t {
	case TypePkh:
		return "pkh"
	case TypeWpkh:
		return "wpkh"
	case TypeShWpkh:
		return "sh(wpkh)"
	case TypeSh:
		return "sh"
	case TypeWsh:
		return "wsh"
	case TypeShWsh:
		return "sh(wsh)"
	default:
		return "unknown"
	}
}

// IsWitness reports whether spends of the descriptor carry witness data.
func (t Type) IsWitness() bool {
	return t == TypeWpkh || t == TypeShWpkh || t == TypeWsh ||
		t == TypeShWsh
}

// Descriptor is a parsed output descriptor.
type Descriptor struct {
	typ  Type
	key  *Key
	ms   *Node
	body string
	keys []*Key
}

// Parse parses desc, verifying its checksum if one is present.
func Parse(desc string) (*Descriptor, error) {
	body, err := StripChecksum(strings.TrimSpace(desc))
	if err != nil {
		return nil, err
	}

	e, err := parseExpr(body)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{body: body}
	if err := d.parseTop(e); err != nil {
		return nil, err
	}

	if d.key != nil {
		d.keys = []*Key{d.key}
	} else {
		d.ms.walkKeys(func(k *Key) {
			d.keys = append(d.keys, k)
		})
	}

	// Compile once to enforce script size limits.
	if d.ms != nil {
		script, err := d.witnessOrRedeemScript(0)
		if err != nil {
			return nil, err
		}

		limit := maxStandardP2WSHScriptSize
		if d.typ == TypeSh {
			limit = maxScriptElementSize
		}
		if len(script) > limit {
			return nil, fmt.Errorf("script of %d bytes exceeds the "+
				"%d byte limit", len(script), limit)
		}
	}

	log.Tracef("Parsed %v descriptor with %d keys", d.typ, len(d.keys))

	return d, nil
}

func (d *Descriptor) parseTop(e *expr) error {
	single := func(e *expr) (*expr, error) {
		if !e.call || len(e.args) != 1 {
			return nil, fmt.Errorf("%s takes exactly one argument",
				e.name)
		}
		return e.args[0], nil
	}

	keyArg := func(e *expr) (*Key, error) {
		arg, err := single(e)
		if err != nil {
			return nil, err
		}
		s, err := arg.leaf()
		if err != nil {
			return nil, err
		}
		return parseKey(s)
	}

	msArg := func(e *expr) (*Node, error) {
		arg, err := single(e)
		if err != nil {
			return nil, err
		}
		n, err := parseMiniscript(arg, true)
		if err != nil {
			return nil, err
		}
		if n.typ.base != typeB {
			return nil, fmt.Errorf("%w: top level expression is "+
				"%s, not B", ErrTypeCheck, n.typ.base)
		}
		return n, nil
	}

	var err error
	switch e.name {
	case "pkh":
		d.typ = TypePkh
		d.key, err = keyArg(e)

	case "wpkh":
		d.typ = TypeWpkh
		d.key, err = keyArg(e)

	case "wsh":
		d.typ = TypeWsh
		d.ms, err = msArg(e)

	case "sh":
		inner, serr := single(e)
		if serr != nil {
			return serr
		}
		switch inner.name {
		case "wpkh":
			d.typ = TypeShWpkh
			d.key, err = keyArg(inner)

		case "wsh":
			d.typ = TypeShWsh
			d.ms, err = msArg(inner)

		default:
			d.typ = TypeSh
			d.ms, err = msArg(e)
		}

	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, e.name)
	}

	return err
}

// String returns the descriptor with its checksum.
func (d *Descriptor) String() string {
	s, err := AddChecksum(d.body)
	if err != nil {
		return d.body
	}

	return s
}

// Body returns the descriptor without checksum.
func (d *Descriptor) Body() string {
	return d.body
}

// Type returns the outer descriptor type.
func (d *Descriptor) Type() Type {
	return d.typ
}

// Keys returns every key expression in script order.
func (d *Descriptor) Keys() []*Key {
	return d.keys
}

// IsRange reports whether any key has a wildcard.
func (d *Descriptor) IsRange() bool {
	for _, k := range d.keys {
		if k.IsRange() {
			return true
		}
	}

	return false
}

// HasPrivateKeys reports whether at least one key can sign.
func (d *Descriptor) HasPrivateKeys() bool {
	for _, k := range d.keys {
		if k.HasPrivate() {
			return true
		}
	}

	return false
}

// CheckNetwork returns ErrWrongNetwork if any encoded key belongs to a
// network other than net.
func (d *Descriptor) CheckNetwork(net *chaincfg.Params) error {
	for _, k := range d.keys {
		if !k.IsForNet(net) {
			return fmt.Errorf("%w: %s on %s", ErrWrongNetwork,
				k.String(), net.Name)
		}
	}

	return nil
}

// InferNetwork returns mainnet if the descriptor mentions an xpub or xprv
// and testnet3 otherwise.
func InferNetwork(desc string) *chaincfg.Params {
	if strings.Contains(desc, "xpub") || strings.Contains(desc, "xprv") {
		return &chaincfg.MainNetParams
	}

	return &chaincfg.TestNet3Params
}

// Policy returns the lifted spending policy. A nil policy means spending is
// unconditional.
func (d *Descriptor) Policy() *Policy {
	if d.key != nil {
		return signaturePolicy(d.key)
	}

	return d.ms.lift()
}

// Derived is a descriptor instantiated at one derivation index.
type Derived struct {
	Index         uint32
	PkScript      []byte
	RedeemScript  []byte
	WitnessScript []byte

	// Keys holds the derived keys in descriptor order.
	Keys []*DerivedKey

	desc    *Descriptor
	derived map[*Key]*DerivedKey
}

// Derive instantiates the descriptor at index.
func (d *Descriptor) Derive(index uint32) (*Derived, error) {
	out := &Derived{
		Index:   index,
		desc:    d,
		derived: make(map[*Key]*DerivedKey, len(d.keys)),
	}
	for _, k := range d.keys {
		dk, err := k.Derive(index)
		if err != nil {
			return nil, err
		}
		out.Keys = append(out.Keys, dk)
		out.derived[k] = dk
	}

	var err error
	switch d.typ {
	case TypePkh:
		out.PkScript, err = payToPubKeyHash(out.Keys[0])

	case TypeWpkh:
		out.PkScript, err = witnessV0KeyHash(out.Keys[0])

	case TypeShWpkh:
		out.RedeemScript, err = witnessV0KeyHash(out.Keys[0])
		if err == nil {
			out.PkScript, err = payToScriptHash(out.RedeemScript)
		}

	case TypeSh:
		out.RedeemScript, err = d.compile(out.derived)
		if err == nil {
			out.PkScript, err = payToScriptHash(out.RedeemScript)
		}

	case TypeWsh:
		out.WitnessScript, err = d.compile(out.derived)
		if err == nil {
			out.PkScript, err = witnessV0ScriptHash(out.WitnessScript)
		}

	case TypeShWsh:
		out.WitnessScript, err = d.compile(out.derived)
		if err == nil {
			out.RedeemScript, err = witnessV0ScriptHash(
				out.WitnessScript,
			)
		}
		if err == nil {
			out.PkScript, err = payToScriptHash(out.RedeemScript)
		}
	}
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (d *Descriptor) compile(keys map[*Key]*DerivedKey) ([]byte, error) {
	toks, err := d.ms.compile(pubKeyResolver(keys))
	if err != nil {
		return nil, err
	}

	return assemble(toks)
}

// witnessOrRedeemScript compiles the miniscript at index.
func (d *Descriptor) witnessOrRedeemScript(index uint32) ([]byte, error) {
	derived, err := d.Derive(index)
	if err != nil {
		return nil, err
	}
	if d.typ == TypeSh {
		return derived.RedeemScript, nil
	}

	return derived.WitnessScript, nil
}

// Address returns the address of the derived script on net.
func (d *Derived) Address(net *chaincfg.Params) (btcutil.Address, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(d.PkScript, net)
	if err != nil {
		return nil, err
	}
	if len(addrs) != 1 {
		return nil, fmt.Errorf("script %x has no single address",
			d.PkScript)
	}

	return addrs[0], nil
}

// Descriptor returns the descriptor d was derived from.
func (d *Derived) Descriptor() *Descriptor {
	return d.desc
}

// Satisfy builds the final input scripts from the given signatures, keyed by
// hex encoded compressed public key. lockTime, sequence and version describe
// the spending transaction and input so timelocks can be checked.
func (d *Derived) Satisfy(sigs map[string][]byte, lockTime, sequence uint32,
	version int32) ([]byte, wire.TxWitness, error) {

	s := &satisfier{
		sigs:     sigs,
		resolve:  pubKeyResolver(d.derived),
		lockTime: lockTime,
		sequence: sequence,
		version:  version,
	}

	var w witness
	switch d.desc.typ {
	case TypePkh, TypeWpkh, TypeShWpkh:
		pk, _ := s.satisfy(&Node{frag: fragPkH, keys: d.desc.keys})
		w = pk

	default:
		w, _ = s.satisfy(d.desc.ms)
	}
	if !w.ok {
		return nil, nil, ErrCannotSatisfy
	}

	switch d.desc.typ {
	case TypePkh:
		sigScript, err := pushAll(w.stack)
		return sigScript, nil, err

	case TypeWpkh:
		return nil, w.stack, nil

	case TypeShWpkh:
		sigScript, err := pushAll([][]byte{d.RedeemScript})
		return sigScript, w.stack, err

	case TypeSh:
		sigScript, err := pushAll(append(w.stack, d.RedeemScript))
		return sigScript, nil, err

	case TypeWsh:
		return nil, append(w.stack, d.WitnessScript), nil

	default:
		sigScript, err := pushAll([][]byte{d.RedeemScript})
		return sigScript, append(w.stack, d.WitnessScript), err
	}
}

func pushAll(items [][]byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	for _, item := range items {
		b.AddData(item)
	}

	return b.Script()
}

func payToPubKeyHash(k *DerivedKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(k.PubKey.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func witnessV0KeyHash(k *DerivedKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(k.PubKey.SerializeCompressed())).
		Script()
}

func witnessV0ScriptHash(script []byte) ([]byte, error) {
	h := sha256.Sum256(script)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(h[:]).
		Script()
}

func payToScriptHash(script []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(script)).
		AddOp(txscript.OP_EQUAL).
		Script()
}
