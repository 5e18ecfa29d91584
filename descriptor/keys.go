// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrHardenedFromPublic is returned when a hardened step is requested
	// below an extended public key.
	ErrHardenedFromPublic = errors.New("cannot derive a hardened child " +
		"from an extended public key")

	// ErrUncompressedKey is returned for keys that are not 33 byte
	// compressed public keys. Only compressed keys are valid in segwit
	// scripts, so they are rejected everywhere for simplicity.
	ErrUncompressedKey = errors.New("uncompressed keys are not supported")

	// ErrIndexOutOfRange is returned when a wildcard is derived at an
	// index in the hardened range.
	ErrIndexOutOfRange = errors.New("derivation index must be below 2^31")
)

// wildcard describes the final derivation step of a ranged key.
type wildcard uint8

const (
	wildcardNone wildcard = iota
	wildcardUnhardened
	wildcardHardened
)

// KeyOrigin is the `[fingerprint/path]` prefix of a key expression.
type KeyOrigin struct {
	// Fingerprint is the master key fingerprint in the little-endian form
	// used by BIP32 derivation records in a PSBT.
	Fingerprint uint32

	// Path is the derivation path from the master key to the key that
	// follows the origin.
	Path []uint32
}

// Key is a single key expression inside a descriptor: a hex public key, a WIF
// private key or an extended key with an optional derivation path and
// wildcard.
type Key struct {
	raw    string
	origin *KeyOrigin

	pub  *btcec.PublicKey
	priv *btcec.PrivateKey
	wif  *btcutil.WIF

	// xkey is the parsed extended key, base is xkey derived along path,
	// ready for the final wildcard step.
	xkey     *hdkeychain.ExtendedKey
	base     *hdkeychain.ExtendedKey
	path     []uint32
	wildcard wildcard
}

// DerivedKey is a concrete key produced from a Key at a given index along
// with the BIP32 information a PSBT needs to describe it.
type DerivedKey struct {
	PubKey *btcec.PublicKey

	// PrivKey is nil for watch-only keys.
	PrivKey *btcec.PrivateKey

	Fingerprint uint32
	Path        []uint32
}

// parseKey parses a key expression.
func parseKey(s string) (*Key, error) {
	k := &Key{raw: s}

	rest := s
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("key origin not closed in %q", s)
		}

		origin, err := parseOrigin(rest[1:end])
		if err != nil {
			return nil, err
		}
		k.origin = origin
		rest = rest[end+1:]
	}

	parts := strings.Split(rest, "/")
	keyStr := parts[0]
	if keyStr == "" {
		return nil, fmt.Errorf("empty key in %q", s)
	}

	// Plain hex public key.
	if isHex(keyStr) {
		if len(parts) > 1 {
			return nil, fmt.Errorf("derivation path after "+
				"non-extended key %q", s)
		}
		if len(keyStr) != 2*btcec.PubKeyBytesLenCompressed {
			return nil, ErrUncompressedKey
		}

		raw, _ := hex.DecodeString(keyStr)
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid public key %q: %w",
				keyStr, err)
		}
		k.pub = pub

		return k, nil
	}

	// WIF private key.
	if wif, err := btcutil.DecodeWIF(keyStr); err == nil {
		if len(parts) > 1 {
			return nil, fmt.Errorf("derivation path after "+
				"non-extended key %q", s)
		}
		if !wif.CompressPubKey {
			return nil, ErrUncompressedKey
		}
		k.wif = wif
		k.priv = wif.PrivKey
		k.pub = wif.PrivKey.PubKey()

		return k, nil
	}

	xkey, err := hdkeychain.NewKeyFromString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid key %q: %w", keyStr, err)
	}
	k.xkey = xkey

	for i, elem := range parts[1:] {
		last := i == len(parts)-2
		switch {
		case elem == "*" && last:
			k.wildcard = wildcardUnhardened
			continue

		case (elem == "*'" || elem == "*h") && last:
			if !xkey.IsPrivate() {
				return nil, ErrHardenedFromPublic
			}
			k.wildcard = wildcardHardened
			continue
		}

		step, err := parsePathElement(elem)
		if err != nil {
			return nil, err
		}
		k.path = append(k.path, step)
	}

	k.base = xkey
	for _, step := range k.path {
		if step >= hdkeychain.HardenedKeyStart && !xkey.IsPrivate() {
			return nil, ErrHardenedFromPublic
		}

		k.base, err = k.base.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("unable to derive %q: %w", s, err)
		}
	}

	return k, nil
}

func parseOrigin(s string) (*KeyOrigin, error) {
	parts := strings.Split(s, "/")
	if len(parts[0]) != 8 || !isHex(parts[0]) {
		return nil, fmt.Errorf("invalid key origin fingerprint %q",
			parts[0])
	}

	fp, _ := hex.DecodeString(parts[0])
	origin := &KeyOrigin{
		Fingerprint: binary.LittleEndian.Uint32(fp),
	}
	for _, elem := range parts[1:] {
		step, err := parsePathElement(elem)
		if err != nil {
			return nil, err
		}
		origin.Path = append(origin.Path, step)
	}

	return origin, nil
}

func parsePathElement(elem string) (uint32, error) {
	hardened := false
	if strings.HasSuffix(elem, "'") || strings.HasSuffix(elem, "h") {
		hardened = true
		elem = elem[:len(elem)-1]
	}

	idx, err := strconv.ParseUint(elem, 10, 32)
	if err != nil || idx >= hdkeychain.HardenedKeyStart {
		return 0, fmt.Errorf("invalid derivation path element %q", elem)
	}

	if hardened {
		return uint32(idx) + hdkeychain.HardenedKeyStart, nil
	}

	return uint32(idx), nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}

	return true
}

// String returns the key expression as written.
func (k *Key) String() string {
	return k.raw
}

// PublicString returns the key expression with a private key replaced by its
// public counterpart. Origin and derivation path are kept as written.
func (k *Key) PublicString() string {
	if !k.HasPrivate() {
		return k.raw
	}

	var pub string
	if k.xkey != nil {
		neutered, err := k.xkey.Neuter()
		if err != nil {
			return ""
		}
		pub = neutered.String()
	} else {
		pub = hex.EncodeToString(k.pub.SerializeCompressed())
	}

	prefix, rest := "", k.raw
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		prefix, rest = rest[:end+1], rest[end+1:]
	}

	var suffix string
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		suffix = rest[i:]
	}

	return prefix + pub + suffix
}

// IsRange reports whether the key ends in a wildcard.
func (k *Key) IsRange() bool {
	return k.wildcard != wildcardNone
}

// HasPrivate reports whether the key can produce signatures.
func (k *Key) HasPrivate() bool {
	if k.xkey != nil {
		return k.xkey.IsPrivate()
	}

	return k.priv != nil
}

// IsForNet reports whether encoded private or extended keys carry the
// version bytes of the given network. Hex public keys are network agnostic.
func (k *Key) IsForNet(net *chaincfg.Params) bool {
	switch {
	case k.xkey != nil:
		return k.xkey.IsForNet(net)

	case k.wif != nil:
		return k.wif.IsForNet(net)

	default:
		return true
	}
}

// Origin returns the key origin, nil if none was given.
func (k *Key) Origin() *KeyOrigin {
	return k.origin
}

// Derive returns the concrete key at index. The index is ignored for keys
// without a wildcard and must be below hdkeychain.HardenedKeyStart for keys
// with one.
func (k *Key) Derive(index uint32) (*DerivedKey, error) {
	if k.xkey == nil {
		d := &DerivedKey{
			PubKey:      k.pub,
			PrivKey:     k.priv,
			Fingerprint: keyFingerprint(k.pub),
		}
		if k.origin != nil {
			d.Fingerprint = k.origin.Fingerprint
			d.Path = append([]uint32(nil), k.origin.Path...)
		}

		return d, nil
	}

	child := k.base
	var path []uint32
	if k.origin != nil {
		path = append(path, k.origin.Path...)
	}
	path = append(path, k.path...)

	if k.wildcard != wildcardNone {
		if index >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange,
				index)
		}

		step := index
		if k.wildcard == wildcardHardened {
			step += hdkeychain.HardenedKeyStart
		}

		var err error
		child, err = k.base.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("unable to derive index %d of "+
				"%s: %w", index, k.raw, err)
		}
		path = append(path, step)
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return nil, err
	}

	d := &DerivedKey{
		PubKey: pub,
		Path:   path,
	}
	if child.IsPrivate() {
		d.PrivKey, err = child.ECPrivKey()
		if err != nil {
			return nil, err
		}
	}

	if k.origin != nil {
		d.Fingerprint = k.origin.Fingerprint
	} else {
		rootPub, err := k.xkey.ECPubKey()
		if err != nil {
			return nil, err
		}
		d.Fingerprint = keyFingerprint(rootPub)
	}

	return d, nil
}

// keyFingerprint returns the BIP32 fingerprint of a public key.
func keyFingerprint(pub *btcec.PublicKey) uint32 {
	h := btcutil.Hash160(pub.SerializeCompressed())
	return binary.LittleEndian.Uint32(h[:4])
}
