// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// inputCharset is the character set a descriptor may be written in,
	// ordered so that the low five bits of each position group characters
	// that are likely to be confused with each other.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 alphabet used for the checksum.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// checksumLength is the number of characters in a checksum.
	checksumLength = 8
)

// ErrBadChecksum is returned when a descriptor carries a checksum that does
// not match its body.
var ErrBadChecksum = errors.New("descriptor checksum mismatch")

func polyMod(c uint64, val int) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ uint64(val)
	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}

	return c
}

// Checksum computes the eight character checksum of a descriptor body.
func Checksum(desc string) (string, error) {
	c := uint64(1)
	cls, clsCount := 0, 0
	for i, ch := range desc {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("invalid descriptor character %q "+
				"at position %d", ch, i)
		}

		c = polyMod(c, pos&31)
		cls = cls*3 + (pos >> 5)
		clsCount++
		if clsCount == 3 {
			c = polyMod(c, cls)
			cls, clsCount = 0, 0
		}
	}
	if clsCount > 0 {
		c = polyMod(c, cls)
	}
	for i := 0; i < checksumLength; i++ {
		c = polyMod(c, 0)
	}
	c ^= 1

	var sb strings.Builder
	for j := 0; j < checksumLength; j++ {
		sb.WriteByte(checksumCharset[(c>>(5*(7-j)))&31])
	}

	return sb.String(), nil
}

// StripChecksum returns the descriptor body without its `#checksum` suffix.
// A present checksum is verified first.
func StripChecksum(desc string) (string, error) {
	body, sum, found := strings.Cut(desc, "#")
	if !found {
		return desc, nil
	}

	expected, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if sum != expected {
		return "", fmt.Errorf("%w: got %q, want %q", ErrBadChecksum,
			sum, expected)
	}

	return body, nil
}

// AddChecksum returns desc with its checksum appended.
func AddChecksum(desc string) (string, error) {
	sum, err := Checksum(desc)
	if err != nil {
		return "", err
	}

	return desc + "#" + sum, nil
}
