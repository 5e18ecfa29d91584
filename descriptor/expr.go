// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"
	"strings"
)

// expr is a generic `name(arg,arg,...)` tree. Leaves carry key expressions
// and numbers verbatim.
type expr struct {
	name string
	args []*expr
	call bool
}

type exprParser struct {
	s   string
	pos int
}

// parseExpr parses s as a single expression tree.
func parseExpr(s string) (*expr, error) {
	p := &exprParser{s: s}
	e, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.pos != len(s) {
		return nil, fmt.Errorf("unexpected %q at position %d", s[p.pos],
			p.pos)
	}

	return e, nil
}

func (p *exprParser) parse() (*expr, error) {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '[' {
			end := strings.IndexByte(p.s[p.pos:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '[' at position %d",
					p.pos)
			}
			p.pos += end + 1

			continue
		}
		if c == '(' || c == ',' || c == ')' {
			break
		}
		p.pos++
	}

	e := &expr{name: p.s[start:p.pos]}
	if p.pos >= len(p.s) || p.s[p.pos] != '(' {
		return e, nil
	}

	e.call = true
	p.pos++
	for {
		arg, err := p.parse()
		if err != nil {
			return nil, err
		}
		e.args = append(e.args, arg)

		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("unclosed '(' in %q", e.name)
		}

		c := p.s[p.pos]
		p.pos++
		if c == ')' {
			return e, nil
		}
		if c != ',' {
			return nil, fmt.Errorf("unexpected %q at position %d", c,
				p.pos-1)
		}
	}
}

// leaf returns the verbatim text of a leaf expression.
func (e *expr) leaf() (string, error) {
	if e.call || e.name == "" {
		return "", fmt.Errorf("expected a key or number, got %q", e.name)
	}

	return e.name, nil
}
