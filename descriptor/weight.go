// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
)

const scale = blockchain.WitnessScaleFactor

// pushOpcodeSize is the size of the opcode needed to push n bytes.
func pushOpcodeSize(n int) int {
	switch {
	case n < 0x4c:
		return 1
	case n < 0x100:
		return 2
	case n < 0x10000:
		return 3
	default:
		return 5
	}
}

func varIntLen(n int) int {
	return wire.VarIntSerializeSize(uint64(n))
}

// MaxSatisfactionWeight returns an upper bound, in weight units, of the
// scriptSig and witness that spending one output of the descriptor adds to
// the transaction, including the scriptSig length byte.
func (d *Descriptor) MaxSatisfactionWeight() (int, error) {
	switch d.typ {
	case TypePkh:
		return scale * (1 + maxSigSize + pubKeySize), nil

	case TypeWpkh:
		return scale + 1 + maxSigSize + pubKeySize, nil

	case TypeShWpkh:
		return scale*24 + 1 + maxSigSize + pubKeySize, nil
	}

	script, err := d.witnessOrRedeemScript(0)
	if err != nil {
		return 0, err
	}

	sat, _ := d.ms.maxSatisfaction()
	if !sat.ok {
		return 0, ErrCannotSatisfy
	}

	ss := len(script)
	switch d.typ {
	case TypeWsh:
		return scale + varIntLen(ss) + ss + varIntLen(sat.elems+1) +
			sat.size, nil

	case TypeShWsh:
		return scale*36 + varIntLen(ss) + ss + varIntLen(sat.elems+1) +
			sat.size, nil

	default:
		sigScriptLen := pushOpcodeSize(ss) + ss + sat.size
		return scale * (varIntLen(sigScriptLen) + sigScriptLen), nil
	}
}
