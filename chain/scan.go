// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"fmt"
)

// scriptResult is what a backend learned about one script.
type scriptResult struct {
	used  bool
	utxos []*Utxo
}

// batchProbe looks up a batch of scripts, returning one result per script in
// the same order.
type batchProbe func(ctx context.Context, scripts [][]byte) ([]scriptResult,
	error)

// scanBranches walks the external and internal branches of cache in batches
// of stopGap scripts until stopGap consecutive scripts without history have
// been seen on each.
func scanBranches(ctx context.Context, cache Cache, stopGap uint32,
	probe batchProbe) error {

	if stopGap == 0 {
		stopGap = DefaultStopGap
	}

	for _, branch := range []uint32{ExternalBranch, InternalBranch} {
		if err := scanBranch(ctx, cache, branch, stopGap, probe); err != nil {
			return err
		}
	}

	return nil
}

func scanBranch(ctx context.Context, cache Cache, branch, stopGap uint32,
	probe batchProbe) error {

	ranged := cache.IsRange(branch)
	batch := stopGap
	if !ranged {
		batch = 1
	}

	var index, gap, found uint32
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		scripts := make([][]byte, batch)
		for i := range scripts {
			script, err := cache.ScriptAt(branch, index+uint32(i))
			if err != nil {
				return err
			}
			scripts[i] = script
		}

		results, err := probe(ctx, scripts)
		if err != nil {
			return err
		}
		if len(results) != len(scripts) {
			return fmt.Errorf("backend returned %d results for %d "+
				"scripts", len(results), len(scripts))
		}

		for i, res := range results {
			idx := index + uint32(i)
			if !res.used {
				gap++
				continue
			}

			gap = 0
			cache.MarkUsed(branch, idx)
			for _, utxo := range res.utxos {
				if err := cache.AddUtxo(branch, idx, utxo); err != nil {
					return err
				}
				found++
			}
		}

		if !ranged || gap >= stopGap {
			break
		}
		index += batch
	}

	log.Debugf("Scanned branch %d up to index %d, found %d unspent "+
		"outputs", branch, index+batch-1, found)

	return nil
}
