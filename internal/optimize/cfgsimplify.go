// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package optimize

import "github.com/nyxcore/ccx86/internal/ir"

// runCFGSimplify implements spec.md 4.5 pass 9: iterated to a fixpoint
// over two rules - merging a block into its sole predecessor when the
// edge between them is the only one on both sides, and bypassing an
// empty unconditional-branch block by redirecting its predecessors
// straight to its target. Grounded on falcon's optimize.go simplifyCFG,
// widened with transitive bypass (cycle-guarded) and block tombstoning
// so BlockId indexing survives a merge, which falcon's version - which
// runs inside an uncapped Ideal() loop instead of being its own fixed
// pass - does not need.
func runCFGSimplify(fn *ir.Func) bool {
	changed := false
	for {
		round := false
		round = mergeStraightLineBlocks(fn) || round
		round = bypassEmptyBlocks(fn) || round
		if !round {
			break
		}
		changed = true
	}
	return changed
}

// mergeStraightLineBlocks folds b's sole successor s into b when s has no
// other predecessor and is not otherwise reachable by name (no phis to
// preserve, since a phi in s would mean some other edge still targets
// it - ruled out by the single-predecessor check already).
func mergeStraightLineBlocks(fn *ir.Func) bool {
	changed := false
	for i := 0; i < len(fn.Blocks); i++ {
		b := fn.Blocks[i]
		if b.Kind == ir.BlockDead || b.Kind != ir.BlockGoto || len(b.Succs) != 1 {
			continue
		}
		s := b.Succs[0]
		if s == b || len(s.Preds) != 1 || hasPhi(s) {
			continue
		}
		for _, v := range s.Values {
			v.Block = b
		}
		b.Values = append(b.Values, s.Values...)
		b.Kind = s.Kind
		b.Ctrl = s.Ctrl
		b.Succs = s.Succs
		for _, succ := range b.Succs {
			for j, p := range succ.Preds {
				if p == s {
					succ.Preds[j] = b
				}
			}
		}
		tombstone(fn, s)
		changed = true
		i--
	}
	return changed
}

// bypassEmptyBlocks redirects every predecessor of an empty
// unconditional-branch block straight to its target, walking transitive
// chains of such blocks with a visited guard against cycles (an
// unreachable infinite Goto loop with no other content).
func bypassEmptyBlocks(fn *ir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		if b.Kind == ir.BlockDead || len(b.Values) != 0 || b.Kind != ir.BlockGoto || len(b.Succs) != 1 {
			continue
		}
		if b == fn.Entry {
			continue
		}
		target := finalTarget(b)
		if target == b {
			continue
		}
		redirectPredecessors(b, target)
		changed = true
	}
	return pruneDeadEmptyBlocks(fn) || changed
}

// finalTarget follows a chain of empty unconditional-branch blocks to
// its ultimate destination, bailing out on a cycle.
func finalTarget(b *ir.Block) *ir.Block {
	visited := map[*ir.Block]bool{b: true}
	cur := b
	for len(cur.Values) == 0 && cur.Kind == ir.BlockGoto && len(cur.Succs) == 1 {
		next := cur.Succs[0]
		if visited[next] {
			return cur
		}
		visited[next] = true
		cur = next
	}
	return cur
}

// redirectPredecessors points every predecessor of the empty block b
// directly at target instead. Every such predecessor observes whatever
// value target's phis already associate with the edge from b - b
// computes nothing, so a direct edge carries the identical value.
func redirectPredecessors(b, target *ir.Block) {
	valueForB := make(map[*ir.Value]*ir.Value)
	for _, val := range target.Values {
		if val.Op != ir.OpPhi {
			continue
		}
		for i, p := range target.Preds {
			if p == b {
				valueForB[val] = val.Args[i]
			}
		}
	}

	for _, pred := range append([]*ir.Block(nil), b.Preds...) {
		for i, s := range pred.Succs {
			if s == b {
				pred.Succs[i] = target
			}
		}
		target.Preds = append(target.Preds, pred)
		for _, val := range target.Values {
			if val.Op == ir.OpPhi {
				val.AddArg(valueForB[val])
			}
		}
	}

	for i, p := range target.Preds {
		if p != b {
			continue
		}
		for _, val := range target.Values {
			if val.Op == ir.OpPhi {
				val.Args[i].RemoveUse(val)
				val.Args = append(val.Args[:i], val.Args[i+1:]...)
			}
		}
		target.Preds = append(target.Preds[:i], target.Preds[i+1:]...)
		break
	}
	b.Preds = nil
}

// pruneDeadEmptyBlocks removes bypassed blocks (now predecessor-less,
// not the entry) from the function's block list entirely.
func pruneDeadEmptyBlocks(fn *ir.Func) bool {
	changed := false
	for i := len(fn.Blocks) - 1; i >= 0; i-- {
		b := fn.Blocks[i]
		if b == fn.Entry || b.Kind == ir.BlockDead || len(b.Preds) != 0 {
			continue
		}
		if len(b.Values) != 0 || b.Kind != ir.BlockGoto {
			continue
		}
		for _, s := range b.Succs {
			s.RemovePred(b)
		}
		fn.RemoveBlock(b)
		changed = true
	}
	return changed
}

func hasPhi(b *ir.Block) bool {
	for _, v := range b.Values {
		if v.Op == ir.OpPhi {
			return true
		}
	}
	return false
}

// tombstone neutralizes a merged-away block instead of compacting
// fn.Blocks, so every surviving Block's Id stays a stable index for any
// side table keyed by it (e.g. a future liveness/interval pass).
func tombstone(fn *ir.Func, b *ir.Block) {
	b.Kind = ir.BlockDead
	b.Values = nil
	b.Succs = nil
	b.Preds = nil
	b.Ctrl = nil
}
