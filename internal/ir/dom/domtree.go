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

// Package dom computes dominator relationships over an ir.Func's CFG.
// Nothing in the pipeline calls Build, so whether every SSA def
// dominates its uses is not checked during a compilation. Grounded on
// falcon's compile/ssa/domtree.go iterative fixpoint algorithm (Allen
// and Cocke's "Graph-theoretic constructs for program flow analysis"),
// kept as the simple O(n^2) iterative version since these functions are
// small enough that the Lengauer-Tarjan algorithm isn't worth the
// complexity.
package dom

import "github.com/nyxcore/ccx86/internal/ir"

type Tree struct {
	Func *ir.Func
	dom  map[*ir.Block][]*ir.Block
}

func (t *Tree) Dominates(a, b *ir.Block) bool {
	for _, d := range t.dom[b] {
		if d == a {
			return true
		}
	}
	return false
}

func (t *Tree) StrictlyDominates(a, b *ir.Block) bool {
	return a != b && t.Dominates(a, b)
}

func intersect(a, b []*ir.Block) []*ir.Block {
	if len(a) > len(b) {
		a, b = b, a
	}
	var out []*ir.Block
	for _, x := range a {
		for _, y := range b {
			if x == y {
				out = append(out, x)
				break
			}
		}
	}
	return out
}

func union(a, b []*ir.Block) []*ir.Block {
	seen := make(map[*ir.Block]bool)
	for _, x := range a {
		seen[x] = true
	}
	for _, x := range b {
		seen[x] = true
	}
	out := make([]*ir.Block, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	return out
}

// Build computes the dominator sets for every reachable block via
// the classic iterative fixpoint.
func Build(fn *ir.Func) *Tree {
	d := make(map[*ir.Block][]*ir.Block, len(fn.Blocks))
	d[fn.Entry] = []*ir.Block{fn.Entry}
	for _, b := range fn.Blocks {
		if b != fn.Entry {
			d[b] = fn.Blocks
		}
	}
	for changed := true; changed; {
		changed = false
		for _, b := range fn.Blocks {
			if b == fn.Entry || len(b.Preds) == 0 {
				continue
			}
			newDom := d[b.Preds[0]]
			for _, p := range b.Preds[1:] {
				newDom = intersect(newDom, d[p])
			}
			newDom = union(newDom, []*ir.Block{b})
			if len(newDom) != len(d[b]) {
				changed = true
				d[b] = newDom
			}
		}
	}
	return &Tree{Func: fn, dom: d}
}
