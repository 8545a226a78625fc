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

package ir

import "fmt"

// VerifySSA checks the structural invariants spec.md 9 requires of the
// IR while it is still in SSA form: every block is reachable from
// entry, every phi has exactly one argument per predecessor, and every
// block's successor count matches its Kind. Grounded on falcon's
// hir.go VerifyHIR. Neither internal/compiler nor internal/optimize
// calls it, so a compilation does not check these invariants.
func VerifySSA(fn *Func) error {
	reachable := reachableBlocks(fn)
	for _, b := range fn.Blocks {
		if b.Kind == BlockDead {
			continue
		}
		if !reachable[b] {
			return fmt.Errorf("ir: block b%d unreachable from entry", b.ID)
		}
		for _, v := range b.Values {
			if v.Op != OpPhi {
				continue
			}
			if len(v.Args) != len(b.Preds) {
				return fmt.Errorf("ir: b%d phi v%d has %d args for %d preds",
					b.ID, v.ID, len(v.Args), len(b.Preds))
			}
		}
		switch b.Kind {
		case BlockGoto:
			if len(b.Succs) != 1 {
				return fmt.Errorf("ir: b%d is Goto with %d succs", b.ID, len(b.Succs))
			}
		case BlockIf:
			if len(b.Succs) != 2 {
				return fmt.Errorf("ir: b%d is If with %d succs", b.ID, len(b.Succs))
			}
			if b.Ctrl == nil {
				return fmt.Errorf("ir: b%d is If with no Ctrl", b.ID)
			}
		case BlockReturn:
			if len(b.Succs) != 0 {
				return fmt.Errorf("ir: b%d is Return with %d succs", b.ID, len(b.Succs))
			}
		}
	}
	return nil
}

// AssertNoPhi checks spec.md 4.5 pass 8's postcondition: after phi
// removal the IR carries no OpPhi values anywhere. Nothing in the
// pipeline calls it; instruction selection receives the optimized
// function unchecked.
func AssertNoPhi(fn *Func) error {
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if v.Op == OpPhi {
				return fmt.Errorf("ir: b%d still has phi v%d after phi removal", b.ID, v.ID)
			}
		}
	}
	return nil
}

func reachableBlocks(fn *Func) map[*Block]bool {
	seen := make(map[*Block]bool)
	var visit func(b *Block)
	visit = func(b *Block) {
		if seen[b] {
			return
		}
		seen[b] = true
		for _, s := range b.Succs {
			visit(s)
		}
	}
	visit(fn.Entry)
	return seen
}
