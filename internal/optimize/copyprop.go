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

// runCopyPropagation implements spec.md 4.5 pass 4: collect every Copy,
// transitively resolve chains with cycle detection, rewrite every
// operand reference via ReplaceUses (which already reaches Phi/Call/
// terminator operand positions since they're all just Args/UseBlock),
// then remove the now-dead copies.
func runCopyPropagation(fn *ir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if v.Op != ir.OpCopy {
				continue
			}
			root := resolveCopyChain(v)
			if root == v {
				continue
			}
			v.ReplaceUses(root)
			changed = true
		}
	}
	for _, b := range fn.Blocks {
		kept := b.Values[:0:0]
		for _, v := range b.Values {
			if v.Op == ir.OpCopy && len(v.Uses) == 0 && len(v.UseBlock) == 0 {
				for _, arg := range v.Args {
					arg.RemoveUse(v)
				}
				changed = true
				continue
			}
			kept = append(kept, v)
		}
		b.Values = kept
	}
	return changed
}

// resolveCopyChain follows a chain of Copy->Copy->...->root, guarding
// against cycles (which should never occur in valid SSA, but a defensive
// visited set costs nothing and matches spec.md 4.5's explicit call-out).
func resolveCopyChain(v *ir.Value) *ir.Value {
	seen := map[*ir.Value]bool{v: true}
	cur := v
	for cur.Op == ir.OpCopy && len(cur.Args) == 1 {
		next := cur.Args[0]
		if seen[next] {
			return cur
		}
		seen[next] = true
		cur = next
	}
	return cur
}
