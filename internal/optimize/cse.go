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

import (
	"fmt"

	"github.com/nyxcore/ccx86/internal/ir"
)

// runCSE implements spec.md 4.5 pass 6: per basic block, hash each
// Binary by (op, sorted-operands-if-commutative) and replace duplicates
// with a Copy of the first result; the table resets at block
// boundaries. A Volatile Load is never a CSE candidate - each occurrence
// observes a potentially different value. Grounded on falcon's
// optimize.go hash() stub (never actually wired into a pass there); this
// repo wires the equivalent table into a real per-block CSE pass.
func runCSE(fn *ir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		seen := make(map[string]*ir.Value)
		kept := b.Values[:0:0]
		for _, v := range b.Values {
			key, ok := cseKey(v)
			if !ok {
				kept = append(kept, v)
				continue
			}
			if first, ok := seen[key]; ok {
				cp := b.NewValue(ir.OpCopy, v.Type, first)
				v.ReplaceUses(cp)
				for _, arg := range v.Args {
					arg.RemoveUse(v)
				}
				changed = true
				continue
			}
			seen[key] = v
			kept = append(kept, v)
		}
		b.Values = kept
	}
	return changed
}

func cseKey(v *ir.Value) (string, bool) {
	switch {
	case isBinaryOp(v.Op) && len(v.Args) == 2:
		a, c := v.Args[0].ID, v.Args[1].ID
		if isCommutative(v.Op) && a > c {
			a, c = c, a
		}
		return fmt.Sprintf("%v:%d:%d", v.Op, a, c), true
	case v.Op == ir.OpNeg || v.Op == ir.OpNot:
		return fmt.Sprintf("%v:%d", v.Op, v.Args[0].ID), true
	default:
		return "", false
	}
}
