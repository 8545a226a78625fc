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

// runPhiRemoval implements spec.md 4.5 pass 8: for each `Phi v = [op_i
// from B_i]`, append `Copy v <- op_i` at the end of predecessor B_i, just
// before its terminator, then delete the phi. After this pass the IR is
// no longer SSA - this is the deliberate hand-off point to register
// allocation (spec.md 3's SSA-vs-non-SSA regime note).
//
// A phi's consumers keep referencing the phi Value itself (it is not
// rewritten away): the phi's identity becomes the shared destination
// that every predecessor's Copy feeds, via CoalesceWith, which
// instruction selection (internal/codegen/x86's Selector.vreg) turns into
// one virtual register shared by the phi and each feeding Copy; every
// Copy is still emitted as a mov into it (spec.md 4.6's coalescing
// hints). Only the
// phi's own instruction entry is removed from its block; its Value
// object, Type and Uses survive untouched.
func runPhiRemoval(fn *ir.Func) {
	for _, b := range fn.Blocks {
		var phis []*ir.Value
		for _, v := range b.Values {
			if v.Op == ir.OpPhi {
				phis = append(phis, v)
			}
		}
		for _, phi := range phis {
			for i, pred := range b.Preds {
				src := phi.Args[i]
				cp := pred.NewValue(ir.OpCopy, phi.Type, src)
				cp.CoalesceWith = phi
			}
			removePhiInstruction(b, phi)
		}
	}
}

// removePhiInstruction drops phi from b's instruction list without
// touching its Uses (unlike Block.RemoveValue, which assumes the value
// is truly dead). Its Args are released since the phi no longer reads
// them - each predecessor's Copy reads the original operand directly.
func removePhiInstruction(b *ir.Block, phi *ir.Value) {
	for i, v := range b.Values {
		if v == phi {
			b.Values = append(b.Values[:i], b.Values[i+1:]...)
			break
		}
	}
	for _, arg := range phi.Args {
		arg.RemoveUse(phi)
	}
	phi.Args = nil
}
