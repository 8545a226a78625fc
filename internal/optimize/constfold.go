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

const constFoldDCECap = 10

// runConstantFoldAndDCE implements spec.md 4.5 pass 7: a fixpoint loop
// (capped at 10 rounds) that evaluates Binary/Unary ops with all-constant
// operands, folds CondBr(constant, ...) to an unconditional Br, and
// interleaves dead code elimination - an instruction whose result is
// unused and whose op is pure is removed. Grounded on falcon's dce()/
// isPinned/FindReachableBlocks, widened with constant folding and capped
// iteration instead of falcon's uncapped Ideal() loop (spec.md 4.5 runs
// the whole nine-pass pipeline exactly once; only this sub-step, up to
// the stated cap, and pass 9's CFG simplification iterate).
func runConstantFoldAndDCE(fn *ir.Func) bool {
	changed := false
	for round := 0; round < constFoldDCECap; round++ {
		roundChanged := false
		roundChanged = foldConstants(fn) || roundChanged
		roundChanged = foldConstBranches(fn) || roundChanged
		roundChanged = removeUnreachableBlocks(fn) || roundChanged
		roundChanged = eliminateDeadValues(fn) || roundChanged
		if !roundChanged {
			break
		}
		changed = true
	}
	return changed
}

func foldConstants(fn *ir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if repl := foldValue(v); repl != nil {
				v.ReplaceUses(repl)
				for _, arg := range v.Args {
					arg.RemoveUse(v)
				}
				b.RemoveValue(v)
				changed = true
			}
		}
	}
	return changed
}

func foldValue(v *ir.Value) *ir.Value {
	switch {
	case isBinaryOp(v.Op) && len(v.Args) == 2:
		return foldBinary(v)
	case (v.Op == ir.OpNeg || v.Op == ir.OpNot) && len(v.Args) == 1:
		return foldUnary(v)
	case v.Op == ir.OpCopy && len(v.Args) == 1 && isConst(v.Args[0]):
		return v.Args[0]
	}
	return nil
}

func foldBinary(v *ir.Value) *ir.Value {
	x, xok := intConst(v.Args[0])
	y, yok := intConst(v.Args[1])
	if !xok || !yok {
		return nil
	}
	var result int64
	switch v.Op {
	case ir.OpAdd:
		result = x + y
	case ir.OpSub:
		result = x - y
	case ir.OpMul:
		result = x * y
	case ir.OpDiv:
		if y == 0 {
			return nil
		}
		result = x / y
	case ir.OpMod:
		if y == 0 {
			return nil
		}
		result = x % y
	case ir.OpAnd:
		result = x & y
	case ir.OpOr:
		result = x | y
	case ir.OpXor:
		result = x ^ y
	case ir.OpShl:
		result = x << uint64(y)
	case ir.OpShr:
		result = x >> uint64(y)
	case ir.OpCmpEQ:
		result = boolInt(x == y)
	case ir.OpCmpNE:
		result = boolInt(x != y)
	case ir.OpCmpLT:
		result = boolInt(x < y)
	case ir.OpCmpLE:
		result = boolInt(x <= y)
	case ir.OpCmpGT:
		result = boolInt(x > y)
	case ir.OpCmpGE:
		result = boolInt(x >= y)
	default:
		return nil
	}
	c := v.Block.NewValue(ir.OpConstInt, v.Type)
	c.Sym = result
	return c
}

func foldUnary(v *ir.Value) *ir.Value {
	x, ok := intConst(v.Args[0])
	if !ok {
		return nil
	}
	var result int64
	switch v.Op {
	case ir.OpNeg:
		result = -x
	case ir.OpNot:
		result = ^x
	default:
		return nil
	}
	c := v.Block.NewValue(ir.OpConstInt, v.Type)
	c.Sym = result
	return c
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// foldConstBranches folds an If block whose Ctrl is a known constant
// into an unconditional Goto, fixing up phi operands on the now-dead
// successor exactly as falcon's simplifyCFG does for its isConstBool case.
func foldConstBranches(fn *ir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		if b.Kind != ir.BlockIf || b.Ctrl == nil {
			continue
		}
		n, ok := intConst(b.Ctrl)
		if !ok || len(b.Succs) != 2 {
			continue
		}
		taken := 0
		if n == 0 {
			taken = 1
		}
		notTaken := b.Succs[1-taken]
		removePhiOperandFor(notTaken, b)
		b.Kind = ir.BlockGoto
		b.Ctrl.RemoveUseBlock(b)
		b.RemoveSucc(notTaken)
		notTaken.RemovePred(b)
		changed = true
	}
	return changed
}

// removePhiOperandFor drops succ's phi argument that came from pred,
// mirroring falcon's optimize.go pattern of splicing Args[ipred] out
// whenever an edge into a multi-pred block is severed.
func removePhiOperandFor(succ, pred *ir.Block) {
	if len(succ.Preds) <= 1 {
		return
	}
	for ipred, p := range succ.Preds {
		if p != pred {
			continue
		}
		for _, val := range succ.Values {
			if val.Op != ir.OpPhi {
				continue
			}
			val.Args[ipred].RemoveUse(val)
			val.Args = append(val.Args[:ipred], val.Args[ipred+1:]...)
		}
		return
	}
}

func removeUnreachableBlocks(fn *ir.Func) bool {
	reachable := make(map[*ir.Block]bool)
	var visit func(b *ir.Block)
	visit = func(b *ir.Block) {
		if reachable[b] {
			return
		}
		reachable[b] = true
		for _, s := range b.Succs {
			visit(s)
		}
	}
	visit(fn.Entry)

	changed := false
	for i := len(fn.Blocks) - 1; i >= 0; i-- {
		b := fn.Blocks[i]
		if reachable[b] {
			continue
		}
		for _, succ := range b.Succs {
			removePhiOperandFor(succ, b)
		}
		for _, succ := range b.Succs {
			succ.RemovePred(b)
		}
		fn.RemoveBlock(b)
		changed = true
	}
	return changed
}

// isPure reports which ops DCE may remove when their result is unused,
// per spec.md 4.5 pass 7: everything except Call, Store, InlineAsm (here
// modeled as a Call), Alloca/FrameAddr, Va*, and a Volatile Load.
func isPure(v *ir.Value) bool {
	switch v.Op {
	case ir.OpCall, ir.OpStore, ir.OpFrameAddr:
		return false
	case ir.OpLoad:
		return !v.Volatile
	}
	return true
}

func eliminateDeadValues(fn *ir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		for i := len(b.Values) - 1; i >= 0; i-- {
			v := b.Values[i]
			if len(v.Uses) == 0 && len(v.UseBlock) == 0 && isPure(v) {
				b.RemoveValue(v)
				changed = true
			}
		}
	}
	return changed
}
