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

// runAlgebraicSimplify applies the identity table from spec.md 4.5 pass 2
// to every Binary: x+0, 0+x, x-0, x-x, x*0, x*1, 1*x, x*-1, x/1, x/-1,
// x/x, x%1, bitwise identities, and self-comparisons. Constants on the
// left of a comparison are normalized to the right first. Grounded on
// falcon's value-rewrite style in optimize.go's simplifyPhi (replace +
// remove rather than an expression-tree rewrite, since this IR is flat
// SSA, not a tree).
func runAlgebraicSimplify(fn *ir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if !isBinaryOp(v.Op) || len(v.Args) != 2 {
				continue
			}
			normalizeConstToRight(v)
			if repl := algebraicIdentity(v); repl != nil {
				v.ReplaceUses(repl)
				b.RemoveValue(v)
				changed = true
			}
		}
	}
	return changed
}

func isBinaryOp(op ir.Op) bool {
	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr,
		ir.OpCmpEQ, ir.OpCmpNE, ir.OpCmpLT, ir.OpCmpLE, ir.OpCmpGT, ir.OpCmpGE:
		return true
	}
	return false
}

func isCommutative(op ir.Op) bool {
	switch op {
	case ir.OpAdd, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpCmpEQ, ir.OpCmpNE:
		return true
	}
	return false
}

// normalizeConstToRight swaps operands of a comparison so a constant, if
// any, sits on the right - spec.md 4.5 pass 2's explicit normalization
// step (flips the relational direction to compensate).
func normalizeConstToRight(v *ir.Value) {
	if !isComparison(v.Op) {
		return
	}
	if !isConst(v.Args[0]) || isConst(v.Args[1]) {
		return
	}
	v.Args[0], v.Args[1] = v.Args[1], v.Args[0]
	v.Op = mirrorOp(v.Op)
}

func isComparison(op ir.Op) bool {
	switch op {
	case ir.OpCmpEQ, ir.OpCmpNE, ir.OpCmpLT, ir.OpCmpLE, ir.OpCmpGT, ir.OpCmpGE:
		return true
	}
	return false
}

func mirrorOp(op ir.Op) ir.Op {
	switch op {
	case ir.OpCmpLT:
		return ir.OpCmpGT
	case ir.OpCmpLE:
		return ir.OpCmpGE
	case ir.OpCmpGT:
		return ir.OpCmpLT
	case ir.OpCmpGE:
		return ir.OpCmpLE
	default:
		return op
	}
}

func isConst(v *ir.Value) bool {
	return v.Op == ir.OpConstInt || v.Op == ir.OpConstFloat
}

func intConst(v *ir.Value) (int64, bool) {
	if v.Op != ir.OpConstInt {
		return 0, false
	}
	n, ok := v.Sym.(int64)
	return n, ok
}

// algebraicIdentity returns the replacement value for v if one of
// spec.md 4.5 pass 2's identities applies, or nil if none do.
func algebraicIdentity(v *ir.Value) *ir.Value {
	x, y := v.Args[0], v.Args[1]
	xi, xIsConst := intConst(x)
	yi, yIsConst := intConst(y)
	sameOperand := x == y

	switch v.Op {
	case ir.OpAdd:
		if yIsConst && yi == 0 {
			return x
		}
		if xIsConst && xi == 0 {
			return y
		}
	case ir.OpSub:
		if yIsConst && yi == 0 {
			return x
		}
		if sameOperand {
			return zeroLike(v)
		}
	case ir.OpMul:
		if yIsConst && yi == 0 || xIsConst && xi == 0 {
			return zeroLike(v)
		}
		if yIsConst && yi == 1 {
			return x
		}
		if xIsConst && xi == 1 {
			return y
		}
		if yIsConst && yi == -1 {
			return negLike(v, x)
		}
		if xIsConst && xi == -1 {
			return negLike(v, y)
		}
	case ir.OpDiv:
		if yIsConst && yi == 1 {
			return x
		}
		if yIsConst && yi == -1 {
			return negLike(v, x)
		}
		if sameOperand {
			return oneLike(v)
		}
	case ir.OpMod:
		if yIsConst && yi == 1 {
			return zeroLike(v)
		}
	case ir.OpAnd:
		if yIsConst && yi == 0 || xIsConst && xi == 0 {
			return zeroLike(v)
		}
		if yIsConst && yi == -1 {
			return x
		}
		if xIsConst && xi == -1 {
			return y
		}
	case ir.OpOr:
		if yIsConst && yi == 0 {
			return x
		}
		if xIsConst && xi == 0 {
			return y
		}
		if yIsConst && yi == -1 || xIsConst && xi == -1 {
			return negOneLike(v)
		}
	case ir.OpXor:
		if yIsConst && yi == 0 {
			return x
		}
		if xIsConst && xi == 0 {
			return y
		}
		if sameOperand {
			return zeroLike(v)
		}
	case ir.OpShl, ir.OpShr:
		if yIsConst && yi == 0 {
			return x
		}
	case ir.OpCmpEQ:
		if sameOperand {
			return oneLike(v)
		}
	case ir.OpCmpNE:
		if sameOperand {
			return zeroLike(v)
		}
	case ir.OpCmpLE, ir.OpCmpGE:
		if sameOperand {
			return oneLike(v)
		}
	case ir.OpCmpLT, ir.OpCmpGT:
		if sameOperand {
			return zeroLike(v)
		}
	}
	return nil
}

func zeroLike(v *ir.Value) *ir.Value {
	c := v.Block.NewValue(ir.OpConstInt, v.Type)
	c.Sym = int64(0)
	return c
}

func oneLike(v *ir.Value) *ir.Value {
	c := v.Block.NewValue(ir.OpConstInt, v.Type)
	c.Sym = int64(1)
	return c
}

func negOneLike(v *ir.Value) *ir.Value {
	c := v.Block.NewValue(ir.OpConstInt, v.Type)
	c.Sym = int64(-1)
	return c
}

func negLike(v *ir.Value, x *ir.Value) *ir.Value {
	return v.Block.NewValue(ir.OpNeg, v.Type, x)
}

// runStrengthReduction implements spec.md 4.5 pass 3: x*2^k -> x<<k,
// x/2^k -> x>>k, x%2^k -> x&(2^k-1), checked on both operand positions
// for the commutative multiply.
func runStrengthReduction(fn *ir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if len(v.Args) != 2 {
				continue
			}
			if repl := strengthReduce(v); repl != nil {
				v.Op = repl.Op
				v.Args = repl.Args
				for _, a := range repl.Args {
					used := false
					for _, u := range a.Uses {
						if u == v {
							used = true
							break
						}
					}
					if !used {
						a.Uses = append(a.Uses, v)
					}
				}
				changed = true
			}
		}
	}
	return changed
}

type reduced struct {
	Op   ir.Op
	Args []*ir.Value
}

func strengthReduce(v *ir.Value) *reduced {
	x, y := v.Args[0], v.Args[1]
	switch v.Op {
	case ir.OpMul:
		if k, ok := powerOfTwo(y); ok {
			y.RemoveUse(v)
			return &reduced{Op: ir.OpShl, Args: []*ir.Value{x, k}}
		}
		if k, ok := powerOfTwo(x); ok {
			x.RemoveUse(v)
			return &reduced{Op: ir.OpShl, Args: []*ir.Value{y, k}}
		}
	case ir.OpDiv:
		if k, ok := powerOfTwo(y); ok && v.Type != nil && v.Type.IsInteger() {
			y.RemoveUse(v)
			return &reduced{Op: ir.OpShr, Args: []*ir.Value{x, k}}
		}
	case ir.OpMod:
		if n, ok := intConst(y); ok && n > 0 && n&(n-1) == 0 {
			mask := v.Block.NewValue(ir.OpConstInt, v.Type)
			mask.Sym = n - 1
			y.RemoveUse(v)
			return &reduced{Op: ir.OpAnd, Args: []*ir.Value{x, mask}}
		}
	}
	return nil
}

// powerOfTwo returns the shift-count constant value for v if v is a
// constant power of two, creating that constant in v's defining block.
func powerOfTwo(v *ir.Value) (*ir.Value, bool) {
	n, ok := intConst(v)
	if !ok || n <= 0 || n&(n-1) != 0 {
		return nil, false
	}
	shift := int64(0)
	for n > 1 {
		n >>= 1
		shift++
	}
	c := v.Block.NewValue(ir.OpConstInt, v.Type)
	c.Sym = shift
	return c, true
}
