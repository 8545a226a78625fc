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

package x86

import (
	"github.com/nyxcore/ccx86/internal/codegen/lir"
	"github.com/nyxcore/ccx86/internal/ir"
	"github.com/nyxcore/ccx86/internal/types"
	"github.com/nyxcore/ccx86/internal/utils"
)

var arithOp = map[ir.Op]lir.Op{
	ir.OpAdd: lir.OpAdd, ir.OpSub: lir.OpSub, ir.OpMul: lir.OpMul,
	ir.OpAnd: lir.OpAnd, ir.OpOr: lir.OpOr, ir.OpXor: lir.OpXor,
	ir.OpShl: lir.OpShl, ir.OpShr: lir.OpShr,
}

var cmpOp = map[ir.Op]lir.Op{
	ir.OpCmpLT: lir.OpCmpLT, ir.OpCmpLE: lir.OpCmpLE,
	ir.OpCmpGT: lir.OpCmpGT, ir.OpCmpGE: lir.OpCmpGE,
	ir.OpCmpEQ: lir.OpCmpEQ, ir.OpCmpNE: lir.OpCmpNE,
}

var cmpCond = map[ir.Op]lir.Cond{
	ir.OpCmpLT: lir.CondLT, ir.OpCmpLE: lir.CondLE,
	ir.OpCmpGT: lir.CondGT, ir.OpCmpGE: lir.CondGE,
	ir.OpCmpEQ: lir.CondEQ, ir.OpCmpNE: lir.CondNE,
}

var jccOp = map[ir.Op]lir.Op{
	ir.OpCmpLT: lir.OpJlt, ir.OpCmpLE: lir.OpJle,
	ir.OpCmpGT: lir.OpJgt, ir.OpCmpGE: lir.OpJge,
	ir.OpCmpEQ: lir.OpJeq, ir.OpCmpNE: lir.OpJne,
}

func (s *Selector) lowerBlock(b *ir.Block, out *lir.Func) {
	lb := s.blocks[b]
	for _, v := range b.Values {
		s.lowerValue(v, lb, out)
	}
	s.lowerTerminator(b, lb, out)
}

func (s *Selector) lowerValue(v *ir.Value, lb *lir.Block, out *lir.Func) {
	switch v.Op {
	case ir.OpConstInt:
		n, _ := v.Sym.(int64)
		dst := s.vreg(out, v)
		lb.Emit(lir.OpMov, dst, lir.Imm{Type: dst.Type, Value: n})

	case ir.OpConstFloat:
		f, _ := v.Sym.(float64)
		dst := s.vreg(out, v)
		lb.Emit(lir.OpMov, dst, lir.Imm{Type: dst.Type, Value: f})

	case ir.OpConstString:
		label, _ := v.Sym.(string)
		dst := s.vreg(out, v)
		lb.Emit(lir.OpLea, dst, lir.Label{Name: label})

	case ir.OpConstAddr:
		name, _ := v.Sym.(string)
		dst := s.vreg(out, v)
		lb.Emit(lir.OpLea, dst, lir.Symbol{Name: name})

	case ir.OpFrameAddr:
		name, _ := v.Sym.(string)
		dst := s.vreg(out, v)
		lb.Emit(lir.OpLea, dst, lir.Mem{Type: lir.TypeQWord, Base: RBP,
			Disp: lir.Imm{Type: lir.TypeQWord, Value: s.frameOff[name]}})

	case ir.OpGlobalAddr:
		name, _ := v.Sym.(string)
		dst := s.vreg(out, v)
		lb.Emit(lir.OpLea, dst, lir.Mem{Type: lir.TypeQWord, Base: RIP, Disp: lir.Symbol{Name: name}})

	case ir.OpAddPtr:
		base := s.vreg(out, v.Args[0])
		idx := s.vreg(out, v.Args[1])
		dst := s.vreg(out, v)
		lb.Emit(lir.OpLea, dst, lir.Mem{Type: lir.TypeQWord, Base: base, Index: &idx, Scale: 1})

	case ir.OpLoad:
		addr := s.vreg(out, v.Args[0])
		dst := s.vreg(out, v)
		lb.Emit(lir.OpMov, dst, lir.Mem{Type: dst.Type, Base: addr})

	case ir.OpStore:
		addr := s.vreg(out, v.Args[0])
		val := s.vreg(out, v.Args[1])
		lb.Emit(lir.OpMov, lir.Mem{Type: val.Type, Base: addr}, val)

	case ir.OpCopy:
		src := s.vreg(out, v.Args[0])
		dst := s.vreg(out, v)
		if dst != src {
			lb.Emit(lir.OpMov, dst, src)
		}

	case ir.OpNeg:
		src := s.vreg(out, v.Args[0])
		dst := s.vreg(out, v)
		op := lir.OpNeg
		if v.Type != nil && v.Type.IsFloating() {
			op = lir.OpFNeg
		}
		lb.Emit(op, dst, src)

	case ir.OpNot:
		src := s.vreg(out, v.Args[0])
		dst := s.vreg(out, v)
		lb.Emit(lir.OpNot, dst, src)

	case ir.OpLogNot:
		src := s.vreg(out, v.Args[0])
		dst := s.vreg(out, v)
		lb.Emit(lir.OpXor, dst, src, lir.Imm{Type: dst.Type, Value: int64(1)})

	case ir.OpDiv, ir.OpMod:
		s.lowerDivMod(v, lb, out)

	case ir.OpConvert:
		s.lowerConvert(v, lb, out)

	case ir.OpCall:
		s.lowerCall(v, lb, out)

	case ir.OpParam:
		// parameter registers are materialized once in the entry block
		// by lowerParams; nothing to do at the use site.

	default:
		if lirOp, ok := arithOp[v.Op]; ok {
			s.lowerBinaryArith(v, lirOp, lb, out)
			return
		}
		if _, ok := cmpOp[v.Op]; ok {
			s.lowerCompare(v, lb, out)
			return
		}
		lb.Emit(lir.OpMov, s.vreg(out, v), lir.Imm{Type: lir.TypeQWord, Value: int64(0)})
	}
}

// lowerBinaryArith folds the IR's two-operand form into x86-64's
// destination-equals-first-source shape: move the left operand into the
// result vreg, then apply the op against the right operand in place, per
// falcon's lowerArithmetic.
func (s *Selector) lowerBinaryArith(v *ir.Value, op lir.Op, lb *lir.Block, out *lir.Func) {
	left := s.vreg(out, v.Args[0])
	right := s.vreg(out, v.Args[1])
	dst := s.vreg(out, v)
	if v.Type != nil && v.Type.IsFloating() {
		floatOp := map[lir.Op]lir.Op{lir.OpAdd: lir.OpFAdd, lir.OpSub: lir.OpFSub, lir.OpMul: lir.OpFMul}
		lb.Emit(lir.OpMov, dst, left)
		lb.Emit(floatOp[op], dst, right)
		return
	}
	lb.Emit(lir.OpMov, dst, left)
	lb.Emit(op, dst, right)
}

func (s *Selector) lowerCompare(v *ir.Value, lb *lir.Block, out *lir.Func) {
	left := s.vreg(out, v.Args[0])
	right := s.vreg(out, v.Args[1])
	if len(v.Uses) == 0 && len(v.UseBlock) != 0 {
		// consumed only by this block's own terminator: the compare's
		// flags are read directly, no byte result needs materializing.
		lb.Emit(lir.OpCmp, nil, left, right)
		return
	}
	dst := s.vreg(out, v)
	lb.Emit(lir.OpCmp, nil, left, right)
	lb.Emit(lir.OpSetCC, dst, nil).Cond = cmpCond[v.Op]
}

func (s *Selector) lowerDivMod(v *ir.Value, lb *lir.Block, out *lir.Func) {
	left := s.vreg(out, v.Args[0])
	right := s.vreg(out, v.Args[1])
	dst := s.vreg(out, v)
	if v.Type != nil && v.Type.IsFloating() {
		lb.Emit(lir.OpMov, dst, left)
		lb.Emit(lir.OpFDiv, dst, right)
		return
	}
	op := lir.OpDiv
	if v.Op == ir.OpMod {
		op = lir.OpMod
	}
	if v.Type != nil && v.Type.Unsigned {
		if op == lir.OpDiv {
			op = lir.OpUDiv
		} else {
			op = lir.OpUMod
		}
	}
	lb.Emit(op, dst, left, right)
}

func (s *Selector) lowerConvert(v *ir.Value, lb *lir.Block, out *lir.Func) {
	src := s.vreg(out, v.Args[0])
	dst := s.vreg(out, v)
	switch {
	case v.Type != nil && v.Type.IsFloating() && !src.Type.Float:
		op := lir.OpCvtSI2SS
		if v.Type.Size(s.layouts) == 8 {
			op = lir.OpCvtSI2SD
		}
		lb.Emit(op, dst, src)
	case v.Type != nil && !v.Type.IsFloating() && src.Type.Float:
		op := lir.OpCvtTSS2SI
		if src.Type.Double {
			op = lir.OpCvtTSD2SI
		}
		lb.Emit(op, dst, src)
	case src.Type.Float && dst.Type.Float && src.Type.Double != dst.Type.Double:
		op := lir.OpCvtSS2SD
		if src.Type.Double {
			op = lir.OpCvtSD2SS
		}
		lb.Emit(op, dst, src)
	case dst.Type.Width > src.Type.Width:
		srcType, _ := v.Sym.(*types.Type)
		if srcType != nil && srcType.Unsigned {
			lb.Emit(lir.OpMovzx, dst, src)
		} else {
			lb.Emit(lir.OpMovsx, dst, src)
		}
	default:
		lb.Emit(lir.OpMov, dst, src)
	}
}

// lowerCall lowers a call, moving register-class arguments into their
// ABI slot and pushing the rest on the stack. Per spec.md 4.7/4.8: stack
// arguments are pushed in reverse (rightmost first) so they land in
// left-to-right order in memory with the first stack argument closest to
// the return address, the caller reserves the ABI's shadow space before
// the call (32 bytes under Win64, nothing under System V) and tears the
// whole stack-passed-args-plus-shadow-space region back down immediately
// after, and the combination is kept a multiple of 16 bytes so the call
// site's stack alignment at the `call` instruction itself is undisturbed.
func (s *Selector) lowerCall(v *ir.Value, lb *lir.Block, out *lir.Func) {
	sym, _ := v.Sym.(string)
	args := v.Args
	indirect := sym == "$indirect"
	var calleeReg lir.Register
	if indirect {
		calleeReg = s.vreg(out, args[len(args)-1])
		args = args[:len(args)-1]
	}

	type regArg struct {
		dst lir.Register
		src lir.Register
	}
	var regArgs []regArg
	var stackArgs []lir.Register
	intIdx, floatIdx := 0, 0
	for _, a := range args {
		r := s.vreg(out, a)
		if r.Type.Float {
			if dstReg, ok := s.abi.FloatArgReg(floatIdx); ok {
				regArgs = append(regArgs, regArg{dst: withType(dstReg, r.Type), src: r})
			} else {
				stackArgs = append(stackArgs, r)
			}
			floatIdx++
		} else {
			if dstReg, ok := s.abi.IntArgReg(intIdx); ok {
				regArgs = append(regArgs, regArg{dst: withType(dstReg, r.Type), src: r})
			} else {
				stackArgs = append(stackArgs, r)
			}
			intIdx++
		}
	}

	// Shadow space plus any padding needed to keep rsp 16-byte aligned at
	// the `call` instruction are reserved with one sub; each stack-passed
	// argument is then pushed separately (rightmost argument first, so
	// arguments end up left-to-right in memory), and the whole adjustment
	// is torn back down with a single add once the call returns.
	stackBytes := int64(len(stackArgs)) * 8
	shadow := s.abi.ShadowSpace()
	padding := utils.Align16(shadow+stackBytes) - shadow - stackBytes
	reserve := shadow + padding
	if reserve > 0 {
		lb.Emit(lir.OpSub, RSP, RSP, lir.Imm{Type: lir.TypeQWord, Value: reserve})
	}
	for i := len(stackArgs) - 1; i >= 0; i-- {
		lb.Emit(lir.OpPush, nil, stackArgs[i])
	}
	for _, ra := range regArgs {
		lb.Emit(lir.OpMov, ra.dst, ra.src)
	}

	if indirect {
		lb.Emit(lir.OpCall, nil, calleeReg)
	} else {
		lb.Emit(lir.OpCall, nil, lir.Symbol{Name: sym})
	}
	teardown := reserve + stackBytes
	if teardown > 0 {
		lb.Emit(lir.OpAdd, RSP, RSP, lir.Imm{Type: lir.TypeQWord, Value: teardown})
	}
	if v.Type != nil && len(v.Uses) > 0 {
		dst := s.vreg(out, v)
		ret := RAX
		if dst.Type.Float {
			ret = xmmReg(0, dst.Type)
		}
		lb.Emit(lir.OpMov, dst, withType(ret, dst.Type))
	}
}

func (s *Selector) lowerTerminator(b *ir.Block, lb *lir.Block, out *lir.Func) {
	switch b.Kind {
	case ir.BlockGoto:
		target := s.blocks[b.Succs[0]]
		lb.Succs = append(lb.Succs, target.ID)
		lb.Emit(lir.OpJmp, nil, target.Label)

	case ir.BlockIf:
		thenB, elseB := s.blocks[b.Succs[0]], s.blocks[b.Succs[1]]
		lb.Succs = append(lb.Succs, thenB.ID, elseB.ID)
		s.lowerCondBranch(b, thenB, lb, out)
		lb.Emit(lir.OpJmp, nil, elseB.Label)

	case ir.BlockReturn:
		if b.Ctrl != nil {
			src := s.vreg(out, b.Ctrl)
			ret := RAX
			if src.Type.Float {
				ret = xmmReg(0, src.Type)
			}
			lb.Emit(lir.OpMov, withType(ret, src.Type), src)
		}
		lb.Emit(lir.OpRet, nil)
	}
}

func (s *Selector) lowerCondBranch(b *ir.Block, thenB *lir.Block, lb *lir.Block, out *lir.Func) {
	ctrl := b.Ctrl
	if ctrl == nil {
		lb.Emit(lir.OpJmp, nil, thenB.Label)
		return
	}
	if jop, ok := jccOp[ctrl.Op]; ok && len(ctrl.Uses) == 0 {
		// the compare was lowered as flags-only in lowerCompare (UseBlock
		// consumer, no value consumer): its Cmp already ran in this block.
		lb.Emit(jop, nil, thenB.Label)
		return
	}
	cond := s.vreg(out, ctrl)
	lb.Emit(lir.OpTest, nil, cond, cond)
	lb.Emit(lir.OpJnz, nil, thenB.Label)
}
