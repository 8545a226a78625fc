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

// Package emit turns allocated LIR (every virtual register already
// replaced with a physical register or a spill-slot Mem, per
// internal/codegen/regalloc) into Intel-syntax x86-64 assembly text.
// Grounded on falcon's compile/codegen/asm_x86.go Assembler, retargeted
// from AT&T mnemonics/operand order to Intel syntax per spec.md 5 -
// `intel_syntax noprefix`, destination-first operands, sized pointer
// syntax instead of suffix-per-mnemonic.
package emit

import (
	"fmt"
	"math"
	"strings"

	"github.com/klauspost/asmfmt"

	"github.com/nyxcore/ccx86/internal/codegen/lir"
	"github.com/nyxcore/ccx86/internal/codegen/x86"
	"github.com/nyxcore/ccx86/internal/ir"
	"github.com/nyxcore/ccx86/internal/types"
)

// Emitter accumulates one translation unit's assembly text. Unlike
// falcon's Assembler, it never allocates stack slots for virtual
// registers itself - internal/codegen/regalloc has already resolved
// every Register to a physical one or a Mem spill slot by the time a
// Func reaches Emit.
type Emitter struct {
	buf strings.Builder

	floatConsts []floatConst
	floatIndex  map[string]int
}

type floatConst struct {
	label string
	bits  uint64
	wide  bool // double vs single precision
}

func New() *Emitter {
	return &Emitter{floatIndex: make(map[string]int)}
}

// EmitUnit lowers every function plus the translation unit's globals and
// string literals into one assembly listing. layouts resolves struct/
// union Size/Align for globals of aggregate type; it may be nil for a
// translation unit with no such globals.
func (e *Emitter) EmitUnit(funcs []*lir.Func, globals []*ir.Global, strs []ir.StringEntry, layouts *types.LayoutTable) string {
	e.emitBSSAndData(globals, layouts)
	e.emitRodata(strs)
	for _, fn := range funcs {
		e.emitFunc(fn)
	}
	e.emitFloatPool()
	return Format("  .intel_syntax noprefix\n" + e.buf.String())
}

// Format runs the emitted listing through klauspost/asmfmt, the same
// pretty-printer ajroetker-goat's amd64 parser applies to its own
// generated assembly before writing it to disk (asmfmt.Format(reader)).
// asmfmt's tokenizer is built for Go's own assembler dialect rather than
// GAS/Intel syntax, so on input it doesn't recognize it returns an error;
// this falls back to the unformatted text rather than losing output in
// that case, instead of rejecting entire translation units over a
// cosmetic pass.
func Format(src string) string {
	out, err := asmfmt.Format(strings.NewReader(src))
	if err != nil {
		return src
	}
	return string(out)
}

func (e *Emitter) emitBSSAndData(globals []*ir.Global, layouts *types.LayoutTable) {
	var bss, data []*ir.Global
	for _, g := range globals {
		if g.IsExtern {
			continue
		}
		if g.Init == nil {
			bss = append(bss, g)
		} else {
			data = append(data, g)
		}
	}
	if len(bss) > 0 {
		e.line(".bss")
		for _, g := range bss {
			if !g.IsStatic {
				e.line(".globl %s", g.Name)
			}
			e.line(".align %d", g.Type.Align(layouts))
			e.label(g.Name)
			e.line(".zero %d", g.Type.Size(layouts))
		}
	}
	if len(data) > 0 {
		e.line(".data")
		for _, g := range data {
			if !g.IsStatic {
				e.line(".globl %s", g.Name)
			}
			e.label(g.Name)
			e.emitInit(g.Init)
		}
	}
}

func (e *Emitter) emitInit(init interface{}) {
	switch v := init.(type) {
	case int64:
		e.line(".quad %d", v)
	case float64:
		e.line(".quad %d", int64FromFloat(v))
	default:
		// internal/ir records an aggregate initializer as a nil Init, so
		// this path is unreached for struct/array globals.
		e.line(".zero 8")
	}
}

func int64FromFloat(f float64) int64 {
	return int64(f)
}

func (e *Emitter) emitRodata(strs []ir.StringEntry) {
	if len(strs) == 0 {
		return
	}
	e.line(".section .rodata")
	for _, s := range strs {
		e.label(s.Label)
		e.line(".string %q", s.Value)
	}
}

func (e *Emitter) emitFloatPool() {
	if len(e.floatConsts) == 0 {
		return
	}
	e.line(".section .rodata")
	e.line(".align 8")
	for _, c := range e.floatConsts {
		e.label(c.label)
		if c.wide {
			e.line(".quad %d", c.bits)
		} else {
			e.line(".long %d", uint32(c.bits))
		}
	}
}

func (e *Emitter) emitFunc(fn *lir.Func) {
	e.line(".text")
	if !fn.IsStatic {
		e.line(".globl %s", fn.Name)
	}
	e.label(fn.Name)
	e.comment("prologue")
	e.insn1("push", "rbp")
	e.insn2("mov", "rbp", "rsp")
	frame := fn.FrameSize
	if frame%16 != 0 {
		frame += 16 - frame%16
	}
	if frame > 0 {
		e.insn2("sub", "rsp", fmt.Sprintf("%d", frame))
	}
	for _, b := range fn.Blocks {
		e.line("%s:", b.Label.Name)
		for _, insn := range b.Insns {
			e.emitInsn(fn, insn)
		}
	}
}

func (e *Emitter) emitEpilogue() {
	e.comment("epilogue")
	e.insn1("pop", "rbp")
	e.insn0("ret")
}

func (e *Emitter) line(format string, args ...interface{}) {
	e.buf.WriteString("  " + fmt.Sprintf(format, args...) + "\n")
}

func (e *Emitter) label(name string) {
	e.buf.WriteString(name + ":\n")
}

func (e *Emitter) comment(s string) {
	e.buf.WriteString("  # " + s + "\n")
}

func (e *Emitter) insn0(mnemonic string) {
	e.buf.WriteString("  " + mnemonic + "\n")
}

func (e *Emitter) insn1(mnemonic, a string) {
	e.buf.WriteString(fmt.Sprintf("  %s %s\n", mnemonic, a))
}

func (e *Emitter) insn2(mnemonic, dst, src string) {
	e.buf.WriteString(fmt.Sprintf("  %s %s, %s\n", mnemonic, dst, src))
}

// mnemonic maps an LIR op to its Intel mnemonic. A handful of ops need
// more than a name change from LIR to assembly (div/mod, setcc, jcc,
// float mov) and are special-cased in emitInsn instead.
var mnemonic = map[lir.Op]string{
	lir.OpAdd: "add", lir.OpSub: "sub", lir.OpMul: "imul", lir.OpAnd: "and", lir.OpOr: "or", lir.OpXor: "xor",
	lir.OpShl: "sal", lir.OpShr: "sar", lir.OpUShr: "shr", lir.OpNeg: "neg", lir.OpNot: "not",
	lir.OpMov: "mov", lir.OpMovzx: "movzx", lir.OpMovsx: "movsx", lir.OpLea: "lea",
	lir.OpPush: "push", lir.OpPop: "pop", lir.OpCall: "call", lir.OpTest: "test", lir.OpCmp: "cmp",
	lir.OpJmp: "jmp", lir.OpJle: "jle", lir.OpJlt: "jl", lir.OpJge: "jge", lir.OpJgt: "jg",
	lir.OpJeq: "je", lir.OpJne: "jne", lir.OpJz: "jz", lir.OpJnz: "jnz",
	lir.OpFAdd: "addsd", lir.OpFSub: "subsd", lir.OpFMul: "mulsd", lir.OpFDiv: "divsd",
	lir.OpFCmp: "ucomisd",
	lir.OpCvtSI2SS: "cvtsi2ss", lir.OpCvtSI2SD: "cvtsi2sd",
	lir.OpCvtTSS2SI: "cvttss2si", lir.OpCvtTSD2SI: "cvttsd2si",
	lir.OpCvtSS2SD: "cvtss2sd", lir.OpCvtSD2SS: "cvtsd2ss",
}

var setccSuffix = map[lir.Cond]string{
	lir.CondLT: "l", lir.CondLE: "le", lir.CondGT: "g", lir.CondGE: "ge", lir.CondEQ: "e", lir.CondNE: "ne",
}

func (e *Emitter) emitInsn(fn *lir.Func, insn lir.Instruction) {
	if insn.Comment != "" {
		e.comment(insn.Comment)
	}
	switch insn.Op {
	case lir.OpRet:
		e.emitEpilogue()
	case lir.OpLabel:
		e.label(insn.Dst.(lir.Label).Name)
	case lir.OpDiv, lir.OpUDiv, lir.OpMod, lir.OpUMod:
		e.emitDivMod(insn)
	case lir.OpSetCC:
		e.insn1("set"+setccSuffix[insn.Cond], e.operand(insn.Dst))
	case lir.OpJle, lir.OpJlt, lir.OpJge, lir.OpJgt, lir.OpJeq, lir.OpJne, lir.OpJz, lir.OpJnz, lir.OpJmp:
		e.insn1(mnemonic[insn.Op], e.operand(insn.Args[0]))
	case lir.OpCall:
		e.insn1("call", e.operand(insn.Args[0]))
	case lir.OpPush:
		e.insn1("push", e.operand(insn.Args[0]))
	case lir.OpPop:
		e.insn1("pop", e.operand(insn.Dst))
	case lir.OpMov:
		e.emitMov(insn)
	case lir.OpFNeg:
		// A double's sign flip has no direct SSE2 mnemonic this emitter
		// reaches for; negate by subtracting the source from a
		// zeroed-out dst instead of carrying a sign-mask constant.
		e.insn2("subsd", e.operand(insn.Dst), e.operand(insn.Dst))
		e.insn2("subsd", e.operand(insn.Dst), e.operand(insn.Args[0]))
	case lir.OpNeg, lir.OpNot:
		// neg/not are one-operand x86 instructions; Dst is a fresh vreg
		// with no preceding mov establishing Dst==Args[0] (unlike the
		// binary arithmetic ops below), so fold that move in here.
		e.emitUnaryInPlace(mnemonic[insn.Op], insn)
	case lir.OpTest, lir.OpCmp:
		e.insn2(mnemonic[insn.Op], e.operand(insn.Args[0]), e.operand(insn.Args[1]))
	case lir.OpFCmp:
		e.insn2("ucomisd", e.operand(insn.Args[0]), e.operand(insn.Args[1]))
	default:
		m, ok := mnemonic[insn.Op]
		if !ok {
			panic(fmt.Sprintf("emit: unhandled op %s in %s", insn.Op, fn.Name))
		}
		e.emitBinary(m, insn)
	}
}

// floatMovMnemonic picks movss vs movsd by operand width - this front
// end's arithmetic ops (emitBinary's addsd/subsd/mulsd/divsd) always
// operate in double precision regardless of the C type's declared
// width, but a bare load/store of a float-typed value still needs the
// matching single-precision mnemonic to read/write the correct 4 bytes.
func floatMovMnemonic(t *lir.Type) string {
	if t != nil && !t.Double {
		return "movss"
	}
	return "movsd"
}

// emitMov special-cases a float immediate, which x86-64 cannot move
// directly into an XMM register: it is interned into the read-only float
// pool and loaded via a RIP-relative movss/movsd instead, mirroring how
// OpConstString's label already works.
func (e *Emitter) emitMov(insn lir.Instruction) {
	dst := insn.Dst
	src := insn.Args[0]
	if imm, ok := src.(lir.Imm); ok {
		if f, ok := imm.Value.(float64); ok {
			label := e.internFloat(f, imm.Type.Double)
			e.insn2(floatMovMnemonic(imm.Type), e.operand(dst), fmt.Sprintf("[rip+%s]", label))
			return
		}
	}
	if dReg, ok := dst.(lir.Register); ok && dReg.Type != nil && dReg.Type.Float {
		e.insn2(floatMovMnemonic(dReg.Type), e.operand(dst), e.operand(src))
		return
	}
	if sReg, ok := src.(lir.Register); ok && sReg.Type != nil && sReg.Type.Float {
		e.insn2(floatMovMnemonic(sReg.Type), e.operand(dst), e.operand(src))
		return
	}
	e.insn2("mov", e.operand(dst), e.operand(src))
}

// emitBinary handles every op whose Intel form is just "mnemonic dst,
// src" - float arithmetic (addsd/subsd/mulsd/divsd) included, since
// their mnemonics are already the SSE2 scalar-double form in the
// mnemonic table above. Most arithmetic ops arrive with a single Args
// entry because instruction selection already emitted a separate "mov
// dst, left" ahead of this one (lowerBinaryArith); an op that instead
// carries both operands here (e.g. logical-not's xor dst, src, mask)
// gets that fold-in move synthesized on the spot, per lir.Instruction's
// three-operand contract.
func (e *Emitter) emitBinary(m string, insn lir.Instruction) {
	dst := e.operand(insn.Dst)
	switch len(insn.Args) {
	case 0:
		e.insn1(m, dst)
	case 1:
		e.insn2(m, dst, e.operand(insn.Args[0]))
	default:
		first := e.operand(insn.Args[0])
		if first != dst {
			e.insn2("mov", dst, first)
		}
		e.insn2(m, dst, e.operand(insn.Args[1]))
	}
}

// emitUnaryInPlace emits a genuinely one-operand x86 instruction
// (neg/not), folding in a "mov dst, src" first when dst isn't already
// the same location as src.
func (e *Emitter) emitUnaryInPlace(m string, insn lir.Instruction) {
	dst := e.operand(insn.Dst)
	src := e.operand(insn.Args[0])
	if dst != src {
		e.insn2("mov", dst, src)
	}
	e.insn1(m, dst)
}

// emitDivMod realizes LIR's 3-operand "dst = left op right" division
// into the RAX:RDX-implicit x86-64 sequence: move the dividend into RAX,
// sign- or zero-extend it into RDX:RAX per the operand width, idiv/div
// by right, then move the quotient (RAX) or remainder (RDX) into dst.
// Safe by construction: internal/codegen/regalloc's crossesDivMod
// tracking keeps every OTHER live value out of RAX/RDX at this point.
func (e *Emitter) emitDivMod(insn lir.Instruction) {
	left, right, dst := insn.Args[0], insn.Args[1], insn.Dst
	width := left.GetType().Width
	rax := x86.SubWidth(x86.RAX, width)
	rdx := x86.SubWidth(x86.RDX, width)
	e.insn2("mov", e.regOperand(rax), e.operand(left))
	signed := insn.Op == lir.OpDiv || insn.Op == lir.OpMod
	if signed {
		switch width {
		case 2:
			e.insn0("cwd")
		case 4:
			e.insn0("cdq")
		default:
			e.insn0("cqo")
		}
		e.insn1("idiv", e.operand(right))
	} else {
		e.insn2("xor", e.regOperand(rdx), e.regOperand(rdx))
		e.insn1("div", e.operand(right))
	}
	result := rax
	if insn.Op == lir.OpMod || insn.Op == lir.OpUMod {
		result = rdx
	}
	e.insn2("mov", e.operand(dst), e.regOperand(result))
}

func (e *Emitter) regOperand(r lir.Register) string { return r.Name }

// internFloat adds f to the read-only float constant pool (deduplicated
// by bit pattern) and returns its label.
func (e *Emitter) internFloat(f float64, double bool) string {
	bits := floatBits(f, double)
	key := fmt.Sprintf("%v-%d", double, bits)
	if idx, ok := e.floatIndex[key]; ok {
		return e.floatConsts[idx].label
	}
	label := fmt.Sprintf(".LCF%d", len(e.floatConsts))
	e.floatIndex[key] = len(e.floatConsts)
	e.floatConsts = append(e.floatConsts, floatConst{label: label, bits: bits, wide: double})
	return label
}

func floatBits(f float64, double bool) uint64 {
	if double {
		return math.Float64bits(f)
	}
	return uint64(math.Float32bits(float32(f)))
}

// operand formats one LIR operand in Intel syntax: registers by name,
// immediates as bare decimals, memory operands with a sized "ptr"
// prefix and [base+index*scale+disp] addressing, RIP-relative when Base
// is the x86.RIP pseudo-register, and Label/Symbol by their own name.
func (e *Emitter) operand(op lir.Operand) string {
	switch o := op.(type) {
	case lir.Register:
		if o.Type != nil && !o.Type.Float && o.Type.Width != 8 && !o.Virtual {
			return x86.SubWidth(o, o.Type.Width).Name
		}
		return o.Name
	case lir.Imm:
		if f, ok := o.Value.(float64); ok {
			return fmt.Sprintf("%v", f)
		}
		return fmt.Sprintf("%v", o.Value)
	case lir.Mem:
		return e.memOperand(o)
	case lir.Label:
		return o.Name
	case lir.Symbol:
		return o.Name
	case nil:
		return ""
	default:
		return o.String()
	}
}

func (e *Emitter) memOperand(m lir.Mem) string {
	var sb strings.Builder
	sb.WriteString(ptrSize(m.Type) + " [")
	if m.Base.Name == "rip" {
		sb.WriteString("rip")
		if m.Disp != nil {
			sb.WriteString("+" + e.operand(m.Disp))
		}
		sb.WriteString("]")
		return sb.String()
	}
	sb.WriteString(m.Base.Name)
	if m.Index != nil {
		sb.WriteString(fmt.Sprintf("+%s*%d", m.Index.Name, m.Scale))
	}
	if m.Disp != nil {
		if imm, ok := m.Disp.(lir.Imm); ok {
			if n, ok := imm.Value.(int64); ok {
				if n >= 0 {
					sb.WriteString(fmt.Sprintf("+%d", n))
				} else {
					sb.WriteString(fmt.Sprintf("%d", n))
				}
			}
		} else {
			sb.WriteString("+" + e.operand(m.Disp))
		}
	}
	sb.WriteString("]")
	return sb.String()
}

func ptrSize(t *lir.Type) string {
	if t == nil {
		return "qword ptr"
	}
	switch t.Width {
	case 1:
		return "byte ptr"
	case 2:
		return "word ptr"
	case 4:
		return "dword ptr"
	default:
		return "qword ptr"
	}
}
