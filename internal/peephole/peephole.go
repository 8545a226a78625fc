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

// Package peephole runs the single linear scan spec.md 4.9 describes
// over an already-allocated internal/codegen/lir.Func, immediately
// before internal/codegen/emit turns it into text. Grounded on
// internal/optimize's pass shape (a "changed bool" rewrite over one
// function, invoked once from the pipeline, no internal fixpoint beyond
// what a rule itself needs) rather than falcon's SSA-level Optimizer,
// since every rule here operates on physical registers and mnemonics
// that only exist after register allocation.
package peephole

import "github.com/nyxcore/ccx86/internal/codegen/lir"

// Run rewrites fn's instructions in place, per spec.md 4.9:
//   - remove "mov reg, reg"
//   - fuse "mov reg, X; mov Y, reg" into "mov Y, X" when reg is dead after
//   - remove "add/sub reg, 0" and "imul reg, 1"
//   - fuse "mov reg, imm; add reg, reg2" into "lea reg, [reg2+imm]"
//   - collapse "cmp; setcc reg; test reg, reg; jcc" into "cmp; jcc" when
//     reg is dead after
//   - eliminate transitive jump chains ("jmp A" where A is immediately
//     "jmp B" becomes "jmp B")
//
// It reports whether anything changed, mirroring internal/optimize's
// pass signature even though this package's caller only runs it once.
func Run(fn *lir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		if removeSelfMoves(b) {
			changed = true
		}
		if fuseMovPairs(b) {
			changed = true
		}
		if removeIdentityArith(b) {
			changed = true
		}
		if fuseLeaImm(b) {
			changed = true
		}
		if collapseCmpSetccTest(b) {
			changed = true
		}
	}
	if collapseJumpChains(fn) {
		changed = true
	}
	return changed
}

func sameOperand(a, b lir.Operand) bool {
	ra, aok := a.(lir.Register)
	rb, bok := b.(lir.Register)
	if aok && bok {
		return ra.Name == rb.Name && ra.Virtual == rb.Virtual && ra.Index == rb.Index
	}
	return false
}

// removeSelfMoves drops any "mov reg, reg" left over where register
// allocation happened to give a mov's source and destination the same
// physical register.
func removeSelfMoves(b *lir.Block) bool {
	var kept []lir.Instruction
	changed := false
	for _, insn := range b.Insns {
		if insn.Op == lir.OpMov && len(insn.Args) == 1 && sameOperand(insn.Dst, insn.Args[0]) {
			changed = true
			continue
		}
		kept = append(kept, insn)
	}
	b.Insns = kept
	return changed
}

// fuseMovPairs rewrites "mov reg, X; mov Y, reg" into "mov Y, X" when the
// pair is adjacent and usedAfter finds no mention of reg in the rest of
// the block.
func fuseMovPairs(b *lir.Block) bool {
	changed := false
	for i := 0; i < len(b.Insns)-1; i++ {
		first := b.Insns[i]
		second := b.Insns[i+1]
		if first.Op != lir.OpMov || second.Op != lir.OpMov || len(first.Args) != 1 || len(second.Args) != 1 {
			continue
		}
		reg, ok := first.Dst.(lir.Register)
		if !ok {
			continue
		}
		if !sameOperand(second.Args[0], reg) {
			continue
		}
		if usedAfter(b, i+2, reg) {
			continue
		}
		b.Insns[i] = lir.Instruction{Op: lir.OpMov, Dst: second.Dst, Args: []lir.Operand{first.Args[0]}, Comment: first.Comment}
		b.Insns = append(b.Insns[:i+1], b.Insns[i+2:]...)
		changed = true
	}
	return changed
}

// usedAfter is the is_reg_used_after conservative liveness helper
// spec.md 4.9 names: it scans the remainder of the block (not past a
// terminator, since a block's successors are a separate Block value this
// single-block scan never follows) for any read or write of reg.
func usedAfter(b *lir.Block, from int, reg lir.Register) bool {
	for i := from; i < len(b.Insns); i++ {
		insn := b.Insns[i]
		if mentionsReg(insn.Dst, reg) {
			return true
		}
		for _, a := range insn.Args {
			if mentionsReg(a, reg) {
				return true
			}
		}
	}
	return false
}

func mentionsReg(op lir.Operand, reg lir.Register) bool {
	switch o := op.(type) {
	case lir.Register:
		return o.Name == reg.Name && o.Virtual == reg.Virtual && o.Index == reg.Index
	case lir.Mem:
		if mentionsReg(o.Base, reg) {
			return true
		}
		if o.Index != nil && mentionsReg(*o.Index, reg) {
			return true
		}
	}
	return false
}

// removeIdentityArith drops "add/sub reg, 0" and "imul reg, 1", the
// no-op arithmetic instruction selection occasionally produces when a
// constant operand folds to the identity element after optimization
// changes a value this block was already selected against.
func removeIdentityArith(b *lir.Block) bool {
	var kept []lir.Instruction
	changed := false
	for _, insn := range b.Insns {
		if isIdentityArith(insn) {
			changed = true
			continue
		}
		kept = append(kept, insn)
	}
	b.Insns = kept
	return changed
}

func isIdentityArith(insn lir.Instruction) bool {
	if len(insn.Args) == 0 {
		return false
	}
	imm, ok := insn.Args[len(insn.Args)-1].(lir.Imm)
	if !ok {
		return false
	}
	n, ok := imm.Value.(int64)
	if !ok {
		return false
	}
	switch insn.Op {
	case lir.OpAdd, lir.OpSub:
		return n == 0
	case lir.OpMul:
		return n == 1
	}
	return false
}

// fuseLeaImm rewrites "mov reg, imm; add reg, reg2" into a single
// "lea reg, [reg2+imm]", the classic load-effective-address trick for
// folding an immediate add without touching flags. Register allocation
// never coalesces reg2 onto reg here (both are simultaneously live going
// into the add), so reg2's value is still intact at the add.
func fuseLeaImm(b *lir.Block) bool {
	changed := false
	for i := 0; i < len(b.Insns)-1; i++ {
		first := b.Insns[i]
		second := b.Insns[i+1]
		if first.Op != lir.OpMov || second.Op != lir.OpAdd || len(first.Args) != 1 || len(second.Args) != 1 {
			continue
		}
		dst, ok := first.Dst.(lir.Register)
		if !ok || !sameOperand(second.Dst, dst) {
			continue
		}
		imm, ok := first.Args[0].(lir.Imm)
		if !ok {
			continue
		}
		reg2, ok := second.Args[0].(lir.Register)
		if !ok || sameOperand(reg2, dst) {
			continue
		}
		b.Insns[i] = lir.Instruction{Op: lir.OpLea, Dst: dst, Args: []lir.Operand{lir.Mem{Type: dst.Type, Base: reg2, Disp: imm}}, Comment: first.Comment}
		b.Insns = append(b.Insns[:i+1], b.Insns[i+2:]...)
		changed = true
	}
	return changed
}

// condJump is the direct Jcc for each Cond, mirroring x86.jccOp but kept
// local here since that table is unexported and this package only needs
// it for the cmp/setcc/test/jcc collapse below.
var condJump = map[lir.Cond]lir.Op{
	lir.CondLT: lir.OpJlt, lir.CondLE: lir.OpJle,
	lir.CondGT: lir.OpJgt, lir.CondGE: lir.OpJge,
	lir.CondEQ: lir.OpJeq, lir.CondNE: lir.OpJne,
}

var negateCond = map[lir.Cond]lir.Cond{
	lir.CondLT: lir.CondGE, lir.CondGE: lir.CondLT,
	lir.CondLE: lir.CondGT, lir.CondGT: lir.CondLE,
	lir.CondEQ: lir.CondNE, lir.CondNE: lir.CondEQ,
}

// collapseCmpSetccTest rewrites "cmp A, B; setcc reg; test reg, reg; jcc L"
// into "cmp A, B; jcc' L", the sequence instruction selection produces when
// a comparison's boolean result is also consumed elsewhere (so lowerCompare
// materializes it into reg instead of taking the flags-only path) but that
// consumer turns out to be dead by the time this branch runs. jcc' is jcc
// unchanged for "jnz" (branch when reg != 0, i.e. when the original
// condition held) and the negated condition for "jz".
func collapseCmpSetccTest(b *lir.Block) bool {
	changed := false
	for i := 0; i+3 < len(b.Insns); i++ {
		cmp, setcc, test, jcc := b.Insns[i], b.Insns[i+1], b.Insns[i+2], b.Insns[i+3]
		if cmp.Op != lir.OpCmp || setcc.Op != lir.OpSetCC || test.Op != lir.OpTest {
			continue
		}
		if jcc.Op != lir.OpJnz && jcc.Op != lir.OpJz {
			continue
		}
		reg, ok := setcc.Dst.(lir.Register)
		if !ok || len(test.Args) != 2 || !sameOperand(test.Args[0], reg) || !sameOperand(test.Args[1], reg) {
			continue
		}
		if usedAfter(b, i+4, reg) {
			continue
		}
		cond := setcc.Cond
		if jcc.Op == lir.OpJz {
			cond = negateCond[cond]
		}
		op, ok := condJump[cond]
		if !ok {
			continue
		}
		b.Insns[i+1] = lir.Instruction{Op: op, Args: jcc.Args, Comment: jcc.Comment}
		b.Insns = append(b.Insns[:i+2], b.Insns[i+4:]...)
		changed = true
	}
	return changed
}

// collapseJumpChains rewrites any "jmp A" whose target block A's only
// instruction is itself "jmp B" into a direct "jmp B", short-circuiting
// a chain of empty relay blocks that can appear after CFG simplification
// ran ahead of instruction selection rather than after it.
func collapseJumpChains(fn *lir.Func) bool {
	byLabel := make(map[string]*lir.Block, len(fn.Blocks))
	for _, b := range fn.Blocks {
		byLabel[b.Label.Name] = b
	}
	changed := false
	for _, b := range fn.Blocks {
		for i, insn := range b.Insns {
			if insn.Op != lir.OpJmp || len(insn.Args) != 1 {
				continue
			}
			target, ok := insn.Args[0].(lir.Label)
			if !ok {
				continue
			}
			seen := map[string]bool{}
			cur := target
			for {
				if seen[cur.Name] {
					break
				}
				seen[cur.Name] = true
				tb, ok := byLabel[cur.Name]
				if !ok || len(tb.Insns) != 1 || tb.Insns[0].Op != lir.OpJmp || len(tb.Insns[0].Args) != 1 {
					break
				}
				next, ok := tb.Insns[0].Args[0].(lir.Label)
				if !ok {
					break
				}
				cur = next
			}
			if cur.Name != target.Name {
				b.Insns[i].Args[0] = cur
				changed = true
			}
		}
	}
	return changed
}
