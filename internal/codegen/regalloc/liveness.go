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

// Package regalloc assigns each LIR virtual register a physical
// register or a stack slot via graph coloring. Liveness (gen/kill,
// iterative live-in/live-out to a fixpoint) is grounded on falcon's
// compile/codegen/lsra_interval.go computeGenKillMap/
// computeLiveInOutMap; the allocator built on top of it is new, since
// falcon's own LSRA never finished (tryAllocatePhyReg always returns
// true without assigning anything, and lsra() os.Exit(1)s) and spec.md
// 4.6 asks for graph coloring, not linear scan, anyway.
package regalloc

import "github.com/nyxcore/ccx86/internal/codegen/lir"

// vregID packs Register.Index; physical registers never enter the
// liveness sets computed here (they are pre-colored, see Allocate).
type vregID = int

func genKill(fn *lir.Func) (gen, kill []map[vregID]bool) {
	gen = make([]map[vregID]bool, len(fn.Blocks))
	kill = make([]map[vregID]bool, len(fn.Blocks))
	for _, b := range fn.Blocks {
		g, k := make(map[vregID]bool), make(map[vregID]bool)
		for _, insn := range b.Insns {
			for _, use := range readOperands(insn) {
				if r, ok := use.(lir.Register); ok && r.Virtual && !k[r.Index] {
					g[r.Index] = true
				}
			}
			if dst, ok := insn.Dst.(lir.Register); ok && dst.Virtual {
				k[dst.Index] = true
			}
		}
		gen[b.ID], kill[b.ID] = g, k
	}
	return gen, kill
}

// readOperands is every operand an instruction reads from: all of Args,
// plus Dst too when the op only partially writes it (e.g. a memory-
// operand store, where Dst is the address being written through, or a
// one-source op in x86-64's two-operand form, where the destination is
// also a source, as lowerBinaryArith emits it after its "mov dst, left").
// An op carrying two sources (lowerDivMod's div/mod, logical-not's xor)
// only writes Dst, so Dst is not read there.
func readOperands(insn lir.Instruction) []lir.Operand {
	var ops []lir.Operand
	ops = append(ops, insn.Args...)
	switch insn.Op {
	case lir.OpMov, lir.OpLea, lir.OpMovzx, lir.OpMovsx,
		lir.OpCvtSI2SS, lir.OpCvtSI2SD, lir.OpCvtTSS2SI, lir.OpCvtTSD2SI, lir.OpCvtSS2SD, lir.OpCvtSD2SS,
		lir.OpSetCC:
		// pure write of Dst from Args; Dst itself isn't read first.
	default:
		if insn.Dst != nil && len(insn.Args) < 2 {
			ops = append(ops, insn.Dst)
		}
	}
	if mem, ok := insn.Dst.(lir.Mem); ok {
		ops = append(ops, mem.Base)
		if mem.Index != nil {
			ops = append(ops, *mem.Index)
		}
	}
	for _, a := range insn.Args {
		if mem, ok := a.(lir.Mem); ok {
			ops = append(ops, mem.Base)
			if mem.Index != nil {
				ops = append(ops, *mem.Index)
			}
		}
	}
	return ops
}

// liveInOut computes live-in/live-out sets per block via the standard
// backward iterative dataflow fixpoint, grounded on falcon's
// computeLiveInOutMap.
func liveInOut(fn *lir.Func) (liveIn, liveOut []map[vregID]bool) {
	gen, kill := genKill(fn)
	n := len(fn.Blocks)
	liveIn = make([]map[vregID]bool, n)
	liveOut = make([]map[vregID]bool, n)
	for i := range liveIn {
		liveIn[i] = make(map[vregID]bool)
		liveOut[i] = make(map[vregID]bool)
	}
	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			b := fn.Blocks[i]
			out := make(map[vregID]bool)
			for _, succID := range b.Succs {
				for v := range liveIn[succID] {
					out[v] = true
				}
			}
			in := make(map[vregID]bool)
			for v := range gen[b.ID] {
				in[v] = true
			}
			for v := range out {
				if !kill[b.ID][v] {
					in[v] = true
				}
			}
			if !sameSet(in, liveIn[b.ID]) || !sameSet(out, liveOut[b.ID]) {
				changed = true
			}
			liveIn[b.ID], liveOut[b.ID] = in, out
		}
	}
	return liveIn, liveOut
}

func sameSet(a, b map[vregID]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
