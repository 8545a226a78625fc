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

package regalloc

import "github.com/nyxcore/ccx86/internal/codegen/lir"

const maxSpillRounds = 5

// Allocate colors fn's virtual registers against intRegs/floatRegs
// (disjoint register classes - general purpose vs SSE2 scalar),
// rewriting every Register operand in place to either a physical
// register or, for anything that doesn't fit, a fresh stack slot
// reloaded/spilled around each use. Frame size grows by one slot per
// spilled vreg; the caller (internal/codegen/x86's Selector already
// reserved the locals' own slots) must add Result.SpillBytes to the
// function's final frame size.
type Result struct {
	SpillBytes int64
}

// callerSavedNames is every register a call instruction may clobber -
// passed by internal/compiler from the selected ABI's CallerSaved(), so
// this package stays ABI-agnostic. divClobberedNames are RAX/RDX, which
// idiv/div clobber architecturally regardless of ABI.
func Allocate(fn *lir.Func, intRegs, floatRegs []lir.Register, callerSavedNames map[string]bool) Result {
	divClobberedNames := map[string]bool{"rax": true, "rdx": true}
	color := func() (coloring, coloring) {
		intGraph := buildInterference(fn, false)
		floatGraph := buildInterference(fn, true)
		intForbidden := forbiddenColors(intGraph, intRegs, callerSavedNames, divClobberedNames)
		// Every XMM register is caller-saved under both SysV and Win64 (no
		// ABI preserves any float register across a call), so a float vreg
		// live across a call can never be colored and always spills.
		floatForbidden := forbiddenColors(floatGraph, floatRegs, nil, nil)
		for v := range floatGraph.crossesCall {
			if floatForbidden[v] == nil {
				floatForbidden[v] = make(map[int]bool)
			}
			for i := range floatRegs {
				floatForbidden[v][i] = true
			}
		}
		return colorGraph(intGraph, len(intRegs), intForbidden), colorGraph(floatGraph, len(floatRegs), floatForbidden)
	}

	res := Result{}
	for round := 0; round < maxSpillRounds; round++ {
		intColoring, floatColoring := color()
		if len(intColoring.spills) == 0 && len(floatColoring.spills) == 0 {
			applyColoring(fn, intColoring, intRegs, false)
			applyColoring(fn, floatColoring, floatRegs, true)
			return res
		}

		for v := range intColoring.spills {
			res.SpillBytes += spillVreg(fn, v, res.SpillBytes, lir.TypeQWord)
		}
		for v := range floatColoring.spills {
			res.SpillBytes += spillVreg(fn, v, res.SpillBytes, lir.TypeSD)
		}
	}
	// Giving up after maxSpillRounds is only reachable on a pathological
	// function with more simultaneously-live values than physical
	// registers plus spill slots can resolve in a handful of rounds;
	// fall through and color whatever is left uncolored rather than
	// looping forever.
	intColoring, floatColoring := color()
	applyColoring(fn, intColoring, intRegs, false)
	applyColoring(fn, floatColoring, floatRegs, true)
	return res
}

// forbiddenColors turns g's crossesCall/crossesDivMod vreg sets into the
// per-vreg forbidden-color sets colorGraph's select step consults, by
// looking up which of regs' physical names are caller-saved or
// div-clobbered. Either name set may be nil to skip that rule.
func forbiddenColors(g *interferenceGraph, regs []lir.Register, callerSavedNames, divClobberedNames map[string]bool) map[vregID]map[int]bool {
	forbidden := make(map[vregID]map[int]bool)
	mark := func(v vregID, bad map[string]bool) {
		if bad == nil {
			return
		}
		for i, r := range regs {
			if bad[r.Name] {
				if forbidden[v] == nil {
					forbidden[v] = make(map[int]bool)
				}
				forbidden[v][i] = true
			}
		}
	}
	for v := range g.crossesCall {
		mark(v, callerSavedNames)
	}
	for v := range g.crossesDivMod {
		mark(v, divClobberedNames)
	}
	return forbidden
}

func applyColoring(fn *lir.Func, c coloring, regs []lir.Register, float bool) {
	for _, b := range fn.Blocks {
		for i := range b.Insns {
			rewriteOperand(&b.Insns[i].Dst, c, regs, float)
			for j := range b.Insns[i].Args {
				rewriteOperand(&b.Insns[i].Args[j], c, regs, float)
			}
		}
	}
}

func rewriteOperand(op *lir.Operand, c coloring, regs []lir.Register, float bool) {
	switch v := (*op).(type) {
	case lir.Register:
		*op = colorRegister(v, c, regs, float)
	case lir.Mem:
		v.Base = colorRegister(v.Base, c, regs, float)
		if v.Index != nil {
			idx := colorRegister(*v.Index, c, regs, float)
			v.Index = &idx
		}
		*op = v
	}
}

func colorRegister(r lir.Register, c coloring, regs []lir.Register, float bool) lir.Register {
	if !r.Virtual || !isClass(r, float) {
		return r
	}
	color, ok := c.color[r.Index]
	if !ok {
		color = 0
	}
	phys := regs[color]
	phys.Type = r.Type
	return phys
}

// spillVreg rewrites every reference to v into its own fresh vreg,
// reloaded from a dedicated stack slot immediately before each use and
// stored back immediately after each definition - the standard
// load-store-around-every-access spill strategy, traded for simplicity
// over the split-live-ranges-only-where-needed approach a production
// allocator would use. Each rewritten access gets a brand-new vreg, so
// the next coloring round sees a value live only within one
// instruction, which almost always colors immediately.
func spillVreg(fn *lir.Func, v vregID, priorSpillBytes int64, t *lir.Type) int64 {
	slotDisp := -(spillBaseOffset + priorSpillBytes + int64(t.Width))

	// reload rewrites every occurrence of v inside op (a bare Register, or
	// a Mem's Base/Index) into a fresh temporary and appends the Mov that
	// fills it from the spill slot to pending.
	reload := func(pending *[]lir.Instruction, op lir.Operand) lir.Operand {
		freshen := func(r lir.Register) lir.Register {
			if !r.Virtual || r.Index != v {
				return r
			}
			tmp := fn.NewVReg(r.Type)
			*pending = append(*pending, lir.Instruction{Op: lir.OpMov, Dst: tmp,
				Args: []lir.Operand{spillMem(t, slotDisp)}, Comment: "reload spill"})
			return tmp
		}
		switch o := op.(type) {
		case lir.Register:
			return freshen(o)
		case lir.Mem:
			o.Base = freshen(o.Base)
			if o.Index != nil {
				idx := freshen(*o.Index)
				o.Index = &idx
			}
			return o
		}
		return op
	}

	for _, b := range fn.Blocks {
		var rewritten []lir.Instruction
		for _, insn := range b.Insns {
			var pending []lir.Instruction
			for i, a := range insn.Args {
				insn.Args[i] = reload(&pending, a)
			}
			if dstMem, ok := insn.Dst.(lir.Mem); ok {
				insn.Dst = reload(&pending, dstMem)
			}
			rewritten = append(rewritten, pending...)

			if isDst, dstReg := matchesVreg(insn.Dst, v); isDst {
				tmp := fn.NewVReg(dstReg.Type)
				insn.Dst = tmp
				rewritten = append(rewritten, insn)
				rewritten = append(rewritten, lir.Instruction{Op: lir.OpMov, Dst: spillMem(t, slotDisp),
					Args: []lir.Operand{tmp}, Comment: "store spill"})
				continue
			}
			rewritten = append(rewritten, insn)
		}
		b.Insns = rewritten
	}
	return int64(t.Width)
}

// spillBaseOffset separates the register allocator's spill area from
// the frame slots internal/codegen/x86's Selector already assigned to
// surviving (non-promoted) locals, avoiding overlap without requiring
// the two passes to share a frame layout object.
const spillBaseOffset = 4096

func spillMem(t *lir.Type, disp int64) lir.Mem {
	return lir.Mem{Type: t, Base: basePointer, Disp: lir.Imm{Type: lir.TypeQWord, Value: disp}}
}

// basePointer is RBP addressed purely by name so this package does not
// need to import internal/codegen/x86 (which would create an import
// cycle back through ABI selection); the frame pointer's mnemonic is
// fixed by the x86-64 System V/Win64 ABIs this repo targets either way.
var basePointer = lir.Register{Name: "rbp", Type: lir.TypeQWord}

func matchesVreg(op lir.Operand, v vregID) (bool, lir.Register) {
	r, ok := op.(lir.Register)
	if !ok || !r.Virtual || r.Index != v {
		return false, lir.Register{}
	}
	return true, r
}
