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

package lir

import "testing"

func TestNewVRegIndexesSequentially(t *testing.T) {
	fn := NewFunc("f")
	a := fn.NewVReg(TypeQWord)
	b := fn.NewVReg(TypeDWord)
	if a.Index != 0 || b.Index != 1 {
		t.Fatalf("expected sequential indices 0,1, got %d,%d", a.Index, b.Index)
	}
	if fn.NumVRegs != 2 {
		t.Fatalf("expected NumVRegs to track allocations, got %d", fn.NumVRegs)
	}
	if !a.Virtual || !b.Virtual {
		t.Fatalf("expected NewVReg results to be marked Virtual")
	}
}

func TestNewBlockAssignsSequentialIDs(t *testing.T) {
	fn := NewFunc("f")
	b0 := fn.NewBlock()
	b1 := fn.NewBlock()
	if b0.ID != 0 || b1.ID != 1 {
		t.Fatalf("expected sequential block IDs 0,1, got %d,%d", b0.ID, b1.ID)
	}
	if len(fn.Blocks) != 2 {
		t.Fatalf("expected both blocks recorded on Func, got %d", len(fn.Blocks))
	}
}

func TestEmitAppendsAndReturnsPointer(t *testing.T) {
	fn := NewFunc("f")
	b := fn.NewBlock()
	dst := fn.NewVReg(TypeQWord)
	insn := b.Emit(OpAdd, dst, dst, Imm{Type: TypeQWord, Value: int64(1)})

	if len(b.Insns) != 1 {
		t.Fatalf("expected one instruction recorded, got %d", len(b.Insns))
	}
	if insn.Op != OpAdd {
		t.Fatalf("expected returned instruction to carry the emitted op, got %v", insn.Op)
	}
	// Mutating through the returned pointer must affect the block's slice,
	// since peephole and regalloc rewrite instructions in place via it.
	insn.Comment = "bumped"
	if b.Insns[0].Comment != "bumped" {
		t.Fatalf("expected Emit's returned pointer to alias the stored instruction")
	}
}

func TestRegisterStringDistinguishesVirtualFromPhysical(t *testing.T) {
	phys := Register{Name: "rax", Type: TypeQWord}
	virt := Register{Index: 3, Virtual: true, Type: TypeQWord}

	if phys.String() != "rax" {
		t.Fatalf("expected physical register to print its mnemonic, got %q", phys.String())
	}
	if virt.String() != "v3" {
		t.Fatalf("expected virtual register to print as v<index>, got %q", virt.String())
	}
}

func TestOperandGetTypeRoundTrips(t *testing.T) {
	reg := Register{Name: "rax", Type: TypeQWord}
	imm := Imm{Type: TypeDWord, Value: int64(7)}
	mem := Mem{Type: TypeByte, Base: reg}
	label := Label{Name: ".L0"}
	sym := Symbol{Name: "g"}

	if reg.GetType() != TypeQWord {
		t.Fatalf("expected Register.GetType to return its Type field")
	}
	if imm.GetType() != TypeDWord {
		t.Fatalf("expected Imm.GetType to return its Type field")
	}
	if mem.GetType() != TypeByte {
		t.Fatalf("expected Mem.GetType to return its Type field")
	}
	if label.GetType() != nil {
		t.Fatalf("expected Label.GetType to be nil, labels carry no width")
	}
	if sym.GetType() != nil {
		t.Fatalf("expected Symbol.GetType to be nil, symbols carry no width")
	}
}

func TestMemStringFormatsBaseIndexScaleDisp(t *testing.T) {
	base := Register{Name: "rbx", Type: TypeQWord}
	idx := Register{Name: "rcx", Type: TypeQWord}
	m := Mem{Type: TypeQWord, Base: base, Index: &idx, Scale: 4, Disp: Imm{Type: TypeDWord, Value: int64(8)}}

	got := m.String()
	want := "[rbx+rcx*4+8]"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestInstructionStringIncludesDstArgsAndComment(t *testing.T) {
	insn := Instruction{
		Op:      OpAdd,
		Dst:     Register{Name: "rax", Type: TypeQWord},
		Args:    []Operand{Register{Name: "rax", Type: TypeQWord}, Imm{Type: TypeQWord, Value: int64(1)}},
		Comment: "bump",
	}
	got := insn.String()
	want := "add rax, rax, 1 ; bump"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestOpStringCoversFullTable(t *testing.T) {
	if OpAdd.String() != "add" {
		t.Fatalf("expected OpAdd to print \"add\", got %q", OpAdd.String())
	}
	if OpCvtSD2SS.String() != "cvtsd2ss" {
		t.Fatalf("expected the last table entry to resolve correctly, got %q", OpCvtSD2SS.String())
	}
	var outOfRange Op = 9999
	if outOfRange.String() != "?" {
		t.Fatalf("expected an out-of-range Op to print \"?\", got %q", outOfRange.String())
	}
}
