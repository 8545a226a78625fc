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

package peephole

import (
	"testing"

	"github.com/nyxcore/ccx86/internal/codegen/lir"
)

var rax = lir.Register{Name: "rax", Type: lir.TypeQWord}
var rbx = lir.Register{Name: "rbx", Type: lir.TypeQWord}

func TestRemoveSelfMoves(t *testing.T) {
	fn := lir.NewFunc("f")
	b := fn.NewBlock()
	b.Emit(lir.OpMov, rax, rax)
	b.Emit(lir.OpMov, rbx, rax)

	if !Run(fn) {
		t.Fatalf("expected Run to report a change")
	}
	if len(b.Insns) != 1 {
		t.Fatalf("expected the self-move to be dropped, got %d instructions", len(b.Insns))
	}
}

func TestFuseMovPairs(t *testing.T) {
	fn := lir.NewFunc("f")
	b := fn.NewBlock()
	tmp := fn.NewVReg(lir.TypeQWord)
	b.Emit(lir.OpMov, tmp, lir.Imm{Type: lir.TypeQWord, Value: int64(7)})
	b.Emit(lir.OpMov, rbx, tmp)

	if !Run(fn) {
		t.Fatalf("expected Run to report a change")
	}
	if len(b.Insns) != 1 {
		t.Fatalf("expected the pair to fuse into one mov, got %d instructions", len(b.Insns))
	}
	insn := b.Insns[0]
	dst, ok := insn.Dst.(lir.Register)
	if !ok || dst.Name != "rbx" {
		t.Fatalf("expected the fused mov to target rbx, got %+v", insn.Dst)
	}
	imm, ok := insn.Args[0].(lir.Imm)
	if !ok || imm.Value != int64(7) {
		t.Fatalf("expected the fused mov to carry the original immediate, got %+v", insn.Args[0])
	}
}

func TestFuseMovPairsSkippedWhenRegUsedAfter(t *testing.T) {
	fn := lir.NewFunc("f")
	b := fn.NewBlock()
	tmp := fn.NewVReg(lir.TypeQWord)
	b.Emit(lir.OpMov, tmp, lir.Imm{Type: lir.TypeQWord, Value: int64(7)})
	b.Emit(lir.OpMov, rbx, tmp)
	b.Emit(lir.OpAdd, rbx, rbx, tmp) // tmp read again after the pair

	Run(fn)
	if len(b.Insns) != 3 {
		t.Fatalf("expected the fuse rule to back off when the source register is used again, got %d instructions", len(b.Insns))
	}
}

func TestRemoveIdentityArith(t *testing.T) {
	fn := lir.NewFunc("f")
	b := fn.NewBlock()
	b.Emit(lir.OpAdd, rax, rax, lir.Imm{Type: lir.TypeQWord, Value: int64(0)})
	b.Emit(lir.OpMul, rax, rax, lir.Imm{Type: lir.TypeQWord, Value: int64(1)})
	b.Emit(lir.OpAdd, rax, rax, lir.Imm{Type: lir.TypeQWord, Value: int64(5)})

	if !Run(fn) {
		t.Fatalf("expected Run to report a change")
	}
	if len(b.Insns) != 1 {
		t.Fatalf("expected the two identity ops to be dropped, got %d instructions", len(b.Insns))
	}
}

func TestFuseLeaImm(t *testing.T) {
	fn := lir.NewFunc("f")
	b := fn.NewBlock()
	b.Emit(lir.OpMov, rax, lir.Imm{Type: lir.TypeQWord, Value: int64(12)})
	b.Emit(lir.OpAdd, rax, rbx)

	if !Run(fn) {
		t.Fatalf("expected Run to report a change")
	}
	if len(b.Insns) != 1 {
		t.Fatalf("expected the pair to fuse into one lea, got %d instructions", len(b.Insns))
	}
	insn := b.Insns[0]
	if insn.Op != lir.OpLea {
		t.Fatalf("expected a lea, got %v", insn.Op)
	}
	mem, ok := insn.Args[0].(lir.Mem)
	if !ok || mem.Base.Name != "rbx" {
		t.Fatalf("expected the lea to address off rbx, got %+v", insn.Args[0])
	}
	imm, ok := mem.Disp.(lir.Imm)
	if !ok || imm.Value != int64(12) {
		t.Fatalf("expected the lea's displacement to carry the original immediate, got %+v", mem.Disp)
	}
}

func TestCollapseCmpSetccTest(t *testing.T) {
	fn := lir.NewFunc("f")
	entry := fn.NewBlock()
	then := fn.NewBlock()
	entry.Label = lir.Label{Name: "entry"}
	then.Label = lir.Label{Name: "then"}

	entry.Emit(lir.OpCmp, nil, rax, rbx)
	entry.Emit(lir.OpSetCC, rax, nil).Cond = lir.CondLT
	entry.Emit(lir.OpTest, nil, rax, rax)
	entry.Emit(lir.OpJnz, nil, then.Label)

	if !Run(fn) {
		t.Fatalf("expected Run to report a change")
	}
	if len(entry.Insns) != 2 {
		t.Fatalf("expected the window to collapse to cmp;jcc, got %d instructions", len(entry.Insns))
	}
	if entry.Insns[1].Op != lir.OpJlt {
		t.Fatalf("expected a direct jlt preserving the setcc's condition, got %v", entry.Insns[1].Op)
	}
}

func TestCollapseCmpSetccTestNegatesOnJz(t *testing.T) {
	fn := lir.NewFunc("f")
	entry := fn.NewBlock()
	then := fn.NewBlock()
	entry.Label = lir.Label{Name: "entry"}
	then.Label = lir.Label{Name: "then"}

	entry.Emit(lir.OpCmp, nil, rax, rbx)
	entry.Emit(lir.OpSetCC, rax, nil).Cond = lir.CondLT
	entry.Emit(lir.OpTest, nil, rax, rax)
	entry.Emit(lir.OpJz, nil, then.Label)

	Run(fn)
	if entry.Insns[1].Op != lir.OpJge {
		t.Fatalf("expected jz to invert CondLT into a direct jge, got %v", entry.Insns[1].Op)
	}
}

func TestCollapseJumpChains(t *testing.T) {
	fn := lir.NewFunc("f")
	entry := fn.NewBlock()
	relay := fn.NewBlock()
	target := fn.NewBlock()

	entry.Label = lir.Label{Name: "entry"}
	relay.Label = lir.Label{Name: "relay"}
	target.Label = lir.Label{Name: "target"}

	entry.Emit(lir.OpJmp, nil, relay.Label)
	relay.Emit(lir.OpJmp, nil, target.Label)
	target.Emit(lir.OpRet, nil)

	if !Run(fn) {
		t.Fatalf("expected Run to report a change")
	}
	got := entry.Insns[0].Args[0].(lir.Label)
	if got.Name != "target" {
		t.Fatalf("expected entry's jump to collapse straight to target, got %q", got.Name)
	}
}
