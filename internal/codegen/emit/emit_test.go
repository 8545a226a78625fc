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

package emit

import (
	"strings"
	"testing"

	"github.com/nyxcore/ccx86/internal/codegen/lir"
)

var rax = lir.Register{Name: "rax", Type: lir.TypeQWord}
var rbx = lir.Register{Name: "rbx", Type: lir.TypeQWord}
var rcx = lir.Register{Name: "rcx", Type: lir.TypeQWord}

func simpleFunc(insns ...lir.Instruction) *lir.Func {
	fn := lir.NewFunc("f")
	b := fn.NewBlock()
	b.Label = lir.Label{Name: ".L0"}
	b.Insns = insns
	return fn
}

func TestEmitReturnConstant(t *testing.T) {
	fn := simpleFunc(
		lir.Instruction{Op: lir.OpMov, Dst: rax, Args: []lir.Operand{lir.Imm{Type: lir.TypeQWord, Value: int64(42)}}},
		lir.Instruction{Op: lir.OpRet},
	)
	out := New().EmitUnit([]*lir.Func{fn}, nil, nil, nil)

	if !strings.Contains(out, ".intel_syntax noprefix") {
		t.Fatalf("expected the Intel syntax directive, got:\n%s", out)
	}
	if !strings.Contains(out, "mov rax, 42") {
		t.Fatalf("expected 'mov rax, 42', got:\n%s", out)
	}
	if !strings.Contains(out, "push rbp") || !strings.Contains(out, "pop rbp") {
		t.Fatalf("expected a standard prologue/epilogue, got:\n%s", out)
	}
	if !strings.Contains(out, "ret") {
		t.Fatalf("expected a ret, got:\n%s", out)
	}
}

func TestEmitDivModSequence(t *testing.T) {
	fn := simpleFunc(
		lir.Instruction{Op: lir.OpDiv, Dst: rcx, Args: []lir.Operand{rax, rbx}},
		lir.Instruction{Op: lir.OpRet},
	)
	out := New().EmitUnit([]*lir.Func{fn}, nil, nil, nil)

	for _, want := range []string{"cqo", "idiv rbx", "mov rcx, rax"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in div sequence, got:\n%s", want, out)
		}
	}
}

func TestEmitLogicalNotFoldsInMissingMove(t *testing.T) {
	// ir.OpLogNot lowers to a two-Args xor with no preceding mov
	// establishing Dst==Args[0]; emitBinary must synthesize that move
	// rather than discard Args[0] (see DESIGN.md's grounding ledger for
	// internal/codegen/emit).
	fn := simpleFunc(
		lir.Instruction{Op: lir.OpXor, Dst: rcx, Args: []lir.Operand{rax, lir.Imm{Type: lir.TypeQWord, Value: int64(1)}}},
		lir.Instruction{Op: lir.OpRet},
	)
	out := New().EmitUnit([]*lir.Func{fn}, nil, nil, nil)

	if !strings.Contains(out, "mov rcx, rax") {
		t.Fatalf("expected the fold-in move from rax into rcx, got:\n%s", out)
	}
	if !strings.Contains(out, "xor rcx, 1") {
		t.Fatalf("expected the xor against the immediate, got:\n%s", out)
	}
}

func TestEmitNegSynthesizesFoldInMove(t *testing.T) {
	fn := simpleFunc(
		lir.Instruction{Op: lir.OpNeg, Dst: rcx, Args: []lir.Operand{rax}},
		lir.Instruction{Op: lir.OpRet},
	)
	out := New().EmitUnit([]*lir.Func{fn}, nil, nil, nil)

	if !strings.Contains(out, "mov rcx, rax") || !strings.Contains(out, "neg rcx") {
		t.Fatalf("expected a fold-in move followed by a one-operand neg, got:\n%s", out)
	}
}

func TestEmitFloatImmediateDeduplicatesPool(t *testing.T) {
	dbl := &lir.Type{Width: 8, Float: true, Double: true}
	xmm0 := lir.Register{Name: "xmm0", Type: dbl}
	xmm1 := lir.Register{Name: "xmm1", Type: dbl}
	fn := simpleFunc(
		lir.Instruction{Op: lir.OpMov, Dst: xmm0, Args: []lir.Operand{lir.Imm{Type: dbl, Value: 3.5}}},
		lir.Instruction{Op: lir.OpMov, Dst: xmm1, Args: []lir.Operand{lir.Imm{Type: dbl, Value: 3.5}}},
		lir.Instruction{Op: lir.OpRet},
	)
	out := New().EmitUnit([]*lir.Func{fn}, nil, nil, nil)

	if strings.Count(out, ".LCF0") < 2 {
		t.Fatalf("expected both movsd instructions to reference the same deduplicated float constant, got:\n%s", out)
	}
	if strings.Count(out, ".quad") != 1 {
		t.Fatalf("expected exactly one pooled float constant for two identical immediates, got:\n%s", out)
	}
	if !strings.Contains(out, "movsd xmm0, [rip+.LCF0]") {
		t.Fatalf("expected a RIP-relative movsd load, got:\n%s", out)
	}
}

func TestEmitSubWidthAliasing(t *testing.T) {
	// A 32-bit virtual register that regalloc colored to rax keeps its
	// Type narrower than the physical register's 64-bit home; operand()
	// must print "eax", not "rax".
	narrowRax := lir.Register{Name: "rax", Type: lir.TypeDWord}
	fn := simpleFunc(
		lir.Instruction{Op: lir.OpMov, Dst: narrowRax, Args: []lir.Operand{lir.Imm{Type: lir.TypeDWord, Value: int64(7)}}},
		lir.Instruction{Op: lir.OpRet},
	)
	out := New().EmitUnit([]*lir.Func{fn}, nil, nil, nil)
	if !strings.Contains(out, "mov eax, 7") {
		t.Fatalf("expected the dword-width alias 'eax', got:\n%s", out)
	}
	if strings.Contains(out, "mov rax, 7") {
		t.Fatalf("did not expect the 64-bit alias to be printed for a dword operand, got:\n%s", out)
	}
}
