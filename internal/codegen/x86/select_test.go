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
	"testing"

	"github.com/nyxcore/ccx86/internal/codegen/lir"
	"github.com/nyxcore/ccx86/internal/ir"
	"github.com/nyxcore/ccx86/internal/types"
)

// retConst builds "int f() { return 42; }" directly in IR form, the
// smallest possible function exercising Select's BlockReturn case.
func retConst(n int64) *ir.Func {
	fn := ir.NewFunc("f", types.NewLayoutTable())
	entry := fn.NewBlock(ir.BlockReturn)
	fn.Entry = entry
	entry.Hint = ir.HintEntry
	c := entry.NewValue(ir.OpConstInt, types.IntType)
	c.Sym = n
	entry.Ctrl = c
	return fn
}

func TestSelectReturnConstant(t *testing.T) {
	sel := NewSelector(SysV, types.NewLayoutTable())
	lfn := sel.Select(retConst(42))

	if len(lfn.Blocks) != 1 {
		t.Fatalf("expected exactly one block, got %d", len(lfn.Blocks))
	}
	insns := lfn.Blocks[0].Insns
	if len(insns) < 2 {
		t.Fatalf("expected at least a mov and a ret, got %d instructions", len(insns))
	}
	last := insns[len(insns)-1]
	if last.Op != lir.OpRet {
		t.Fatalf("expected the block to end with OpRet, got %v", last.Op)
	}

	var sawImm42, sawMovToRAX bool
	for _, insn := range insns {
		if insn.Op != lir.OpMov {
			continue
		}
		if imm, ok := insn.Args[0].(lir.Imm); ok && imm.Value == int64(42) {
			sawImm42 = true
		}
		if dst, ok := insn.Dst.(lir.Register); ok && dst.Name == "rax" {
			sawMovToRAX = true
		}
	}
	if !sawImm42 {
		t.Fatalf("expected a mov materializing the constant 42, got %+v", insns)
	}
	if !sawMovToRAX {
		t.Fatalf("expected the return value to be moved into rax, got %+v", insns)
	}
}

func TestSelectIsStaticPropagates(t *testing.T) {
	fn := retConst(0)
	fn.IsStatic = true
	sel := NewSelector(SysV, types.NewLayoutTable())
	lfn := sel.Select(fn)
	if !lfn.IsStatic {
		t.Fatalf("expected IsStatic to propagate from ir.Func to lir.Func")
	}
}
