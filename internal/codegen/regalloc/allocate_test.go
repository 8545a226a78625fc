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

import (
	"testing"

	"github.com/nyxcore/ccx86/internal/codegen/lir"
)

var testIntRegs = []lir.Register{
	{Name: "ra", Type: lir.TypeQWord},
	{Name: "rb", Type: lir.TypeQWord},
}

// threeWayLive builds z=3; x=1; y=2; r1=x+y; r2=r1+z - ordered so x, y and
// z are all simultaneously live right before r1 is computed (z is still
// needed for r2's addition), forcing a spill against the two-register
// testIntRegs class above.
func threeWayLive() *lir.Func {
	fn := lir.NewFunc("f")
	b := fn.NewBlock()
	z := fn.NewVReg(lir.TypeQWord)
	x := fn.NewVReg(lir.TypeQWord)
	y := fn.NewVReg(lir.TypeQWord)
	r1 := fn.NewVReg(lir.TypeQWord)
	r2 := fn.NewVReg(lir.TypeQWord)

	b.Emit(lir.OpMov, z, lir.Imm{Type: lir.TypeQWord, Value: int64(3)})
	b.Emit(lir.OpMov, x, lir.Imm{Type: lir.TypeQWord, Value: int64(1)})
	b.Emit(lir.OpMov, y, lir.Imm{Type: lir.TypeQWord, Value: int64(2)})
	b.Emit(lir.OpAdd, r1, x, y)
	b.Emit(lir.OpAdd, r2, r1, z)
	b.Emit(lir.OpRet, nil)
	return fn
}

func TestAllocateSpillsWhenOverSubscribed(t *testing.T) {
	fn := threeWayLive()
	res := Allocate(fn, testIntRegs, nil, nil)
	if res.SpillBytes == 0 {
		t.Fatalf("expected at least one spill with only %d registers for 3 simultaneously live values", len(testIntRegs))
	}
	assertNoVirtualRegsLeft(t, fn)
}

func TestAllocateNoSpillWhenRegistersSuffice(t *testing.T) {
	fn := threeWayLive()
	wideRegs := append(append([]lir.Register{}, testIntRegs...), lir.Register{Name: "rc", Type: lir.TypeQWord})
	res := Allocate(fn, wideRegs, nil, nil)
	if res.SpillBytes != 0 {
		t.Fatalf("expected no spill with 3 registers for 3 simultaneously live values, got %d spill bytes", res.SpillBytes)
	}
	assertNoVirtualRegsLeft(t, fn)
}

func assertNoVirtualRegsLeft(t *testing.T, fn *lir.Func) {
	t.Helper()
	for _, b := range fn.Blocks {
		for _, insn := range b.Insns {
			if r, ok := insn.Dst.(lir.Register); ok && r.Virtual {
				t.Fatalf("Dst %v left virtual after allocation", r)
			}
			for _, a := range insn.Args {
				if r, ok := a.(lir.Register); ok && r.Virtual {
					t.Fatalf("Arg %v left virtual after allocation", r)
				}
			}
		}
	}
}
