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

package optimize

import (
	"testing"

	"github.com/nyxcore/ccx86/internal/ir"
	"github.com/nyxcore/ccx86/internal/types"
)

func constInt(b *ir.Block, n int64) *ir.Value {
	v := b.NewValue(ir.OpConstInt, types.IntType)
	v.Sym = n
	return v
}

func newLeafFunc() (*ir.Func, *ir.Block) {
	fn := ir.NewFunc("f", types.NewLayoutTable())
	entry := fn.NewBlock(ir.BlockReturn)
	fn.Entry = entry
	entry.Hint = ir.HintEntry
	return fn, entry
}

func countValues(fn *ir.Func, op ir.Op) int {
	n := 0
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if v.Op == op {
				n++
			}
		}
	}
	return n
}

func TestAlgebraicSimplifyAddZero(t *testing.T) {
	fn, b := newLeafFunc()
	x := constInt(b, 7)
	zero := constInt(b, 0)
	add := b.NewValue(ir.OpAdd, types.IntType, x, zero)
	sink := b.NewValue(ir.OpCopy, types.IntType, add)
	_ = sink

	if !runAlgebraicSimplify(fn) {
		t.Fatalf("expected algebraic simplification to fire on x+0")
	}
	if countValues(fn, ir.OpAdd) != 0 {
		t.Fatalf("expected Add to be eliminated, still present")
	}
	if sink.Args[0] != x {
		t.Fatalf("expected sink to now read x directly, got v%d", sink.Args[0].ID)
	}
}

func TestAlgebraicSimplifySelfCompare(t *testing.T) {
	fn, b := newLeafFunc()
	x := constInt(b, 3)
	eq := b.NewValue(ir.OpCmpEQ, types.IntType, x, x)
	_ = b.NewValue(ir.OpCopy, types.IntType, eq)

	if !runAlgebraicSimplify(fn) {
		t.Fatalf("expected x==x to simplify")
	}
	if countValues(fn, ir.OpCmpEQ) != 0 {
		t.Fatalf("expected CmpEQ to be eliminated")
	}
}

func TestStrengthReductionMulPowerOfTwo(t *testing.T) {
	fn, b := newLeafFunc()
	x := constInt(b, 5)
	eight := constInt(b, 8)
	mul := b.NewValue(ir.OpMul, types.IntType, x, eight)
	_ = b.NewValue(ir.OpCopy, types.IntType, mul)

	if !runStrengthReduction(fn) {
		t.Fatalf("expected x*8 to strength-reduce")
	}
	if mul.Op != ir.OpShl {
		t.Fatalf("expected Mul to become Shl, got %v", mul.Op)
	}
}

func TestCopyPropagationChain(t *testing.T) {
	fn, b := newLeafFunc()
	x := constInt(b, 42)
	c1 := b.NewValue(ir.OpCopy, types.IntType, x)
	c2 := b.NewValue(ir.OpCopy, types.IntType, c1)
	user := b.NewValue(ir.OpAdd, types.IntType, c2, c2)

	if !runCopyPropagation(fn) {
		t.Fatalf("expected copy chain to resolve")
	}
	if user.Args[0] != x || user.Args[1] != x {
		t.Fatalf("expected user to read x directly through the copy chain")
	}
	if countValues(fn, ir.OpCopy) != 0 {
		t.Fatalf("expected dead copies to be removed")
	}
}

func TestLoadForwarding(t *testing.T) {
	fn, b := newLeafFunc()
	slot := b.NewValue(ir.OpFrameAddr, types.PointerTo(types.IntType))
	slot.Sym = "x"
	val := constInt(b, 9)
	b.NewValue(ir.OpStore, nil, slot, val)
	load := b.NewValue(ir.OpLoad, types.IntType, slot)
	user := b.NewValue(ir.OpAdd, types.IntType, load, load)

	if !runLoadForwarding(fn) {
		t.Fatalf("expected the load to forward from the preceding store")
	}
	if user.Args[0].Op != ir.OpCopy || user.Args[0].Args[0] != val {
		t.Fatalf("expected load replaced with a Copy of the stored value")
	}
}

func TestCSEDuplicateBinary(t *testing.T) {
	fn, b := newLeafFunc()
	x := constInt(b, 1)
	y := constInt(b, 2)
	a := b.NewValue(ir.OpAdd, types.IntType, x, y)
	d := b.NewValue(ir.OpAdd, types.IntType, y, x) // commutative duplicate, operands swapped
	user := b.NewValue(ir.OpSub, types.IntType, a, d)

	if !runCSE(fn) {
		t.Fatalf("expected CSE to collapse the duplicate commutative Add")
	}
	if user.Args[1].Op != ir.OpCopy || user.Args[1].Args[0] != a {
		t.Fatalf("expected second Add replaced with a Copy of the first")
	}
}

func TestConstantFoldAndDCE(t *testing.T) {
	fn, b := newLeafFunc()
	x := constInt(b, 3)
	y := constInt(b, 4)
	sum := b.NewValue(ir.OpAdd, types.IntType, x, y)
	_ = sum // unused: must be DCE'd once folded, since OpAdd is pure

	if !runConstantFoldAndDCE(fn) {
		t.Fatalf("expected constant folding to fire")
	}
	if countValues(fn, ir.OpAdd) != 0 {
		t.Fatalf("expected the folded, now-dead Add to be removed by DCE")
	}
}

func TestConstantFoldSkipsDivByZero(t *testing.T) {
	fn, b := newLeafFunc()
	x := constInt(b, 3)
	zero := constInt(b, 0)
	div := b.NewValue(ir.OpDiv, types.IntType, x, zero)
	sink := b.NewValue(ir.OpCopy, types.IntType, div)
	sink.AddUseBlock(b) // returned, so DCE keeps the division and only folding decides its fate

	runConstantFoldAndDCE(fn)
	if countValues(fn, ir.OpDiv) != 1 {
		t.Fatalf("expected division by a constant zero to be left alone, not folded")
	}
}

func TestMem2RegPromotesSimpleSlot(t *testing.T) {
	fn, b := newLeafFunc()
	slot := b.NewValue(ir.OpFrameAddr, types.PointerTo(types.IntType))
	slot.Sym = "x"
	val := constInt(b, 11)
	b.NewValue(ir.OpStore, nil, slot, val)
	load := b.NewValue(ir.OpLoad, types.IntType, slot)
	load.AddUseBlock(b)

	runMem2Reg(fn)

	if countValues(fn, ir.OpFrameAddr) != 0 {
		t.Fatalf("expected the promotable slot to be deleted")
	}
	if countValues(fn, ir.OpLoad) != 0 || countValues(fn, ir.OpStore) != 0 {
		t.Fatalf("expected Load/Store on the promoted slot to be rewritten away")
	}
	if b.Ctrl != val {
		t.Fatalf("expected the function's return value to resolve directly to the stored constant")
	}
}

func TestMem2RegLeavesVolatileSlotAlone(t *testing.T) {
	fn, b := newLeafFunc()
	slot := b.NewValue(ir.OpFrameAddr, types.PointerTo(types.IntType))
	slot.Sym = "x"
	val := constInt(b, 11)
	st := b.NewValue(ir.OpStore, nil, slot, val)
	st.Volatile = true
	ld := b.NewValue(ir.OpLoad, types.IntType, slot)
	ld.Volatile = true
	b.Ctrl = ld

	runMem2Reg(fn)

	if countValues(fn, ir.OpFrameAddr) != 1 {
		t.Fatalf("expected a volatile slot to stay un-promoted")
	}
}

// diamondFunc builds entry -> {thenB, elseB} -> merge, with merge holding
// a phi combining a value defined in each arm, mirroring the shape
// internal/ir's ternary/short-circuit lowering produces directly.
func diamondFunc() (fn *ir.Func, entry, thenB, elseB, merge *ir.Block, phi *ir.Value) {
	fn = ir.NewFunc("f", types.NewLayoutTable())
	entry = fn.NewBlock(ir.BlockIf)
	fn.Entry = entry
	cond := constInt(entry, 1)
	cond.AddUseBlock(entry)

	thenB = fn.NewBlock(ir.BlockGoto)
	elseB = fn.NewBlock(ir.BlockGoto)
	merge = fn.NewBlock(ir.BlockReturn)

	entry.WireTo(thenB)
	entry.WireTo(elseB)
	thenB.WireTo(merge)
	elseB.WireTo(merge)

	tv := constInt(thenB, 1)
	ev := constInt(elseB, 2)
	phi = merge.NewValue(ir.OpPhi, types.IntType, tv, ev)
	merge.Ctrl = phi
	return
}

func TestPhiRemovalInsertsCopiesAndCoalesces(t *testing.T) {
	fn, _, thenB, elseB, merge, phi := diamondFunc()

	runPhiRemoval(fn)

	if countValues(fn, ir.OpPhi) != 0 {
		t.Fatalf("expected the phi instruction to be removed from its block")
	}
	var thenCopy, elseCopy *ir.Value
	for _, v := range thenB.Values {
		if v.Op == ir.OpCopy {
			thenCopy = v
		}
	}
	for _, v := range elseB.Values {
		if v.Op == ir.OpCopy {
			elseCopy = v
		}
	}
	if thenCopy == nil || elseCopy == nil {
		t.Fatalf("expected a feeding Copy in both predecessor blocks")
	}
	if thenCopy.CoalesceWith != phi || elseCopy.CoalesceWith != phi {
		t.Fatalf("expected both copies to hint coalescing with the removed phi")
	}
	if merge.Ctrl != phi {
		t.Fatalf("expected consumers to keep referencing the phi's own identity")
	}
}

func TestCFGSimplifyMergesStraightLine(t *testing.T) {
	fn := ir.NewFunc("f", types.NewLayoutTable())
	a := fn.NewBlock(ir.BlockGoto)
	fn.Entry = a
	b := fn.NewBlock(ir.BlockReturn)
	a.WireTo(b)
	v := constInt(b, 5)
	b.Ctrl = v

	if !runCFGSimplify(fn) {
		t.Fatalf("expected the straight-line block to merge")
	}
	if a.Kind != ir.BlockReturn {
		t.Fatalf("expected a to absorb b's Return kind, got %v", a.Kind)
	}
	if len(a.Values) != 1 || a.Values[0] != v {
		t.Fatalf("expected a to absorb b's single value")
	}
}

func TestCFGSimplifyBypassesEmptyBlock(t *testing.T) {
	// a is a two-way branch and target has two predecessors, so the
	// straight-line merge rule cannot absorb empty or target into a; only
	// the bypass rule can point a's edge straight at target.
	fn := ir.NewFunc("f", types.NewLayoutTable())
	a := fn.NewBlock(ir.BlockIf)
	fn.Entry = a
	cond := constInt(a, 1)
	cond.AddUseBlock(a)
	empty := fn.NewBlock(ir.BlockGoto)
	target := fn.NewBlock(ir.BlockReturn)
	a.WireTo(empty)
	a.WireTo(target)
	empty.WireTo(target)
	v := constInt(target, 1)
	target.Ctrl = v

	if !runCFGSimplify(fn) {
		t.Fatalf("expected the empty block to be bypassed")
	}
	found := false
	for _, s := range a.Succs {
		if s == target {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a to branch directly to target")
	}
}
