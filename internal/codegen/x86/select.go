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
	"fmt"

	"github.com/nyxcore/ccx86/internal/codegen/lir"
	"github.com/nyxcore/ccx86/internal/ir"
	"github.com/nyxcore/ccx86/internal/types"
)

// Selector lowers one already-optimized, non-SSA (post phi-removal)
// ir.Func into LIR, grounded on falcon's lower_x86.go per-Value walk
// (lowerArithmetic/lowerCompare/resolvePhi), generalized to spec.md's
// wider op set and an explicit ABI instead of falcon's single hard-coded
// convention.
type Selector struct {
	abi     ABI
	layouts *types.LayoutTable

	vregs     map[*ir.Value]lir.Register
	blocks    map[*ir.Block]*lir.Block
	frameOff  map[string]int64 // FrameAddr Sym (local name) -> RBP-relative offset
	frameSize int64
}

func NewSelector(abi ABI, layouts *types.LayoutTable) *Selector {
	return &Selector{abi: abi, layouts: layouts,
		vregs: make(map[*ir.Value]lir.Register), blocks: make(map[*ir.Block]*lir.Block),
		frameOff: make(map[string]int64)}
}

// Select lowers fn and returns its LIR function; the per-local frame
// offsets it assigns stay in the Selector's own table.
func (s *Selector) Select(fn *ir.Func) *lir.Func {
	out := lir.NewFunc(fn.Name)
	out.IsStatic = fn.IsStatic
	s.allocateFrameSlots(fn)

	for _, b := range fn.Blocks {
		if b.Kind == ir.BlockDead {
			continue
		}
		lb := out.NewBlock()
		lb.Label = lir.Label{Name: fmt.Sprintf(".L%d", b.ID)}
		s.blocks[b] = lb
	}

	s.lowerParams(fn, out)

	for _, b := range fn.Blocks {
		if b.Kind == ir.BlockDead {
			continue
		}
		s.lowerBlock(b, out)
	}
	out.FrameSize = s.frameSize
	return out
}

// allocateFrameSlots assigns every surviving FrameAddr (everything
// mem2reg did not promote: address-taken locals, arrays, structs) a
// negative RBP-relative offset, naturally aligned to its element type.
func (s *Selector) allocateFrameSlots(fn *ir.Func) {
	var off int64
	for _, b := range fn.Blocks {
		for _, v := range b.Values {
			if v.Op != ir.OpFrameAddr {
				continue
			}
			name, _ := v.Sym.(string)
			if _, ok := s.frameOff[name]; ok {
				continue
			}
			elem := v.Type.Elem
			size := elem.Size(s.layouts)
			if size == 0 {
				size = 8
			}
			align := elem.Align(s.layouts)
			off += size
			off = alignUp(off, align)
			s.frameOff[name] = -off
		}
	}
	s.frameSize = alignUp(off, 16)
}

func alignUp(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

func (s *Selector) lowerParams(fn *ir.Func, out *lir.Func) {
	entry := s.blocks[fn.Entry]
	intIdx, floatIdx := 0, 0
	for i, pt := range fn.ParamTypes {
		vt := lirTypeOf(pt)
		dst := out.NewVReg(vt)
		out.Params = append(out.Params, dst)
		if pt.IsFloating() {
			if src, ok := s.abi.FloatArgReg(floatIdx); ok {
				entry.Emit(lir.OpMov, dst, withType(src, vt))
			} else {
				entry.Emit(lir.OpMov, dst, incomingStackArg(i, vt))
			}
			floatIdx++
		} else {
			if src, ok := s.abi.IntArgReg(intIdx); ok {
				entry.Emit(lir.OpMov, dst, withType(src, vt))
			} else {
				entry.Emit(lir.OpMov, dst, incomingStackArg(i, vt))
			}
			intIdx++
		}
	}
}

func incomingStackArg(i int, t *lir.Type) lir.Mem {
	return lir.Mem{Type: t, Base: RBP, Disp: lir.Imm{Type: lir.TypeQWord, Value: int64(16 + 8*i)}}
}

func withType(r lir.Register, t *lir.Type) lir.Register {
	r.Type = t
	return r
}

func lirTypeOf(t *types.Type) *lir.Type {
	switch {
	case t == nil:
		return lir.TypeQWord
	case t.Kind == types.Double:
		return lir.TypeSD
	case t.Kind == types.Float:
		return lir.TypeSS
	default:
		switch t.Size(nil) {
		case 1:
			return lir.TypeByte
		case 2:
			return lir.TypeWord
		case 4:
			return lir.TypeDWord
		default:
			return lir.TypeQWord
		}
	}
}

// vreg returns the virtual register holding v's value, materializing
// one the first time v is seen. A Copy produced by phi removal that
// carries a CoalesceWith hint is assigned the SAME vreg as the phi it
// feeds rather than a fresh one - the allocator then only ever sees one
// vreg for the phi and all its predecessor copies, which is a simpler
// (if less flexible) realization of spec.md 4.6's coalescing hint than
// a separate post-allocation coalescing pass: the copy's mov still runs
// on every path, but it writes directly into the phi's eventual
// Location instead of a distinct one the allocator might fail to merge.
func (s *Selector) vreg(out *lir.Func, v *ir.Value) lir.Register {
	if r, ok := s.vregs[v]; ok {
		return r
	}
	target := v
	if v.Op == ir.OpCopy && v.CoalesceWith != nil {
		target = v.CoalesceWith
		if r, ok := s.vregs[target]; ok {
			s.vregs[v] = r
			return r
		}
	}
	r := out.NewVReg(lirTypeOf(v.Type))
	s.vregs[target] = r
	s.vregs[v] = r
	return r
}
