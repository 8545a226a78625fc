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
	"github.com/nyxcore/ccx86/internal/ir"
	"github.com/nyxcore/ccx86/internal/types"
)

// mem2reg promotes scalar FrameAddr slots whose address never escapes to
// true SSA values, inserting phis at join points with Braun et al.'s
// on-the-fly construction (lookupVar/addPhiOperand/sealBlock), retargeted
// here at an already-complete CFG rather than one being built live -
// grounded on falcon's compile/ssa/graph.go GraphBuilder. Since the whole
// CFG is known upfront, "sealed" becomes "every predecessor precedes this
// block in reverse postorder"; loop headers (whose back-edge predecessor
// follows them in RPO) stay unsealed until a final cleanup pass completes
// their incomplete phis, mirroring graph.go's buildLoop/sealBlock split.
type mem2reg struct {
	fn *ir.Func

	promotable map[*ir.Value]bool // FrameAddr slot -> promotable

	currentDef map[*ir.Block]map[*ir.Value]*ir.Value
	sealed     map[*ir.Block]bool
	incomplete map[*ir.Block]map[*ir.Value]*ir.Value

	rpo   []*ir.Block
	index map[*ir.Block]int
}

func runMem2Reg(fn *ir.Func) bool {
	m := &mem2reg{
		fn:         fn,
		promotable: make(map[*ir.Value]bool),
		currentDef: make(map[*ir.Block]map[*ir.Value]*ir.Value),
		sealed:     make(map[*ir.Block]bool),
		incomplete: make(map[*ir.Block]map[*ir.Value]*ir.Value),
	}
	m.findPromotableSlots()
	if len(m.promotable) == 0 {
		return false
	}
	m.rpo = reversePostorder(fn)
	m.index = make(map[*ir.Block]int, len(m.rpo))
	for i, b := range m.rpo {
		m.index[b] = i
		m.currentDef[b] = make(map[*ir.Value]*ir.Value)
		m.incomplete[b] = make(map[*ir.Value]*ir.Value)
	}

	for _, b := range m.rpo {
		m.sealed[b] = m.allPredsEarlier(b)
		m.rewriteBlock(b)
	}
	for _, b := range m.rpo {
		if !m.sealed[b] {
			m.sealBlock(b)
		}
	}
	m.deletePromotedSlots()
	return true
}

func (m *mem2reg) allPredsEarlier(b *ir.Block) bool {
	for _, p := range b.Preds {
		if idx, ok := m.index[p]; !ok || idx >= m.index[b] {
			return false
		}
	}
	return true
}

// findPromotableSlots implements spec.md 4.5's promotability rule: a
// FrameAddr is promotable iff its type is scalar and every use is as the
// plain (non-volatile) address operand of a Load or Store.
func (m *mem2reg) findPromotableSlots() {
	for _, b := range m.fn.Blocks {
		for _, v := range b.Values {
			if v.Op != ir.OpFrameAddr {
				continue
			}
			elem := v.Type.Elem
			if elem == nil || elem.IsAggregate() {
				continue
			}
			if m.slotEscapes(v) {
				continue
			}
			m.promotable[v] = true
		}
	}
}

func (m *mem2reg) slotEscapes(slot *ir.Value) bool {
	for _, use := range slot.Uses {
		switch use.Op {
		case ir.OpLoad:
			if use.Args[0] != slot || use.Volatile {
				return true
			}
		case ir.OpStore:
			if use.Args[0] != slot || use.Volatile {
				return true
			}
			if len(use.Args) > 1 && use.Args[1] == slot {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func (m *mem2reg) rewriteBlock(b *ir.Block) {
	kept := b.Values[:0:0]
	for _, v := range b.Values {
		switch {
		case v.Op == ir.OpFrameAddr && m.promotable[v]:
			// dropped once all its loads/stores are rewritten below
			continue
		case v.Op == ir.OpLoad && m.promotable[v.Args[0]]:
			repl := m.readVariable(v.Args[0], b)
			v.ReplaceUses(repl)
			v.Args[0].RemoveUse(v)
			continue
		case v.Op == ir.OpStore && m.promotable[v.Args[0]]:
			m.writeVariable(v.Args[0], b, v.Args[1])
			for _, arg := range v.Args {
				arg.RemoveUse(v)
			}
			continue
		default:
			kept = append(kept, v)
		}
	}
	b.Values = kept
}

func (m *mem2reg) writeVariable(slot *ir.Value, b *ir.Block, val *ir.Value) {
	m.currentDef[b][slot] = val
}

func (m *mem2reg) readVariable(slot *ir.Value, b *ir.Block) *ir.Value {
	if v, ok := m.currentDef[b][slot]; ok {
		return v
	}
	return m.readVariableRecursive(slot, b)
}

func (m *mem2reg) readVariableRecursive(slot *ir.Value, b *ir.Block) *ir.Value {
	var val *ir.Value
	switch {
	case len(b.Preds) == 0:
		// Uninitialized read: spec.md 4.5 defaults to 0/0.0.
		val = zeroValueOf(b, slot.Type.Elem)
	case !m.sealed[b]:
		val = b.NewValue(ir.OpPhi, slot.Type.Elem)
		m.incomplete[b][slot] = val
	case len(b.Preds) == 1:
		val = m.readVariable(slot, b.Preds[0])
	default:
		val = b.NewValue(ir.OpPhi, slot.Type.Elem)
		m.writeVariable(slot, b, val)
		val = m.addPhiOperands(slot, val)
	}
	m.writeVariable(slot, b, val)
	return val
}

func zeroValueOf(b *ir.Block, t *types.Type) *ir.Value {
	if t != nil && t.IsFloating() {
		v := b.NewValue(ir.OpConstFloat, t)
		v.Sym = float64(0)
		return v
	}
	v := b.NewValue(ir.OpConstInt, t)
	v.Sym = int64(0)
	return v
}

func (m *mem2reg) sealBlock(b *ir.Block) {
	for slot, phi := range m.incomplete[b] {
		m.addPhiOperands(slot, phi)
	}
	m.sealed[b] = true
}

// addPhiOperands mirrors graph.go's function of the same name: add one
// operand per predecessor, then try to collapse a now-complete phi that
// turned out trivial, rewriting currentDef so later reads never observe
// the removed phi.
func (m *mem2reg) addPhiOperands(slot *ir.Value, phi *ir.Value) *ir.Value {
	for _, pred := range phi.Block.Preds {
		phi.AddArg(m.readVariable(slot, pred))
	}
	if repl := tryRemoveTrivialPhi(phi); repl != nil {
		m.writeVariable(slot, phi.Block, repl)
		return repl
	}
	return phi
}

// tryRemoveTrivialPhi collapses phi(v) and phi(v, v, ..., self) forms,
// per spec.md 4.5 "trivial phis are collapsed".
func tryRemoveTrivialPhi(phi *ir.Value) *ir.Value {
	var same *ir.Value
	for _, arg := range phi.Args {
		if arg == phi || arg == same {
			continue
		}
		if same != nil {
			return nil
		}
		same = arg
	}
	if same == nil {
		// Every operand is the phi itself: an unreachable-loop artifact
		// with no outside definition. Leave it for DCE to remove.
		return nil
	}
	phi.ReplaceUses(same)
	phi.Block.RemoveValue(phi)
	return same
}

func (m *mem2reg) deletePromotedSlots() {
	for slot := range m.promotable {
		if len(slot.Uses) == 0 {
			slot.Block.RemoveValue(slot)
		}
	}
}

// reversePostorder computes a DFS-postorder traversal of fn's reachable
// blocks from Entry and reverses it, grounded on falcon's
// FindReachableBlocks traversal shape but ordered rather than just a set.
func reversePostorder(fn *ir.Func) []*ir.Block {
	visited := make(map[*ir.Block]bool, len(fn.Blocks))
	var post []*ir.Block
	var visit func(b *ir.Block)
	visit = func(b *ir.Block) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range b.Succs {
			visit(s)
		}
		post = append(post, b)
	}
	visit(fn.Entry)
	rpo := make([]*ir.Block, len(post))
	for i, b := range post {
		rpo[len(post)-1-i] = b
	}
	return rpo
}
