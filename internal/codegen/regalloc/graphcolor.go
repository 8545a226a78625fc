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

// interferenceGraph is an undirected graph over virtual register
// indices: an edge means the two are simultaneously live somewhere and
// so must not share a physical register. moveRelated records vreg pairs
// joined by a plain register-to-register Mov - Briggs' conservative
// coalescing candidates - but colorGraph does not read it, so such pairs
// are colored independently and the Mov stays. The one realization of
// spec.md 4.6's "coalescing hints" is internal/codegen/x86's
// phi-feeding-Copy vreg sharing, which happens before allocation.
type interferenceGraph struct {
	nodes       map[vregID]bool
	adj         map[vregID]map[vregID]bool
	moveRelated map[[2]vregID]bool
	useCount    map[vregID]int

	// crossesCall/crossesDivMod record vregs live across an OpCall or an
	// OpDiv/OpUDiv/OpMod/OpUMod, which clobber the caller-saved registers
	// (every register for the float class, since SysV/Win64 preserve no
	// XMM register across a call) or RAX/RDX respectively - colorGraph
	// must not hand such a vreg a register the instruction overwrites
	// out from under it.
	crossesCall    map[vregID]bool
	crossesDivMod  map[vregID]bool
}

func newGraph() *interferenceGraph {
	return &interferenceGraph{
		nodes: make(map[vregID]bool), adj: make(map[vregID]map[vregID]bool),
		moveRelated: make(map[[2]vregID]bool), useCount: make(map[vregID]int),
		crossesCall: make(map[vregID]bool), crossesDivMod: make(map[vregID]bool),
	}
}

func (g *interferenceGraph) addNode(v vregID) {
	g.nodes[v] = true
	if g.adj[v] == nil {
		g.adj[v] = make(map[vregID]bool)
	}
}

func (g *interferenceGraph) addEdge(a, b vregID) {
	if a == b {
		return
	}
	g.addNode(a)
	g.addNode(b)
	g.adj[a][b] = true
	g.adj[b][a] = true
}

func (g *interferenceGraph) degree(v vregID) int { return len(g.adj[v]) }

// buildInterference walks every block backward from its live-out set,
// per the standard "live range at instruction i interferes with
// whatever's defined there" construction, grounded on the liveness
// sets liveInOut computes (falcon's lsra_interval.go equivalent never
// goes further than per-block live in/out; the per-instruction backward
// walk here is the part this repo adds to turn that into an
// interference graph instead of linear-scan intervals).
func buildInterference(fn *lir.Func, float bool) *interferenceGraph {
	liveIn, liveOut := liveInOut(fn)
	g := newGraph()
	for _, b := range fn.Blocks {
		live := make(map[vregID]bool, len(liveOut[b.ID]))
		for v := range liveOut[b.ID] {
			live[v] = true
		}
		for i := len(b.Insns) - 1; i >= 0; i-- {
			insn := b.Insns[i]
			dst, hasDst := insn.Dst.(lir.Register)
			hasDst = hasDst && dst.Virtual && isClass(dst, float)

			if insn.Op == lir.OpMov {
				if src, ok := soleRegArg(insn); ok && src.Virtual && hasDst && isClass(src, float) {
					g.moveRelated[pair(dst.Index, src.Index)] = true
				}
			}

			if hasDst {
				g.addNode(dst.Index)
				for v := range live {
					if v != dst.Index {
						g.addEdge(dst.Index, v)
					}
				}
				delete(live, dst.Index)
			}
			switch insn.Op {
			case lir.OpCall:
				for v := range live {
					g.crossesCall[v] = true
				}
			case lir.OpDiv, lir.OpUDiv, lir.OpMod, lir.OpUMod:
				for v := range live {
					g.crossesDivMod[v] = true
				}
			}
			for _, op := range readOperands(insn) {
				if r, ok := op.(lir.Register); ok && r.Virtual && isClass(r, float) {
					live[r.Index] = true
					g.useCount[r.Index]++
				}
			}
		}
		_ = liveIn
	}
	return g
}

func isClass(r lir.Register, float bool) bool {
	if r.Type == nil {
		return !float
	}
	return r.Type.Float == float
}

func soleRegArg(insn lir.Instruction) (lir.Register, bool) {
	if len(insn.Args) != 1 {
		return lir.Register{}, false
	}
	r, ok := insn.Args[0].(lir.Register)
	return r, ok
}

func pair(a, b vregID) [2]vregID {
	if a > b {
		a, b = b, a
	}
	return [2]vregID{a, b}
}

// coloring is the result of Chaitin-Briggs simplify/select over one
// register class: a physical register index per colored vreg, and the
// set of vregs that could not be colored and must be spilled to the
// stack.
type coloring struct {
	color  map[vregID]int
	spills map[vregID]bool
}

// colorGraph implements simplify (remove degree < k nodes, pushing them
// on a stack) then select (pop the stack, assigning each node the
// lowest color not used by an already-colored neighbor or forbidden for
// it). When no remaining node has degree < k, simplify pushes the one
// with the highest degree-to-use-count ratio anyway, and select spills
// it only if no color is free when it is popped - Briggs' optimistic
// coloring. Move-related nodes are not merged.
func colorGraph(g *interferenceGraph, k int, forbidden map[vregID]map[int]bool) coloring {
	remaining := make(map[vregID]bool, len(g.nodes))
	for v := range g.nodes {
		remaining[v] = true
	}
	var stack []vregID
	removed := make(map[vregID]bool)

	degree := func(v vregID) int {
		d := 0
		for n := range g.adj[v] {
			if !removed[n] {
				d++
			}
		}
		return d
	}

	for len(remaining) > 0 {
		picked := false
		for v := range remaining {
			if degree(v) < k {
				stack = append(stack, v)
				delete(remaining, v)
				removed[v] = true
				picked = true
			}
		}
		if picked {
			continue
		}
		// No low-degree node: pick a spill candidate by highest
		// degree-to-use-count ratio (spill what's least useful to keep
		// in a register relative to how much it frees up).
		var worst vregID
		worstScore := -1.0
		for v := range remaining {
			d := degree(v)
			uses := g.useCount[v]
			if uses == 0 {
				uses = 1
			}
			score := float64(d) / float64(uses)
			if score > worstScore {
				worstScore, worst = score, v
			}
		}
		stack = append(stack, worst)
		delete(remaining, worst)
		removed[worst] = true
	}

	result := coloring{color: make(map[vregID]int), spills: make(map[vregID]bool)}
	colored := make(map[vregID]bool)
	for i := len(stack) - 1; i >= 0; i-- {
		v := stack[i]
		used := make(map[int]bool)
		for c := range forbidden[v] {
			used[c] = true
		}
		for n := range g.adj[v] {
			if colored[n] {
				used[result.color[n]] = true
			}
		}
		assigned := -1
		for c := 0; c < k; c++ {
			if !used[c] {
				assigned = c
				break
			}
		}
		if assigned == -1 {
			result.spills[v] = true
			continue
		}
		result.color[v] = assigned
		colored[v] = true
	}
	return result
}
