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

import "github.com/nyxcore/ccx86/internal/ir"

// runLoadForwarding implements spec.md 4.5 pass 5: per basic block, track
// the last value stored to each address and replace a matching Load with
// a Copy of that value. The tracking map resets on any Call (an opaque
// memory barrier - this repo has no alias analysis) and on a store to an
// address we cannot identify as distinct from everything already
// tracked. Volatile Load/Store never participate, per the Open Question
// 1 resolution in DESIGN.md.
func runLoadForwarding(fn *ir.Func) bool {
	changed := false
	for _, b := range fn.Blocks {
		tracked := make(map[*ir.Value]*ir.Value)
		kept := b.Values[:0:0]
		for _, v := range b.Values {
			switch {
			case v.Op == ir.OpStore:
				if v.Volatile {
					kept = append(kept, v)
					continue
				}
				addr, val := v.Args[0], v.Args[1]
				if !addrIsUnambiguous(addr) {
					tracked = make(map[*ir.Value]*ir.Value)
				}
				tracked[addr] = val
				kept = append(kept, v)
			case v.Op == ir.OpLoad:
				if v.Volatile {
					kept = append(kept, v)
					continue
				}
				addr := v.Args[0]
				if stored, ok := tracked[addr]; ok {
					cp := b.NewValue(ir.OpCopy, v.Type, stored)
					v.ReplaceUses(cp)
					addr.RemoveUse(v)
					changed = true
					continue
				}
				kept = append(kept, v)
			case v.Op == ir.OpCall:
				tracked = make(map[*ir.Value]*ir.Value)
				kept = append(kept, v)
			default:
				kept = append(kept, v)
			}
		}
		b.Values = kept
	}
	return changed
}

// addrIsUnambiguous reports whether addr denotes a single, statically
// known location (a FrameAddr or GlobalAddr slot; an AddPtr, even at a
// constant offset, does not count) - the case where clearing the whole tracking map on a
// store would be overly conservative. Anything else (a computed pointer
// that may alias an existing tracked address) invalidates the map.
func addrIsUnambiguous(addr *ir.Value) bool {
	switch addr.Op {
	case ir.OpFrameAddr, ir.OpGlobalAddr:
		return true
	default:
		return false
	}
}
