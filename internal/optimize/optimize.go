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

// Package optimize runs the fixed nine-pass SSA optimizer over a built
// internal/ir.Func, per spec.md 4.5. Grounded on falcon's
// compile/ssa/optimize.go Optimizer, but restructured: falcon's Ideal()
// loops simplifyPhi/simplifyCFG/dce to a fixpoint with no bound; this
// package runs its nine passes exactly once each, in the fixed order
// spec.md states, with only the two sub-steps spec.md itself calls
// fixpoint/bounded iteration (constant-fold+DCE capped at 10 rounds,
// CFG simplification run to its own internal fixpoint) iterating inside
// their single pass slot.
package optimize

import "github.com/nyxcore/ccx86/internal/ir"

// Optimizer runs the nine-pass pipeline over one function. Debug, when
// set, makes Run report which passes actually changed the function -
// useful when comparing generated assembly against an unoptimized build,
// mirroring falcon's Optimizer.Debug flag.
type Optimizer struct {
	Func  *ir.Func
	Debug bool
	log   func(format string, args ...interface{})
}

func NewOptimizer(fn *ir.Func, debug bool, log func(string, ...interface{})) *Optimizer {
	return &Optimizer{Func: fn, Debug: debug, log: log}
}

// Run executes the nine passes exactly once each, in order:
//  1. mem2reg (Braun et al. SSA construction over promotable slots)
//  2. algebraic simplification
//  3. strength reduction
//  4. copy propagation
//  5. load forwarding
//  6. common subexpression elimination
//  7. constant folding + dead code elimination (capped fixpoint)
//  8. phi removal (SSA form ends here)
//  9. CFG simplification (run to its own fixpoint)
func (opt *Optimizer) Run() {
	opt.step("mem2reg", func() bool { return runMem2Reg(opt.Func) })
	opt.step("algebraic-simplify", func() bool { return runAlgebraicSimplify(opt.Func) })
	opt.step("strength-reduction", func() bool { return runStrengthReduction(opt.Func) })
	opt.step("copy-propagation", func() bool { return runCopyPropagation(opt.Func) })
	opt.step("load-forwarding", func() bool { return runLoadForwarding(opt.Func) })
	opt.step("cse", func() bool { return runCSE(opt.Func) })
	opt.step("constant-fold-dce", func() bool { return runConstantFoldAndDCE(opt.Func) })

	runPhiRemoval(opt.Func)
	if opt.Debug && opt.log != nil {
		opt.log("pass phi-removal: ran (always applies)")
	}

	opt.step("cfg-simplify", func() bool { return runCFGSimplify(opt.Func) })
}

func (opt *Optimizer) step(name string, run func() bool) {
	changed := run()
	if opt.Debug && opt.log != nil {
		opt.log("pass %s: changed=%v", name, changed)
	}
}

// RunProgram runs the nine-pass pipeline over every function in prog,
// the entry point internal/compiler wires into the pipeline between IR
// construction and instruction selection.
func RunProgram(prog *ir.Program, debug bool, log func(string, ...interface{})) {
	for _, fn := range prog.Funcs {
		NewOptimizer(fn, debug, log).Run()
	}
}
